package domain

import "github.com/shopspring/decimal"

// Threshold is an optional price boundary attached to a feed subscription.
// The zero value is "no threshold"; a threshold of 0 is a real boundary.
type Threshold struct {
	price decimal.Decimal
	set   bool
}

// NoThreshold returns a disabled threshold
func NoThreshold() Threshold {
	return Threshold{}
}

// Below returns a threshold that passes prices strictly below price
func Below(price decimal.Decimal) Threshold {
	return Threshold{price: price, set: true}
}

// ThresholdFromPtr converts an optional decimal (e.g. from JSON or YAML) into a Threshold.
func ThresholdFromPtr(price *decimal.Decimal) Threshold {
	if price == nil {
		return NoThreshold()
	}
	return Below(*price)
}

// IsSet reports whether a boundary is configured
func (t Threshold) IsSet() bool {
	return t.set
}

// Price returns the boundary and whether it is set
func (t Threshold) Price() (decimal.Decimal, bool) {
	return t.price, t.set
}

// Passes checks if a trade price is worth surfacing.
// Returns true when:
// - no threshold is set (every event passes)
// - price < threshold
func (t Threshold) Passes(price decimal.Decimal) bool {
	if !t.set {
		return true
	}
	return price.LessThan(t.price)
}

// String returns the boundary or "none"
func (t Threshold) String() string {
	if !t.set {
		return "none"
	}
	return t.price.String()
}
