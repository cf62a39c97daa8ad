package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestThreshold_Passes(t *testing.T) {
	limit := decimal.RequireFromString("1800.00")

	t.Run("below threshold passes", func(t *testing.T) {
		if !Below(limit).Passes(decimal.RequireFromString("1799.99")) {
			t.Error("1799.99 should pass a 1800.00 threshold")
		}
	})

	t.Run("equal does not pass", func(t *testing.T) {
		if Below(limit).Passes(decimal.RequireFromString("1800")) {
			t.Error("Comparison must be strict")
		}
	})

	t.Run("above does not pass", func(t *testing.T) {
		if Below(limit).Passes(decimal.RequireFromString("1800.01")) {
			t.Error("1800.01 should not pass a 1800.00 threshold")
		}
	})

	t.Run("no float drift at the boundary", func(t *testing.T) {
		// 0.1 + 0.2 == 0.3 exactly with decimals
		sum := decimal.RequireFromString("0.1").Add(decimal.RequireFromString("0.2"))
		if Below(decimal.RequireFromString("0.3")).Passes(sum) {
			t.Error("0.1+0.2 should equal 0.3 and not pass")
		}
	})

	t.Run("disabled passes everything", func(t *testing.T) {
		th := NoThreshold()
		for _, p := range []string{"0", "1", "1800.01", "99999999"} {
			if !th.Passes(decimal.RequireFromString(p)) {
				t.Errorf("Disabled threshold should pass %s", p)
			}
		}
	})

	t.Run("zero is a real threshold", func(t *testing.T) {
		th := Below(decimal.Zero)
		if !th.IsSet() {
			t.Fatal("Zero threshold should be set")
		}
		if th.Passes(decimal.RequireFromString("0.0001")) {
			t.Error("Positive price should not pass a zero threshold")
		}
	})
}

func TestThresholdFromPtr(t *testing.T) {
	if ThresholdFromPtr(nil).IsSet() {
		t.Error("nil should map to NoThreshold")
	}

	p := decimal.NewFromInt(42000)
	th := ThresholdFromPtr(&p)
	got, ok := th.Price()
	if !ok || !got.Equal(p) {
		t.Errorf("Expected 42000, got %v (set=%v)", got, ok)
	}
	if th.String() != "42000" {
		t.Errorf("String() = %q", th.String())
	}
}
