package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight ingest counters.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	tradesIngested atomic.Uint64
	decodeErrors   atomic.Uint64
	transportErrs  atomic.Uint64
	storeErrors    atomic.Uint64
	alertsSent     atomic.Uint64
	published      atomic.Uint64
	staleDropped   atomic.Uint64

	// Ingest latency (event time to store)
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeFeeds     atomic.Int32
	activeListeners atomic.Int32
}

// RecordTrade records a stored trade with its ingest latency.
func (m *Metrics) RecordTrade(latency time.Duration) {
	m.tradesIngested.Add(1)
	if latency > 0 {
		m.latencySumNs.Add(int64(latency))
		m.latencyCount.Add(1)
	}
}

func (m *Metrics) RecordDecodeError()    { m.decodeErrors.Add(1) }
func (m *Metrics) RecordTransportError() { m.transportErrs.Add(1) }
func (m *Metrics) RecordStoreError()     { m.storeErrors.Add(1) }
func (m *Metrics) RecordAlert()          { m.alertsSent.Add(1) }
func (m *Metrics) RecordPublished()      { m.published.Add(1) }
func (m *Metrics) RecordStaleDropped()   { m.staleDropped.Add(1) }

// FeedStarted increments active feeds by 1.
func (m *Metrics) FeedStarted() { m.activeFeeds.Add(1) }

// FeedStopped decrements active feeds by 1.
func (m *Metrics) FeedStopped() { m.activeFeeds.Add(-1) }

func (m *Metrics) ListenerStarted() { m.activeListeners.Add(1) }
func (m *Metrics) ListenerStopped() { m.activeListeners.Add(-1) }

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TradesIngested  uint64    `json:"trades_ingested"`
	DecodeErrors    uint64    `json:"decode_errors"`
	TransportErrors uint64    `json:"transport_errors"`
	StoreErrors     uint64    `json:"store_errors"`
	AlertsSent      uint64    `json:"alerts_sent"`
	Published       uint64    `json:"published"`
	StaleDropped    uint64    `json:"stale_dropped"`
	AvgLatencyNs    int64     `json:"avg_latency_ns"`
	ActiveFeeds     int32     `json:"active_feeds"`
	ActiveListeners int32     `json:"active_listeners"`
	Timestamp       time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		TradesIngested:  m.tradesIngested.Load(),
		DecodeErrors:    m.decodeErrors.Load(),
		TransportErrors: m.transportErrs.Load(),
		StoreErrors:     m.storeErrors.Load(),
		AlertsSent:      m.alertsSent.Load(),
		Published:       m.published.Load(),
		StaleDropped:    m.staleDropped.Load(),
		AvgLatencyNs:    avgLatency,
		ActiveFeeds:     m.activeFeeds.Load(),
		ActiveListeners: m.activeListeners.Load(),
		Timestamp:       time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.tradesIngested.Store(0)
	m.decodeErrors.Store(0)
	m.transportErrs.Store(0)
	m.storeErrors.Store(0)
	m.alertsSent.Store(0)
	m.published.Store(0)
	m.staleDropped.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeFeeds.Store(0)
	m.activeListeners.Store(0)
}
