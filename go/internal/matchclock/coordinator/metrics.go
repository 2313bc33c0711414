package coordinator

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines the interface for collecting coordinator metrics
type MetricsCollector interface {
	RecordSnapshotWrite(success bool, duration time.Duration)
	RecordSnapshotDropped()
	RecordDriftCorrection(driftSeconds int)
	RecordEngineError(command string)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordSnapshotWrite(success bool, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordSnapshotDropped()                                   {}
func (n *NoOpMetricsCollector) RecordDriftCorrection(driftSeconds int)                   {}
func (n *NoOpMetricsCollector) RecordEngineError(command string)                         {}

// MetricsSnapshot is a point-in-time copy of CounterMetrics
type MetricsSnapshot struct {
	SnapshotWrites      int64   `json:"snapshot_writes"`
	SnapshotWriteErrors int64   `json:"snapshot_write_errors"`
	SnapshotsDropped    int64   `json:"snapshots_dropped"`
	AvgSnapshotWriteMs  float64 `json:"avg_snapshot_write_ms"`
	DriftCorrections    int64   `json:"drift_corrections"`
	DriftSecondsTotal   int64   `json:"drift_seconds_total"`
	EngineErrors        int64   `json:"engine_errors"`
}

// CounterMetrics keeps in-process counters, reported by the health endpoint.
type CounterMetrics struct {
	snapshotWrites      atomic.Int64
	snapshotWriteErrors atomic.Int64
	snapshotsDropped    atomic.Int64
	writeNanos          atomic.Int64
	driftCorrections    atomic.Int64
	driftSeconds        atomic.Int64
	engineErrors        atomic.Int64
}

func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{}
}

func (m *CounterMetrics) RecordSnapshotWrite(success bool, duration time.Duration) {
	m.writeNanos.Add(int64(duration))
	if success {
		m.snapshotWrites.Add(1)
		return
	}
	m.snapshotWriteErrors.Add(1)
}

func (m *CounterMetrics) RecordSnapshotDropped() {
	m.snapshotsDropped.Add(1)
}

func (m *CounterMetrics) RecordDriftCorrection(driftSeconds int) {
	m.driftCorrections.Add(1)
	m.driftSeconds.Add(int64(driftSeconds))
}

func (m *CounterMetrics) RecordEngineError(command string) {
	m.engineErrors.Add(1)
}

func (m *CounterMetrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		SnapshotWrites:      m.snapshotWrites.Load(),
		SnapshotWriteErrors: m.snapshotWriteErrors.Load(),
		SnapshotsDropped:    m.snapshotsDropped.Load(),
		DriftCorrections:    m.driftCorrections.Load(),
		DriftSecondsTotal:   m.driftSeconds.Load(),
		EngineErrors:        m.engineErrors.Load(),
	}
	if attempts := s.SnapshotWrites + s.SnapshotWriteErrors; attempts > 0 {
		s.AvgSnapshotWriteMs = float64(m.writeNanos.Load()) / float64(attempts) / float64(time.Millisecond)
	}
	return s
}
