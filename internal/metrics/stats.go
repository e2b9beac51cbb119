package metrics

import (
	"math"
	"sync"
	"time"
)

// TraceEvent is the outcome of a single trace request.
type TraceEvent struct {
	Hops    int
	Success bool
}

// TraceSnapshot is a point-in-time view of TraceStats.
type TraceSnapshot struct {
	Requests  int64   `json:"requests"`
	Errors    int64   `json:"errors"`
	AvgHops   float64 `json:"avg_hops"`
	ErrorRate float64 `json:"error_rate"`
}

// TraceStats accumulates trace outcomes over the process lifetime and
// mirrors the running averages into the Prometheus gauges. One instance is
// owned by the process and handed to the services that trace.
type TraceStats struct {
	mu       sync.Mutex
	requests int64
	errors   int64
	hops     float64

	col *Collectors
}

// NewTraceStats creates a recorder. col may be nil.
func NewTraceStats(col *Collectors) *TraceStats {
	return &TraceStats{col: col}
}

func (s *TraceStats) Record(ev TraceEvent) {
	s.mu.Lock()
	s.requests++
	if !ev.Success {
		s.errors++
	}
	s.hops += float64(ev.Hops)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.col == nil {
		return
	}
	status := "success"
	if !ev.Success {
		status = "error"
	}
	s.col.TraceRequests.WithLabelValues(status).Inc()
	s.col.TraceAvgHops.Set(snap.AvgHops)
	s.col.TraceErrorRate.Set(snap.ErrorRate)
}

func (s *TraceStats) Snapshot() TraceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *TraceStats) snapshotLocked() TraceSnapshot {
	snap := TraceSnapshot{Requests: s.requests, Errors: s.errors}
	if s.requests > 0 {
		snap.AvgHops = s.hops / float64(s.requests)
		snap.ErrorRate = float64(s.errors) / float64(s.requests)
	}
	return snap
}

// CostPerMillionOps is the planning estimate reported by the business
// metrics endpoint.
const CostPerMillionOps = 12.5

// BusinessSnapshot is the payload of the business metrics endpoint.
type BusinessSnapshot struct {
	AvgTraceSeconds   float64 `json:"avg_trace_seconds"`
	DetectionRate     float64 `json:"detection_rate"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	ThroughputPerSec  float64 `json:"throughput_per_second"`
	CostPer1MOpsUSD   float64 `json:"cost_per_1m_operations_usd"`
	TraceCount        int64   `json:"trace_count"`
	RiskCount         int64   `json:"risk_count"`
	TotalOperations   int64   `json:"total_operations"`
}

// BusinessMetrics tracks operational KPIs for trace and risk traffic.
type BusinessMetrics struct {
	mu             sync.Mutex
	traceCount     int64
	riskCount      int64
	detected       int64
	falsePositives int64
	traceSeconds   float64
	operations     int64
}

func NewBusinessMetrics() *BusinessMetrics {
	return &BusinessMetrics{}
}

// RecordTrace counts one trace request that took d.
func (m *BusinessMetrics) RecordTrace(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traceCount++
	m.operations++
	m.traceSeconds += d.Seconds()
}

// RecordRisk counts one risk request.
func (m *BusinessMetrics) RecordRisk(detected, falsePositive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riskCount++
	m.operations++
	if detected {
		m.detected++
	}
	if falsePositive {
		m.falsePositives++
	}
}

func (m *BusinessMetrics) Snapshot() BusinessSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := BusinessSnapshot{
		CostPer1MOpsUSD: CostPerMillionOps,
		TraceCount:      m.traceCount,
		RiskCount:       m.riskCount,
		TotalOperations: m.operations,
	}
	if m.traceCount > 0 {
		snap.AvgTraceSeconds = round(m.traceSeconds/float64(m.traceCount), 6)
	}
	if m.riskCount > 0 {
		snap.DetectionRate = round(float64(m.detected)/float64(m.riskCount), 6)
		snap.FalsePositiveRate = round(float64(m.falsePositives)/float64(m.riskCount), 6)
	}
	snap.ThroughputPerSec = round(float64(m.operations)/math.Max(m.traceSeconds, 1), 4)
	return snap
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
