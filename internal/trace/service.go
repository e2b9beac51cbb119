// Package trace follows funds outward from a node and reports the edges
// crossed at each hop.
package trace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rawblock/bridgetrace/internal/graph"
	"github.com/rawblock/bridgetrace/internal/metrics"
)

const (
	MinHops     = 1
	MaxHops     = 10
	DefaultHops = 5
)

var (
	// ErrInvalidRequest rejects out-of-range hop budgets and negative amounts.
	ErrInvalidRequest = errors.New("trace: invalid request")
	// ErrTraversal wraps failures while walking the graph.
	ErrTraversal = errors.New("trace: graph traversal failed")
)

// Path is one edge crossed by a trace.
type Path struct {
	From string         `json:"from"`
	To   string         `json:"to"`
	Hop  int            `json:"hop"`
	Data map[string]any `json:"data"`
}

// Flow is the result of TraceFlow.
type Flow struct {
	SourceID     string  `json:"source_id"`
	Paths        []Path  `json:"paths"`
	TotalPaths   int     `json:"total_paths"`
	TotalAmount  float64 `json:"total_amount"`
	Depth        int     `json:"depth"`
	MaxHops      int     `json:"max_hops"`
	MinAmount    float64 `json:"min_amount"`
	GraphVersion string  `json:"graph_version"`
}

// Snapshot is the neighborhood view served by GraphSnapshot.
type Snapshot struct {
	Graph        graph.Neighborhood `json:"graph"`
	GraphSize    graph.Size         `json:"graph_size"`
	GraphVersion string             `json:"graph_version"`
}

// Service answers trace queries against the live graph.
type Service struct {
	graph    *graph.Store
	stats    *metrics.TraceStats
	col      *metrics.Collectors
	business *metrics.BusinessMetrics
	log      *zap.Logger
}

// Option customizes a Service.
type Option func(*Service)

func WithCollectors(c *metrics.Collectors) Option {
	return func(s *Service) { s.col = c }
}

func WithBusinessMetrics(m *metrics.BusinessMetrics) Option {
	return func(s *Service) { s.business = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a trace service. stats receives one event per TraceFlow call.
func NewService(store *graph.Store, stats *metrics.TraceStats, opts ...Option) *Service {
	s := &Service{graph: store, stats: stats, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("trace")
	return s
}

// TraceFlow walks breadth-first from source for at most maxHops hops and
// returns every edge whose amount is at least minAmount. Edges under the
// minimum are neither reported nor followed, and each edge is reported once.
func (s *Service) TraceFlow(ctx context.Context, source string, maxHops int, minAmount float64) (*Flow, error) {
	if maxHops < MinHops || maxHops > MaxHops {
		return nil, fmt.Errorf("%w: max_hops %d not in [%d,%d]", ErrInvalidRequest, maxHops, MinHops, MaxHops)
	}
	if minAmount < 0 {
		return nil, fmt.Errorf("%w: min_amount %v is negative", ErrInvalidRequest, minAmount)
	}

	s.log.Info("trace flow started", zap.String("source", source), zap.Int("max_hops", maxHops))
	start := time.Now()

	snap := s.graph.Snapshot()
	if !snap.HasNode(source) {
		s.record(0, false, start)
		return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, source)
	}

	flow, err := walk(ctx, snap, source, maxHops, minAmount)
	if err != nil {
		s.record(0, false, start)
		return nil, err
	}
	s.record(flow.Depth, true, start)
	return flow, nil
}

// GraphSnapshot returns the outgoing neighborhood of entity together with
// the current graph size.
func (s *Service) GraphSnapshot(_ context.Context, entity string) (*Snapshot, error) {
	snap := s.graph.Snapshot()
	hood, err := snap.Neighborhood(entity)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Graph: hood, GraphSize: snap.Size(), GraphVersion: snap.Version()}, nil
}

func walk(ctx context.Context, snap *graph.Snapshot, source string, maxHops int, minAmount float64) (*Flow, error) {
	flow := &Flow{
		SourceID:     source,
		Paths:        []Path{},
		MaxHops:      maxHops,
		MinAmount:    minAmount,
		GraphVersion: snap.Version(),
	}
	visited := map[string]bool{source: true}
	level := []string{source}

	for hop := 1; hop <= maxHops && len(level) > 0; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTraversal, err)
		}
		var next []string
		for _, from := range level {
			targets, err := snap.Successors(from)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTraversal, err)
			}
			for _, to := range targets {
				attrs, err := snap.EdgeAttributes(from, to)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrTraversal, err)
				}
				if attrs.Amount() < minAmount {
					continue
				}
				flow.Paths = append(flow.Paths, Path{From: from, To: to, Hop: hop, Data: attrs.Flatten()})
				flow.TotalAmount += attrs.Amount()
				flow.Depth = hop
				if !visited[to] {
					visited[to] = true
					next = append(next, to)
				}
			}
		}
		level = next
	}
	flow.TotalPaths = len(flow.Paths)
	return flow, nil
}

func (s *Service) record(depth int, success bool, start time.Time) {
	if s.stats != nil {
		s.stats.Record(metrics.TraceEvent{Hops: depth, Success: success})
	}
	if s.business != nil {
		s.business.RecordTrace(time.Since(start))
	}
	s.col.ObserveLatency("trace", start)
}
