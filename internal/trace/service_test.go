package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/bridgetrace/internal/graph"
	"github.com/rawblock/bridgetrace/internal/metrics"
)

func newService(t *testing.T) (*Service, *metrics.TraceStats) {
	t.Helper()
	store := graph.NewStore()
	require.NoError(t, store.Update(graph.ReferenceGraph))
	stats := metrics.NewTraceStats(nil)
	return NewService(store, stats, WithBusinessMetrics(metrics.NewBusinessMetrics())), stats
}

func TestTraceFlowFollowsHops(t *testing.T) {
	svc, stats := newService(t)

	flow, err := svc.TraceFlow(context.Background(), "bank_001", 5, 0)
	require.NoError(t, err)

	require.Len(t, flow.Paths, 2)
	assert.Equal(t, Path{From: "bank_001", To: "pix_001", Hop: 1, Data: map[string]any{
		"amount": 5000.0, "channel": "pix", "risk": 0.2, "risk_transfer": 0.9,
	}}, flow.Paths[0])
	assert.Equal(t, "crypto_001", flow.Paths[1].To)
	assert.Equal(t, 2, flow.Paths[1].Hop)
	assert.Equal(t, 2, flow.TotalPaths)
	assert.Equal(t, 9800.0, flow.TotalAmount)
	assert.Equal(t, 2, flow.Depth)
	assert.NotEmpty(t, flow.GraphVersion)

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.Requests)
	assert.Equal(t, 2.0, snap.AvgHops)
}

func TestTraceFlowHopLimitAndMinAmount(t *testing.T) {
	svc, _ := newService(t)

	flow, err := svc.TraceFlow(context.Background(), "bank_001", 1, 0)
	require.NoError(t, err)
	require.Len(t, flow.Paths, 1)
	assert.Equal(t, "pix_001", flow.Paths[0].To)

	flow, err = svc.TraceFlow(context.Background(), "bank_001", 5, 4900)
	require.NoError(t, err)
	require.Len(t, flow.Paths, 1)
	assert.Equal(t, 5000.0, flow.TotalAmount)

	flow, err = svc.TraceFlow(context.Background(), "bank_001", 5, 10000)
	require.NoError(t, err)
	assert.Empty(t, flow.Paths)
	assert.Equal(t, 0, flow.Depth)
}

func TestTraceFlowCycleReportsEachEdgeOnce(t *testing.T) {
	store := graph.NewStore()
	require.NoError(t, store.Update(func(b *graph.Builder) error {
		for _, e := range [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}} {
			if err := b.AddEdge(e[0], e[1], graph.NewEdgeAttributes(0.5, map[string]any{"amount": 10.0})); err != nil {
				return err
			}
		}
		return nil
	}))
	svc := NewService(store, nil)

	flow, err := svc.TraceFlow(context.Background(), "a", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, flow.TotalPaths)
	assert.Equal(t, 3, flow.Depth)
	assert.Equal(t, "a", flow.Paths[2].To)
}

func TestTraceFlowErrors(t *testing.T) {
	svc, stats := newService(t)
	ctx := context.Background()

	_, err := svc.TraceFlow(ctx, "bank_001", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.TraceFlow(ctx, "bank_001", 11, 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.TraceFlow(ctx, "bank_001", 3, -1)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.TraceFlow(ctx, "missing", 3, 0)
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)
	assert.Equal(t, int64(1), stats.Snapshot().Errors)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = svc.TraceFlow(cancelled, "bank_001", 3, 0)
	assert.ErrorIs(t, err, ErrTraversal)
	assert.Equal(t, int64(2), stats.Snapshot().Errors)
}

func TestGraphSnapshot(t *testing.T) {
	svc, _ := newService(t)

	view, err := svc.GraphSnapshot(context.Background(), "pix_001")
	require.NoError(t, err)
	assert.Equal(t, "pix_001", view.Graph.Entity)
	require.Len(t, view.Graph.Outgoing, 1)
	assert.Equal(t, "crypto_001", view.Graph.Outgoing[0].Target)
	assert.Equal(t, "bridge", view.Graph.Outgoing[0].Edge["channel"])
	assert.Equal(t, graph.Size{Nodes: 8, Edges: 6}, view.GraphSize)

	_, err = svc.GraphSnapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)
}
