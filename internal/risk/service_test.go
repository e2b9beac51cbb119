package risk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/rawblock/bridgetrace/internal/graph"
	"github.com/rawblock/bridgetrace/internal/metrics"
	"github.com/rawblock/bridgetrace/internal/propagation"
	"github.com/rawblock/bridgetrace/internal/shadow"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func referenceStore(t *testing.T) *graph.Store {
	t.Helper()
	store := graph.NewStore()
	require.NoError(t, store.Update(graph.ReferenceGraph))
	return store
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	svc, err := NewService(referenceStore(t), DefaultConfig(), opts...)
	require.NoError(t, err)
	return svc
}

type recordingSink struct {
	mu    sync.Mutex
	saved []*Assessment
}

func (r *recordingSink) SaveAssessment(_ context.Context, a *Assessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, a)
	return nil
}

type recordingAlerts struct {
	alerts []Alert
}

func (r *recordingAlerts) PublishRiskAlert(a Alert) {
	r.alerts = append(r.alerts, a)
}

type recordingShadow struct {
	inputs []shadow.Input
}

func (r *recordingShadow) Compare(_ context.Context, in shadow.Input) (*shadow.Result, error) {
	r.inputs = append(r.inputs, in)
	return &shadow.Result{EntityID: in.EntityID}, nil
}

func TestAnalyzeEntityReferenceScenario(t *testing.T) {
	svc := newTestService(t)

	a, err := svc.AnalyzeEntity(context.Background(), "entity_001", 30)
	require.NoError(t, err)

	assert.Equal(t, "entity_001", a.EntityID)
	assert.InDelta(t, 0.3959, a.PropagatedScore, 1e-9)
	assert.InDelta(t, 0.9918, a.TemporalDecay, 1e-9)
	assert.InDelta(t, 0.4249, a.RiskScore, 1e-9)
	assert.Equal(t, LevelMedium, a.RiskLevel)
	assert.Equal(t, "wallet_sanctioned_01", a.DominantSource)
	assert.Equal(t, []string{
		"propagated_risk_from=wallet_sanctioned_01",
		"time_window_days=30",
		"temporal_decay=0.9918",
	}, a.Explanations)
	assert.Equal(t, recommendations(LevelMedium), a.Recommendations)
	assert.False(t, a.CacheHit)
	assert.Equal(t, fixedNow, a.AnalyzedAt)
	assert.NotEmpty(t, a.GraphVersion)

	assert.Equal(t, 3, a.Metrics.TransactionCount)
	assert.Equal(t, 0, a.Metrics.HighRiskCount)
	assert.InDelta(t, 0.4104, a.Metrics.AverageRiskScore, 1e-9)
	assert.Empty(t, a.Metrics.ChannelsUsed)
}

func TestAnalyzeEntityActivityChannels(t *testing.T) {
	svc := newTestService(t)

	a, err := svc.AnalyzeEntity(context.Background(), "pix_001", 30)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Metrics.TransactionCount)
	assert.InDelta(t, 9800.0, a.Metrics.TotalVolume, 1e-9)
	assert.Equal(t, []string{"BRIDGE", "PIX"}, a.Metrics.ChannelsUsed)
}

func TestAnalyzeEntityUnreachable(t *testing.T) {
	svc := newTestService(t)

	a, err := svc.AnalyzeEntity(context.Background(), "crypto_001", 365)
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.PropagatedScore)
	assert.InDelta(t, 0.9, a.TemporalDecay, 1e-9)
	assert.InDelta(t, 0.15, a.RiskScore, 1e-9)
	assert.Equal(t, LevelLow, a.RiskLevel)
	assert.Equal(t, "unknown", a.DominantSource)
}

func TestAnalyzeEntityValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, days := range []int{0, -5, 366} {
		_, err := svc.AnalyzeEntity(ctx, "entity_001", days)
		assert.ErrorIs(t, err, ErrInvalidRange, "days=%d", days)
	}
	_, err := svc.AnalyzeEntity(ctx, "nobody", 30)
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestAnalyzeEntityCaches(t *testing.T) {
	cache := NewMemoryCache()
	sink := &recordingSink{}
	svc := newTestService(t, WithCache(cache), WithAssessmentSink(sink))
	ctx := context.Background()

	first, err := svc.AnalyzeEntity(ctx, "entity_001", 30)
	require.NoError(t, err)
	first.Explanations[0] = "mutated"

	second, err := svc.AnalyzeEntity(ctx, "entity_001", 30)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.RiskScore, second.RiskScore)
	assert.Equal(t, "propagated_risk_from=wallet_sanctioned_01", second.Explanations[0])

	other, err := svc.AnalyzeEntity(ctx, "entity_001", 90)
	require.NoError(t, err)
	assert.False(t, other.CacheHit)

	assert.Equal(t, 2, cache.Len())
	assert.Len(t, sink.saved, 2)
}

func TestAnalyzeEntityHighPublishesAlert(t *testing.T) {
	alerts := &recordingAlerts{}
	business := metrics.NewBusinessMetrics()
	reg := prometheus.NewRegistry()
	col := metrics.NewCollectors(reg)
	seeds := SeedFunc(func(_ context.Context, entityID string) (propagation.Seeds, error) {
		return propagation.Seeds{{Node: entityID, Score: 1}}, nil
	})
	svc := newTestService(t,
		WithSeedProvider(seeds),
		WithAlertPublisher(alerts),
		WithBusinessMetrics(business),
		WithCollectors(col))

	a, err := svc.AnalyzeEntity(context.Background(), "entity_001", 30)
	require.NoError(t, err)
	assert.InDelta(t, 0.8443, a.RiskScore, 1e-9)
	assert.Equal(t, LevelHigh, a.RiskLevel)
	assert.Equal(t, "entity_001", a.DominantSource)

	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, "risk_alert", alerts.alerts[0].Type)
	assert.Equal(t, "entity_001", alerts.alerts[0].EntityID)

	// a cached answer does not alert twice
	_, err = svc.AnalyzeEntity(context.Background(), "entity_001", 30)
	require.NoError(t, err)
	assert.Len(t, alerts.alerts, 1)

	assert.Equal(t, 1.0, business.Snapshot().DetectionRate)
	assert.InDelta(t, 1.0, testutil.ToFloat64(col.RiskAssessments.WithLabelValues("HIGH")), 1e-9)
}

func TestAnalyzeEntityScoreCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BehavioralComponent = 0.5
	seeds := SeedFunc(func(_ context.Context, entityID string) (propagation.Seeds, error) {
		return propagation.Seeds{{Node: entityID, Score: 1}}, nil
	})
	svc, err := NewService(referenceStore(t), cfg, WithSeedProvider(seeds))
	require.NoError(t, err)

	a, err := svc.AnalyzeEntity(context.Background(), "entity_001", 1)
	require.NoError(t, err)
	assert.Equal(t, cfg.ScoreCap, a.RiskScore)
}

func TestAnalyzeEntitySeedFailure(t *testing.T) {
	failing := SeedFunc(func(context.Context, string) (propagation.Seeds, error) {
		return nil, errors.New("feed offline")
	})
	svc := newTestService(t, WithSeedProvider(failing))
	_, err := svc.AnalyzeEntity(context.Background(), "entity_001", 30)
	assert.ErrorIs(t, err, ErrSeedSource)
}

func TestAnalyzeEntityRunsShadow(t *testing.T) {
	sh := &recordingShadow{}
	svc := newTestService(t, WithShadow(sh))

	_, err := svc.AnalyzeEntity(context.Background(), "entity_001", 30)
	require.NoError(t, err)
	require.Len(t, sh.inputs, 1)
	assert.Equal(t, "entity_001", sh.inputs[0].EntityID)
	assert.Equal(t, 4, sh.inputs[0].MaxHops)
	assert.Equal(t, 0.3959, sh.inputs[0].Production.ScoreOr("entity_001", 0))
}

func TestAnalyzeEntitySpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	svc := newTestService(t, WithTracer(tp.Tracer("test")))

	_, err := svc.AnalyzeEntity(context.Background(), "entity_001", 30)
	require.NoError(t, err)
	_, err = svc.AnalyzeEntity(context.Background(), "nobody", 30)
	require.Error(t, err)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"propagation.Propagate", "risk.AnalyzeEntity", "risk.AnalyzeEntity"}, names)
	assert.Equal(t, "Error", recorder.Ended()[2].Status().Code.String())
}

func TestTemporalDecayFloor(t *testing.T) {
	svc := newTestService(t)
	assert.Equal(t, 0.55, svc.temporalDecay(3000))
	assert.InDelta(t, 0.9973, svc.temporalDecay(10), 1e-9)
}

func TestLevelBoundaries(t *testing.T) {
	svc := newTestService(t)
	assert.Equal(t, LevelHigh, svc.level(0.7))
	assert.Equal(t, LevelMedium, svc.level(0.6999))
	assert.Equal(t, LevelMedium, svc.level(0.4))
	assert.Equal(t, LevelLow, svc.level(0.3999))
}

func TestPropagationMap(t *testing.T) {
	svc := newTestService(t)

	m, err := svc.PropagationMap(context.Background(), "entity_001")
	require.NoError(t, err)
	assert.Equal(t, 0.02, m.AdaptiveThreshold)
	assert.Equal(t, map[string]float64{
		"wallet_sanctioned_01": 0.92,
		"mixer_01":             0.621,
		"entity_001":           0.3959,
		"merchant_991":         0.1485,
	}, m.Influence)
	assert.Equal(t, "mixer_01", m.DominantSource["mixer_01"])
	assert.Equal(t, "wallet_sanctioned_01", m.DominantSource["merchant_991"])
	assert.Equal(t, fixedNow, m.GeneratedAt)

	_, err = svc.PropagationMap(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestAdaptiveThresholdDenseGraph(t *testing.T) {
	store := graph.NewStore()
	require.NoError(t, store.Update(func(b *graph.Builder) error {
		for _, e := range [][2]string{{"a", "b"}, {"b", "a"}, {"a", "c"}, {"c", "a"}, {"b", "c"}} {
			if err := b.AddEdge(e[0], e[1], graph.NewEdgeAttributes(0.5, nil)); err != nil {
				return err
			}
		}
		return nil
	}))
	svc, err := NewService(store, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 0.05, svc.AdaptiveThreshold(store.Snapshot()))
}

func TestSimulateTransfer(t *testing.T) {
	store := referenceStore(t)
	svc, err := NewService(store, DefaultConfig())
	require.NoError(t, err)
	before := store.Snapshot().Version()

	sim, err := svc.SimulateTransfer(context.Background(), SimulationRequest{
		SourceID: "entity_001",
		TargetID: "new_wallet",
		Amount:   1000,
	})
	require.NoError(t, err)

	assert.Equal(t, 0.7, sim.Simulation.RiskTransfer)
	assert.Equal(t, map[string]float64{"entity_001": 0.3959, "new_wallet": 0.2078}, sim.ProjectedRisk)
	assert.Equal(t, map[string]float64{"entity_001": 0.3959, "new_wallet": 0}, sim.BaselineRisk)
	assert.Equal(t, []string{"new_wallet"}, sim.Attribution.Changed)

	assert.False(t, store.Snapshot().HasNode("new_wallet"))
	assert.Equal(t, before, store.Snapshot().Version())
	assert.Equal(t, before, sim.GraphVersion)
}

func TestSimulateTransferValidation(t *testing.T) {
	svc := newTestService(t)
	tooMuch := 1.5
	negative := -0.1

	cases := []SimulationRequest{
		{SourceID: "a", TargetID: "b", Amount: 0},
		{SourceID: "a", TargetID: "b", Amount: -3},
		{SourceID: "a", TargetID: "b", Amount: 10, RiskTransfer: &tooMuch},
		{SourceID: "a", TargetID: "b", Amount: 10, RiskTransfer: &negative},
		{SourceID: "", TargetID: "b", Amount: 10},
	}
	for _, req := range cases {
		_, err := svc.SimulateTransfer(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidSimulation, "request %+v", req)
	}
}

func TestChainSeeds(t *testing.T) {
	extra := SeedFunc(func(context.Context, string) (propagation.Seeds, error) {
		return propagation.Seeds{{Node: "mixer_01", Score: 0.8}, {Node: "wallet_watchlist_77", Score: 0.4}}, nil
	})
	seeds, err := ChainSeeds(StaticSeeds{}, extra).Seeds(context.Background(), "entity_001")
	require.NoError(t, err)
	assert.Equal(t, propagation.Seeds{
		{Node: "wallet_sanctioned_01", Score: 0.92},
		{Node: "mixer_01", Score: 0.8},
		{Node: "wallet_watchlist_77", Score: 0.4},
	}, seeds)

	seeds, err = StaticSeeds{}.Seeds(context.Background(), "merchant_991")
	require.NoError(t, err)
	assert.Equal(t, propagation.Seeds{{Node: "wallet_sanctioned_01", Score: 0.92}}, seeds)
}

func TestNewServiceRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MediumThreshold = 0.9
	_, err := NewService(graph.NewStore(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Decay = 0
	_, err = NewService(graph.NewStore(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
