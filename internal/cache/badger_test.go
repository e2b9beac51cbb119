package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rawblock/bridgetrace/internal/graph"
	"github.com/rawblock/bridgetrace/internal/risk"
)

func openMemory(t *testing.T) *Badger {
	t.Helper()
	c, err := Open(InMemoryConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestBadgerRoundTrip(t *testing.T) {
	c := openMemory(t)
	ctx := context.Background()
	key := risk.CacheKey{EntityID: "entity_001", Days: 30}

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	in := &risk.Assessment{
		EntityID:     "entity_001",
		RiskLevel:    risk.LevelMedium,
		RiskScore:    0.4249,
		Explanations: []string{"time_window_days=30"},
		AnalyzedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, c.Put(ctx, key, in))

	out, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in.RiskScore, out.RiskScore)
	assert.Equal(t, in.Explanations, out.Explanations)
	assert.True(t, in.AnalyzedAt.Equal(out.AnalyzedAt))

	_, ok, err = c.Get(ctx, risk.CacheKey{EntityID: "entity_001", Days: 31})
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBadgerBacksRiskService(t *testing.T) {
	c := openMemory(t)
	store := graph.NewStore()
	require.NoError(t, store.Update(graph.ReferenceGraph))
	svc, err := risk.NewService(store, risk.DefaultConfig(), risk.WithCache(c))
	require.NoError(t, err)

	first, err := svc.AnalyzeEntity(context.Background(), "entity_001", 30)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := svc.AnalyzeEntity(context.Background(), "entity_001", 30)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.RiskScore, second.RiskScore)
	assert.Equal(t, first.DominantSource, second.DominantSource)
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	key := risk.CacheKey{EntityID: "a", Days: 7}

	c, err := Open(Config{Path: dir, SyncWrites: true}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, key, &risk.Assessment{EntityID: "a", RiskScore: 0.5}))
	require.NoError(t, c.Close())

	c, err = Open(Config{Path: dir}, nil)
	require.NoError(t, err)
	defer c.Close()
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.5, got.RiskScore)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{}, nil)
	assert.Error(t, err)
}

func TestRunGCStopsOnCancel(t *testing.T) {
	c := openMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunGC(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunGC did not return after cancel")
	}
}
