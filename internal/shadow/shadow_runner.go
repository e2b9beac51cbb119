// Package shadow runs an experimental propagation configuration next to the
// production one and records how far the two disagree. Shadow output never
// reaches API responses; it is logged, counted and persisted for review.
package shadow

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rawblock/bridgetrace/internal/graph"
	"github.com/rawblock/bridgetrace/internal/metrics"
	"github.com/rawblock/bridgetrace/internal/propagation"
)

// Store persists shadow comparisons.
type Store interface {
	SaveShadowResult(ctx context.Context, result *Result) error
	ShadowDriftReport(ctx context.Context, experiment string) (DriftReport, error)
}

// Input is one production propagation to replay under the shadow config.
type Input struct {
	EntityID     string
	View         graph.View
	Seeds        propagation.Seeds
	MaxHops      int
	Production   *propagation.Result
	GraphVersion string
}

// Result captures the diff between production and shadow propagation.
type Result struct {
	Experiment      string    `json:"experiment"`
	EntityID        string    `json:"entity_id"`
	ProductionScore float64   `json:"production_score"`
	ShadowScore     float64   `json:"shadow_score"`
	MaxDelta        float64   `json:"max_delta"`
	MaxDeltaNode    string    `json:"max_delta_node,omitempty"`
	ARI             float64   `json:"ari"`
	VI              float64   `json:"vi"`
	Diverged        bool      `json:"diverged"`
	GraphVersion    string    `json:"graph_version"`
	CreatedAt       time.Time `json:"created_at"`
}

// DriftReport summarizes every stored comparison of one experiment.
type DriftReport struct {
	Experiment  string  `json:"experiment"`
	TotalRuns   int     `json:"total_runs"`
	Divergences int     `json:"divergences"`
	AvgMaxDelta float64 `json:"avg_max_delta"`
	AvgARI      float64 `json:"avg_ari"`
}

// Options configures a Runner.
type Options struct {
	Experiment string
	Config     propagation.Config
	// Tolerance is the largest score delta that still counts as agreement.
	Tolerance float64
	Store      Store
	Collectors *metrics.Collectors
	Logger     *zap.Logger
}

// Runner compares production results against an experimental engine.
type Runner struct {
	experiment string
	engine     *propagation.Engine
	tolerance  float64
	store      Store
	col        *metrics.Collectors
	log        *zap.Logger
	now        func() time.Time
}

// NewRunner builds the experimental engine from opts.Config.
func NewRunner(opts Options) (*Runner, error) {
	engine, err := propagation.NewEngine(opts.Config)
	if err != nil {
		return nil, fmt.Errorf("shadow engine: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	experiment := opts.Experiment
	if experiment == "" {
		experiment = fmt.Sprintf("decay=%g,min_signal=%g", opts.Config.Decay, opts.Config.MinSignal)
	}
	return &Runner{
		experiment: experiment,
		engine:     engine,
		tolerance:  opts.Tolerance,
		store:      opts.Store,
		col:        opts.Collectors,
		log:        log.Named("shadow"),
		now:        time.Now,
	}, nil
}

// Experiment names the configuration under observation.
func (r *Runner) Experiment() string {
	return r.experiment
}

// Compare replays in under the shadow engine and persists the comparison
// when a store is configured. A persistence failure still returns the result.
func (r *Runner) Compare(ctx context.Context, in Input) (*Result, error) {
	if in.Production == nil {
		return nil, fmt.Errorf("shadow compare %s: missing production result", in.EntityID)
	}
	shadowRes, err := r.engine.Propagate(in.View, in.Seeds, in.MaxHops)
	if err != nil {
		return nil, fmt.Errorf("shadow propagate %s: %w", in.EntityID, err)
	}

	res := &Result{
		Experiment:      r.experiment,
		EntityID:        in.EntityID,
		ProductionScore: in.Production.ScoreOr(in.EntityID, 0),
		ShadowScore:     shadowRes.ScoreOr(in.EntityID, 0),
		GraphVersion:    in.GraphVersion,
		CreatedAt:       r.now(),
	}
	res.MaxDelta, res.MaxDeltaNode = maxDelta(in.Production, shadowRes)
	agreement := metrics.AttributionAgreement(in.Production.DominantSources(), shadowRes.DominantSources())
	res.ARI, res.VI = agreement.ARI, agreement.VI
	res.Diverged = res.MaxDelta > r.tolerance || len(agreement.Changed) > 0

	r.col.RecordShadowDelta(res.MaxDelta)
	if res.Diverged {
		r.log.Info("shadow divergence",
			zap.String("entity", in.EntityID),
			zap.String("experiment", r.experiment),
			zap.Float64("max_delta", res.MaxDelta),
			zap.String("max_delta_node", res.MaxDeltaNode),
			zap.Float64("ari", res.ARI),
			zap.Strings("reattributed", agreement.Changed))
	}

	if r.store != nil {
		if err := r.store.SaveShadowResult(ctx, res); err != nil {
			return res, fmt.Errorf("persist shadow result: %w", err)
		}
	}
	return res, nil
}

// DriftReport aggregates stored comparisons for this runner's experiment.
func (r *Runner) DriftReport(ctx context.Context) (DriftReport, error) {
	if r.store == nil {
		return DriftReport{Experiment: r.experiment}, nil
	}
	return r.store.ShadowDriftReport(ctx, r.experiment)
}

// maxDelta returns the largest absolute score difference over the union of
// scored nodes. Ties resolve to the smallest node id.
func maxDelta(a, b *propagation.Result) (float64, string) {
	var (
		best     float64
		bestNode string
	)
	visit := func(node string) {
		d := math.Abs(a.ScoreOr(node, 0) - b.ScoreOr(node, 0))
		if d > best || (d == best && d > 0 && node < bestNode) {
			best, bestNode = d, node
		}
	}
	for _, n := range a.Nodes() {
		visit(n)
	}
	for _, n := range b.Nodes() {
		if _, ok := a.Score(n); !ok {
			visit(n)
		}
	}
	return propagation.Round4(best), bestNode
}
