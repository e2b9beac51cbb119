// Package risk turns propagation results into entity risk assessments,
// influence maps and transfer simulations.
package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rawblock/bridgetrace/internal/graph"
	"github.com/rawblock/bridgetrace/internal/metrics"
	"github.com/rawblock/bridgetrace/internal/propagation"
	"github.com/rawblock/bridgetrace/internal/shadow"
)

var (
	// ErrEntityNotFound is returned when the entity is not in the live graph.
	ErrEntityNotFound = errors.New("risk: entity not found")
	// ErrInvalidRange rejects analysis windows outside the configured day range.
	ErrInvalidRange = errors.New("risk: time range out of bounds")
	// ErrInvalidSimulation rejects malformed transfer simulations.
	ErrInvalidSimulation = errors.New("risk: invalid simulation")
	// ErrSeedSource wraps seed provider failures.
	ErrSeedSource = errors.New("risk: seed source unavailable")
)

const tracerName = "github.com/rawblock/bridgetrace/internal/risk"

// AssessmentSink persists computed assessments.
type AssessmentSink interface {
	SaveAssessment(ctx context.Context, a *Assessment) error
}

// AlertPublisher fans HIGH assessments out to live subscribers.
type AlertPublisher interface {
	PublishRiskAlert(alert Alert)
}

// ShadowComparer replays a production propagation under an experimental config.
type ShadowComparer interface {
	Compare(ctx context.Context, in shadow.Input) (*shadow.Result, error)
}

// Service scores entities against the live graph. All methods are safe for
// concurrent use; each call propagates over its own snapshot.
type Service struct {
	cfg    Config
	graph  *graph.Store
	engine *propagation.Engine

	seeds    SeedProvider
	cache    Cache
	sink     AssessmentSink
	alerts   AlertPublisher
	shadow   ShadowComparer
	col      *metrics.Collectors
	business *metrics.BusinessMetrics

	log    *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

func WithSeedProvider(p SeedProvider) Option { return func(s *Service) { s.seeds = p } }
func WithCache(c Cache) Option { return func(s *Service) { s.cache = c } }
func WithAssessmentSink(sink AssessmentSink) Option { return func(s *Service) { s.sink = sink } }
func WithAlertPublisher(p AlertPublisher) Option { return func(s *Service) { s.alerts = p } }
func WithShadow(c ShadowComparer) Option { return func(s *Service) { s.shadow = c } }
func WithCollectors(c *metrics.Collectors) Option { return func(s *Service) { s.col = c } }
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }
func WithTracer(t trace.Tracer) Option { return func(s *Service) { s.tracer = t } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithBusinessMetrics(m *metrics.BusinessMetrics) Option {
	return func(s *Service) { s.business = m }
}

// NewService validates cfg and builds the production engine. Without
// options it uses StaticSeeds and an unbounded MemoryCache.
func NewService(store *graph.Store, cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	engine, err := propagation.NewEngine(cfg.Engine())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	s := &Service{
		cfg:    cfg,
		graph:  store,
		engine: engine,
		seeds:  StaticSeeds{},
		cache:  NewMemoryCache(),
		log:    zap.NewNop(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("risk")
	return s, nil
}

// Config returns the scoring policy.
func (s *Service) Config() Config {
	return s.cfg
}

// AnalyzeEntity scores entityID over a days-long analysis window.
func (s *Service) AnalyzeEntity(ctx context.Context, entityID string, days int) (*Assessment, error) {
	ctx, span := s.tracer.Start(ctx, "risk.AnalyzeEntity", trace.WithAttributes(
		attribute.String("entity.id", entityID),
		attribute.Int("risk.days", days),
	))
	defer span.End()

	if days < s.cfg.MinDays || days > s.cfg.MaxDays {
		return nil, spanError(span, fmt.Errorf("%w: %d days not in [%d,%d]", ErrInvalidRange, days, s.cfg.MinDays, s.cfg.MaxDays))
	}
	snap := s.graph.Snapshot()
	if !snap.HasNode(entityID) {
		return nil, spanError(span, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID))
	}

	key := CacheKey{EntityID: entityID, Days: days}
	if cached, ok, err := s.cache.Get(ctx, key); err != nil {
		s.log.Warn("cache read failed", zap.String("key", key.String()), zap.Error(err))
	} else if ok {
		cached.CacheHit = true
		span.SetAttributes(attribute.Bool("risk.cache_hit", true))
		s.recordBusiness(cached.RiskLevel)
		return cached, nil
	}

	start := time.Now()
	defer s.col.ObserveLatency("risk_analysis", start)

	seeds, err := s.seedsFor(ctx, entityID)
	if err != nil {
		return nil, spanError(span, err)
	}
	res, err := s.propagate(ctx, snap, seeds, s.cfg.ScoreHops)
	if err != nil {
		return nil, spanError(span, err)
	}

	propagated := res.ScoreOr(entityID, 0)
	temporal := s.temporalDecay(days)
	score := math.Min(propagation.Round4(propagated*temporal*s.cfg.PropagationWeight+s.cfg.BehavioralComponent), s.cfg.ScoreCap)
	level := s.level(score)
	dominant, ok := res.DominantSource(entityID)
	if !ok {
		dominant = "unknown"
	}

	a := &Assessment{
		EntityID:        entityID,
		RiskLevel:       level,
		RiskScore:       score,
		PropagatedScore: propagated,
		TemporalDecay:   temporal,
		TimeRangeDays:   days,
		DominantSource:  dominant,
		Metrics:         s.activity(snap, entityID, res, score, propagated),
		Recommendations: recommendations(level),
		Explanations: []string{
			"propagated_risk_from=" + dominant,
			"time_window_days=" + strconv.Itoa(days),
			"temporal_decay=" + strconv.FormatFloat(temporal, 'f', -1, 64),
		},
		GraphVersion: snap.Version(),
		AnalyzedAt:   s.now().UTC(),
	}
	span.SetAttributes(
		attribute.Bool("risk.cache_hit", false),
		attribute.String("risk.level", string(level)),
		attribute.Float64("risk.score", score),
	)

	if err := s.cache.Put(ctx, key, a); err != nil {
		s.log.Warn("cache write failed", zap.String("key", key.String()), zap.Error(err))
	}
	if s.sink != nil {
		if err := s.sink.SaveAssessment(ctx, a); err != nil {
			s.log.Warn("persist assessment failed", zap.String("entity", entityID), zap.Error(err))
		}
	}
	if level == LevelHigh && s.alerts != nil {
		s.alerts.PublishRiskAlert(Alert{
			Type:           "risk_alert",
			EntityID:       entityID,
			RiskLevel:      level,
			RiskScore:      score,
			DominantSource: dominant,
			GraphVersion:   a.GraphVersion,
			At:             a.AnalyzedAt,
		})
	}
	s.col.RecordAssessment(string(level))
	s.recordBusiness(level)
	s.compareShadow(ctx, entityID, snap, seeds, s.cfg.ScoreHops, res)

	s.log.Debug("entity analyzed",
		zap.String("entity", entityID),
		zap.Int("days", days),
		zap.String("level", string(level)),
		zap.Float64("score", score),
		zap.String("dominant_source", dominant))
	return a, nil
}

// PropagationMap returns every node whose score clears the density-adaptive
// threshold, with the full dominant-source attribution.
func (s *Service) PropagationMap(ctx context.Context, entityID string) (*InfluenceMap, error) {
	ctx, span := s.tracer.Start(ctx, "risk.PropagationMap", trace.WithAttributes(
		attribute.String("entity.id", entityID),
	))
	defer span.End()

	snap := s.graph.Snapshot()
	if !snap.HasNode(entityID) {
		return nil, spanError(span, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID))
	}
	defer s.col.ObserveLatency("propagation_map", time.Now())

	seeds, err := s.seedsFor(ctx, entityID)
	if err != nil {
		return nil, spanError(span, err)
	}
	res, err := s.propagate(ctx, snap, seeds, s.cfg.MapHops)
	if err != nil {
		return nil, spanError(span, err)
	}

	threshold := s.AdaptiveThreshold(snap)
	influence := res.Above(threshold)
	span.SetAttributes(attribute.Int("risk.influence_nodes", len(influence)))
	return &InfluenceMap{
		EntityID:          entityID,
		GeneratedAt:       s.now().UTC(),
		AdaptiveThreshold: threshold,
		Influence:         influence,
		DominantSource:    res.DominantSources(),
		GraphVersion:      snap.Version(),
	}, nil
}

// SimulateTransfer projects the endpoint scores of a hypothetical transfer.
// The live graph is not modified.
func (s *Service) SimulateTransfer(ctx context.Context, req SimulationRequest) (*Simulation, error) {
	ctx, span := s.tracer.Start(ctx, "risk.SimulateTransfer", trace.WithAttributes(
		attribute.String("simulation.source", req.SourceID),
		attribute.String("simulation.target", req.TargetID),
	))
	defer span.End()

	transfer := s.cfg.DefaultRiskTransfer
	if req.RiskTransfer != nil {
		transfer = *req.RiskTransfer
	}
	if err := validateSimulation(req, transfer); err != nil {
		return nil, spanError(span, err)
	}
	defer s.col.ObserveLatency("simulate", time.Now())

	snap := s.graph.Snapshot()
	overlay, err := snap.WithEdge(req.SourceID, req.TargetID, graph.NewEdgeAttributes(transfer, map[string]any{"amount": req.Amount}))
	if err != nil {
		return nil, spanError(span, fmt.Errorf("%w: %v", ErrInvalidSimulation, err))
	}

	seeds, err := s.seedsFor(ctx, req.SourceID)
	if err != nil {
		return nil, spanError(span, err)
	}
	baseline, err := s.propagate(ctx, snap, seeds, s.cfg.SimulationHops)
	if err != nil {
		return nil, spanError(span, err)
	}
	projected, err := s.propagate(ctx, overlay, seeds, s.cfg.SimulationHops)
	if err != nil {
		return nil, spanError(span, err)
	}

	endpoints := func(r *propagation.Result) map[string]float64 {
		return map[string]float64{
			req.SourceID: r.ScoreOr(req.SourceID, 0),
			req.TargetID: r.ScoreOr(req.TargetID, 0),
		}
	}
	return &Simulation{
		Simulation: SimulatedTransfer{
			SourceID:     req.SourceID,
			TargetID:     req.TargetID,
			Amount:       req.Amount,
			RiskTransfer: transfer,
		},
		ProjectedRisk: endpoints(projected),
		BaselineRisk:  endpoints(baseline),
		Attribution:   metrics.AttributionAgreement(baseline.DominantSources(), projected.DominantSources()),
		GraphVersion:  snap.Version(),
	}, nil
}

// AdaptiveThreshold is the influence cutoff for a graph: denser graphs use
// the higher cutoff to keep maps small.
func (s *Service) AdaptiveThreshold(snap *graph.Snapshot) float64 {
	if snap.Density() > s.cfg.DensityCutoff {
		return s.cfg.DenseThreshold
	}
	return s.cfg.SparseThreshold
}

func (s *Service) propagate(ctx context.Context, view graph.View, seeds propagation.Seeds, hops int) (*propagation.Result, error) {
	_, span := s.tracer.Start(ctx, "propagation.Propagate", trace.WithAttributes(
		attribute.Int("propagation.seeds", len(seeds)),
		attribute.Int("propagation.max_hops", hops),
	))
	defer span.End()

	res, err := s.engine.Propagate(view, seeds, hops)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("propagate: %w", err))
	}
	span.SetAttributes(attribute.Int("propagation.nodes", res.Len()))
	return res, nil
}

func (s *Service) seedsFor(ctx context.Context, entityID string) (propagation.Seeds, error) {
	seeds, err := s.seeds.Seeds(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSeedSource, err)
	}
	return seeds, nil
}

func (s *Service) compareShadow(ctx context.Context, entityID string, snap *graph.Snapshot, seeds propagation.Seeds, hops int, prod *propagation.Result) {
	if s.shadow == nil {
		return
	}
	_, err := s.shadow.Compare(ctx, shadow.Input{
		EntityID:     entityID,
		View:         snap,
		Seeds:        seeds,
		MaxHops:      hops,
		Production:   prod,
		GraphVersion: snap.Version(),
	})
	if err != nil {
		s.log.Warn("shadow comparison failed", zap.String("entity", entityID), zap.Error(err))
	}
}

func (s *Service) recordBusiness(level Level) {
	if s.business != nil {
		s.business.RecordRisk(level == LevelHigh, false)
	}
}

func (s *Service) temporalDecay(days int) float64 {
	return math.Max(s.cfg.TemporalFloor, propagation.Round4(1-float64(days)/s.cfg.TemporalHorizonDays))
}

func (s *Service) level(score float64) Level {
	switch {
	case score >= s.cfg.HighThreshold:
		return LevelHigh
	case score >= s.cfg.MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// activity summarizes every edge into or out of entityID. A counterparty is
// high risk when its propagated score reaches the HIGH threshold.
func (s *Service) activity(snap *graph.Snapshot, entityID string, res *propagation.Result, score, propagated float64) ActivityMetrics {
	m := ActivityMetrics{AverageRiskScore: propagation.Round4((score + propagated) / 2)}
	channels := make(map[string]struct{})
	risky := make(map[string]struct{})

	for _, src := range snap.Nodes() {
		next, err := snap.Successors(src)
		if err != nil {
			continue
		}
		for _, dst := range next {
			if src != entityID && dst != entityID {
				continue
			}
			attrs, err := snap.EdgeAttributes(src, dst)
			if err != nil {
				continue
			}
			m.TransactionCount++
			m.TotalVolume += attrs.Amount()
			if ch := attrs.Channel(); ch != "" {
				channels[strings.ToUpper(ch)] = struct{}{}
			}
			other := dst
			if dst == entityID {
				other = src
			}
			if other != entityID && res.ScoreOr(other, 0) >= s.cfg.HighThreshold {
				risky[other] = struct{}{}
			}
		}
	}

	m.HighRiskCount = len(risky)
	m.ChannelsUsed = make([]string, 0, len(channels))
	for ch := range channels {
		m.ChannelsUsed = append(m.ChannelsUsed, ch)
	}
	sort.Strings(m.ChannelsUsed)
	return m
}

func recommendations(level Level) []string {
	switch level {
	case LevelHigh:
		return []string{
			"Escalate to compliance review",
			"Enable enhanced due diligence",
			"Hold outbound transfers pending review",
		}
	case LevelMedium:
		return []string{
			"Monitor large transactions",
			"Verify beneficiary identity",
			"Enable enhanced due diligence",
		}
	default:
		return []string{"Continue standard monitoring"}
	}
}

func validateSimulation(req SimulationRequest, transfer float64) error {
	switch {
	case req.SourceID == "" || req.TargetID == "":
		return fmt.Errorf("%w: source_id and target_id are required", ErrInvalidSimulation)
	case math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidSimulation)
	case math.IsNaN(transfer) || transfer < 0 || transfer > 1:
		return fmt.Errorf("%w: risk_transfer %v outside [0,1]", ErrInvalidSimulation, transfer)
	}
	return nil
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
