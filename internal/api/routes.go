package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/rawblock/bridgetrace/internal/audit"
	"github.com/rawblock/bridgetrace/internal/config"
	"github.com/rawblock/bridgetrace/internal/metrics"
	"github.com/rawblock/bridgetrace/internal/risk"
	"github.com/rawblock/bridgetrace/internal/shadow"
	"github.com/rawblock/bridgetrace/internal/trace"
	"github.com/rawblock/bridgetrace/pkg/models"
)

// Version is reported by the health endpoint.
const Version = "2.0.0"

// Tracer answers flow and neighborhood queries.
type Tracer interface {
	TraceFlow(ctx context.Context, source string, maxHops int, minAmount float64) (*trace.Flow, error)
	GraphSnapshot(ctx context.Context, entity string) (*trace.Snapshot, error)
}

// RiskScorer answers risk queries.
type RiskScorer interface {
	AnalyzeEntity(ctx context.Context, entityID string, days int) (*risk.Assessment, error)
	PropagationMap(ctx context.Context, entityID string) (*risk.InfluenceMap, error)
	SimulateTransfer(ctx context.Context, req risk.SimulationRequest) (*risk.Simulation, error)
}

// DriftReporter summarizes shadow comparisons.
type DriftReporter interface {
	DriftReport(ctx context.Context) (shadow.DriftReport, error)
}

// Options are the HTTP-level settings.
type Options struct {
	ServiceName    string
	APIPrefix      string
	AllowedOrigins []string
	Auth           config.AuthConfig
	Quota          config.QuotaConfig
	DefaultDays    int
}

// Deps are the services behind the routes. Trace, Risk and Business are
// required; the rest are optional.
type Deps struct {
	Trace        Tracer
	Risk         RiskScorer
	Business     *metrics.BusinessMetrics
	Audit        AuditLog
	Hub          *Hub
	Collectors   *metrics.Collectors
	Gatherer     prometheus.Gatherer
	Drift        DriftReporter
	GraphVersion func() string
	Ready        func(ctx context.Context) error
	Logger       *zap.Logger
}

// Server owns the router and its limiters.
type Server struct {
	opts   Options
	deps   Deps
	router *gin.Engine
	ipRate *RateLimiter
	quota  *RateLimiter
	log    *zap.Logger
}

// NewServer builds the router.
func NewServer(opts Options, deps Deps) *Server {
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api/v2"
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "bridgetrace"
	}
	if opts.DefaultDays == 0 {
		opts.DefaultDays = 30
	}
	if opts.Quota.DefaultTenant == "" {
		opts.Quota.DefaultTenant = "anonymous"
	}
	if opts.Quota.TenantPerMinute <= 0 {
		opts.Quota.TenantPerMinute = 120
	}
	if opts.Quota.IPPerMinute <= 0 {
		opts.Quota.IPPerMinute = 600
	}
	if opts.Quota.IPBurst <= 0 {
		opts.Quota.IPBurst = 60
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		opts:   opts,
		deps:   deps,
		ipRate: NewRateLimiter(opts.Quota.IPPerMinute, opts.Quota.IPBurst),
		quota:  NewRateLimiter(opts.Quota.TenantPerMinute, opts.Quota.TenantPerMinute),
		log:    deps.Logger.Named("api"),
	}
	s.router = s.setupRouter()
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// RunCleanup sweeps idle rate limiter state until ctx is done.
func (s *Server) RunCleanup(ctx context.Context) {
	go s.quota.RunCleanup(ctx)
	s.ipRate.RunCleanup(ctx)
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(s.opts.ServiceName))
	r.Use(RequestContext(s.opts.Quota.DefaultTenant))
	r.Use(AccessLog(s.log))
	r.Use(RequestMetrics(s.deps.Collectors))
	r.Use(CORS(s.opts.AllowedOrigins))
	r.Use(s.ipRate.IPMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group(s.opts.APIPrefix)
	{
		api.GET("/health", s.handleHealth)
		api.GET("/health/ready", s.handleReady)
		api.GET("/health/live", s.handleLive)
		if s.deps.Hub != nil {
			api.GET("/stream", s.deps.Hub.Subscribe)
		}
	}

	protected := api.Group("")
	protected.Use(AuthMiddleware(s.opts.Auth))
	protected.Use(TenantQuota(s.quota, s.deps.Audit, s.log))
	protected.Use(Audit(s.deps.Audit, s.log))
	{
		protected.POST("/trace", s.handleTrace)
		protected.GET("/graph/:entity_id", s.handleGraph)
		protected.POST("/risk/analyze", s.handleAnalyzeRisk)
		protected.GET("/risk/:entity_id", s.handleGetRisk)
		protected.GET("/risk/propagation-map/:entity_id", s.handlePropagationMap)
		protected.GET("/propagation-map/:entity_id", s.handlePropagationMap)
		protected.POST("/simulate", s.handleSimulate)
		protected.GET("/metrics/business", s.handleBusinessMetrics)
		protected.GET("/audit", s.handleAudit)
		protected.GET("/shadow/drift", s.handleShadowDrift)
	}

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   Version,
	}
	if s.deps.GraphVersion != nil {
		resp.GraphVersion = s.deps.GraphVersion()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReady(c *gin.Context) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(c.Request.Context()); err != nil {
			s.log.Warn("readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alive": true})
}

// handleTrace follows funds from source_id.
// POST /trace { "source_id": "bank_001", "max_hops": 5, "min_amount": 0 }
func (s *Server) handleTrace(c *gin.Context) {
	req := models.TraceRequest{MaxHops: trace.DefaultHops}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortJSON(c, http.StatusBadRequest, codeValidation, "invalid request body: "+err.Error())
		return
	}

	flow, err := s.deps.Trace.TraceFlow(c.Request.Context(), req.SourceID, req.MaxHops, req.MinAmount)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, flow)
}

func (s *Server) handleGraph(c *gin.Context) {
	snap, err := s.deps.Trace.GraphSnapshot(c.Request.Context(), c.Param("entity_id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleAnalyzeRisk scores an entity.
// POST /risk/analyze { "entity_id": "entity_001", "time_range_days": 30 }
func (s *Server) handleAnalyzeRisk(c *gin.Context) {
	req := models.RiskAnalysisRequest{TimeRangeDays: s.opts.DefaultDays}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortJSON(c, http.StatusBadRequest, codeValidation, "invalid request body: "+err.Error())
		return
	}
	s.respondAssessment(c, req.EntityID, req.TimeRangeDays)
}

// handleGetRisk is the query-string form of handleAnalyzeRisk.
// GET /risk/:entity_id?days=30
func (s *Server) handleGetRisk(c *gin.Context) {
	days := s.opts.DefaultDays
	if raw := c.Query("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			abortJSON(c, http.StatusBadRequest, codeValidation, "days must be an integer")
			return
		}
		days = v
	}
	s.respondAssessment(c, c.Param("entity_id"), days)
}

func (s *Server) respondAssessment(c *gin.Context, entityID string, days int) {
	assessment, err := s.deps.Risk.AnalyzeEntity(c.Request.Context(), entityID, days)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, assessment)
}

func (s *Server) handlePropagationMap(c *gin.Context) {
	m, err := s.deps.Risk.PropagationMap(c.Request.Context(), c.Param("entity_id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// handleSimulate projects a hypothetical transfer without touching the graph.
// POST /simulate { "source_id": "...", "target_id": "...", "amount": 100, "risk_transfer": 0.7 }
func (s *Server) handleSimulate(c *gin.Context) {
	var req models.SimulationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortJSON(c, http.StatusBadRequest, codeValidation, "invalid request body: "+err.Error())
		return
	}

	sim, err := s.deps.Risk.SimulateTransfer(c.Request.Context(), risk.SimulationRequest{
		SourceID:     req.SourceID,
		TargetID:     req.TargetID,
		Amount:       req.Amount,
		RiskTransfer: req.RiskTransfer,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sim)
}

func (s *Server) handleBusinessMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Business.Snapshot())
}

// handleAudit returns the newest audit entries, oldest first.
// GET /audit?limit=50
func (s *Server) handleAudit(c *gin.Context) {
	if s.deps.Audit == nil {
		abortJSON(c, http.StatusServiceUnavailable, codeUnavailable, "audit log not configured")
		return
	}
	limit := audit.DefaultTailLimit
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			abortJSON(c, http.StatusBadRequest, codeValidation, "limit must be a positive integer")
			return
		}
		limit = v
	}
	entries, err := s.deps.Audit.Tail(limit)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleShadowDrift(c *gin.Context) {
	if s.deps.Drift == nil {
		abortJSON(c, http.StatusServiceUnavailable, codeUnavailable, "shadow evaluation not enabled")
		return
	}
	report, err := s.deps.Drift.DriftReport(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
