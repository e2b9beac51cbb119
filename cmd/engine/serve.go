package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rawblock/bridgetrace/internal/api"
	"github.com/rawblock/bridgetrace/internal/audit"
	"github.com/rawblock/bridgetrace/internal/cache"
	"github.com/rawblock/bridgetrace/internal/chain"
	"github.com/rawblock/bridgetrace/internal/config"
	"github.com/rawblock/bridgetrace/internal/db"
	"github.com/rawblock/bridgetrace/internal/graph"
	"github.com/rawblock/bridgetrace/internal/logger"
	"github.com/rawblock/bridgetrace/internal/metrics"
	"github.com/rawblock/bridgetrace/internal/propagation"
	"github.com/rawblock/bridgetrace/internal/risk"
	"github.com/rawblock/bridgetrace/internal/shadow"
	"github.com/rawblock/bridgetrace/internal/trace"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file (env BRIDGETRACE_* overrides)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("starting bridgetrace engine", zap.String("version", Version))

	shutdownTracer, err := initTracer(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	col := metrics.NewCollectors(reg)

	validator, err := chain.AddressValidator(cfg.Graph.Network)
	if err != nil {
		return err
	}
	store := graph.NewStore(graph.WithAddressValidator(validator))
	if err := loadGraph(ctx, cfg.Graph, store, log); err != nil {
		return err
	}
	snap := store.Snapshot()
	size := snap.Size()
	col.SetGraphSize(size.Nodes, size.Edges)
	log.Info("graph loaded",
		zap.String("source", cfg.Graph.Source),
		zap.Int("nodes", size.Nodes),
		zap.Int("edges", size.Edges),
		zap.String("version", snap.Version()))

	auditLog, err := openAudit(cfg.Audit)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	// Postgres is optional; without it seeds come from the built-in set and
	// nothing is persisted.
	var pg *db.PostgresStore
	if cfg.Postgres.URL != "" {
		pg, err = db.Connect(ctx, cfg.Postgres.URL, log.Named("postgres"))
		if err != nil {
			return err
		}
		defer pg.Close()
		if cfg.Postgres.InitSchema {
			if err := pg.InitSchema(ctx); err != nil {
				return err
			}
		}
	}

	hub := api.NewHub(cfg.Server.AllowedOrigins, log)
	business := metrics.NewBusinessMetrics()

	riskOpts := []risk.Option{
		risk.WithLogger(log),
		risk.WithCollectors(col),
		risk.WithBusinessMetrics(business),
		risk.WithAlertPublisher(hub),
	}
	if pg != nil {
		riskOpts = append(riskOpts,
			risk.WithSeedProvider(risk.ChainSeeds(risk.StaticSeeds{}, pg)),
			risk.WithAssessmentSink(pg))
	}

	var gcCache *cache.Badger
	if cfg.Cache.Backend == "badger" {
		gcCache, err = cache.Open(cache.Config{Path: cfg.Cache.Path, GCInterval: cfg.Cache.GCInterval}, log)
		if err != nil {
			return err
		}
		defer gcCache.Close()
		riskOpts = append(riskOpts, risk.WithCache(gcCache))
	}

	var drift api.DriftReporter
	if cfg.Shadow.Enabled {
		var shadowStore shadow.Store
		if pg != nil {
			shadowStore = pg
		}
		runner, err := shadow.NewRunner(shadow.Options{
			Experiment: cfg.Shadow.Experiment,
			Config: propagation.Config{
				Decay:         cfg.Shadow.Decay,
				MinSignal:     cfg.Shadow.MinSignal,
				MaxExpansions: cfg.Risk.MaxExpansions,
			},
			Tolerance:  cfg.Shadow.Tolerance,
			Store:      shadowStore,
			Collectors: col,
			Logger:     log,
		})
		if err != nil {
			return err
		}
		riskOpts = append(riskOpts, risk.WithShadow(runner))
		drift = runner
		log.Info("shadow evaluation enabled", zap.String("experiment", runner.Experiment()))
	}

	riskSvc, err := risk.NewService(store, cfg.Risk, riskOpts...)
	if err != nil {
		return err
	}
	traceSvc := trace.NewService(store, metrics.NewTraceStats(col),
		trace.WithCollectors(col),
		trace.WithBusinessMetrics(business),
		trace.WithLogger(log))

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(api.Options{
		ServiceName:    cfg.Tracing.Service,
		APIPrefix:      cfg.Server.APIPrefix,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Auth:           cfg.Auth,
		Quota:          cfg.Quota,
	}, api.Deps{
		Trace:        traceSvc,
		Risk:         riskSvc,
		Business:     business,
		Audit:        auditLog,
		Hub:          hub,
		Collectors:   col,
		Gatherer:     reg,
		Drift:        drift,
		GraphVersion: func() string { return store.Snapshot().Version() },
		Ready: func(ctx context.Context) error {
			if pg == nil {
				return nil
			}
			return pg.Ping(ctx)
		},
		Logger: log,
	})
	if !cfg.Auth.Enabled() {
		log.Warn("no API keys or bearer tokens configured; protected routes are open")
	}

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		server.RunCleanup(gctx)
		return nil
	})
	if gcCache != nil {
		g.Go(func() error { return gcCache.RunGC(gctx) })
	}
	g.Go(func() error {
		log.Info("listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func loadGraph(ctx context.Context, cfg config.GraphConfig, store *graph.Store, log *zap.Logger) error {
	switch cfg.Source {
	case "reference":
		return store.Update(graph.ReferenceGraph)
	case "json":
		return graph.LoadJSONFile(cfg.JSONPath, store)
	case "neo4j":
		src, err := graph.NewNeo4jSource(ctx, graph.Neo4jOptions{
			URI:            cfg.Neo4j.URI,
			Database:       cfg.Neo4j.Database,
			Username:       cfg.Neo4j.Username,
			Password:       cfg.Neo4j.Password,
			MaxConnections: cfg.Neo4j.MaxConnections,
		}, log)
		if err != nil {
			return err
		}
		defer func() { _ = src.Close(ctx) }()
		_, err = src.Load(ctx, store)
		return err
	default:
		return fmt.Errorf("unknown graph source %q", cfg.Source)
	}
}

func openAudit(cfg config.AuditConfig) (*audit.Log, error) {
	if cfg.Path == "" {
		return audit.OpenMemory()
	}
	return audit.Open(cfg.Path)
}
