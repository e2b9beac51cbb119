package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rawblock/bridgetrace/internal/propagation"
	"github.com/rawblock/bridgetrace/internal/risk"
	"github.com/rawblock/bridgetrace/internal/shadow"
)

// schemaSQL is compiled into the binary so schema init needs no files at runtime.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(ctx context.Context, connStr string, log *zap.Logger) (*PostgresStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	log.Info("connected to postgres")
	return &PostgresStore{pool: pool, log: log}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping reports whether the pool can still reach the server.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	s.log.Info("schema initialized")
	return nil
}

// Seeds loads the active intelligence seeds that apply to entityID,
// highest priority first.
func (s *PostgresStore) Seeds(ctx context.Context, entityID string) (propagation.Seeds, error) {
	sql := `
		SELECT node_id, score
		FROM intel_seeds
		WHERE active AND starts_with($1, entity_prefix)
		ORDER BY priority, node_id;
	`
	rows, err := s.pool.Query(ctx, sql, entityID)
	if err != nil {
		return nil, fmt.Errorf("query intel_seeds: %w", err)
	}
	defer rows.Close()

	seeds := make(propagation.Seeds, 0)
	for rows.Next() {
		var seed propagation.Seed
		if err := rows.Scan(&seed.Node, &seed.Score); err != nil {
			return nil, err
		}
		seeds = append(seeds, seed)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return seeds, nil
}

// UpsertSeed adds or replaces an intelligence seed.
func (s *PostgresStore) UpsertSeed(ctx context.Context, nodeID string, score float64, entityPrefix, source string) error {
	sql := `
		INSERT INTO intel_seeds (node_id, score, entity_prefix, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (node_id, entity_prefix) DO UPDATE SET
			score = EXCLUDED.score,
			source = EXCLUDED.source,
			active = TRUE,
			updated_at = NOW();
	`
	_, err := s.pool.Exec(ctx, sql, nodeID, score, entityPrefix, source)
	return err
}

// SaveAssessment appends a computed assessment to the history table.
func (s *PostgresStore) SaveAssessment(ctx context.Context, a *risk.Assessment) error {
	metricsJSON, err := json.Marshal(a.Metrics)
	if err != nil {
		return err
	}
	explanationsJSON, err := json.Marshal(a.Explanations)
	if err != nil {
		return err
	}

	sql := `
		INSERT INTO risk_assessments
			(entity_id, time_range_days, risk_level, risk_score, propagated_score,
			 temporal_decay, dominant_source, graph_version, metrics, explanations, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
	`
	_, err = s.pool.Exec(ctx, sql,
		a.EntityID,
		a.TimeRangeDays,
		string(a.RiskLevel),
		a.RiskScore,
		a.PropagatedScore,
		a.TemporalDecay,
		a.DominantSource,
		a.GraphVersion,
		metricsJSON,
		explanationsJSON,
		a.AnalyzedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert risk assessment: %w", err)
	}
	return nil
}

// SaveShadowResult persists one production/shadow comparison.
func (s *PostgresStore) SaveShadowResult(ctx context.Context, r *shadow.Result) error {
	sql := `
		INSERT INTO shadow_results
			(experiment, entity_id, production_score, shadow_score, max_delta, max_delta_node,
			 ari, vi, diverged, graph_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
	`
	_, err := s.pool.Exec(ctx, sql,
		r.Experiment, r.EntityID, r.ProductionScore, r.ShadowScore, r.MaxDelta, r.MaxDeltaNode,
		r.ARI, r.VI, r.Diverged, r.GraphVersion, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert shadow result: %w", err)
	}
	return nil
}

// ShadowDriftReport aggregates every stored comparison of experiment.
func (s *PostgresStore) ShadowDriftReport(ctx context.Context, experiment string) (shadow.DriftReport, error) {
	sql := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE diverged),
			COALESCE(AVG(max_delta), 0),
			COALESCE(AVG(ari), 0)
		FROM shadow_results
		WHERE experiment = $1;
	`
	report := shadow.DriftReport{Experiment: experiment}
	err := s.pool.QueryRow(ctx, sql, experiment).Scan(
		&report.TotalRuns, &report.Divergences, &report.AvgMaxDelta, &report.AvgARI,
	)
	if err != nil {
		return shadow.DriftReport{}, fmt.Errorf("shadow drift report: %w", err)
	}
	return report, nil
}
