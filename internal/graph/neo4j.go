package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// ErrMissingURI indicates the graph database URI is not provided.
var ErrMissingURI = errors.New("graph URI is required")

// Neo4jOptions configures the Bolt connection used to pull the transaction graph.
type Neo4jOptions struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

const (
	loadNodesCypher = `
		MATCH (a:Account)
		RETURN a.id AS id, coalesce(a.kind, '') AS kind, coalesce(a.name, '') AS name,
		       coalesce(a.address, '') AS address
		ORDER BY coalesce(a.seq, 0), a.id`

	// Transfers are replayed in sequence order so successor order matches ingest order.
	loadEdgesCypher = `
		MATCH (a:Account)-[t:TRANSFER]->(b:Account)
		RETURN a.id AS source, b.id AS target, properties(t) AS props
		ORDER BY coalesce(t.seq, 0), t.timestamp`
)

// Neo4jSource reads Account nodes and TRANSFER relationships from Neo4j (or
// any Bolt-compatible openCypher endpoint) into a Store.
type Neo4jSource struct {
	driver   neo4j.DriverWithContext
	database string
	log      *zap.Logger
}

// NewNeo4jSource connects and verifies connectivity.
func NewNeo4jSource(ctx context.Context, opts Neo4jOptions, log *zap.Logger) (*Neo4jSource, error) {
	if opts.URI == "" {
		return nil, ErrMissingURI
	}

	auth := neo4j.NoAuth()
	if opts.Username != "" {
		auth = neo4j.BasicAuth(opts.Username, opts.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(opts.URI, auth, func(c *neo4j.Config) {
		if opts.MaxConnections > 0 {
			c.MaxConnectionPoolSize = opts.MaxConnections
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify graph connectivity: %w", err)
	}

	return &Neo4jSource{driver: driver, database: opts.Database, log: log}, nil
}

// Close releases the driver.
func (s *Neo4jSource) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Load adds every account and transfer to the store in one update and
// returns the resulting size.
func (s *Neo4jSource) Load(ctx context.Context, store *Store) (Size, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	nodeRecords, err := s.collect(ctx, session, loadNodesCypher)
	if err != nil {
		return Size{}, fmt.Errorf("load accounts: %w", err)
	}
	edgeRecords, err := s.collect(ctx, session, loadEdgesCypher)
	if err != nil {
		return Size{}, fmt.Errorf("load transfers: %w", err)
	}

	err = store.Update(func(b *Builder) error {
		for _, rec := range nodeRecords {
			n := Node{
				ID:      stringValue(rec["id"]),
				Kind:    NodeKind(stringValue(rec["kind"])),
				Name:    stringValue(rec["name"]),
				Address: stringValue(rec["address"]),
			}
			if err := b.AddNode(n); err != nil {
				return err
			}
		}
		for _, rec := range edgeRecords {
			props, _ := rec["props"].(map[string]any)
			attrs, err := edgeAttributesFromProps(props)
			if err != nil {
				return err
			}
			if err := b.AddEdge(stringValue(rec["source"]), stringValue(rec["target"]), attrs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Size{}, err
	}

	size := store.Snapshot().Size()
	s.log.Info("graph loaded from neo4j",
		zap.Int("nodes", size.Nodes),
		zap.Int("edges", size.Edges),
		zap.String("version", store.Snapshot().Version()))
	return size, nil
}

func (s *Neo4jSource) collect(ctx context.Context, session neo4j.SessionWithContext, cypher string) ([]map[string]any, error) {
	res, err := session.Run(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	var records []map[string]any
	for res.Next(ctx) {
		rec := res.Record()
		record := make(map[string]any, len(rec.Keys))
		for _, key := range rec.Keys {
			value, _ := rec.Get(key)
			record[key] = value
		}
		records = append(records, record)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func edgeAttributesFromProps(props map[string]any) (EdgeAttributes, error) {
	attrs := EdgeAttributes{Metadata: make(map[string]any, len(props))}
	for k, v := range props {
		if k != "risk_transfer" {
			attrs.Metadata[k] = v
			continue
		}
		switch t := v.(type) {
		case float64:
			attrs.RiskTransfer = &t
		case int64:
			f := float64(t)
			attrs.RiskTransfer = &f
		case nil:
		default:
			return EdgeAttributes{}, fmt.Errorf("%w: risk_transfer is %T", ErrInvalidEdge, v)
		}
	}
	return attrs, nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
