package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4jConfig holds the connection settings for a Neo4j server.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jStore runs Cypher against a Neo4j server.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

var (
	_ Store      = (*Neo4jStore)(nil)
	_ Transactor = (*Neo4jStore)(nil)
)

// NewNeo4jStore connects and verifies connectivity.
func NewNeo4jStore(ctx context.Context, cfg Neo4jConfig, logger *zap.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connect to neo4j at %s: %w", cfg.URI, err)
	}

	logger.Info("Successfully connected to Neo4j",
		zap.String("uri", cfg.URI),
		zap.String("database", cfg.Database))
	return &Neo4jStore{driver: driver, database: cfg.Database, logger: logger}, nil
}

func (s *Neo4jStore) Dialect() Dialect { return CypherDialect{} }

// Query runs a single auto-routed statement.
func (s *Neo4jStore) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, neo4jParams(params),
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database))
	if err != nil {
		return nil, err
	}
	return recordsToMaps(result.Records), nil
}

// WithinTransaction runs fn inside a managed write transaction. The driver
// retries fn on transient failures.
func (s *Neo4jStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(ctx, &neo4jTx{tx: tx})
	})
	return err
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

type neo4jTx struct {
	tx neo4j.ManagedTransaction
}

func (t *neo4jTx) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	result, err := t.tx.Run(ctx, query, neo4jParams(params))
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return recordsToMaps(records), nil
}

func recordsToMaps(records []*neo4j.Record) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		out = append(out, r.AsMap())
	}
	return out
}

// neo4jParams converts parameter values into types the driver can pack.
func neo4jParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = neo4jValue(v)
	}
	return out
}

func neo4jValue(v any) any {
	switch t := v.(type) {
	case []float32:
		f := make([]float64, len(t))
		for i, x := range t {
			f[i] = float64(x)
		}
		return f
	case map[string]any:
		return neo4jParams(t)
	case []map[string]any:
		list := make([]any, len(t))
		for i, m := range t {
			list[i] = neo4jParams(m)
		}
		return list
	case []string:
		list := make([]any, len(t))
		for i, s := range t {
			list[i] = s
		}
		return list
	default:
		return v
	}
}
