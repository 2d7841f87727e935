package database

import (
	"fmt"
	"strings"

	"graph-ingest/graph"

	"github.com/lib/pq"
)

// SQLDialect renders graph statements for PostgreSQL with pgvector.
//
// Node identity is the (label, key) primary key; the key is stored as text.
// Relationship endpoints are joined against graph_nodes, so a relationship to
// a missing node produces no row.
type SQLDialect struct{}

func (SQLDialect) Name() string { return "postgres" }

func (SQLDialect) Bootstrap(dimension int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS graph_nodes (
            label TEXT NOT NULL,
            key TEXT NOT NULL,
            props JSONB NOT NULL DEFAULT '{}'::jsonb,
            embedding vector(%d),
            created_at TIMESTAMPTZ DEFAULT NOW(),
            updated_at TIMESTAMPTZ DEFAULT NOW(),
            PRIMARY KEY (label, key)
        )`, dimension),
		`CREATE TABLE IF NOT EXISTS graph_edges (
            type TEXT NOT NULL,
            from_label TEXT NOT NULL,
            from_key TEXT NOT NULL,
            to_label TEXT NOT NULL,
            to_key TEXT NOT NULL,
            props JSONB NOT NULL DEFAULT '{}'::jsonb,
            created_at TIMESTAMPTZ DEFAULT NOW(),
            updated_at TIMESTAMPTZ DEFAULT NOW(),
            PRIMARY KEY (type, from_label, from_key, to_label, to_key),
            FOREIGN KEY (from_label, from_key) REFERENCES graph_nodes(label, key),
            FOREIGN KEY (to_label, to_key) REFERENCES graph_nodes(label, key)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_graph_edges_to ON graph_edges(to_label, to_key)`,
	}
}

func (SQLDialect) UniqueConstraint(label graph.Label, property string) string {
	name := fmt.Sprintf("graph_nodes_%s_%s", strings.ToLower(string(label)), property)
	return fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON graph_nodes (key) WHERE label = %s`,
		pq.QuoteIdentifier(name), pq.QuoteLiteral(string(label)))
}

func (SQLDialect) VectorIndex(spec graph.VectorIndexSpec, dimension int) string {
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON graph_nodes USING hnsw (%s vector_cosine_ops) WHERE label = %s`,
		pq.QuoteIdentifier(spec.Name), pq.QuoteIdentifier(spec.Property), pq.QuoteLiteral(string(spec.Label)))
}

// VectorIndexDimensions reads the dimension of the embedding column; every
// vector index shares it.
func (SQLDialect) VectorIndexDimensions() string {
	return `SELECT 'graph_nodes.embedding' AS name, a.atttypmod AS dimension
        FROM pg_attribute a
        WHERE a.attrelid = to_regclass('graph_nodes')
          AND a.attname = 'embedding'
          AND NOT a.attisdropped`
}

func (SQLDialect) UpsertNodes(label graph.Label) string {
	return fmt.Sprintf(`WITH input AS (
            SELECT r.key,
                   COALESCE(r.create_props, '{}'::jsonb) AS create_props,
                   COALESCE(r.refresh_props, '{}'::jsonb) AS refresh_props,
                   CASE WHEN jsonb_typeof(r.embedding) = 'array' THEN (r.embedding::text)::vector END AS embedding
            FROM jsonb_to_recordset(@rows::jsonb) AS r(key TEXT, create_props JSONB, refresh_props JSONB, embedding JSONB)
        ), upserted AS (
            INSERT INTO graph_nodes AS n (label, key, props, embedding)
            SELECT %[1]s, i.key, i.create_props || i.refresh_props, i.embedding
            FROM input i
            ON CONFLICT (label, key) DO UPDATE
            SET props = n.props || (SELECT i.refresh_props FROM input i WHERE i.key = EXCLUDED.key),
                embedding = COALESCE(EXCLUDED.embedding, n.embedding),
                updated_at = NOW()
            RETURNING (xmax = 0) AS inserted
        )
        SELECT count(*) FILTER (WHERE inserted) AS created,
               count(*) FILTER (WHERE NOT inserted) AS updated
        FROM upserted`, pq.QuoteLiteral(string(label)))
}

func (SQLDialect) UpsertRelationships(t graph.RelType, ends graph.Endpoints) string {
	return fmt.Sprintf(`WITH input AS (
            SELECT r.from_key, r.to_key, COALESCE(r.props, '{}'::jsonb) AS props
            FROM jsonb_to_recordset(@rows::jsonb) AS r(from_key TEXT, to_key TEXT, props JSONB)
        ), written AS (
            INSERT INTO graph_edges AS e (type, from_label, from_key, to_label, to_key, props)
            SELECT %[1]s, a.label, a.key, b.label, b.key, i.props
            FROM input i
            JOIN graph_nodes a ON a.label = %[2]s AND a.key = i.from_key
            JOIN graph_nodes b ON b.label = %[3]s AND b.key = i.to_key
            ON CONFLICT (type, from_label, from_key, to_label, to_key) DO UPDATE
            SET props = e.props || EXCLUDED.props,
                updated_at = NOW()
            RETURNING 1
        )
        SELECT count(*) AS written FROM written`,
		pq.QuoteLiteral(string(t)), pq.QuoteLiteral(string(ends.From)), pq.QuoteLiteral(string(ends.To)))
}

func (SQLDialect) NodeCounts() string {
	return `SELECT label, count(*) AS count FROM graph_nodes GROUP BY label`
}

func (SQLDialect) RelationshipCounts() string {
	return `SELECT type, count(*) AS count FROM graph_edges GROUP BY type`
}

func (SQLDialect) EmbeddingMismatches() string {
	return `SELECT count(*) AS count FROM graph_nodes
        WHERE embedding IS NOT NULL AND vector_dims(embedding) <> @dimension`
}

func (SQLDialect) NearestNeighbours(spec graph.VectorIndexSpec) string {
	return fmt.Sprintf(`SELECT key, 1 - (%[1]s <=> @vector) AS score
        FROM graph_nodes
        WHERE label = %[2]s AND %[1]s IS NOT NULL
        ORDER BY %[1]s <=> @vector
        LIMIT @k`, pq.QuoteIdentifier(spec.Property), pq.QuoteLiteral(string(spec.Label)))
}
