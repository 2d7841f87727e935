package graph

import "context"

// Querier runs one statement with named parameters and returns its rows.
type Querier interface {
	Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

// Store is a graph backend: something that accepts query strings plus named
// parameters, and knows the dialect those strings must be written in.
type Store interface {
	Querier
	Dialect() Dialect
	Close(ctx context.Context) error
}

// Transactor is implemented by stores that can run several statements
// atomically. fn may be retried by the store, so it must be idempotent.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
}

// Dialect renders the statements Graph and Schema need.
//
// Node upserts receive a "rows" parameter of
// {key, create_props, refresh_props, embedding} maps and return a single row
// with "created" and "updated" counts. Relationship upserts receive
// {from_key, to_key, props} rows and return a single row with "written".
type Dialect interface {
	Name() string

	// Bootstrap returns statements that must run before any constraint,
	// e.g. table creation. May be empty.
	Bootstrap(dimension int) []string
	UniqueConstraint(label Label, property string) string
	VectorIndex(spec VectorIndexSpec, dimension int) string
	// VectorIndexDimensions returns rows {name, dimension} for the existing
	// vector indexes among the "names" parameter.
	VectorIndexDimensions() string

	UpsertNodes(label Label) string
	UpsertRelationships(t RelType, ends Endpoints) string

	NodeCounts() string
	RelationshipCounts() string
	// EmbeddingMismatches counts stored embeddings whose length differs
	// from the "dimension" parameter.
	EmbeddingMismatches() string
	// NearestNeighbours takes "vector" and "k" and returns {key, score} rows.
	NearestNeighbours(spec VectorIndexSpec) string
}
