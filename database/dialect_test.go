package database

import (
	"testing"

	"graph-ingest/graph"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLDialectStatements(t *testing.T) {
	d := SQLDialect{}
	amends, _ := graph.RelAmends.Endpoints()

	tests := []struct {
		name string
		got  string
		want []string
	}{
		{
			name: "bootstrap_sizes_vector_column",
			got:  d.Bootstrap(768)[1],
			want: []string{"CREATE TABLE IF NOT EXISTS graph_nodes", "embedding vector(768)", "PRIMARY KEY (label, key)"},
		},
		{
			name: "edges_reference_nodes",
			got:  d.Bootstrap(768)[2],
			want: []string{"FOREIGN KEY (from_label, from_key) REFERENCES graph_nodes(label, key)"},
		},
		{
			name: "unique_constraint_is_partial_index",
			got:  d.UniqueConstraint(graph.LabelUser, "id"),
			want: []string{`CREATE UNIQUE INDEX IF NOT EXISTS "graph_nodes_user_id"`, "WHERE label = 'User'"},
		},
		{
			name: "vector_index_uses_hnsw_cosine",
			got:  d.VectorIndex(graph.VectorIndexes[1], 768),
			want: []string{`"top_answers"`, "USING hnsw", "vector_cosine_ops", "WHERE label = 'Answer'"},
		},
		{
			name: "node_upsert_refreshes_only_refresh_props",
			got:  d.UpsertNodes(graph.LabelQuestion),
			want: []string{"jsonb_to_recordset(@rows::jsonb)", "ON CONFLICT (label, key) DO UPDATE", "n.props || (SELECT i.refresh_props", "COALESCE(EXCLUDED.embedding, n.embedding)", "(xmax = 0)"},
		},
		{
			name: "relationship_upsert_joins_endpoints",
			got:  d.UpsertRelationships(graph.RelAmends, amends),
			want: []string{"'AMENDS'", "a.label = 'Amendment'", "b.label = 'Law'", "AS written"},
		},
		{
			name: "nearest_neighbours",
			got:  d.NearestNeighbours(graph.VectorIndexes[0]),
			want: []string{`"embedding" <=> @vector`, "label = 'Question'", "LIMIT @k"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, w := range tt.want {
				assert.Contains(t, tt.got, w)
			}
		})
	}
}

func TestSQLDialectQuotesLabels(t *testing.T) {
	stmt := SQLDialect{}.UniqueConstraint(graph.Label("Bad'Label"), "id")
	assert.Contains(t, stmt, "'Bad''Label'")
}

func TestNamedArgs(t *testing.T) {
	args, err := namedArgs(map[string]any{
		"rows":   []map[string]any{{"key": int64(1), "embedding": []float32{0.5}}},
		"vector": []float32{1, 2},
		"k":      3,
	})
	require.NoError(t, err)

	assert.JSONEq(t, `[{"key":1,"embedding":[0.5]}]`, args["rows"].(string))
	assert.Equal(t, pgvector.NewVector([]float32{1, 2}), args["vector"])
	assert.Equal(t, 3, args["k"])
}
