package graph

import (
	"context"
	"testing"

	apperrors "graph-ingest/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSchemaEnsureIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	schema := NewSchema(store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, schema.Ensure(ctx, 768))
	require.NoError(t, schema.Ensure(ctx, 768))

	for _, label := range Labels() {
		assert.True(t, store.HasConstraint(label, label.KeyProperty()), "constraint on %s", label)
	}
	dim, err := schema.ExistingDimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 768, dim)
}

func TestSchemaEnsureDimensionMismatch(t *testing.T) {
	store := NewMemoryStore()
	schema := NewSchema(store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, schema.Ensure(ctx, 384))

	var issued []string
	store.FailOn = func(q string) error {
		issued = append(issued, q)
		return nil
	}
	err := schema.Ensure(ctx, 768)
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
	assert.Equal(t, []string{"VECTOR_INDEX_DIMENSIONS"}, issued, "nothing is written after a mismatch")
}

func TestSchemaEnsureRejectsZeroDimension(t *testing.T) {
	err := NewSchema(NewMemoryStore(), zap.NewNop()).Ensure(context.Background(), 0)
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestCypherDialect(t *testing.T) {
	d := CypherDialect{}

	tests := []struct {
		name string
		got  string
		want []string
	}{
		{
			name: "unique_constraint",
			got:  d.UniqueConstraint(LabelTag, "name"),
			want: []string{"CREATE CONSTRAINT tag_name IF NOT EXISTS", "FOR (n:Tag)", "REQUIRE n.name IS UNIQUE"},
		},
		{
			name: "vector_index",
			got:  d.VectorIndex(VectorIndexes[0], 768),
			want: []string{"CREATE VECTOR INDEX stackoverflow IF NOT EXISTS", "FOR (n:Question)", "`vector.dimensions`: 768", "'cosine'"},
		},
		{
			name: "node_upsert_merges_on_identity",
			got:  d.UpsertNodes(LabelAmendment),
			want: []string{"MERGE (n:Amendment {law_id: row.key})", "ON CREATE SET n += row.create_props", "SET n += row.refresh_props"},
		},
		{
			name: "relationship_upsert_matches_endpoints",
			got:  d.UpsertRelationships(RelAmends, relSchema[RelAmends]),
			want: []string{"MATCH (a:Amendment {law_id: row.from_key})", "MATCH (b:Law {law_id: row.to_key})", "MERGE (a)-[r:AMENDS]->(b)", "AS written"},
		},
		{
			name: "nearest_neighbours",
			got:  d.NearestNeighbours(VectorIndexes[1]),
			want: []string{"db.index.vector.queryNodes($index, $k, $vector)", "node.id AS key"},
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

func TestNeo4jParamsConvertsVectors(t *testing.T) {
	params := neo4jParams(map[string]any{
		"rows": []map[string]any{{"embedding": []float32{0.5, 1}, "key": int64(1)}},
		"tags": []string{"go"},
	})

	rows := params["rows"].([]any)
	row := rows[0].(map[string]any)
	assert.Equal(t, []float64{0.5, 1}, row["embedding"])
	assert.Equal(t, int64(1), row["key"])
	assert.Equal(t, []any{"go"}, params["tags"])
}
