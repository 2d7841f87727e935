package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Label names a node type.
type Label string

const (
	LabelTag       Label = "Tag"
	LabelUser      Label = "User"
	LabelQuestion  Label = "Question"
	LabelAnswer    Label = "Answer"
	LabelLaw       Label = "Law"
	LabelAmendment Label = "Amendment"
)

// labelOrder is the order node groups are written in. Relationships run
// after every label so the order here only matters for readability of logs.
var labelOrder = []Label{LabelTag, LabelUser, LabelQuestion, LabelAnswer, LabelLaw, LabelAmendment}

// Labels returns every node label the store knows about.
func Labels() []Label {
	out := make([]Label, len(labelOrder))
	copy(out, labelOrder)
	return out
}

// KeyProperty is the identity property of the label.
func (l Label) KeyProperty() string {
	switch l {
	case LabelTag:
		return "name"
	case LabelLaw, LabelAmendment:
		return "law_id"
	default:
		return "id"
	}
}

// RelType names a relationship type.
type RelType string

const (
	RelTagged   RelType = "TAGGED"
	RelAsked    RelType = "ASKED"
	RelAnswers  RelType = "ANSWERS"
	RelProvided RelType = "PROVIDED"
	RelAmends   RelType = "AMENDS"
)

// Endpoints fixes the start and end label of each relationship type.
type Endpoints struct {
	From Label
	To   Label
}

var relSchema = map[RelType]Endpoints{
	RelTagged:   {From: LabelQuestion, To: LabelTag},
	RelAsked:    {From: LabelUser, To: LabelQuestion},
	RelAnswers:  {From: LabelAnswer, To: LabelQuestion},
	RelProvided: {From: LabelUser, To: LabelAnswer},
	RelAmends:   {From: LabelAmendment, To: LabelLaw},
}

var relOrder = []RelType{RelTagged, RelAsked, RelAnswers, RelProvided, RelAmends}

// Endpoints returns the labels a relationship of this type connects.
func (t RelType) Endpoints() (Endpoints, bool) {
	e, ok := relSchema[t]
	return e, ok
}

// VectorIndexSpec describes one vector index over node embeddings.
type VectorIndexSpec struct {
	Name     string
	Label    Label
	Property string
}

// VectorIndexes are the indexes created by Schema.Ensure.
var VectorIndexes = []VectorIndexSpec{
	{Name: "stackoverflow", Label: LabelQuestion, Property: "embedding"},
	{Name: "top_answers", Label: LabelAnswer, Property: "embedding"},
}

// LookupVectorIndex finds a declared vector index by name.
func LookupVectorIndex(name string) (VectorIndexSpec, bool) {
	for _, idx := range VectorIndexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return VectorIndexSpec{}, false
}

// Graph applies batches and answers inspection queries against a Store.
type Graph struct {
	store     Store
	dimension int
	logger    *zap.Logger
}

// New creates a Graph whose embeddings must have the given dimension.
func New(store Store, dimension int, logger *zap.Logger) *Graph {
	return &Graph{
		store:     store,
		dimension: dimension,
		logger:    logger,
	}
}

// Open returns a Graph enforcing the dimension the store's vector indexes
// were declared with, or 0 when the schema has not been created yet.
func Open(ctx context.Context, store Store, logger *zap.Logger) (*Graph, error) {
	dim, err := NewSchema(store, logger).ExistingDimension(ctx)
	if err != nil {
		return nil, err
	}
	return New(store, dim, logger), nil
}

// Dimension is the embedding dimension this graph enforces.
func (g *Graph) Dimension() int {
	return g.dimension
}

// Stats summarises what the store holds.
type Stats struct {
	Nodes               map[string]int64 `json:"nodes"`
	Relationships       map[string]int64 `json:"relationships"`
	EmbeddingMismatches int64            `json:"embedding_mismatches"`
}

// Stats counts nodes per label, relationships per type and stored embeddings
// whose length differs from the configured dimension.
func (g *Graph) Stats(ctx context.Context) (Stats, error) {
	d := g.store.Dialect()
	stats := Stats{
		Nodes:         make(map[string]int64),
		Relationships: make(map[string]int64),
	}

	rows, err := g.store.Query(ctx, d.NodeCounts(), nil)
	if err != nil {
		return stats, fmt.Errorf("count nodes: %w", err)
	}
	for _, row := range rows {
		stats.Nodes[fmt.Sprint(row["label"])] += asInt64(row["count"])
	}

	rows, err = g.store.Query(ctx, d.RelationshipCounts(), nil)
	if err != nil {
		return stats, fmt.Errorf("count relationships: %w", err)
	}
	for _, row := range rows {
		stats.Relationships[fmt.Sprint(row["type"])] += asInt64(row["count"])
	}

	rows, err = g.store.Query(ctx, d.EmbeddingMismatches(), map[string]any{"dimension": g.dimension})
	if err != nil {
		return stats, fmt.Errorf("count embedding mismatches: %w", err)
	}
	for _, row := range rows {
		stats.EmbeddingMismatches += asInt64(row["count"])
	}
	return stats, nil
}

// Neighbour is one vector search hit.
type Neighbour struct {
	Key   any     `json:"key"`
	Score float64 `json:"score"`
}

// Similar returns the k nodes closest to vector through the named index.
func (g *Graph) Similar(ctx context.Context, index string, vector []float32, k int) ([]Neighbour, error) {
	spec, ok := LookupVectorIndex(index)
	if !ok {
		return nil, fmt.Errorf("unknown vector index %q", index)
	}
	if len(vector) != g.dimension {
		return nil, fmt.Errorf("query vector has %d dimensions, index expects %d", len(vector), g.dimension)
	}
	if k <= 0 {
		k = 5
	}

	rows, err := g.store.Query(ctx, g.store.Dialect().NearestNeighbours(spec), map[string]any{
		"index":  spec.Name,
		"vector": vector,
		"k":      k,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search on %s: %w", spec.Name, err)
	}

	out := make([]Neighbour, 0, len(rows))
	for _, row := range rows {
		out = append(out, Neighbour{Key: row["key"], Score: asFloat64(row["score"])})
	}
	return out, nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	case bool:
		if n {
			return 1
		}
	}
	return 0
}

func asFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
