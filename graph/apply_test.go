package graph

import (
	"context"
	"errors"
	"testing"

	apperrors "graph-ingest/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func questionBatch(score int64, title string) Batch {
	var b Batch
	q := b.AddNode(&NodeDraft{
		Label:      LabelQuestion,
		Key:        int64(1),
		CreateOnly: map[string]any{"link": "https://example.com/q/1"},
		Refresh:    map[string]any{"title": title, "score": score},
		Embedding:  []float32{1, 0, 0},
	})
	tag := b.AddNode(&NodeDraft{Label: LabelTag, Key: "neo4j"})
	asker := b.AddNode(&NodeDraft{
		Label:      LabelUser,
		Key:        int64(7),
		CreateOnly: map[string]any{"display_name": "alice", "reputation": int64(10)},
	})
	b.Relate(RelTagged, q.Ref(), tag.Ref(), nil)
	b.Relate(RelAsked, asker.Ref(), q.Ref(), nil)
	return b
}

func TestApplyCreatesThenUpdates(t *testing.T) {
	store := NewMemoryStore()
	g := New(store, 3, zap.NewNop())
	ctx := context.Background()

	first, err := g.Apply(ctx, questionBatch(1, "first"))
	require.NoError(t, err)
	assert.Equal(t, 3, first.Created)
	assert.Equal(t, 0, first.Updated)
	assert.Equal(t, 2, first.Relationships)
	assert.Equal(t, 0, first.Omitted)

	second, err := g.Apply(ctx, questionBatch(5, "second"))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 3, second.Updated)

	assert.Equal(t, 1, store.NodeCount(LabelQuestion))
	assert.Equal(t, 1, store.RelCount(RelTagged))
	assert.Equal(t, 1, store.RelCount(RelAsked))

	props, ok := store.Node(LabelQuestion, int64(1))
	require.True(t, ok)
	assert.Equal(t, "second", props["title"])
	assert.Equal(t, int64(5), props["score"])
	assert.Equal(t, "https://example.com/q/1", props["link"])
}

func TestApplyKeepsCreateOnlyAttributes(t *testing.T) {
	store := NewMemoryStore()
	g := New(store, 3, zap.NewNop())
	ctx := context.Background()

	_, err := g.Apply(ctx, Batch{Nodes: []*NodeDraft{{
		Label:      LabelUser,
		Key:        int64(7),
		CreateOnly: map[string]any{"display_name": "alice"},
	}}})
	require.NoError(t, err)

	_, err = g.Apply(ctx, Batch{Nodes: []*NodeDraft{{
		Label:      LabelUser,
		Key:        int64(7),
		CreateOnly: map[string]any{"display_name": "alice-renamed"},
	}}})
	require.NoError(t, err)

	props, _ := store.Node(LabelUser, int64(7))
	assert.Equal(t, "alice", props["display_name"])
}

func TestApplyFoldsDuplicateDrafts(t *testing.T) {
	store := NewMemoryStore()
	g := New(store, 3, zap.NewNop())

	counts, err := g.Apply(context.Background(), Batch{Nodes: []*NodeDraft{
		{Label: LabelUser, Key: "deleted", CreateOnly: map[string]any{"display_name": "first"}},
		{Label: LabelUser, Key: "deleted", CreateOnly: map[string]any{"display_name": "second"}},
		{Label: LabelAnswer, Key: int64(3), Refresh: map[string]any{"score": int64(1)}},
		{Label: LabelAnswer, Key: int64(3), Refresh: map[string]any{"score": int64(2)}},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Created)

	user, _ := store.Node(LabelUser, "deleted")
	assert.Equal(t, "first", user["display_name"])
	answer, _ := store.Node(LabelAnswer, int64(3))
	assert.Equal(t, int64(2), answer["score"])
}

func TestFoldOrdersRowsByKey(t *testing.T) {
	ids := func(b Batch) ([]any, []any) {
		nodes := foldNodes(b.Nodes)
		rels, err := foldRels(b.Rels)
		require.NoError(t, err)
		var tags, tagged []any
		for _, row := range nodes[LabelTag] {
			tags = append(tags, row["key"])
		}
		for _, row := range rels[RelTagged] {
			tagged = append(tagged, row["to_key"])
		}
		return tags, tagged
	}

	build := func(names ...string) Batch {
		var b Batch
		q := b.AddNode(&NodeDraft{Label: LabelQuestion, Key: int64(1)})
		for _, name := range names {
			tag := b.AddNode(&NodeDraft{Label: LabelTag, Key: name})
			b.Relate(RelTagged, q.Ref(), tag.Ref(), nil)
		}
		return b
	}

	forwardTags, forwardRels := ids(build("neo4j", "cypher", "graph"))
	reverseTags, reverseRels := ids(build("graph", "cypher", "neo4j"))
	assert.Equal(t, []any{"cypher", "graph", "neo4j"}, forwardTags)
	assert.Equal(t, forwardTags, reverseTags)
	assert.Equal(t, forwardRels, reverseRels)
}

func TestApplyOmitsDanglingRelationships(t *testing.T) {
	store := NewMemoryStore()
	g := New(store, 3, zap.NewNop())

	var b Batch
	law := b.AddNode(&NodeDraft{Label: LabelLaw, Key: int64(2000001)})
	b.Relate(RelAmends, NodeRef{Label: LabelAmendment, Key: int64(99)}, law.Ref(), map[string]any{"date": "2020-01-01"})

	counts, err := g.Apply(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Relationships)
	assert.Equal(t, 1, counts.Omitted)
	assert.Equal(t, 0, store.RelCount(RelAmends))
	assert.Equal(t, 0, store.DanglingRels())
}

func TestApplyRefreshesRelationshipProperties(t *testing.T) {
	store := NewMemoryStore()
	g := New(store, 3, zap.NewNop())
	ctx := context.Background()

	build := func(date string) Batch {
		var b Batch
		law := b.AddNode(&NodeDraft{Label: LabelLaw, Key: int64(1)})
		am := b.AddNode(&NodeDraft{Label: LabelAmendment, Key: int64(2)})
		b.Relate(RelAmends, am.Ref(), law.Ref(), map[string]any{"date": date})
		return b
	}

	_, err := g.Apply(ctx, build("2020-01-01"))
	require.NoError(t, err)
	_, err = g.Apply(ctx, build("2021-06-30"))
	require.NoError(t, err)

	assert.Equal(t, 1, store.RelCount(RelAmends))
	props, ok := store.Rel(RelAmends, int64(2), int64(1))
	require.True(t, ok)
	assert.Equal(t, "2021-06-30", props["date"])
}

func TestApplyRejectsWrongDimension(t *testing.T) {
	store := NewMemoryStore()
	g := New(store, 4, zap.NewNop())

	_, err := g.Apply(context.Background(), questionBatch(1, "x"))
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
	assert.Equal(t, 0, store.NodeCount(LabelQuestion))
	assert.Equal(t, 0, store.NodeCount(LabelTag))
}

func TestApplyStoreFailureRollsBack(t *testing.T) {
	store := NewMemoryStore()
	store.FailOn = func(q string) error {
		if q == store.Dialect().UpsertRelationships(RelAsked, relSchema[RelAsked]) {
			return errors.New("connection reset")
		}
		return nil
	}
	g := New(store, 3, zap.NewNop())

	_, err := g.Apply(context.Background(), questionBatch(1, "x"))
	require.Error(t, err)
	assert.True(t, apperrors.IsStoreWrite(err))
	assert.Equal(t, 0, store.NodeCount(LabelQuestion))
}

func TestApplyRejectsMislabelledRelationship(t *testing.T) {
	g := New(NewMemoryStore(), 3, zap.NewNop())
	var b Batch
	b.Relate(RelTagged, NodeRef{Label: LabelAnswer, Key: int64(1)}, NodeRef{Label: LabelTag, Key: "go"}, nil)

	_, err := g.Apply(context.Background(), b)
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestStatsAndSimilar(t *testing.T) {
	store := NewMemoryStore()
	g := New(store, 3, zap.NewNop())
	ctx := context.Background()

	_, err := g.Apply(ctx, Batch{Nodes: []*NodeDraft{
		{Label: LabelQuestion, Key: int64(1), Embedding: []float32{1, 0, 0}},
		{Label: LabelQuestion, Key: int64(2), Embedding: []float32{0, 1, 0}},
	}})
	require.NoError(t, err)

	stats, err := g.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Nodes["Question"])
	assert.Equal(t, int64(0), stats.EmbeddingMismatches)

	hits, err := g.Similar(ctx, "stackoverflow", []float32{0.9, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].Key)

	_, err = g.Similar(ctx, "nope", []float32{1, 0, 0}, 1)
	assert.Error(t, err)
}
