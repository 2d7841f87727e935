package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"

	apperrors "graph-ingest/errors"

	"go.uber.org/zap"
)

// LabelCounts is the outcome of one label's node upsert.
type LabelCounts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// Counts is the outcome of one Apply call.
type Counts struct {
	Created       int `json:"created"`
	Updated       int `json:"updated"`
	Relationships int `json:"relationships"`
	Omitted       int `json:"omitted"`

	Nodes       map[Label]LabelCounts `json:"-"`
	Rels        map[RelType]int       `json:"-"`
	OmittedRels map[RelType]int       `json:"-"`
}

// Add accumulates other into c.
func (c *Counts) Add(other Counts) {
	c.Created += other.Created
	c.Updated += other.Updated
	c.Relationships += other.Relationships
	c.Omitted += other.Omitted
	for l, lc := range other.Nodes {
		if c.Nodes == nil {
			c.Nodes = make(map[Label]LabelCounts)
		}
		cur := c.Nodes[l]
		cur.Created += lc.Created
		cur.Updated += lc.Updated
		c.Nodes[l] = cur
	}
	for t, n := range other.Rels {
		if c.Rels == nil {
			c.Rels = make(map[RelType]int)
		}
		c.Rels[t] += n
	}
	for t, n := range other.OmittedRels {
		if c.OmittedRels == nil {
			c.OmittedRels = make(map[RelType]int)
		}
		c.OmittedRels[t] += n
	}
}

// Apply merges a batch into the store. Node groups are written one statement
// per label, then relationship groups one statement per type. Relationships
// whose endpoints are missing are skipped and counted in Omitted.
//
// An embedding whose length differs from the configured dimension fails the
// whole call with ErrConfiguration before anything is written. Store failures
// are reported as ErrStoreWrite.
func (g *Graph) Apply(ctx context.Context, batch Batch) (Counts, error) {
	if err := g.checkEmbeddings(batch); err != nil {
		return Counts{}, err
	}

	nodeGroups := foldNodes(batch.Nodes)
	relGroups, err := foldRels(batch.Rels)
	if err != nil {
		return Counts{}, apperrors.Categorize(apperrors.ErrInvalidInput, err)
	}

	var counts Counts
	write := func(ctx context.Context, q Querier) error {
		// A transactional store may call us more than once
		counts = Counts{
			Nodes:       make(map[Label]LabelCounts),
			Rels:        make(map[RelType]int),
			OmittedRels: make(map[RelType]int),
		}
		return g.write(ctx, q, nodeGroups, relGroups, &counts)
	}

	if tx, ok := g.store.(Transactor); ok {
		err = tx.WithinTransaction(ctx, write)
	} else {
		err = write(ctx, g.store)
	}
	if err != nil {
		return Counts{}, apperrors.Categorize(apperrors.ErrStoreWrite, err)
	}

	g.logger.Debug("Applied batch",
		zap.Int("created", counts.Created),
		zap.Int("updated", counts.Updated),
		zap.Int("relationships", counts.Relationships),
		zap.Int("omitted", counts.Omitted))
	return counts, nil
}

func (g *Graph) write(ctx context.Context, q Querier, nodeGroups map[Label][]map[string]any, relGroups map[RelType][]map[string]any, counts *Counts) error {
	d := g.store.Dialect()

	for _, label := range labelOrder {
		rows := nodeGroups[label]
		if len(rows) == 0 {
			continue
		}
		result, err := q.Query(ctx, d.UpsertNodes(label), map[string]any{"rows": rows})
		if err != nil {
			return fmt.Errorf("upsert %s nodes: %w", label, err)
		}
		var lc LabelCounts
		for _, r := range result {
			lc.Created += int(asInt64(r["created"]))
			lc.Updated += int(asInt64(r["updated"]))
		}
		counts.Nodes[label] = lc
		counts.Created += lc.Created
		counts.Updated += lc.Updated
	}

	for _, t := range relOrder {
		rows := relGroups[t]
		if len(rows) == 0 {
			continue
		}
		ends := relSchema[t]
		result, err := q.Query(ctx, d.UpsertRelationships(t, ends), map[string]any{"rows": rows})
		if err != nil {
			return fmt.Errorf("upsert %s relationships: %w", t, err)
		}
		written := 0
		for _, r := range result {
			written += int(asInt64(r["written"]))
		}
		counts.Rels[t] = written
		counts.Relationships += written
		if omitted := len(rows) - written; omitted > 0 {
			counts.OmittedRels[t] = omitted
			counts.Omitted += omitted
		}
	}
	return nil
}

func (g *Graph) checkEmbeddings(batch Batch) error {
	for _, n := range batch.Nodes {
		if n.Embedding == nil {
			continue
		}
		if len(n.Embedding) != g.dimension {
			return fmt.Errorf("%w: %s has a %d-dimensional embedding, store index expects %d",
				apperrors.ErrConfiguration, n.Ref(), len(n.Embedding), g.dimension)
		}
	}
	return nil
}

// foldNodes groups drafts by label and folds duplicate identities: the first
// create-only value wins, the last refreshable value wins.
func foldNodes(nodes []*NodeDraft) map[Label][]map[string]any {
	type folded struct {
		key       any
		create    map[string]any
		refresh   map[string]any
		embedding []float32
	}

	order := make(map[Label][]string)
	byKey := make(map[Label]map[string]*folded)
	for _, n := range nodes {
		if byKey[n.Label] == nil {
			byKey[n.Label] = make(map[string]*folded)
		}
		k := keyString(n.Key)
		f, seen := byKey[n.Label][k]
		if !seen {
			f = &folded{key: n.Key, create: make(map[string]any), refresh: make(map[string]any)}
			byKey[n.Label][k] = f
			order[n.Label] = append(order[n.Label], k)
		}
		for name, v := range n.CreateOnly {
			if _, ok := f.create[name]; !ok {
				f.create[name] = v
			}
		}
		maps.Copy(f.refresh, n.Refresh)
		if n.Embedding != nil {
			f.embedding = n.Embedding
		}
	}

	// Rows go out in key order so concurrent writers lock shared rows in the
	// same sequence.
	groups := make(map[Label][]map[string]any, len(order))
	for label, keys := range order {
		slices.Sort(keys)
		rows := make([]map[string]any, 0, len(keys))
		for _, k := range keys {
			f := byKey[label][k]
			row := map[string]any{
				"key":           f.key,
				"create_props":  f.create,
				"refresh_props": f.refresh,
				"embedding":     nil,
			}
			if f.embedding != nil {
				row["embedding"] = f.embedding
			}
			rows = append(rows, row)
		}
		groups[label] = rows
	}
	return groups
}

func foldRels(rels []RelDraft) (map[RelType][]map[string]any, error) {
	order := make(map[RelType][]string)
	byKey := make(map[RelType]map[string]map[string]any)
	for _, r := range rels {
		ends, ok := relSchema[r.Type]
		if !ok {
			return nil, fmt.Errorf("unknown relationship type %q", r.Type)
		}
		if r.From.Label != ends.From || r.To.Label != ends.To {
			return nil, fmt.Errorf("%s must connect %s to %s, got %s to %s",
				r.Type, ends.From, ends.To, r.From.Label, r.To.Label)
		}
		if byKey[r.Type] == nil {
			byKey[r.Type] = make(map[string]map[string]any)
		}
		k := keyString(r.From.Key) + "->" + keyString(r.To.Key)
		row, seen := byKey[r.Type][k]
		if !seen {
			row = map[string]any{"from_key": r.From.Key, "to_key": r.To.Key, "props": map[string]any{}}
			byKey[r.Type][k] = row
			order[r.Type] = append(order[r.Type], k)
		}
		maps.Copy(row["props"].(map[string]any), r.Props)
	}

	groups := make(map[RelType][]map[string]any, len(order))
	for t, keys := range order {
		slices.Sort(keys)
		rows := make([]map[string]any, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, byKey[t][k])
		}
		groups[t] = rows
	}
	return groups, nil
}
