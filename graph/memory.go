package graph

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MemoryStore is an in-process graph. It speaks its own small statement
// language (see MemoryDialect) and is used for dry runs and tests.
type MemoryStore struct {
	mu            sync.Mutex
	nodes         map[Label]map[string]*memNode
	rels          map[RelType]map[string]*memRel
	constraints   map[string]bool
	vectorIndexes map[string]int

	// FailOn, when set, is consulted before every statement; a non-nil
	// result fails the statement.
	FailOn func(query string) error
}

type memNode struct {
	key       any
	props     map[string]any
	embedding []float32
}

type memRel struct {
	from, to string
	props    map[string]any
}

var (
	_ Store      = (*MemoryStore)(nil)
	_ Transactor = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:         make(map[Label]map[string]*memNode),
		rels:          make(map[RelType]map[string]*memRel),
		constraints:   make(map[string]bool),
		vectorIndexes: make(map[string]int),
	}
}

func (m *MemoryStore) Dialect() Dialect { return MemoryDialect{} }

func (m *MemoryStore) Close(context.Context) error { return nil }

// Query executes one statement rendered by MemoryDialect.
func (m *MemoryStore) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exec(ctx, query, params)
}

// WithinTransaction runs fn with exclusive access. If fn fails every change
// it made is rolled back.
func (m *MemoryStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.clone()
	if err := fn(ctx, memTx{m}); err != nil {
		m.nodes, m.rels = snapshot.nodes, snapshot.rels
		return err
	}
	return nil
}

type memTx struct{ m *MemoryStore }

func (t memTx) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	return t.m.exec(ctx, query, params)
}

func (m *MemoryStore) clone() *MemoryStore {
	c := NewMemoryStore()
	for label, nodes := range m.nodes {
		c.nodes[label] = make(map[string]*memNode, len(nodes))
		for k, n := range nodes {
			c.nodes[label][k] = &memNode{key: n.key, props: maps.Clone(n.props), embedding: n.embedding}
		}
	}
	for t, rels := range m.rels {
		c.rels[t] = make(map[string]*memRel, len(rels))
		for k, r := range rels {
			c.rels[t][k] = &memRel{from: r.from, to: r.to, props: maps.Clone(r.props)}
		}
	}
	return c
}

func (m *MemoryStore) exec(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FailOn != nil {
		if err := m.FailOn(query); err != nil {
			return nil, err
		}
	}

	f := strings.Fields(query)
	switch {
	case len(f) == 3 && f[0] == "CONSTRAINT":
		m.constraints[f[1]+"."+f[2]] = true
		return nil, nil

	case len(f) == 5 && f[0] == "VECTOR_INDEX":
		dim, err := strconv.Atoi(f[4])
		if err != nil {
			return nil, fmt.Errorf("memory store: bad dimension in %q", query)
		}
		if _, ok := m.vectorIndexes[f[1]]; !ok {
			m.vectorIndexes[f[1]] = dim
		}
		return nil, nil

	case len(f) == 1 && f[0] == "VECTOR_INDEX_DIMENSIONS":
		names, _ := params["names"].([]string)
		var out []map[string]any
		for _, name := range names {
			if dim, ok := m.vectorIndexes[name]; ok {
				out = append(out, map[string]any{"name": name, "dimension": int64(dim)})
			}
		}
		return out, nil

	case len(f) == 2 && f[0] == "UPSERT_NODES":
		return m.upsertNodes(Label(f[1]), params)

	case len(f) == 4 && f[0] == "UPSERT_RELS":
		return m.upsertRels(RelType(f[1]), Label(f[2]), Label(f[3]), params)

	case len(f) == 1 && f[0] == "NODE_COUNTS":
		var out []map[string]any
		for label, nodes := range m.nodes {
			out = append(out, map[string]any{"label": string(label), "count": int64(len(nodes))})
		}
		return out, nil

	case len(f) == 1 && f[0] == "REL_COUNTS":
		var out []map[string]any
		for t, rels := range m.rels {
			out = append(out, map[string]any{"type": string(t), "count": int64(len(rels))})
		}
		return out, nil

	case len(f) == 1 && f[0] == "EMBEDDING_MISMATCHES":
		dim := int(asInt64(params["dimension"]))
		var n int64
		for _, nodes := range m.nodes {
			for _, node := range nodes {
				if node.embedding != nil && len(node.embedding) != dim {
					n++
				}
			}
		}
		return []map[string]any{{"count": n}}, nil

	case len(f) == 2 && f[0] == "NEAREST":
		return m.nearest(Label(f[1]), params)
	}
	return nil, fmt.Errorf("memory store: unsupported statement %q", query)
}

func (m *MemoryStore) upsertNodes(label Label, params map[string]any) ([]map[string]any, error) {
	rows, ok := params["rows"].([]map[string]any)
	if !ok {
		return nil, fmt.Errorf("memory store: rows parameter has type %T", params["rows"])
	}
	if m.nodes[label] == nil {
		m.nodes[label] = make(map[string]*memNode)
	}

	var created, updated int64
	for _, row := range rows {
		k := fmt.Sprint(row["key"])
		n, exists := m.nodes[label][k]
		if !exists {
			n = &memNode{key: row["key"], props: map[string]any{label.KeyProperty(): row["key"]}}
			if cp, ok := row["create_props"].(map[string]any); ok {
				maps.Copy(n.props, cp)
			}
			m.nodes[label][k] = n
			created++
		} else {
			updated++
		}
		if rp, ok := row["refresh_props"].(map[string]any); ok {
			maps.Copy(n.props, rp)
		}
		if emb, ok := row["embedding"].([]float32); ok && emb != nil {
			n.embedding = slices.Clone(emb)
		}
	}
	return []map[string]any{{"created": created, "updated": updated}}, nil
}

func (m *MemoryStore) upsertRels(t RelType, from, to Label, params map[string]any) ([]map[string]any, error) {
	rows, ok := params["rows"].([]map[string]any)
	if !ok {
		return nil, fmt.Errorf("memory store: rows parameter has type %T", params["rows"])
	}
	if m.rels[t] == nil {
		m.rels[t] = make(map[string]*memRel)
	}

	var written int64
	for _, row := range rows {
		fk, tk := fmt.Sprint(row["from_key"]), fmt.Sprint(row["to_key"])
		if _, ok := m.nodes[from][fk]; !ok {
			continue
		}
		if _, ok := m.nodes[to][tk]; !ok {
			continue
		}
		id := fk + "->" + tk
		r, exists := m.rels[t][id]
		if !exists {
			r = &memRel{from: fk, to: tk, props: make(map[string]any)}
			m.rels[t][id] = r
		}
		if p, ok := row["props"].(map[string]any); ok {
			maps.Copy(r.props, p)
		}
		written++
	}
	return []map[string]any{{"written": written}}, nil
}

func (m *MemoryStore) nearest(label Label, params map[string]any) ([]map[string]any, error) {
	vector, _ := params["vector"].([]float32)
	k := int(asInt64(params["k"]))

	type hit struct {
		key   any
		score float64
	}
	var hits []hit
	for _, n := range m.nodes[label] {
		if n.embedding == nil || len(n.embedding) != len(vector) {
			continue
		}
		hits = append(hits, hit{key: n.key, score: cosine(vector, n.embedding)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		out = append(out, map[string]any{"key": h.key, "score": h.score})
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Node returns a copy of the node's properties.
func (m *MemoryStore) Node(label Label, key any) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[label][fmt.Sprint(key)]
	if !ok {
		return nil, false
	}
	return maps.Clone(n.props), true
}

// Embedding returns the node's stored vector, if any.
func (m *MemoryStore) Embedding(label Label, key any) []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[label][fmt.Sprint(key)]; ok {
		return slices.Clone(n.embedding)
	}
	return nil
}

// NodeCount returns the number of nodes with the label.
func (m *MemoryStore) NodeCount(label Label) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes[label])
}

// RelCount returns the number of relationships of the type.
func (m *MemoryStore) RelCount(t RelType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rels[t])
}

// Rel returns a copy of a relationship's properties.
func (m *MemoryStore) Rel(t RelType, fromKey, toKey any) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rels[t][fmt.Sprint(fromKey)+"->"+fmt.Sprint(toKey)]
	if !ok {
		return nil, false
	}
	return maps.Clone(r.props), true
}

// DanglingRels counts relationships whose endpoints are missing. It is
// always zero for a store written through Graph.Apply.
func (m *MemoryStore) DanglingRels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for t, rels := range m.rels {
		ends := relSchema[t]
		for _, r := range rels {
			_, okFrom := m.nodes[ends.From][r.from]
			_, okTo := m.nodes[ends.To][r.to]
			if !okFrom || !okTo {
				n++
			}
		}
	}
	return n
}

// HasConstraint reports whether a uniqueness constraint was declared.
func (m *MemoryStore) HasConstraint(label Label, property string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.constraints[string(label)+"."+property]
}

// MemoryDialect renders the statement language MemoryStore understands.
type MemoryDialect struct{}

func (MemoryDialect) Name() string           { return "memory" }
func (MemoryDialect) Bootstrap(int) []string { return nil }

func (MemoryDialect) UniqueConstraint(label Label, property string) string {
	return fmt.Sprintf("CONSTRAINT %s %s", label, property)
}

func (MemoryDialect) VectorIndex(spec VectorIndexSpec, dimension int) string {
	return fmt.Sprintf("VECTOR_INDEX %s %s %s %d", spec.Name, spec.Label, spec.Property, dimension)
}

func (MemoryDialect) VectorIndexDimensions() string { return "VECTOR_INDEX_DIMENSIONS" }

func (MemoryDialect) UpsertNodes(label Label) string { return "UPSERT_NODES " + string(label) }

func (MemoryDialect) UpsertRelationships(t RelType, ends Endpoints) string {
	return fmt.Sprintf("UPSERT_RELS %s %s %s", t, ends.From, ends.To)
}

func (MemoryDialect) NodeCounts() string          { return "NODE_COUNTS" }
func (MemoryDialect) RelationshipCounts() string  { return "REL_COUNTS" }
func (MemoryDialect) EmbeddingMismatches() string { return "EMBEDDING_MISMATCHES" }

func (MemoryDialect) NearestNeighbours(spec VectorIndexSpec) string {
	return "NEAREST " + string(spec.Label)
}
