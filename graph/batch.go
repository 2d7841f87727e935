package graph

import "fmt"

// NodeRef identifies a node by label and identity value.
type NodeRef struct {
	Label Label
	Key   any
}

func (r NodeRef) String() string {
	return fmt.Sprintf("%s(%v)", r.Label, r.Key)
}

// DocumentSlot asks the pipeline to download Link, extract its text and store
// it in the node's Attr attribute. An empty Link means the upstream catalog
// has no binary attached.
type DocumentSlot struct {
	Link string
	Attr string
}

// NodeDraft is a node to merge by identity key.
//
// CreateOnly attributes are written only when the node is created.
// Refresh attributes are overwritten on every apply.
type NodeDraft struct {
	Label      Label
	Key        any
	CreateOnly map[string]any
	Refresh    map[string]any
	Embedding  []float32

	// Enrichment slots, consumed before Apply.
	EmbedText string
	Document  *DocumentSlot
}

// Ref returns the draft's identity.
func (n *NodeDraft) Ref() NodeRef {
	return NodeRef{Label: n.Label, Key: n.Key}
}

// SetRefresh sets a refreshable attribute.
func (n *NodeDraft) SetRefresh(name string, value any) {
	if n.Refresh == nil {
		n.Refresh = make(map[string]any)
	}
	n.Refresh[name] = value
}

// RelDraft is a relationship to merge between two existing nodes.
type RelDraft struct {
	Type  RelType
	From  NodeRef
	To    NodeRef
	Props map[string]any
}

// Batch is one unit's expansion: nodes first, then the relationships that
// reference them.
type Batch struct {
	Nodes []*NodeDraft
	Rels  []RelDraft
}

// AddNode appends a node draft and returns it for further enrichment.
func (b *Batch) AddNode(n *NodeDraft) *NodeDraft {
	b.Nodes = append(b.Nodes, n)
	return n
}

// Relate appends a relationship draft.
func (b *Batch) Relate(t RelType, from, to NodeRef, props map[string]any) {
	b.Rels = append(b.Rels, RelDraft{Type: t, From: from, To: to, Props: props})
}

// Merge appends the drafts of other.
func (b *Batch) Merge(other Batch) {
	b.Nodes = append(b.Nodes, other.Nodes...)
	b.Rels = append(b.Rels, other.Rels...)
}

// Empty reports whether the batch has nothing to write.
func (b *Batch) Empty() bool {
	return len(b.Nodes) == 0 && len(b.Rels) == 0
}

// keyString is the folding key for an identity value.
func keyString(v any) string {
	return fmt.Sprintf("%T:%v", v, v)
}
