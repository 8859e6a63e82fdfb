package merging

import (
	"sort"

	"github.com/Ramsey-B/trellis/pkg/models"
)

// EntityMerge is one staged node write. Immutable fields are written only
// when the node is created; mutable fields overwrite on every merge.
type EntityMerge struct {
	Kind       models.EntityKind
	ID         string
	Immutable  map[string]any
	Mutable    map[string]any
	Completion models.CompletionState
}

// EdgeMerge is one staged directed edge write, identified by
// (kind, from_id, to_id).
type EdgeMerge struct {
	Kind     string
	FromID   string
	FromKind models.EntityKind
	ToID     string
	ToKind   models.EntityKind
	Props    map[string]any
}

// Batch accumulates staged writes for one atomic commit. Staging the same
// entity twice folds the writes together: immutable fields keep the first
// value seen, mutable fields take the last, and completion only advances.
type Batch struct {
	entities map[string]*EntityMerge
	edges    map[string]*EdgeMerge
	order    []string
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{
		entities: make(map[string]*EntityMerge),
		edges:    make(map[string]*EdgeMerge),
	}
}

func (b *Batch) addEntity(m EntityMerge) {
	existing, ok := b.entities[m.ID]
	if !ok {
		clone := m
		clone.Immutable = cloneMap(m.Immutable)
		clone.Mutable = cloneMap(m.Mutable)
		b.entities[m.ID] = &clone
		b.order = append(b.order, m.ID)
		return
	}

	for k, v := range m.Immutable {
		if _, seen := existing.Immutable[k]; !seen {
			if existing.Immutable == nil {
				existing.Immutable = make(map[string]any)
			}
			existing.Immutable[k] = v
		}
	}
	for k, v := range m.Mutable {
		if existing.Mutable == nil {
			existing.Mutable = make(map[string]any)
		}
		existing.Mutable[k] = v
	}
	existing.Completion = existing.Completion.Max(m.Completion)
}

func (b *Batch) addEdge(e EdgeMerge) {
	key := e.Kind + "|" + e.FromID + "|" + e.ToID
	existing, ok := b.edges[key]
	if !ok {
		clone := e
		clone.Props = cloneMap(e.Props)
		b.edges[key] = &clone
		return
	}
	for k, v := range e.Props {
		if existing.Props == nil {
			existing.Props = make(map[string]any)
		}
		existing.Props[k] = v
	}
}

// HasEntity reports whether the batch stages a node with the given id.
func (b *Batch) HasEntity(id string) bool {
	_, ok := b.entities[id]
	return ok
}

// Entities returns the staged nodes in staging order.
func (b *Batch) Entities() []*EntityMerge {
	out := make([]*EntityMerge, 0, len(b.entities))
	for _, id := range b.order {
		out = append(out, b.entities[id])
	}
	return out
}

// Edges returns the staged edges in a deterministic order.
func (b *Batch) Edges() []*EdgeMerge {
	keys := make([]string, 0, len(b.edges))
	for k := range b.edges {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*EdgeMerge, 0, len(keys))
	for _, k := range keys {
		out = append(out, b.edges[k])
	}
	return out
}

// Len returns the number of staged nodes and edges.
func (b *Batch) Len() int {
	return len(b.entities) + len(b.edges)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
