// Package relationships defines the static shape table for graph relationship
// kinds. The table is loaded once at startup and never changes at runtime.
package relationships

import (
	"fmt"
	"sort"

	"github.com/Ramsey-B/trellis/pkg/models"
)

// Shape describes how a relationship kind expands into directed edges.
type Shape int

const (
	// OneDirectional stores a single edge from -> to.
	OneDirectional Shape = iota
	// Symmetric stores the same kind in both directions.
	Symmetric
	// Paired stores the forward kind from -> to and the reverse kind to -> from.
	Paired
)

// Definition is one row of the shape table.
type Definition struct {
	Kind    string
	Shape   Shape
	Reverse string // set only for Paired
}

// DirectedEdge is a concrete edge produced by expanding an intent.
type DirectedEdge struct {
	Kind   string
	FromID string
	ToID   string
}

// Table resolves relationship kinds to their definitions.
type Table struct {
	defs map[string]Definition
}

// NewTable builds the default shape table for the org graph.
func NewTable() *Table {
	t := &Table{defs: make(map[string]Definition)}

	for _, kind := range []string{
		"AUTHORED_BY",
		"COMMITTED_BY",
		"BRANCH_OF",
		"TARGETS",
		"FROM",
		"CREATED_BY",
		"MERGED_BY",
		"REVIEWED_BY",
		"REQUESTED_REVIEWER",
		"INCLUDES",
		"MODIFIES",
		"REFERENCES",
		"MAPS_TO",
		"COLLABORATOR",
		"MEMBER_OF",
		"LEADS",
		"ASSIGNED_TO",
		"REPORTED_BY",
		"IN_SPRINT",
	} {
		t.defs[kind] = Definition{Kind: kind, Shape: OneDirectional}
	}

	for _, kind := range []string{
		"RELATES_TO",
		"COLLABORATES_WITH",
	} {
		t.defs[kind] = Definition{Kind: kind, Shape: Symmetric}
	}

	t.addPair("CONTAINS", "PART_OF")
	t.addPair("BLOCKS", "BLOCKED_BY")
	t.addPair("DEPENDS_ON", "DEPENDED_ON_BY")
	t.addPair("MANAGES", "REPORTS_TO")

	return t
}

func (t *Table) addPair(forward, reverse string) {
	t.defs[forward] = Definition{Kind: forward, Shape: Paired, Reverse: reverse}
	t.defs[reverse] = Definition{Kind: reverse, Shape: Paired, Reverse: forward}
}

// Resolve returns the definition for a kind.
func (t *Table) Resolve(kind string) (Definition, error) {
	def, ok := t.defs[kind]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", models.ErrUnknownRelationshipKind, kind)
	}
	return def, nil
}

// Expand converts a relationship intent into the directed edges that
// represent it in the graph.
func (t *Table) Expand(kind, fromID, toID string) ([]DirectedEdge, error) {
	def, err := t.Resolve(kind)
	if err != nil {
		return nil, err
	}

	switch def.Shape {
	case Symmetric:
		return []DirectedEdge{
			{Kind: def.Kind, FromID: fromID, ToID: toID},
			{Kind: def.Kind, FromID: toID, ToID: fromID},
		}, nil
	case Paired:
		return []DirectedEdge{
			{Kind: def.Kind, FromID: fromID, ToID: toID},
			{Kind: def.Reverse, FromID: toID, ToID: fromID},
		}, nil
	default:
		return []DirectedEdge{
			{Kind: def.Kind, FromID: fromID, ToID: toID},
		}, nil
	}
}

// Kinds returns all known relationship kinds in sorted order.
func (t *Table) Kinds() []string {
	kinds := make([]string, 0, len(t.defs))
	for k := range t.defs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
