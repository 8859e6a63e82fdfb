package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// A mapping that rebinds to a new person (fallback-key person first, email
// person after the refresh window) must end up with a single MAPS_TO edge,
// otherwise GetMapping's LIMIT 1 returns a nondeterministic person.
func TestSaveMappingStatementDropsStaleBinding(t *testing.T) {
	assert.True(t, strings.Contains(saveMappingCypher, "DELETE stale"))
	assert.True(t, strings.Contains(saveMappingCypher, "WHERE q <> p"))

	merge := strings.Index(saveMappingCypher, "MERGE (m)-[:MAPS_TO]->(p)")
	cleanup := strings.Index(saveMappingCypher, "OPTIONAL MATCH (m)-[stale:MAPS_TO]->(q:Person)")
	assert.Greater(t, cleanup, merge, "cleanup runs after the new edge is merged")
}
