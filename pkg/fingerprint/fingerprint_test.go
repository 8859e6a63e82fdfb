package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateIsDeterministic(t *testing.T) {
	a := Generate(map[string]any{"sha": "abc", "state": "open", "nested": map[string]any{"x": 1, "y": 2}})
	b := Generate(map[string]any{"nested": map[string]any{"y": 2, "x": 1}, "state": "open", "sha": "abc"})
	assert.Equal(t, a, b, "key order must not affect the fingerprint")
}

func TestGenerateDetectsChanges(t *testing.T) {
	a := Generate(map[string]any{"sha": "abc", "deleted": false})
	b := Generate(map[string]any{"sha": "def", "deleted": false})
	assert.True(t, HasChanged(a, b))

	c := Generate(map[string]any{"sha": "abc", "deleted": false})
	assert.False(t, HasChanged(a, c))
}

func TestGenerateWithExclusions(t *testing.T) {
	base := map[string]any{"sha": "abc", "fetched_at": "2026-08-01T00:00:00Z"}
	next := map[string]any{"sha": "abc", "fetched_at": "2026-08-02T00:00:00Z"}

	exclude := map[string]bool{"fetched_at": true}
	assert.Equal(t,
		GenerateWithExclusions(base, exclude),
		GenerateWithExclusions(next, exclude),
		"excluded fields must not affect the fingerprint")

	assert.NotEqual(t, Generate(base), Generate(next))
}

func TestGenerateExcludesNestedPaths(t *testing.T) {
	a := map[string]any{"meta": map[string]any{"etag": "1", "name": "x"}}
	b := map[string]any{"meta": map[string]any{"etag": "2", "name": "x"}}

	exclude := map[string]bool{"meta.etag": true}
	assert.Equal(t, GenerateWithExclusions(a, exclude), GenerateWithExclusions(b, exclude))
}
