package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestKeySegment(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"feature/ABC-123-login", "feature_ABC_123_login"},
		{"acme/api", "acme_api"},
		{"release-2.1", "release_2.1"},
		{"main", "main"},
		{"Core Platform", "Core_Platform"},
		{"weird name!", "weird_name"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, KeySegment(tt.in), tt.in)
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "john smith", NormalizeName("John  Smith Jr."))
	assert.Equal(t, "jane doe", NormalizeName("Jane   Doe, PhD"))
}

func TestApplyChain(t *testing.T) {
	assert.Equal(t, "abc_def", ApplyChain("  ABC/def ", "trim", "lowercase", "nkey"))
}
