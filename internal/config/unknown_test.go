package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshtein(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"interval", "interval", 0},
		{"intreval", "interval", 2},
		{"kitten", "sitting", 3},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, levenshtein(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestClosestMatch(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "log_level", closestMatch("loglevel", knownKeys["logging"]))
	assert.Equal(t, "sync", closestMatch("synk", knownSections))
	assert.Empty(t, closestMatch("completely_unrelated", knownKeys["sync"]))
}

func TestKnownSections(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"database", "logging", "network", "sheets", "sync"}, knownSections)
}
