package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateWithinBudgetUnchanged(t *testing.T) {
	tr := NewTruncatorWith(&wordEncoding{}, 10)
	in := "one two three"
	assert.Equal(t, in, tr.Truncate(in))
}

func TestTruncateKeepsTail(t *testing.T) {
	tr := NewTruncatorWith(&wordEncoding{}, 5)

	words := make([]string, 20)
	for i := range words {
		words[i] = string(rune('a' + i))
	}
	out := tr.Truncate(strings.Join(words, " "))

	assert.True(t, strings.HasPrefix(out, "[truncated]"), "output: %q", out)
	// The last word of the input must survive.
	assert.True(t, strings.HasSuffix(out, "t"), "output: %q", out)
	assert.LessOrEqual(t, len(strings.Fields(out)), 5)
}

func TestTruncateIdempotent(t *testing.T) {
	tr := NewTruncatorWith(&wordEncoding{}, 6)

	words := make([]string, 50)
	for i := range words {
		words[i] = string(rune('a' + i%26))
	}
	once := tr.Truncate(strings.Join(words, " "))
	twice := tr.Truncate(once)

	require.NotEmpty(t, once)
	assert.Equal(t, once, twice)
}

func TestTruncateDefaultBudget(t *testing.T) {
	tr := NewTruncatorWith(&wordEncoding{}, 0)
	assert.Equal(t, DefaultTokenBudget, tr.Budget())
}
