package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"b": 2, "a": 1, "c": 3}
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(m))
	assert.Empty(t, SortedKeys(map[string]int{}))
}

func TestHashContent(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashContent(nil))
	assert.Len(t, HashContent([]byte("A")), 64)
}
