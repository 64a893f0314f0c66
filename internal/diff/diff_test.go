package diff

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(n int, mutate map[int]string) []byte {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if s, ok := mutate[i]; ok {
			b.WriteString(s)
		} else {
			b.WriteString("line")
			b.WriteString(string(rune('a' + i%26)))
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func TestDiff_Identical(t *testing.T) {
	e := NewEngine(3)
	r := e.Diff([]byte("a\nb\n"), []byte("a\nb\n"))
	assert.Empty(t, r.Hunks)
	assert.Equal(t, 0, r.Stats.Changes)
	assert.Equal(t, "", r.Format())
}

func TestDiff_SingleChange(t *testing.T) {
	e := NewEngine(1)
	r := e.Diff([]byte("a\nb\nc\nd\n"), []byte("a\nB\nc\nd\n"))

	require.Len(t, r.Hunks, 1)
	h := r.Hunks[0]
	assert.Equal(t, 1, h.OldStart)
	assert.Equal(t, 3, h.OldLines)
	assert.Equal(t, 1, h.NewStart)
	assert.Equal(t, 3, h.NewLines)
	assert.Equal(t, 1, r.Stats.Additions)
	assert.Equal(t, 1, r.Stats.Deletions)
	assert.Equal(t, "@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n", r.Format())
}

func TestDiff_FromEmpty(t *testing.T) {
	e := NewEngine(3)
	r := e.Diff(nil, []byte("x\ny\n"))

	require.Len(t, r.Hunks, 1)
	assert.Equal(t, 0, r.Hunks[0].OldStart)
	assert.Equal(t, 0, r.Hunks[0].OldLines)
	assert.Equal(t, 1, r.Hunks[0].NewStart)
	assert.Equal(t, 2, r.Hunks[0].NewLines)
	assert.Equal(t, 2, r.Stats.Additions)

	r = e.Diff([]byte("x\n"), nil)
	assert.Equal(t, 1, r.Stats.Deletions)
}

func TestDiff_SeparateHunks(t *testing.T) {
	e := NewEngine(2)
	r := e.Diff(lines(30, nil), lines(30, map[int]string{3: "changed", 25: "changed too"}))

	require.Len(t, r.Hunks, 2)
	assert.Equal(t, 1, r.Hunks[0].OldStart)
	assert.Equal(t, 23, r.Hunks[1].OldStart)
	assert.Equal(t, 5, r.Hunks[1].OldLines)
}

func TestDiff_CloseChangesMerge(t *testing.T) {
	e := NewEngine(2)
	r := e.Diff(lines(30, nil), lines(30, map[int]string{10: "x", 14: "y"}))
	require.Len(t, r.Hunks, 1)
	assert.Equal(t, 8, r.Hunks[0].OldStart)
	assert.Equal(t, 9, r.Hunks[0].OldLines)
}

func TestDiff_ReplacesRegionOverCellLimit(t *testing.T) {
	before := []byte("a\nb\nc\nd\n")
	after := []byte("a\nX\nc\nY\nd\n")

	e := NewEngine(1)
	assert.Equal(t, "@@ -1,4 +1,5 @@\n a\n-b\n+X\n c\n+Y\n d\n", e.Diff(before, after).Format())

	e.maxCells = 4
	r := e.Diff(before, after)
	assert.Equal(t, "@@ -1,4 +1,5 @@\n a\n-b\n-c\n+X\n+c\n+Y\n d\n", r.Format())
	assert.Equal(t, 2, r.Stats.Deletions)
	assert.Equal(t, 3, r.Stats.Additions)
}

func TestDiff_LargeInputsStayBounded(t *testing.T) {
	const n = 20000
	var before, after strings.Builder
	before.WriteString("header\n")
	after.WriteString("header\n")
	for i := 0; i < n-2; i++ {
		fmt.Fprintf(&before, "old %d\n", i)
		fmt.Fprintf(&after, "new %d\n", i)
	}
	before.WriteString("footer\n")
	after.WriteString("footer\n")

	r := NewEngine(3).Diff([]byte(before.String()), []byte(after.String()))

	require.Len(t, r.Hunks, 1)
	h := r.Hunks[0]
	assert.Equal(t, 1, h.OldStart)
	assert.Equal(t, n, h.OldLines)
	assert.Equal(t, n, h.NewLines)
	assert.Equal(t, n-2, r.Stats.Deletions)
	assert.Equal(t, n-2, r.Stats.Additions)
	assert.Equal(t, " header", strings.SplitN(r.Format(), "\n", 3)[1])
}

func TestDiff_TrimsCommonEnds(t *testing.T) {
	e := NewEngine(0)
	e.maxCells = 4

	// Only the single changed line reaches the LCS table.
	r := e.Diff(lines(500, nil), lines(500, map[int]string{250: "changed"}))
	require.Len(t, r.Hunks, 1)
	assert.Equal(t, 250, r.Hunks[0].OldStart)
	assert.Equal(t, 1, r.Hunks[0].OldLines)
	assert.Equal(t, 1, r.Stats.Deletions)
	assert.Equal(t, 1, r.Stats.Additions)
}
