// internal/diff/diff.go
package diff

import (
	"bytes"
	"fmt"
)

// Line represents a single line in a diff with its type and content
type Line struct {
	Type    LineType `json:"type"`
	Content string   `json:"content"`
	OldNum  int      `json:"old_num,omitempty"`
	NewNum  int      `json:"new_num,omitempty"`
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// DiffResult contains the complete diff information
type DiffResult struct {
	Hunks []Hunk `json:"hunks"`
	Stats Stats  `json:"stats"`
}

type Stats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Changes   int `json:"changes"`
}

// Hunk represents a continuous section of changes. Starts are 1-based;
// a start of 0 means the side is empty.
type Hunk struct {
	OldStart int    `json:"old_start"`
	OldLines int    `json:"old_lines"`
	NewStart int    `json:"new_start"`
	NewLines int    `json:"new_lines"`
	Lines    []Line `json:"lines"`
}

// DefaultMaxCells bounds the LCS table built for one diff. When the lines
// that differ between the two inputs need a larger table, that region is
// reported as deleted and re-added as a whole.
const DefaultMaxCells = 1 << 22

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
	maxCells     int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	return &Engine{
		contextLines: contextLines,
		maxCells:     DefaultMaxCells,
	}
}

func splitLines(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	return bytes.Split(bytes.TrimSuffix(content, []byte{'\n'}), []byte{'\n'})
}

// Diff generates a line-by-line diff between two contents
func (e *Engine) Diff(oldContent, newContent []byte) *DiffResult {
	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	script := e.editScript(oldLines, newLines)

	result := &DiffResult{Hunks: e.hunks(script)}
	for _, line := range script {
		switch line.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions
	return result
}

// editScript returns every line of both inputs tagged as context,
// deletion or addition, in output order. Common leading and trailing lines
// are matched directly; only the region between them goes through LCS.
func (e *Engine) editScript(oldLines, newLines [][]byte) []Line {
	n, m := len(oldLines), len(newLines)
	script := make([]Line, 0, n+m)

	prefix := 0
	for prefix < n && prefix < m && bytes.Equal(oldLines[prefix], newLines[prefix]) {
		prefix++
	}
	suffix := 0
	for suffix < n-prefix && suffix < m-prefix && bytes.Equal(oldLines[n-1-suffix], newLines[m-1-suffix]) {
		suffix++
	}

	for k := 0; k < prefix; k++ {
		script = append(script, Line{Type: Context, Content: string(oldLines[k]), OldNum: k + 1, NewNum: k + 1})
	}
	script = e.middle(script, oldLines[prefix:n-suffix], newLines[prefix:m-suffix], prefix)
	for k := suffix; k > 0; k-- {
		script = append(script, Line{Type: Context, Content: string(oldLines[n-k]), OldNum: n - k + 1, NewNum: m - k + 1})
	}
	return script
}

// middle appends the edit script of oldLines against newLines, whose first
// lines are at offset in both inputs.
func (e *Engine) middle(script []Line, oldLines, newLines [][]byte, offset int) []Line {
	n, m := len(oldLines), len(newLines)

	if (n+1)*(m+1) > e.maxCells {
		for i, line := range oldLines {
			script = append(script, Line{Type: Deletion, Content: string(line), OldNum: offset + i + 1})
		}
		for j, line := range newLines {
			script = append(script, Line{Type: Addition, Content: string(line), NewNum: offset + j + 1})
		}
		return script
	}

	// lcs[i][j] is the LCS length of oldLines[i:] and newLines[j:]
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if bytes.Equal(oldLines[i], newLines[j]) {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	i, j := 0, 0
	for i < n || j < m {
		switch {
		case i < n && j < m && bytes.Equal(oldLines[i], newLines[j]):
			script = append(script, Line{Type: Context, Content: string(oldLines[i]), OldNum: offset + i + 1, NewNum: offset + j + 1})
			i++
			j++
		case j < m && (i == n || lcs[i][j+1] > lcs[i+1][j]):
			script = append(script, Line{Type: Addition, Content: string(newLines[j]), NewNum: offset + j + 1})
			j++
		default:
			script = append(script, Line{Type: Deletion, Content: string(oldLines[i]), OldNum: offset + i + 1})
			i++
		}
	}
	return script
}

// hunks groups changed lines with up to contextLines of surrounding
// context, merging groups whose context would overlap.
func (e *Engine) hunks(script []Line) []Hunk {
	var result []Hunk
	start := -1 // first script index of the open hunk
	end := -1   // last changed script index of the open hunk

	flush := func() {
		if start < 0 {
			return
		}
		stop := min(len(script), end+1+e.contextLines)
		result = append(result, makeHunk(script[start:stop]))
		start, end = -1, -1
	}

	for idx, line := range script {
		if line.Type == Context {
			continue
		}
		if start >= 0 && idx-end > 2*e.contextLines+1 {
			flush()
		}
		if start < 0 {
			start = max(0, idx-e.contextLines)
		}
		end = idx
	}
	flush()
	return result
}

func makeHunk(lines []Line) Hunk {
	h := Hunk{Lines: lines}
	for _, line := range lines {
		if line.OldNum > 0 {
			if h.OldStart == 0 {
				h.OldStart = line.OldNum
			}
		}
		if line.NewNum > 0 {
			if h.NewStart == 0 {
				h.NewStart = line.NewNum
			}
		}
		switch line.Type {
		case Context:
			h.OldLines++
			h.NewLines++
		case Deletion:
			h.OldLines++
		case Addition:
			h.NewLines++
		}
	}
	return h
}

// Format returns a string representation of the diff
func (r *DiffResult) Format() string {
	var buf bytes.Buffer

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteString("+")
			case Deletion:
				buf.WriteString("-")
			case Context:
				buf.WriteString(" ")
			}
			buf.WriteString(line.Content)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}
