// internal/diff/diff.go
package diff

import (
	"bytes"
	"fmt"
)

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// Line is a single line of a diff. Line numbers are 1-based; zero means the
// line does not exist on that side.
type Line struct {
	Type    LineType
	Content string
	OldNum  int
	NewNum  int
}

// Hunk is a run of changes plus surrounding context.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Result is the line diff between two versions of a file.
type Result struct {
	Hunks []Hunk
	Stats struct {
		Additions int
		Deletions int
	}
}

// Empty reports whether both versions are identical.
func (r *Result) Empty() bool {
	return len(r.Hunks) == 0
}

// Engine computes line diffs.
type Engine struct {
	contextLines int
}

// NewEngine creates a diff engine keeping contextLines unchanged lines
// around each change.
func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{contextLines: contextLines}
}

func splitLines(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	return bytes.Split(bytes.TrimSuffix(content, []byte{'\n'}), []byte{'\n'})
}

// Diff compares oldContent with newContent line by line.
func (e *Engine) Diff(oldContent, newContent []byte) *Result {
	ops := editScript(splitLines(oldContent), splitLines(newContent))

	result := &Result{Hunks: e.group(ops)}
	for _, op := range ops {
		switch op.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	return result
}

// editScript walks a longest-common-subsequence table to produce every line
// of both inputs in order, tagged as context, deletion or addition.
func editScript(oldLines, newLines [][]byte) []Line {
	n, m := len(oldLines), len(newLines)

	// lcs[i][j] is the LCS length of oldLines[i:] and newLines[j:].
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

	ops := make([]Line, 0, n+m)
	i, j := 0, 0
	for i < n || j < m {
		switch {
		case i < n && j < m && bytes.Equal(oldLines[i], newLines[j]):
			ops = append(ops, Line{Type: Context, Content: string(oldLines[i]), OldNum: i + 1, NewNum: j + 1})
			i++
			j++
		case j == m || (i < n && lcs[i+1][j] >= lcs[i][j+1]):
			ops = append(ops, Line{Type: Deletion, Content: string(oldLines[i]), OldNum: i + 1})
			i++
		default:
			ops = append(ops, Line{Type: Addition, Content: string(newLines[j]), NewNum: j + 1})
			j++
		}
	}
	return ops
}

// group cuts the edit script into hunks. Changes closer than twice the
// context size share a hunk.
func (e *Engine) group(ops []Line) []Hunk {
	var hunks []Hunk

	k := 0
	for k < len(ops) {
		for k < len(ops) && ops[k].Type == Context {
			k++
		}
		if k == len(ops) {
			break
		}

		start := max(0, k-e.contextLines)
		lastChange := k
		end := k + 1
		for end < len(ops) {
			if ops[end].Type != Context {
				lastChange = end
			} else if end-lastChange > 2*e.contextLines {
				break
			}
			end++
		}
		end = min(len(ops), lastChange+e.contextLines+1)

		hunks = append(hunks, makeHunk(ops, start, end))
		k = end
	}
	return hunks
}

func makeHunk(ops []Line, start, end int) Hunk {
	h := Hunk{Lines: append([]Line(nil), ops[start:end]...)}

	// Lines consumed on each side before the hunk.
	oldBefore, newBefore := 0, 0
	for _, op := range ops[:start] {
		if op.Type != Addition {
			oldBefore++
		}
		if op.Type != Deletion {
			newBefore++
		}
	}

	for _, op := range h.Lines {
		if op.Type != Addition {
			h.OldLines++
		}
		if op.Type != Deletion {
			h.NewLines++
		}
	}

	h.OldStart = oldBefore + 1
	if h.OldLines == 0 {
		h.OldStart = oldBefore
	}
	h.NewStart = newBefore + 1
	if h.NewLines == 0 {
		h.NewStart = newBefore
	}
	return h
}

// Format renders the result in unified diff hunk notation.
func (r *Result) Format() string {
	var buf bytes.Buffer

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteByte('+')
			case Deletion:
				buf.WriteByte('-')
			case Context:
				buf.WriteByte(' ')
			}
			buf.WriteString(line.Content)
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}
