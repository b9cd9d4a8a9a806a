package store

import (
	"strings"

	"github.com/go-git/go-git/v5/utils/diff"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Origin tags a diff line the way unified patches do.
type Origin byte

const (
	Context  Origin = ' '
	Addition Origin = '+'
	Deletion Origin = '-'
)

// Line is a single line of a hunk, including its trailing newline if any.
type Line struct {
	Origin  Origin
	Content string
}

// Hunk is a contiguous changed region. Starts are zero-based line indices
// into the older and newer content; a zero count marks a pure insertion or
// deletion.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// SplitLines splits s into lines, keeping each line's newline. A trailing
// fragment without a newline is its own line.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// LineDiff computes a minimal line diff with no context lines.
func LineDiff(older, newer string) []Hunk {
	var (
		hunks            []Hunk
		cur              *Hunk
		oldLine, newLine int
	)

	flush := func() {
		if cur != nil {
			hunks = append(hunks, *cur)
			cur = nil
		}
	}
	open := func() {
		if cur == nil {
			cur = &Hunk{OldStart: oldLine, NewStart: newLine}
		}
	}

	for _, d := range diff.Do(older, newer) {
		lines := SplitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			oldLine += len(lines)
			newLine += len(lines)
		case diffmatchpatch.DiffDelete:
			open()
			for _, l := range lines {
				cur.Lines = append(cur.Lines, Line{Origin: Deletion, Content: l})
			}
			cur.OldLines += len(lines)
			oldLine += len(lines)
		case diffmatchpatch.DiffInsert:
			open()
			for _, l := range lines {
				cur.Lines = append(cur.Lines, Line{Origin: Addition, Content: l})
			}
			cur.NewLines += len(lines)
			newLine += len(lines)
		}
	}
	flush()

	return hunks
}
