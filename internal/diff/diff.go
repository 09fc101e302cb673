// Package diff compares two snapshot texts line by line.
package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type RecordType string

const (
	Unchanged RecordType = "unchanged"
	Added     RecordType = "added"
	Removed   RecordType = "removed"
)

// Record is one line of the flattened comparison. SequenceNumber is the
// position of the record in the output, starting at 1, shared across all
// record types. It is not a line number of either side.
type Record struct {
	Type           RecordType `json:"type"`
	Content        string     `json:"content"`
	SequenceNumber int        `json:"sequenceNumber"`
}

// Stats are derived by counting records by type.
type Stats struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
	Total     int `json:"total"`
}

// Lines splits text on "\n" after dropping a single trailing newline.
// The empty string has no lines.
func Lines(text string) []string {
	if text == "" {
		return []string{}
	}
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

// Compute returns the minimal line edit script turning a into b. Within each
// hunk removed lines come before added lines.
func Compute(a, b string) []Record {
	linesA := Lines(a)
	linesB := Lines(b)

	enc := newLineEncoder()
	runesA, okA := enc.encode(linesA)
	runesB, okB := enc.encode(linesB)
	if !okA || !okB {
		return replaceAll(linesA, linesB)
	}

	dmp := diffmatchpatch.New()
	// No deadline: a timed-out diff is valid but not minimal.
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMainRunes(runesA, runesB, false)

	records := make([]Record, 0, len(linesA)+len(linesB))
	seq := 0
	for _, d := range diffs {
		kind := Unchanged
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = Removed
		case diffmatchpatch.DiffInsert:
			kind = Added
		}
		for _, r := range d.Text {
			seq++
			records = append(records, Record{Type: kind, Content: enc.lines[r], SequenceNumber: seq})
		}
	}
	return records
}

// Summarize counts records by type.
func Summarize(records []Record) Stats {
	var stats Stats
	for _, r := range records {
		switch r.Type {
		case Added:
			stats.Added++
		case Removed:
			stats.Removed++
		default:
			stats.Unchanged++
		}
	}
	stats.Total = len(records)
	return stats
}

// Reconstruct rebuilds one side of the comparison: the new text when
// newSide is true, otherwise the old text. Lines are joined with "\n".
func Reconstruct(records []Record, newSide bool) string {
	skip := Added
	if newSide {
		skip = Removed
	}
	lines := make([]string, 0, len(records))
	for _, r := range records {
		if r.Type == skip {
			continue
		}
		lines = append(lines, r.Content)
	}
	return strings.Join(lines, "\n")
}

// lineEncoder maps each distinct line to a rune so the character diff of the
// encoded strings is a line diff.
type lineEncoder struct {
	index map[string]rune
	lines map[rune]string
	next  rune
}

func newLineEncoder() *lineEncoder {
	return &lineEncoder{index: map[string]rune{}, lines: map[rune]string{}, next: 1}
}

func (e *lineEncoder) encode(lines []string) ([]rune, bool) {
	out := make([]rune, 0, len(lines))
	for _, line := range lines {
		r, ok := e.index[line]
		if !ok {
			if e.next > 0x10FFFF {
				return nil, false
			}
			r = e.next
			e.index[line] = r
			e.lines[r] = line
			e.next++
			// surrogate halves do not survive a string round trip
			if e.next == 0xD800 {
				e.next = 0xE000
			}
		}
		out = append(out, r)
	}
	return out, true
}

// replaceAll is the degenerate script used when the inputs have more distinct
// lines than there are code points to encode them with.
func replaceAll(a, b []string) []Record {
	records := make([]Record, 0, len(a)+len(b))
	seq := 0
	for _, line := range a {
		seq++
		records = append(records, Record{Type: Removed, Content: line, SequenceNumber: seq})
	}
	for _, line := range b {
		seq++
		records = append(records, Record{Type: Added, Content: line, SequenceNumber: seq})
	}
	return records
}
