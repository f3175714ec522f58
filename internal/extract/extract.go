// Package extract scans note content for inline [[Title]] reference markers.
package extract

import (
	"regexp"
	"strings"
)

var markerRe = regexp.MustCompile(`\[\[(.*?)\]\]`)

// Occurrence is one reference marker found in note content. Position is the
// rune offset of the opening bracket, kept best-effort for UI highlighting.
type Occurrence struct {
	Title    string
	Position int
}

// Scan returns every valid marker in content, left to right, non-overlapping.
// Titles are trimmed of surrounding whitespace; an alias segment after "|"
// is discarded ([[Target|Alias]] yields Target); empty titles are skipped.
// Pure: no storage, no shared state, safe on arbitrarily large content.
func Scan(content string) []Occurrence {
	idxs := markerRe.FindAllStringSubmatchIndex(content, -1)
	if len(idxs) == 0 {
		return nil
	}
	var out []Occurrence
	for _, m := range idxs {
		raw := content[m[2]:m[3]]
		if i := strings.Index(raw, "|"); i >= 0 {
			raw = raw[:i]
		}
		title := strings.TrimSpace(raw)
		if title == "" {
			continue
		}
		out = append(out, Occurrence{
			Title:    title,
			Position: len([]rune(content[:m[0]])),
		})
	}
	return out
}

// Distinct collapses occurrences of the same literal title to one entry,
// keeping the first (leftmost) position. Order of first appearance is
// preserved. This is the dedup key for the Reference table: re-scanning
// identical content must never produce duplicate rows.
func Distinct(occs []Occurrence) []Occurrence {
	if len(occs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(occs))
	out := occs[:0:0]
	for _, o := range occs {
		if _, dup := seen[o.Title]; dup {
			continue
		}
		seen[o.Title] = struct{}{}
		out = append(out, o)
	}
	return out
}
