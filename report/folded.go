package report

import (
	"bytes"
	"fmt"
)

// SerializeFolded renders the Report as the folded-stack textual format:
// one "frame1;frame2;...;frameN <count>\n" line per entry, no leading or
// trailing whitespace on any line. Entries are sorted by folded string for
// deterministic output (the wire format itself has no ordering invariant,
// but deterministic tests need one).
func (r *Report) SerializeFolded() ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range r.sortedEntries() {
		if _, err := fmt.Fprintf(&buf, "%s %d\n", e.Folded, e.Count); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// ParseFolded parses the folded-stack textual format back into a multiset
// of (folded-stack, count) pairs, as used by the round-trip testable
// round-trip property.
func ParseFolded(data []byte) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		idx := bytes.LastIndexByte(line, ' ')
		if idx < 0 {
			return nil, fmt.Errorf("report: malformed folded line %q", line)
		}
		var count int64
		if _, err := fmt.Sscanf(string(line[idx+1:]), "%d", &count); err != nil {
			return nil, fmt.Errorf("report: malformed count in line %q: %w", line, err)
		}
		out[string(line[:idx])] += count
	}
	return out, nil
}
