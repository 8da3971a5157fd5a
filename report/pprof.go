package report

import (
	"bytes"
	"strings"
	"time"

	"github.com/google/pprof/profile"
)

// SerializePprof renders the Report as a pprof protocol-buffer profile with
// the same sample multiset as SerializeFolded, gzip-compressed by the
// profile library itself (matching what a real CPU profile looks like on
// the wire). The exact schema is the remote server's documented format;
// this only needs to preserve the (stack, count) multiset.
func (r *Report) SerializePprof() ([]byte, error) {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "samples", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "samples", Unit: "count"},
		Period:     1,
		TimeNanos:  time.Now().UnixNano(),
	}

	functions := make(map[string]*profile.Function)
	locations := make(map[string]*profile.Location)
	var nextID uint64

	locationFor := func(name string) *profile.Location {
		if loc, ok := locations[name]; ok {
			return loc
		}
		nextID++
		fn, ok := functions[name]
		if !ok {
			fn = &profile.Function{ID: nextID, Name: name, SystemName: name}
			functions[name] = fn
			p.Function = append(p.Function, fn)
		}
		loc := &profile.Location{
			ID:   nextID,
			Line: []profile.Line{{Function: fn}},
		}
		locations[name] = loc
		p.Location = append(p.Location, loc)
		return loc
	}

	for _, e := range r.sortedEntries() {
		frames := strings.Split(e.Folded, ";")
		// pprof lists locations innermost (leaf) first; our folded string is
		// outermost-first, so reverse.
		locs := make([]*profile.Location, 0, len(frames))
		for i := len(frames) - 1; i >= 0; i-- {
			locs = append(locs, locationFor(frames[i]))
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: locs,
			Value:    []int64{e.Count},
		})
	}

	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParsePprof decodes a pprof profile back into the (folded-stack, count)
// multiset it represents, reconstructing the folded string by walking each
// sample's locations leaf-to-root and reversing.
func ParsePprof(data []byte) (map[string]int64, error) {
	p, err := profile.ParseData(data)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, s := range p.Sample {
		names := make([]string, len(s.Location))
		for i, loc := range s.Location {
			name := "?"
			if len(loc.Line) > 0 && loc.Line[0].Function != nil {
				name = loc.Line[0].Function.Name
			}
			names[len(s.Location)-1-i] = name
		}
		var count int64
		if len(s.Value) > 0 {
			count = s.Value[0]
		}
		out[strings.Join(names, ";")] += count
	}
	return out, nil
}
