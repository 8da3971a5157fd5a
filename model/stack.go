package model

import "strings"

// StackFrame is one entry in a StackTrace. All fields are optional except
// that FunctionName is the minimum useful one — a backend that can resolve
// nothing else should still populate it.
type StackFrame struct {
	Module         string
	FunctionName   string
	ShortFilename  string
	AbsolutePath   string
	RelativePath   string
	Line           int
}

// StackTrace is one sampled call stack plus the tags it was recorded under.
// Frames is ordered outermost-first (caller before callee) — backends that
// naturally unwind innermost-first must reverse before constructing this.
type StackTrace struct {
	PID        int
	ThreadID   int64
	ThreadName string
	Frames     []StackFrame
	Metadata   ReportMetadata
}

// ReportMetadata groups the dimensions two StackTraces must share to be
// aggregatable in the same Report bucket.
type ReportMetadata struct {
	Tags            TagSet
	SampleRate      uint32
	SpyName         string
	ApplicationName string
}

// Equal reports whether two ReportMetadata values describe the same
// aggregation bucket.
func (m ReportMetadata) Equal(other ReportMetadata) bool {
	return m.SampleRate == other.SampleRate &&
		m.SpyName == other.SpyName &&
		m.ApplicationName == other.ApplicationName &&
		m.Tags.Equal(other.Tags)
}

// Folded renders the StackTrace's frames as a semicolon-joined folded-stack
// string, outermost frame first. Frames with no function name fall back to
// "?" so the line count stays stable even with partially-resolved stacks.
func (t StackTrace) Folded() string {
	names := make([]string, len(t.Frames))
	for i, f := range t.Frames {
		if f.FunctionName == "" {
			names[i] = "?"
			continue
		}
		names[i] = f.FunctionName
	}
	return strings.Join(names, ";")
}
