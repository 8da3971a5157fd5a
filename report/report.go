// Package report implements the Report aggregate: a tagged, folded-stack
// count table that backends accumulate into and the SessionManager
// serializes for shipment.
package report

import (
	"fmt"
	"sort"
	"sync"

	"github.com/riftline/profileagent/model"
)

// Report aggregates samples sharing one ReportMetadata bucket, keyed by
// their folded-stack string. Counts are strictly positive; Record creates
// an entry at 1 if absent and increments it otherwise. The zero value is
// not usable — create with New.
type Report struct {
	mu       sync.Mutex
	Metadata model.ReportMetadata
	counts   map[string]int64
}

// New creates an empty Report for the given metadata bucket.
func New(metadata model.ReportMetadata) *Report {
	return &Report{Metadata: metadata, counts: make(map[string]int64)}
}

// Record increments (or inserts at 1) the counter for trace's folded-stack
// string. The caller is responsible for only recording traces whose
// Metadata equals the Report's own — Record does not itself check this,
// matching the Backend contract's convention of one Report per tag-set
// bucket.
func (r *Report) Record(trace model.StackTrace) {
	folded := trace.Folded()
	r.mu.Lock()
	r.counts[folded]++
	r.mu.Unlock()
}

// RecordFolded increments the counter for an already-folded stack string by
// delta. Used when a backend has its own folding (e.g. parsing an upstream
// pprof profile) and wants to skip StackTrace construction.
func (r *Report) RecordFolded(folded string, delta int64) {
	if delta <= 0 {
		return
	}
	r.mu.Lock()
	r.counts[folded] += delta
	r.mu.Unlock()
}

// Merge sums counters from other into r. Both Reports must share the same
// Metadata bucket — merging across buckets would silently conflate distinct
// tag sets, so it is rejected.
func (r *Report) Merge(other *Report) error {
	if other == nil {
		return nil
	}
	if !r.Metadata.Equal(other.Metadata) {
		return fmt.Errorf("report: cannot merge mismatched metadata buckets")
	}
	other.mu.Lock()
	defer other.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	for folded, n := range other.counts {
		r.counts[folded] += n
	}
	return nil
}

// Clear empties the Report in place, retaining its allocated map capacity.
func (r *Report) Clear() {
	r.mu.Lock()
	for k := range r.counts {
		delete(r.counts, k)
	}
	r.mu.Unlock()
}

// Len returns the number of distinct folded-stack entries.
func (r *Report) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.counts)
}

// Empty reports whether the Report has no entries.
func (r *Report) Empty() bool { return r.Len() == 0 }

// entry is one exported (folded-stack, count) pair, sorted for determinism.
type entry struct {
	Folded string
	Count  int64
}

func (r *Report) sortedEntries() []entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entry, 0, len(r.counts))
	for folded, n := range r.counts {
		out = append(out, entry{Folded: folded, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Folded < out[j].Folded })
	return out
}
