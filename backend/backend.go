// Package backend defines the Backend contract: the pluggable sampling
// engine an Agent drives. Concrete implementations live in subpackages
// (noop, cpuprofile, procattach) and are expected to satisfy it, not
// embed it — the interface is the whole contract.
package backend

import (
	"context"

	"github.com/riftline/profileagent/model"
	"github.com/riftline/profileagent/report"
)

// Backend is a stateful sampler mirroring the Agent's own lifecycle state
// machine (Uninitialized -> Ready -> Running -> Stopped). Implementations
// are opaque collaborators: the agent core never inspects how a Backend
// samples, only that it honors these state transitions and the draining
// contract on Report.
type Backend interface {
	// Initialize acquires any platform handles. Legal only from
	// Uninitialized; on success the Backend moves to Ready.
	Initialize(ctx context.Context) error
	// Start spawns or arms the sampling worker. Legal only from Ready; on
	// success the Backend moves to Running. The worker records samples at
	// a nominal rate of SampleRate() Hz, best-effort — no hard real-time
	// guarantee.
	Start(ctx context.Context) error
	// Stop signals the sampling worker to halt and joins it, leaving any
	// accumulated samples intact. Legal only from Running; on success the
	// Backend moves back to Ready.
	Stop(ctx context.Context) error
	// Shutdown releases all handles. Legal from Ready, Uninitialized, or
	// (transitively, via Stop) Running. On success the Backend moves to
	// Stopped. Must be idempotent once Stopped.
	Shutdown(ctx context.Context) error
	// Report atomically swaps the internal Report buffer with an empty
	// one and returns the prior contents. Legal in Running or Ready.
	// Multiple Reports may be returned if the Backend segregates samples
	// by tag set. Must not lose samples in the swap itself.
	Report() ([]*report.Report, error)
	// AddRule and RemoveRule install or clear a per-thread tag rule.
	// Legal in any non-Stopped state. A Backend that cannot partition
	// samples by tag context treats these as a no-op.
	AddRule(rule model.TagRule) error
	RemoveRule(rule model.TagRule) error

	// SampleRate, SpyName, and State are pure accessors.
	SampleRate() uint32
	SpyName() string
	State() model.State
}
