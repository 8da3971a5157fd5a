// Package noop provides a Backend that tracks lifecycle state and tag
// rules but never samples anything. It grounds tests that exercise the
// Agent's control loop and lifecycle transitions without needing a real
// sampling mechanism, and doubles as a minimal reference implementation
// for anyone writing a new Backend.
package noop

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/riftline/profileagent/model"
	"github.com/riftline/profileagent/report"
)

// Backend is a Backend implementation that does nothing but honor the
// state machine. Its Report always returns a single empty Report under
// the configured metadata.
//
// state is kept in an atomic cell rather than behind mu, so State() reads
// it without taking the mutex the transition methods and
// AddRule/RemoveRule contend on.
type Backend struct {
	mu       sync.Mutex
	state    atomic.Int32
	sampleHz uint32
	spyName  string
	metadata model.ReportMetadata
	rules    []model.TagRule
}

// New creates an uninitialized no-op Backend reporting under the given
// application name and sample rate.
func New(applicationName string, sampleRate uint32) *Backend {
	b := &Backend{
		sampleHz: sampleRate,
		spyName:  "noop",
		metadata: model.ReportMetadata{
			ApplicationName: applicationName,
			SpyName:         "noop",
			SampleRate:      sampleRate,
			Tags:            make(model.TagSet),
		},
	}
	b.state.Store(int32(model.Uninitialized))
	return b
}

func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur := b.State(); cur != model.Uninitialized {
		return errInvalidState("initialize", cur, model.Uninitialized)
	}
	b.state.Store(int32(model.Ready))
	return nil
}

func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur := b.State(); cur != model.Ready {
		return errInvalidState("start", cur, model.Ready)
	}
	b.state.Store(int32(model.Running))
	return nil
}

func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur := b.State(); cur != model.Running {
		return errInvalidState("stop", cur, model.Running)
	}
	b.state.Store(int32(model.Ready))
	return nil
}

func (b *Backend) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.State() == model.Stopped {
		return nil
	}
	b.state.Store(int32(model.Stopped))
	return nil
}

func (b *Backend) Report() ([]*report.Report, error) {
	b.mu.Lock()
	metadata := b.metadata
	metadata.Tags = b.metadata.Tags.Clone()
	b.mu.Unlock()
	return []*report.Report{report.New(metadata)}, nil
}

func (b *Backend) AddRule(rule model.TagRule) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.State() == model.Stopped {
		return errInvalidState("add_rule", b.State(), model.Uninitialized, model.Ready, model.Running)
	}
	b.rules = append(b.rules, rule)
	if rule.Kind == model.TagRuleAdd {
		b.metadata.Tags = b.metadata.Tags.With(rule.Key, rule.Value)
	} else {
		b.metadata.Tags = b.metadata.Tags.Without(rule.Key)
	}
	return nil
}

func (b *Backend) RemoveRule(rule model.TagRule) error {
	return b.AddRule(model.RemoveRule(rule.Key, rule.Value))
}

func (b *Backend) SampleRate() uint32 { return b.sampleHz }
func (b *Backend) SpyName() string    { return b.spyName }

func (b *Backend) State() model.State {
	return model.State(b.state.Load())
}

func errInvalidState(op string, actual model.State, expected ...model.State) error {
	return &invalidStateError{op: op, actual: actual, expected: expected}
}

type invalidStateError struct {
	op       string
	actual   model.State
	expected []model.State
}

func (e *invalidStateError) Error() string {
	return "noop: " + e.op + " illegal in state " + e.actual.String()
}
