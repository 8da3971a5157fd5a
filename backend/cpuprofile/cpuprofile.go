// Package cpuprofile implements a Backend over the Go runtime's own CPU
// profiler. Start/Stop bracket a runtime/pprof.StartCPUProfile session;
// Report parses the resulting pprof bytes with google/pprof/profile and
// folds them into the shared Report aggregate, tagged by whatever rules
// have been installed via AddRule.
package cpuprofile

import (
	"bytes"
	"context"
	"fmt"
	"runtime/pprof"
	"strings"
	"sync"

	gpprof "github.com/google/pprof/profile"
	"go.uber.org/zap"

	"github.com/riftline/profileagent/model"
	"github.com/riftline/profileagent/report"
)

// Backend samples the host process's own goroutines using the standard
// library's CPU profiler. Only one instance may be Running at a time
// process-wide, since runtime/pprof.StartCPUProfile itself is a process
// singleton — a second concurrent Start returns its error, wrapped.
type Backend struct {
	logger   *zap.Logger
	sampleHz uint32

	mu       sync.Mutex
	state    model.State
	buf      bytes.Buffer
	tags     model.TagSet
	appName  string
}

// New creates an uninitialized cpuprofile Backend. sampleRate is advisory
// only — the Go runtime profiler samples at a fixed ~100Hz regardless of
// the value passed to SetCPUProfileRate, so SampleRate() reports the
// requested rate for metadata purposes but the actual cadence is the
// runtime's.
func New(applicationName string, sampleRate uint32, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		logger:   logger.Named("cpuprofile"),
		sampleHz: sampleRate,
		state:    model.Uninitialized,
		tags:     make(model.TagSet),
		appName:  applicationName,
	}
}

func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != model.Uninitialized {
		return fmt.Errorf("cpuprofile: initialize illegal in state %s", b.state)
	}
	b.state = model.Ready
	return nil
}

func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != model.Ready {
		return fmt.Errorf("cpuprofile: start illegal in state %s", b.state)
	}
	b.buf.Reset()
	if err := pprof.StartCPUProfile(&b.buf); err != nil {
		return fmt.Errorf("cpuprofile: start: %w", err)
	}
	b.state = model.Running
	return nil
}

func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != model.Running {
		return fmt.Errorf("cpuprofile: stop illegal in state %s", b.state)
	}
	pprof.StopCPUProfile()
	b.state = model.Ready
	return nil
}

func (b *Backend) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == model.Running {
		pprof.StopCPUProfile()
	}
	b.state = model.Stopped
	return nil
}

// Report parses whatever CPU profile bytes have accumulated since the
// last Report call and folds them into a single Report under the
// Backend's current tag set, then clears the internal buffer — matching
// the "atomic swap" contract even though the underlying storage is a
// byte buffer rather than a map.
func (b *Backend) Report() ([]*report.Report, error) {
	b.mu.Lock()
	if b.state == model.Running {
		// Snapshot mid-flight: stop and immediately restart so sampling
		// never has a gap, but we get a parseable profile for this cycle.
		pprof.StopCPUProfile()
		data := append([]byte(nil), b.buf.Bytes()...)
		b.buf.Reset()
		if err := pprof.StartCPUProfile(&b.buf); err != nil {
			b.mu.Unlock()
			return nil, fmt.Errorf("cpuprofile: restart after report: %w", err)
		}
		metadata := model.ReportMetadata{
			ApplicationName: b.appName,
			SpyName:         "gospy",
			SampleRate:      b.sampleHz,
			Tags:            b.tags.Clone(),
		}
		b.mu.Unlock()
		return b.parse(data, metadata)
	}
	data := append([]byte(nil), b.buf.Bytes()...)
	b.buf.Reset()
	metadata := model.ReportMetadata{
		ApplicationName: b.appName,
		SpyName:         "gospy",
		SampleRate:      b.sampleHz,
		Tags:            b.tags.Clone(),
	}
	b.mu.Unlock()
	return b.parse(data, metadata)
}

func (b *Backend) parse(data []byte, metadata model.ReportMetadata) ([]*report.Report, error) {
	r := report.New(metadata)
	if len(data) == 0 {
		return []*report.Report{r}, nil
	}
	prof, err := gpprof.ParseData(data)
	if err != nil {
		b.logger.Warn("failed to parse cpu profile, dropping cycle", zap.Error(err))
		return []*report.Report{r}, nil
	}
	for _, s := range prof.Sample {
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
		r.RecordFolded(strings.Join(names, ";"), count)
	}
	return []*report.Report{r}, nil
}

func (b *Backend) AddRule(rule model.TagRule) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == model.Stopped {
		return fmt.Errorf("cpuprofile: add_rule illegal in state %s", b.state)
	}
	if rule.Kind == model.TagRuleAdd {
		b.tags = b.tags.With(rule.Key, rule.Value)
	} else {
		b.tags = b.tags.Without(rule.Key)
	}
	return nil
}

func (b *Backend) RemoveRule(rule model.TagRule) error {
	return b.AddRule(model.RemoveRule(rule.Key, rule.Value))
}

func (b *Backend) SampleRate() uint32 { return b.sampleHz }
func (b *Backend) SpyName() string    { return "gospy" }

func (b *Backend) State() model.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
