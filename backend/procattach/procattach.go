// Package procattach implements a Backend that samples an external
// process by shelling out to a user-supplied sampling command once per
// Report cycle, rather than sampling the host process in-proc. This
// mirrors how a profiler attaches to a PID it doesn't share an address
// space with: stack(), opens pipes to the external process, and reads
// back whatever the sampler prints.
//
// The external command must print folded-stack lines on stdout, the
// same "frame1;frame2;...;frameN count" format report.ParseFolded reads,
// matching what tools like a perf-script post-processor would emit.
package procattach

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riftline/profileagent/model"
	"github.com/riftline/profileagent/report"
)

// DefaultSampleTimeout bounds a single invocation of the sampling command;
// a sampler that hangs must not stall the Agent's control loop forever.
const DefaultSampleTimeout = 10 * time.Second

// ErrSampleFailed wraps a non-zero exit from the sampling command.
var ErrSampleFailed = errors.New("procattach: sample command failed")

// Backend drives an external sampling command against a target PID.
type Backend struct {
	logger   *zap.Logger
	command  string
	pid      int
	sampleHz uint32
	timeout  time.Duration

	mu      sync.Mutex
	state   model.State
	tags    model.TagSet
	appName string
}

// New creates an uninitialized procattach Backend. command is a shell
// command template; the literal string "{pid}" within it is substituted
// with the target pid before each invocation.
func New(applicationName, command string, pid int, sampleRate uint32, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		logger:   logger.Named("procattach"),
		command:  command,
		pid:      pid,
		sampleHz: sampleRate,
		timeout:  DefaultSampleTimeout,
		state:    model.Uninitialized,
		tags:     make(model.TagSet),
		appName:  applicationName,
	}
}

func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != model.Uninitialized {
		return fmt.Errorf("procattach: initialize illegal in state %s", b.state)
	}
	if _, err := exec.LookPath(shellPath()); err != nil {
		return fmt.Errorf("procattach: no shell available: %w", err)
	}
	b.state = model.Ready
	return nil
}

func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != model.Ready {
		return fmt.Errorf("procattach: start illegal in state %s", b.state)
	}
	b.state = model.Running
	return nil
}

func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != model.Running {
		return fmt.Errorf("procattach: stop illegal in state %s", b.state)
	}
	b.state = model.Ready
	return nil
}

func (b *Backend) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = model.Stopped
	return nil
}

// Report runs the sampling command once, parses its folded-stack output,
// and returns a single Report. A failed or timed-out invocation is
// logged and yields an empty Report rather than erroring the caller —
// one missed sample cycle should not interrupt the Agent's loop.
func (b *Backend) Report() ([]*report.Report, error) {
	b.mu.Lock()
	state := b.state
	metadata := model.ReportMetadata{
		ApplicationName: b.appName,
		SpyName:         "procattach",
		SampleRate:      b.sampleHz,
		Tags:            b.tags.Clone(),
	}
	b.mu.Unlock()

	r := report.New(metadata)
	if state != model.Running {
		return []*report.Report{r}, nil
	}

	out, err := b.runSampler()
	if err != nil {
		b.logger.Warn("sample command failed, dropping cycle", zap.Error(err), zap.Int("pid", b.pid))
		return []*report.Report{r}, nil
	}
	folded, err := report.ParseFolded(out)
	if err != nil {
		b.logger.Warn("failed to parse sampler output, dropping cycle", zap.Error(err))
		return []*report.Report{r}, nil
	}
	for stack, count := range folded {
		r.RecordFolded(stack, count)
	}
	return []*report.Report{r}, nil
}

func (b *Backend) runSampler() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	cmd := buildShellCmd(ctx, substitutePID(b.command, b.pid))
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: exit code %d: %s", ErrSampleFailed, exitErr.ExitCode(), buf.String())
		}
		return nil, fmt.Errorf("%w: %w", ErrSampleFailed, err)
	}
	return buf.Bytes(), nil
}

func substitutePID(command string, pid int) string {
	out := make([]byte, 0, len(command))
	placeholder := "{pid}"
	for {
		idx := indexOf(command, placeholder)
		if idx < 0 {
			out = append(out, command...)
			break
		}
		out = append(out, command[:idx]...)
		out = append(out, fmt.Sprintf("%d", pid)...)
		command = command[idx+len(placeholder):]
	}
	return string(out)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func buildShellCmd(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, shellPath(), "-c", command)
}

func shellPath() string {
	if runtime.GOOS == "windows" {
		return "cmd"
	}
	return "/bin/sh"
}

func (b *Backend) AddRule(rule model.TagRule) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == model.Stopped {
		return fmt.Errorf("procattach: add_rule illegal in state %s", b.state)
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
func (b *Backend) SpyName() string    { return "procattach" }

func (b *Backend) State() model.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
