package profileagent

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftline/profileagent/backend/noop"
	"github.com/riftline/profileagent/model"
	"github.com/riftline/profileagent/report"
)

// recordingBackend is a minimal Backend test double that lets a test stage
// a single folded-stack sample to be returned from the next Report call —
// unlike noop.Backend, whose Report is always empty.
type recordingBackend struct {
	mu      sync.Mutex
	state   model.State
	tags    model.TagSet
	appName string
	hz      uint32
	folded  string
	count   int64
}

func newRecordingBackend(appName string, hz uint32) *recordingBackend {
	return &recordingBackend{state: model.Uninitialized, tags: make(model.TagSet), appName: appName, hz: hz}
}

func (b *recordingBackend) record(folded string, count int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.folded = folded
	b.count = count
}

func (b *recordingBackend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = model.Ready
	return nil
}

func (b *recordingBackend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = model.Running
	return nil
}

func (b *recordingBackend) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = model.Ready
	return nil
}

func (b *recordingBackend) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = model.Stopped
	return nil
}

func (b *recordingBackend) Report() ([]*report.Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := report.New(model.ReportMetadata{ApplicationName: b.appName, SpyName: "recording", SampleRate: b.hz, Tags: b.tags.Clone()})
	if b.folded != "" {
		r.RecordFolded(b.folded, b.count)
		b.folded = ""
		b.count = 0
	}
	return []*report.Report{r}, nil
}

func (b *recordingBackend) AddRule(rule model.TagRule) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rule.Kind == model.TagRuleAdd {
		b.tags = b.tags.With(rule.Key, rule.Value)
	} else {
		b.tags = b.tags.Without(rule.Key)
	}
	return nil
}

func (b *recordingBackend) RemoveRule(rule model.TagRule) error {
	return b.AddRule(model.RemoveRule(rule.Key, rule.Value))
}

func (b *recordingBackend) SampleRate() uint32 { return b.hz }
func (b *recordingBackend) SpyName() string    { return "recording" }

func (b *recordingBackend) State() model.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	agent, err := New("http://localhost:4040", "app", WithCycleSeconds(5)).
		WithBackend(noop.New("app", 100)).
		Build()
	require.NoError(t, err)
	return agent
}

func TestAgent_LifecycleTransitions(t *testing.T) {
	agent := newTestAgent(t)
	ctx := context.Background()

	assert.Equal(t, model.Ready, agent.State())

	require.NoError(t, agent.Start(ctx))
	assert.Equal(t, model.Running, agent.State())

	require.NoError(t, agent.Stop(ctx))
	assert.Equal(t, model.Ready, agent.State())

	require.NoError(t, agent.Shutdown(ctx))
	assert.Equal(t, model.Stopped, agent.State())
}

func TestAgent_Start_IllegalFromRunning(t *testing.T) {
	agent := newTestAgent(t)
	ctx := context.Background()
	require.NoError(t, agent.Start(ctx))

	err := agent.Start(ctx)

	assert.Error(t, err)
	var invalidState *InvalidStateError
	assert.ErrorAs(t, err, &invalidState)

	require.NoError(t, agent.Shutdown(ctx))
}

func TestAgent_Stop_IllegalFromReady(t *testing.T) {
	agent := newTestAgent(t)
	ctx := context.Background()

	err := agent.Stop(ctx)

	assert.Error(t, err)
}

func TestAgent_Shutdown_IsIdempotent(t *testing.T) {
	agent := newTestAgent(t)
	ctx := context.Background()

	require.NoError(t, agent.Shutdown(ctx))
	require.NoError(t, agent.Shutdown(ctx))

	assert.Equal(t, model.Stopped, agent.State())
}

func TestAgent_Shutdown_FromRunningStopsFirst(t *testing.T) {
	agent := newTestAgent(t)
	ctx := context.Background()
	require.NoError(t, agent.Start(ctx))

	require.NoError(t, agent.Shutdown(ctx))

	assert.Equal(t, model.Stopped, agent.State())
}

func TestAgent_AddAndRemoveGlobalTag(t *testing.T) {
	agent := newTestAgent(t)

	require.NoError(t, agent.AddGlobalTag("env", "prod"))
	assert.Equal(t, "prod", agent.cfg.Tags["env"])

	require.NoError(t, agent.RemoveGlobalTag("env", "prod"))
	_, ok := agent.cfg.Tags["env"]
	assert.False(t, ok)
}

func TestAgent_AddGlobalTag_RejectsReservedKey(t *testing.T) {
	agent := newTestAgent(t)

	err := agent.AddGlobalTag("__name__", "x")

	assert.Error(t, err)
}

func TestAgent_AddGlobalTag_IllegalAfterShutdown(t *testing.T) {
	agent := newTestAgent(t)
	require.NoError(t, agent.Shutdown(context.Background()))

	err := agent.AddGlobalTag("env", "prod")

	assert.Error(t, err)
}

// TestAgent_Stop_FlushesTrailingSession exercises scenario 4: a Stop
// mid-cycle must still ship exactly one trailing Session carrying whatever
// samples the Backend had accumulated since the last tick, rather than
// stranding them.
func TestAgent_Stop_FlushesTrailingSession(t *testing.T) {
	var gotBody string
	var requestCount int
	var mu sync.Mutex
	done := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = string(body)
		requestCount++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer server.Close()

	be := newRecordingBackend("app", 100)
	agent, err := New(server.URL, "app", WithCycleSeconds(5)).
		WithBackend(be).
		Build()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, agent.Start(ctx))
	be.record("main;work", 7)

	require.NoError(t, agent.Stop(ctx))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trailing session to ship")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, requestCount)
	assert.Contains(t, gotBody, "main;work 7")

	require.NoError(t, agent.Shutdown(ctx))
}
