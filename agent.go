// Package profileagent implements an embeddable continuous profiling
// agent: a component a host process links in to periodically sample its
// own (or an attached) call stacks, aggregate them into folded-stack
// Reports, and ship them to a remote ingest endpoint on aligned
// wall-clock windows.
//
// Construct one with New(...).WithBackend(...).Build(), drive it through
// Start/Stop/Shutdown, and adjust its tag set at runtime with
// AddGlobalTag/RemoveGlobalTag. See Builder for the full set of Options.
package profileagent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/riftline/profileagent/backend"
	internalclock "github.com/riftline/profileagent/internal/clock"
	"github.com/riftline/profileagent/internal/selfmetrics"
	"github.com/riftline/profileagent/internal/session"
	"github.com/riftline/profileagent/model"
)

// Agent is the embeddable profiling agent. It owns a Backend, a Timer
// subscription, and a SessionManager, and drives the sample/ship cycle
// on every aligned tick while Running. The zero value is not usable —
// construct with a Builder.
type Agent struct {
	id     uuid.UUID
	logger *zap.Logger

	mu            sync.Mutex
	state         model.State
	cfg           Config
	be            backend.Backend
	timer         *internalclock.Timer
	timerID       int
	tickCh        <-chan internalclock.Tick
	sessions      *session.Manager
	metrics       *selfmetrics.Collector
	stopCh        chan struct{}
	loopDone      chan struct{}
	workerErr     error
	lastWindowEnd int64
}

// ID returns this Agent instance's generated identifier, stable for the
// process lifetime and included in its structured logs — useful when a
// host embeds more than one Agent and needs to tell their log lines apart.
func (a *Agent) ID() uuid.UUID { return a.id }

// newAgent performs the Uninitialized -> Ready transition: it
// initializes the Backend, starts the SessionManager, attaches to a
// fresh aligned Timer, and (best-effort) stands up the self-metrics
// collector. Any Backend initialization failure aborts construction and
// leaves no goroutines running.
func newAgent(cfg Config, be backend.Backend, logger *zap.Logger) (*Agent, error) {
	ctx := context.Background()
	if err := be.Initialize(ctx); err != nil {
		return nil, err
	}

	timer := internalclock.New(cfg.cycle(), logger)
	timerID, tickCh, err := timer.AttachListener()
	if err != nil {
		_ = be.Shutdown(ctx)
		return nil, err
	}

	metrics, err := selfmetrics.NewCollector(logger)
	if err != nil {
		logger.Named("profileagent").Warn("self-metrics unavailable", zap.Error(err))
		metrics = nil
	}

	id := uuid.New()
	a := &Agent{
		id:       id,
		logger:   logger.Named("profileagent").With(zap.String("agent_id", id.String())),
		state:    model.Ready,
		cfg:      cfg,
		be:       be,
		timer:    timer,
		timerID:  timerID,
		tickCh:   tickCh,
		sessions: session.NewManager(logger, metrics),
		metrics:  metrics,
	}
	a.logger.Debug("agent built", zap.String("application_name", cfg.ApplicationName))
	return a, nil
}

// State returns the Agent's current lifecycle state.
func (a *Agent) State() model.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start spawns the Backend's sampling worker and begins driving the
// sample/ship control loop on every aligned tick. Legal only from Ready.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkWorkerErrLocked(); err != nil {
		return err
	}
	if a.state != model.Ready {
		return newInvalidState("start", a.state, model.Ready)
	}
	if a.timer.State() == model.Stopped {
		// A previous Stop detached the Agent's only listener, which
		// terminated that Timer; a restart needs a fresh subscription.
		timer := internalclock.New(a.cfg.cycle(), a.logger)
		timerID, tickCh, err := timer.AttachListener()
		if err != nil {
			return err
		}
		a.timer, a.timerID, a.tickCh = timer, timerID, tickCh
	}
	if err := a.be.Start(ctx); err != nil {
		return err
	}
	a.stopCh = make(chan struct{})
	a.loopDone = make(chan struct{})
	go a.runLoop(a.stopCh, a.loopDone)
	a.state = model.Running
	return nil
}

// Stop halts the control loop, detaches from the Timer, performs one
// final drain of whatever samples the Backend accumulated since the last
// aligned tick, and only then transitions the Backend back to Ready —
// so a Stop mid-cycle still ships exactly one trailing, partial-window
// Session instead of stranding those samples. Legal only from Running.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if err := a.checkWorkerErrLocked(); err != nil {
		a.mu.Unlock()
		return err
	}
	if a.state != model.Running {
		state := a.state
		a.mu.Unlock()
		return newInvalidState("stop", state, model.Running)
	}
	stopCh := a.stopCh
	loopDone := a.loopDone
	a.mu.Unlock()

	close(stopCh)
	<-loopDone

	a.mu.Lock()
	a.timer.DropListener(a.timerID)
	from := a.lastWindowEnd
	cfg := a.cfg
	a.mu.Unlock()

	until := time.Now().UnixNano()
	if from == 0 {
		from = until - cfg.cycle().Nanoseconds()
	}
	a.drainAndShip(from, until)

	a.mu.Lock()
	defer a.mu.Unlock()
	// The control loop has already torn down regardless of what the
	// Backend does next, so the Agent must leave Running either way —
	// otherwise a retried Stop/Shutdown would close stopCh a second time.
	err := a.be.Stop(ctx)
	a.state = model.Ready
	return err
}

// Shutdown releases every resource the Agent holds: it stops the control
// loop if Running, detaches from the Timer (terminating it if this was
// its last listener), drains the SessionManager's queue, and shuts down
// the Backend. Idempotent once Stopped.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	state := a.state
	a.mu.Unlock()

	if state == model.Stopped {
		return nil
	}

	var stopErr error
	if state == model.Running {
		stopErr = a.Stop(ctx)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.timer.DropListener(a.timerID)
	a.sessions.Kill()
	shutdownErr := a.be.Shutdown(ctx)

	// Both the Stop and the Backend Shutdown errors are reported, even
	// though Stop failing already leaves the Backend in a questionable
	// state — an operator debugging a failed teardown needs to see both.
	if err := multierr.Combine(stopErr, shutdownErr); err != nil {
		return err
	}
	a.state = model.Stopped
	return nil
}

// AddGlobalTag installs a static tag applied to every sample from now on,
// both in the Agent's own Config snapshot (future Sessions) and via the
// Backend's AddRule, for backends that partition live samples by tag
// context. Legal in any non-Stopped state.
func (a *Agent) AddGlobalTag(key, value string) error {
	return a.applyTagRule(model.AddRule(key, value))
}

// RemoveGlobalTag clears a previously added global tag. Legal in any
// non-Stopped state.
func (a *Agent) RemoveGlobalTag(key, value string) error {
	return a.applyTagRule(model.RemoveRule(key, value))
}

func (a *Agent) applyTagRule(rule model.TagRule) error {
	if err := validateTagKey(rule.Key); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkWorkerErrLocked(); err != nil {
		return err
	}
	if a.state == model.Stopped {
		return newInvalidState("tag_rule", a.state, model.Uninitialized, model.Ready, model.Running)
	}
	if err := a.be.AddRule(rule); err != nil {
		return err
	}
	if rule.Kind == model.TagRuleAdd {
		a.cfg.Tags = a.cfg.Tags.With(rule.Key, rule.Value)
	} else {
		a.cfg.Tags = a.cfg.Tags.Without(rule.Key)
	}
	return nil
}

// runLoop is the background goroutine driving the sample/ship cycle. A
// panic anywhere inside it is recovered and stashed as a WorkerFailedError,
// surfaced synchronously on the next lifecycle call rather than crashing
// the host process — per the error propagation policy, worker failures
// are never silently swallowed, only deferred.
func (a *Agent) runLoop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			a.mu.Lock()
			a.workerErr = &WorkerFailedError{Component: "control_loop", Cause: r}
			a.mu.Unlock()
			a.logger.Error("control loop panicked", zap.Any("recovered", r))
		}
	}()
	for {
		select {
		case <-stopCh:
			return
		case tick, ok := <-a.tickCh:
			if !ok {
				return
			}
			a.handleTick(tick)
		}
	}
}

func (a *Agent) handleTick(tick internalclock.Tick) {
	a.drainAndShip(tick.From, tick.Until)
	a.mu.Lock()
	a.lastWindowEnd = tick.Until
	a.mu.Unlock()
	if a.metrics != nil {
		a.metrics.IncTick()
	}
}

// drainAndShip swaps the Backend's accumulated samples for the window
// [from, until) and enqueues them as a Session, under a snapshot of the
// Agent's current Config. Used both by the per-tick control loop and by
// Stop's trailing final drain.
func (a *Agent) drainAndShip(from, until int64) {
	reports, err := a.be.Report()
	if err != nil {
		a.logger.Warn("backend report failed, skipping cycle", zap.Error(err))
		return
	}
	a.mu.Lock()
	cfg := a.cfg
	a.mu.Unlock()

	a.sessions.Enqueue(session.Session{
		Config: session.Config{
			ServerURL:       cfg.ServerURL,
			ApplicationName: cfg.ApplicationName,
			Tags:            cfg.Tags.Clone(),
			SampleRate:      cfg.SampleRate,
			SpyName:         cfg.SpyName,
			AuthToken:       cfg.AuthToken,
			Gzip:            cfg.Compression == Gzip,
			Encoding:        cfg.ReportEncoding,
			TenantID:        cfg.TenantID,
			HTTPHeaders:     cfg.HTTPHeaders,
		},
		Reports: reports,
		From:    from,
		Until:   until,
	})
}

func (a *Agent) checkWorkerErrLocked() error {
	if a.workerErr != nil {
		return a.workerErr
	}
	return nil
}
