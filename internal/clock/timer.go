// Package clock implements the aligned wall-clock periodic Timer that drives
// every Agent's sample/ship cycle. Unlike a plain time.Ticker, it fires on
// absolute boundaries (t mod period == 0), so independent agents sharing a
// period line up on the same wall-clock second instead of drifting apart
// based on when each one happened to start.
package clock

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/riftline/profileagent/model"
)

// Tick is delivered to every subscriber on each aligned boundary. From and
// Until are the UnixNano bounds of the window the tick closes: a tick at
// boundary t closes the window that began at the previous tick's Until
// ([t-period, t) for the first tick and whenever no boundary was skipped).
type Tick struct {
	From  int64
	Until int64
}

// listener is one subscriber's delivery channel. Sends are non-blocking: a
// slow subscriber drops ticks rather than stalling the others or the timer
// goroutine itself, matching the fan-out-without-backpressure requirement.
type listener struct {
	id int
	ch chan Tick
}

// Timer fires Ticks at t mod period == 0 wall-clock boundaries and fans
// them out to every attached listener. It terminates its background
// goroutine once the last listener detaches, and cannot be reused
// afterward — AttachListener on a terminated Timer returns a
// timer-terminated error.
type Timer struct {
	clock  clock.Clock
	period time.Duration
	logger *zap.Logger

	mu        sync.Mutex
	listeners map[int]listener
	nextID    int
	lastTick  int64
	stopped   bool
	done      chan struct{}
}

// New creates a Timer for the given period using the real wall clock. The
// period must divide a minute for alignment to repeat predictably across
// minute boundaries (the Builder enforces this via Config.CycleSeconds).
func New(period time.Duration, logger *zap.Logger) *Timer {
	return NewWithClock(clock.New(), period, logger)
}

// NewWithClock creates a Timer against an injected clock.Clock, letting
// tests drive alignment deterministically with a clock.Mock.
func NewWithClock(c clock.Clock, period time.Duration, logger *zap.Logger) *Timer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timer{
		clock:     c,
		period:    period,
		logger:    logger.Named("timer"),
		listeners: make(map[int]listener),
		done:      make(chan struct{}),
	}
}

// AttachListener registers a new subscriber and returns its id (for
// DropListener) and its delivery channel. The channel has capacity 1: at
// most one pending tick is buffered, so a subscriber that keeps up sees
// every boundary, while for one that falls behind the older pending tick
// stays buffered and newer ticks are dropped until it is read.
//
// Attaching the first listener starts the background alignment goroutine;
// it runs until the last listener detaches, then the Timer becomes
// terminated and this method starts returning a timer-terminated error.
func (t *Timer) AttachListener() (int, <-chan Tick, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return 0, nil, &timerTerminatedError{}
	}
	starting := len(t.listeners) == 0
	t.nextID++
	id := t.nextID
	l := listener{id: id, ch: make(chan Tick, 1)}
	t.listeners[id] = l
	if starting {
		t.done = make(chan struct{})
		go t.run()
	}
	return id, l.ch, nil
}

// DropListener detaches a subscriber. Once the last subscriber detaches the
// Timer is terminated for good, and the background goroutine exits at its
// next boundary wake-up; DropListener does not wait for that.
func (t *Timer) DropListener(id int) {
	t.mu.Lock()
	if l, ok := t.listeners[id]; ok {
		close(l.ch)
		delete(t.listeners, id)
	}
	empty := len(t.listeners) == 0
	t.mu.Unlock()
	if empty {
		t.stopTerminal()
	}
}

func (t *Timer) stopTerminal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// run is the alignment goroutine: it sleeps until the next t mod period == 0
// boundary, fires, and repeats. It never double-fires for a boundary and
// never bursts catch-up ticks if the host was suspended or starved — it
// always sleeps forward to the *next* boundary from wherever "now" is.
func (t *Timer) run() {
	defer close(t.done)
	for {
		now := t.clock.Now()
		boundary := alignNext(now, t.period)
		wait := boundary.Sub(now)
		timer := t.clock.Timer(wait)
		<-timer.C
		t.fire(boundary)
		if t.emptied() {
			return
		}
	}
}

func (t *Timer) emptied() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners) == 0
}

func (t *Timer) fire(boundary time.Time) {
	until := boundary.UnixNano()
	t.mu.Lock()
	from := t.lastTick
	if from == 0 {
		from = until - t.period.Nanoseconds()
	}
	t.lastTick = until
	ls := make([]listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		ls = append(ls, l)
	}
	t.mu.Unlock()

	tick := Tick{From: from, Until: until}
	for _, l := range ls {
		t.sendTick(l, tick)
	}
}

// sendTick delivers one tick to one listener. The listener snapshot in
// fire is taken under t.mu, but DropListener can still close this exact
// channel between that snapshot and the send below — recover turns that
// race into a harmlessly dropped tick instead of crashing the goroutine.
func (t *Timer) sendTick(l listener, tick Tick) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Debug("tick send raced a listener detach", zap.Int("listener_id", l.id))
		}
	}()
	select {
	case l.ch <- tick:
	default:
		t.logger.Warn("dropped tick for slow subscriber", zap.Int("listener_id", l.id))
	}
}

// alignNext returns the next t mod period == 0 instant strictly after now.
func alignNext(now time.Time, period time.Duration) time.Time {
	unix := now.UnixNano()
	p := period.Nanoseconds()
	next := (unix/p + 1) * p
	return time.Unix(0, next).UTC()
}

type timerTerminatedError struct{}

func (e *timerTerminatedError) Error() string { return "clock: timer is terminated" }

// State reports Stopped once the last listener has detached and Running
// otherwise, including before the first listener has attached. It never
// reports Uninitialized or Ready.
func (t *Timer) State() model.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return model.Stopped
	}
	return model.Running
}
