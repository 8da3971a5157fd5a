// Package selfmetrics collects the agent's own resource usage and exposes
// it as Prometheus gauges: operators running a fleet of embedded agents
// need to see that the agent itself isn't the thing burning CPU.
package selfmetrics

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Collector samples the host process's own CPU and memory usage on demand
// and publishes it through a dedicated Prometheus registry, so embedding
// applications can scrape it alongside their own metrics without the
// agent reaching into whatever global registry the host already uses.
type Collector struct {
	logger   *zap.Logger
	registry *prometheus.Registry
	proc     *process.Process

	cpuPercent      prometheus.Gauge
	rssBytes        prometheus.Gauge
	queueDepth      prometheus.Gauge
	sessionsSent    prometheus.Counter
	sessionsDropped prometheus.Counter
	ticksObserved   prometheus.Counter
	ingestFailures  *prometheus.CounterVec
}

// NewCollector creates a Collector for the current process. Registration
// failures (a name collision within the dedicated registry, which cannot
// happen on a fresh prometheus.NewRegistry()) are programmer errors and
// panic, matching promauto's own convention.
func NewCollector(logger *zap.Logger) (*Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	c := &Collector{
		logger:   logger.Named("selfmetrics"),
		registry: registry,
		proc:     proc,
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profileagent_self_cpu_percent",
			Help: "CPU usage of the host process, as observed by the profiling agent itself.",
		}),
		rssBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profileagent_self_rss_bytes",
			Help: "Resident set size of the host process.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profileagent_session_queue_depth",
			Help: "Number of Sessions currently waiting in the SessionManager's queue.",
		}),
		sessionsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "profileagent_sessions_sent_total",
			Help: "Sessions successfully shipped to the ingest endpoint.",
		}),
		sessionsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "profileagent_sessions_dropped_total",
			Help: "Sessions dropped due to a full queue or a failed upload.",
		}),
		ticksObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "profileagent_timer_ticks_total",
			Help: "Aligned timer ticks observed by this agent.",
		}),
		ingestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profileagent_ingest_failures_total",
			Help: "Failed ingest POSTs, labeled by response status class (4xx, 5xx, transport, local).",
		}, []string{"class"}),
	}
	registry.MustRegister(c.cpuPercent, c.rssBytes, c.queueDepth, c.sessionsSent, c.sessionsDropped,
		c.ticksObserved, c.ingestFailures)
	return c, nil
}

// Registry exposes the dedicated registry for an embedding application to
// mount on its own /metrics handler.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Sample refreshes the CPU and memory gauges. Best-effort: a failed read
// (process gone, platform unsupported) is logged and leaves the prior
// value in place rather than erroring the caller.
func (c *Collector) Sample(ctx context.Context) {
	if pct, err := c.proc.CPUPercentWithContext(ctx); err == nil {
		c.cpuPercent.Set(pct)
	} else {
		c.logger.Debug("cpu sample failed", zap.Error(err))
	}
	if mem, err := c.proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		c.rssBytes.Set(float64(mem.RSS))
	} else if err != nil {
		c.logger.Debug("memory sample failed", zap.Error(err))
	}
}

// IncSessionSent, IncSessionDropped, and IncTick record the corresponding
// counters; the Agent's control loop and the SessionManager call these as
// they run.
func (c *Collector) IncSessionSent()    { c.sessionsSent.Inc() }
func (c *Collector) IncSessionDropped() { c.sessionsDropped.Inc() }
func (c *Collector) IncTick()           { c.ticksObserved.Inc() }

// SetQueueDepth reports the SessionManager's current queue occupancy.
func (c *Collector) SetQueueDepth(n int) { c.queueDepth.Set(float64(n)) }

// IncIngestFailure records a failed ingest POST under the given status
// class ("4xx", "5xx", "transport", or "local").
func (c *Collector) IncIngestFailure(class string) { c.ingestFailures.WithLabelValues(class).Inc() }

// HostCPUCount returns the number of logical CPUs available to the host;
// zero on error.
func HostCPUCount() int {
	counts, err := cpu.Counts(true)
	if err != nil {
		return 0
	}
	return counts
}
