package profileagent

import (
	"go.uber.org/zap"

	"github.com/riftline/profileagent/backend"
	"github.com/riftline/profileagent/report"
)

// Option mutates a Config during Builder construction. Chain any number of
// them into New.
type Option func(*Config)

// WithTag adds a static tag present on every sample for the life of the
// agent (use Agent.AddGlobalTag for runtime-adjustable tags instead).
func WithTag(key, value string) Option {
	return func(c *Config) { c.Tags = c.Tags.With(key, value) }
}

// WithSampleRate overrides the default 100Hz sample rate.
func WithSampleRate(hz uint32) Option {
	return func(c *Config) { c.SampleRate = hz }
}

// WithSpyName sets the free-form string identifying the backend, reported
// to the server as spyName.
func WithSpyName(name string) Option {
	return func(c *Config) { c.SpyName = name }
}

// WithAuthToken sets the bearer token sent with every ingest request.
func WithAuthToken(token string) Option {
	return func(c *Config) { c.AuthToken = token }
}

// WithCompression selects Gzip or NoCompression for Session payloads.
func WithCompression(compression Compression) Option {
	return func(c *Config) { c.Compression = compression }
}

// WithReportEncoding selects Folded or Pprof serialization.
func WithReportEncoding(encoding report.Encoding) Option {
	return func(c *Config) { c.ReportEncoding = encoding }
}

// WithTenantID sets the optional multi-tenant identifier.
func WithTenantID(id string) Option {
	return func(c *Config) { c.TenantID = id }
}

// WithHTTPHeader adds a static header sent with every ingest request.
func WithHTTPHeader(key, value string) Option {
	return func(c *Config) {
		if c.HTTPHeaders == nil {
			c.HTTPHeaders = make(map[string]string)
		}
		c.HTTPHeaders[key] = value
	}
}

// WithCycleSeconds overrides the default 10-second aligned cycle. Must
// divide 60.
func WithCycleSeconds(seconds int) Option {
	return func(c *Config) { c.CycleSeconds = seconds }
}

// Builder assembles a Config and a Backend into an Agent in the Ready
// state. The zero value is not usable — create one with New.
type Builder struct {
	cfg     Config
	backend backend.Backend
	logger  *zap.Logger
}

// New starts a Builder for the given server URL and application name, the
// two Config fields with no sensible default.
func New(serverURL, applicationName string, opts ...Option) *Builder {
	cfg := defaultConfig(serverURL, applicationName)
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Builder{cfg: cfg}
}

// WithBackend installs the sampling Backend the agent will drive. Required
// before Build.
func (b *Builder) WithBackend(be backend.Backend) *Builder {
	b.backend = be
	return b
}

// WithLogger overrides the default no-op logger with a configured one.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration, initializes the Backend, spawns the
// SessionManager, and acquires a Timer subscription — the Uninitialized ->
// Ready transition. Returns an Agent handle in the Ready
// state, or InvalidConfigError / the Backend's own initialization error.
func (b *Builder) Build() (*Agent, error) {
	if err := b.cfg.validate(); err != nil {
		return nil, err
	}
	if b.backend == nil {
		return nil, &InvalidConfigError{Field: "backend", Reason: "must be set via WithBackend"}
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return newAgent(b.cfg, b.backend, logger)
}
