package profileagent

import (
	"net/url"
	"time"

	"github.com/riftline/profileagent/model"
	"github.com/riftline/profileagent/report"
)

// Compression selects whether Session payloads are gzip-compressed before
// being POSTed to the ingest endpoint.
type Compression int

const (
	// NoCompression ships the payload as-is.
	NoCompression Compression = iota
	// Gzip compresses the payload and sets Content-Encoding: gzip.
	Gzip
)

// Config is the agent's immutable-once-running configuration. It is built
// with a Builder and captured by value into every Session, so later
// reconfiguration (AddGlobalTag/RemoveGlobalTag) only affects the snapshot
// used by subsequent cycles — in-flight Sessions keep the tag set they were
// constructed with.
type Config struct {
	ServerURL       string
	ApplicationName string
	Tags            model.TagSet
	SampleRate      uint32
	SpyName         string
	AuthToken       string
	Compression     Compression
	ReportEncoding  report.Encoding
	TenantID        string
	HTTPHeaders     map[string]string
	CycleSeconds    int
}

// DefaultSampleRate is the default nominal sample rate, 100Hz.
const DefaultSampleRate uint32 = 100

// DefaultCycleSeconds is the default aligned-timer period; it must divide 60.
const DefaultCycleSeconds = 10

func defaultConfig(serverURL, appName string) Config {
	return Config{
		ServerURL:       serverURL,
		ApplicationName: appName,
		Tags:            make(model.TagSet),
		SampleRate:      DefaultSampleRate,
		SpyName:         "gospy",
		Compression:     NoCompression,
		ReportEncoding:  report.Folded,
		CycleSeconds:    DefaultCycleSeconds,
	}
}

// validate checks the invariants a Config must satisfy before a Builder
// can move the agent to Ready.
func (c Config) validate() error {
	if c.ApplicationName == "" {
		return &InvalidConfigError{Field: "application_name", Reason: "must not be empty"}
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || !u.IsAbs() {
		return &InvalidConfigError{Field: "server_url", Reason: "must be an absolute URL"}
	}
	if c.SampleRate == 0 {
		return &InvalidConfigError{Field: "sample_rate", Reason: "must be positive"}
	}
	if c.CycleSeconds <= 0 || 60%c.CycleSeconds != 0 {
		return &InvalidConfigError{Field: "cycle_seconds", Reason: "must be a positive divisor of 60"}
	}
	for key := range c.Tags {
		if err := validateTagKey(key); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) cycle() time.Duration {
	return time.Duration(c.CycleSeconds) * time.Second
}

// validateTagKey rejects reserved keys: empty, "__name__", or any key
// both starting and ending in "__".
func validateTagKey(key string) error {
	if key == "" {
		return &InvalidTagError{Key: key, Reason: "must not be empty"}
	}
	if key == "__name__" {
		return &InvalidTagError{Key: key, Reason: "reserved metric-name key"}
	}
	if len(key) >= 4 && key[:2] == "__" && key[len(key)-2:] == "__" {
		return &InvalidTagError{Key: key, Reason: "reserved key pattern __*__"}
	}
	return nil
}
