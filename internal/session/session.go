// Package session turns drained Backend Reports into shipped HTTP
// requests. A Session is one aligned cycle's worth of Reports; the
// SessionManager owns a bounded queue and a single worker goroutine that
// ships them to the remote ingest endpoint, fire-and-forget — a failed
// upload is logged and dropped, never retried, so a slow or unreachable
// server can never back up sampling.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/riftline/profileagent/internal/selfmetrics"
	"github.com/riftline/profileagent/internal/tagset"
	"github.com/riftline/profileagent/model"
	"github.com/riftline/profileagent/report"
)

// queueCapacity bounds the number of Sessions awaiting shipment. A cycle
// whose Session can't be enqueued because the queue is full is dropped
// rather than blocking the sampling loop.
const queueCapacity = 10

// httpTimeout bounds a single ingest POST; the client is fire-and-forget
// so there is no retry budget to justify a longer wait.
const httpTimeout = 10 * time.Second

// ingestContentType is sent on every ingest POST regardless of Encoding —
// the ingest endpoint identifies the payload's own format from the
// "format" query parameter, not Content-Type.
const ingestContentType = "binary/octet-stream"

// Config is the subset of the agent's configuration the manager needs to
// build ingest requests. It is copied by value into every Session so
// later reconfiguration never mutates an in-flight upload.
type Config struct {
	ServerURL       string
	ApplicationName string
	Tags            model.TagSet
	SampleRate      uint32
	SpyName         string
	AuthToken       string
	Gzip            bool
	Encoding        report.Encoding
	TenantID        string
	HTTPHeaders     map[string]string
}

// Session is one aligned cycle's worth of drained Reports, bounded by the
// half-open window [From, Until) of UnixNano timestamps.
type Session struct {
	Config  Config
	Reports []*report.Report
	From    int64
	Until   int64
}

// Manager owns the bounded queue and worker goroutine that ship Sessions
// to the remote server. Create with NewManager; stop with Kill.
type Manager struct {
	logger  *zap.Logger
	client  *resty.Client
	queue   chan Session
	wg      sync.WaitGroup
	metrics *selfmetrics.Collector
}

// NewManager starts the single shipping worker and returns a ready Manager.
// metrics may be nil, in which case session-shipping observability is
// simply skipped.
func NewManager(logger *zap.Logger, metrics *selfmetrics.Collector) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("session")
	client := resty.New().SetTimeout(httpTimeout)

	m := &Manager{
		logger:  logger,
		client:  client,
		queue:   make(chan Session, queueCapacity),
		metrics: metrics,
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Enqueue offers a Session to the shipping worker without blocking. If the
// queue is already full the Session is dropped and a warning is logged —
// matching the non-blocking, non-retrying shipping contract.
func (m *Manager) Enqueue(s Session) {
	select {
	case m.queue <- s:
		if m.metrics != nil {
			m.metrics.SetQueueDepth(len(m.queue))
		}
	default:
		m.logger.Warn("session queue full, dropping session",
			zap.Int64("from", s.From), zap.Int64("until", s.Until))
		if m.metrics != nil {
			m.metrics.IncSessionDropped()
		}
	}
}

// Kill closes the queue and blocks until the worker has drained every
// Session already accepted, then returns. No new Session may be enqueued
// afterward.
func (m *Manager) Kill() {
	close(m.queue)
	m.wg.Wait()
}

func (m *Manager) run() {
	defer m.wg.Done()
	for s := range m.queue {
		if m.metrics != nil {
			m.metrics.SetQueueDepth(len(m.queue))
			m.metrics.Sample(context.Background())
		}
		if err := m.ship(context.Background(), s); err != nil {
			m.logger.Warn("session upload failed", zap.Error(err),
				zap.Int64("from", s.From), zap.Int64("until", s.Until))
		}
	}
}

// ship serializes and POSTs each non-empty Report of a Session. A
// Session may carry several Reports (one per distinct tag bucket a
// Backend segregated samples into); each is shipped as its own request
// since the ingest endpoint's query parameters describe exactly one tag
// set. A failed Report does not stop the remaining ones from being
// attempted; every failure is included in the returned error.
func (m *Manager) ship(ctx context.Context, s Session) error {
	var errs []error
	for _, r := range s.Reports {
		if r.Empty() {
			continue
		}
		if err := m.shipOne(ctx, s, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) shipOne(ctx context.Context, s Session, r *report.Report) error {
	payload, err := r.Serialize(s.Config.Encoding)
	if err != nil {
		m.recordFailure("local")
		return fmt.Errorf("session: serialize: %w", err)
	}

	contentEncoding := ""
	if s.Config.Gzip {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(payload); err != nil {
			m.recordFailure("local")
			return fmt.Errorf("session: gzip: %w", err)
		}
		if err := gw.Close(); err != nil {
			m.recordFailure("local")
			return fmt.Errorf("session: gzip: %w", err)
		}
		payload = buf.Bytes()
		contentEncoding = "gzip"
	}

	endpoint := strings.TrimSuffix(s.Config.ServerURL, "/") + "/ingest"
	req := m.client.R().SetContext(ctx).SetBody(payload)

	// The Session's own tags are merged with the Report's; on a shared key
	// the Report's value wins.
	tags := make(model.TagSet, len(s.Config.Tags)+len(r.Metadata.Tags))
	for k, v := range s.Config.Tags {
		tags[k] = v
	}
	for k, v := range r.Metadata.Tags {
		tags[k] = v
	}
	name := tagset.Encode(s.Config.ApplicationName, tags)
	req.SetQueryParams(map[string]string{
		"name":       name,
		"from":       strconv.FormatInt(s.From/1e9, 10),
		"until":      strconv.FormatInt(s.Until/1e9, 10),
		"sampleRate": strconv.FormatUint(uint64(r.Metadata.SampleRate), 10),
		"spyName":    r.Metadata.SpyName,
		"format":     s.Config.Encoding.String(),
	})
	if s.Config.TenantID != "" {
		req.SetQueryParam("tenantID", s.Config.TenantID)
	}
	if contentEncoding != "" {
		req.SetHeader("Content-Encoding", contentEncoding)
	}
	req.SetHeader("Content-Type", ingestContentType)
	if s.Config.AuthToken != "" {
		req.SetAuthToken(s.Config.AuthToken)
	}
	for k, v := range s.Config.HTTPHeaders {
		req.SetHeader(k, v)
	}

	resp, err := req.Post(endpoint)
	if err != nil {
		m.recordFailure("transport")
		return fmt.Errorf("session: post %s: %w", endpoint, err)
	}
	if resp.IsError() {
		m.recordFailure(statusClass(resp.StatusCode()))
		return fmt.Errorf("session: server returned %s", resp.Status())
	}
	if m.metrics != nil {
		m.metrics.IncSessionSent()
	}
	return nil
}

func (m *Manager) recordFailure(class string) {
	if m.metrics == nil {
		return
	}
	m.metrics.IncSessionDropped()
	m.metrics.IncIngestFailure(class)
}

// statusClass buckets an ingest HTTP response status for the failure
// counter's label.
func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "other"
	}
}

// ValidateServerURL reports whether raw parses as an absolute URL, the same
// check Config validation applies once at Builder.Build time.
func ValidateServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("session: invalid server url %q", raw)
	}
	return nil
}
