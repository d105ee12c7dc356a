// Package monitor discovers regulatory PDFs on listing pages and drops new ones into the raw bucket.
package monitor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/config"
	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/retry"
)

const (
	maxPageBytes     = 8 << 20
	maxDocumentBytes = 64 << 20
	defaultUserAgent = "compliagent-monitor/1.0"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectWriter stores downloaded documents.
type ObjectWriter interface {
	Put(ctx context.Context, bucket, key string, data []byte) error
	Exists(bucket, key string) bool
}

// Report summarizes one scan.
type Report struct {
	Sources    int `json:"sourcesScanned"`
	Found      int `json:"documentsFound"`
	Downloaded int `json:"newDocumentsDownloaded"`
	Skipped    int `json:"alreadyKnown"`
	Failed     int `json:"failedDownloads"`
}

// Monitor scans listing pages for PDF links.
type Monitor struct {
	objects   ObjectWriter
	bucket    string
	sources   []string
	prefix    string
	userAgent string
	interval  time.Duration
	client    *http.Client
	policy    retry.Policy
	logger    *zap.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) { m.client = c }
}

// WithRetryPolicy bounds retries of each fetch.
func WithRetryPolicy(p retry.Policy) Option {
	return func(m *Monitor) { m.policy = p }
}

// New creates a monitor writing into bucket.
func New(objects ObjectWriter, bucket string, cfg config.MonitorConfig, opts ...Option) *Monitor {
	m := &Monitor{
		objects:   objects,
		bucket:    bucket,
		sources:   cfg.Sources,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		userAgent: cfg.UserAgent,
		interval:  cfg.Interval,
		client:    &http.Client{Timeout: 60 * time.Second},
		policy:    retry.DefaultPolicy(),
		logger:    zap.NewNop(),
	}
	if m.userAgent == "" {
		m.userAgent = defaultUserAgent
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ObjectKey returns the raw-bucket key for a document URL: <prefix>/<name>.pdf. Names that
// sanitize to nothing fall back to a hash of the URL.
func (m *Monitor) ObjectKey(docURL string) string {
	name := ""
	if u, err := url.Parse(docURL); err == nil {
		name = strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	}
	name = strings.Trim(unsafeName.ReplaceAllString(name, "-"), "-.")
	if name == "" {
		sum := sha256.Sum256([]byte(docURL))
		name = hex.EncodeToString(sum[:8])
	}
	key := name + ".pdf"
	if m.prefix != "" {
		key = m.prefix + "/" + key
	}
	return key
}

// Scan fetches every source once and downloads PDFs not yet in the bucket. A source that
// cannot be fetched is logged and skipped.
func (m *Monitor) Scan(ctx context.Context) (*Report, error) {
	report := &Report{}
	for _, src := range m.sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		links, err := m.discover(ctx, src)
		if err != nil {
			m.logger.Error("failed to scan source", zap.String("source", src), zap.Error(err))
			continue
		}
		report.Sources++
		report.Found += len(links)
		for _, l := range links {
			key := m.ObjectKey(l.URL)
			if m.objects.Exists(m.bucket, key) {
				report.Skipped++
				continue
			}
			if err := m.download(ctx, l, key); err != nil {
				m.logger.Error("failed to download document", zap.String("url", l.URL), zap.Error(err))
				report.Failed++
				continue
			}
			report.Downloaded++
		}
	}
	m.logger.Info("source scan finished",
		zap.Int("sources", report.Sources),
		zap.Int("found", report.Found),
		zap.Int("downloaded", report.Downloaded),
		zap.Int("failed", report.Failed))
	return report, nil
}

// Run scans immediately and then every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) {
	if m.interval <= 0 || len(m.sources) == 0 {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if _, err := m.Scan(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) discover(ctx context.Context, source string) ([]Link, error) {
	base, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("invalid source url: %w", err)
	}
	body, err := m.fetch(ctx, source, maxPageBytes)
	if err != nil {
		return nil, err
	}
	return ExtractPDFLinks(base, bytes.NewReader(body))
}

func (m *Monitor) download(ctx context.Context, l Link, key string) error {
	data, err := m.fetch(ctx, l.URL, maxDocumentBytes)
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return fmt.Errorf("not a PDF: %s", l.URL)
	}
	if err := m.objects.Put(ctx, m.bucket, key, data); err != nil {
		return err
	}
	m.logger.Info("downloaded document", zap.String("url", l.URL), zap.String("title", l.Title), zap.String("key", key))
	return nil
}

func (m *Monitor) fetch(ctx context.Context, target string, limit int64) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, m.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fault.Unclassified("fetch", err)
		}
		req.Header.Set("User-Agent", m.userAgent)
		resp, err := m.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &fault.StatusError{StatusCode: resp.StatusCode, URL: target}
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
		if err != nil {
			return err
		}
		if int64(len(data)) > limit {
			return fault.Unclassified("fetch", fmt.Errorf("response from %s exceeds %d bytes", target, limit))
		}
		body = data
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		m.logger.Debug("fetch failed, retrying", zap.String("url", target), zap.Int("attempt", attempt), zap.Error(err))
	})
	return body, err
}
