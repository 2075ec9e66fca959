// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Default values used when Config fields are left zero.
const (
	DefaultBaseURL         = "http://localhost:5000"
	DefaultHealthTimeout   = 3 * time.Second
	DefaultFreshnessWindow = 30 * time.Second
	DefaultStreamDelay     = 50 * time.Millisecond
)

// Config holds configuration options for the Gateway.
type Config struct {
	// BaseURL is the backend root (default: http://localhost:5000)
	BaseURL string

	// HealthTimeout bounds a single /health probe (default: 3s)
	HealthTimeout time.Duration

	// FreshnessWindow is how long a probe result is reused (default: 30s)
	FreshnessWindow time.Duration

	// StreamDelay paces words of a simulated fallback stream (default: 50ms)
	StreamDelay time.Duration

	// HTTPClient performs requests. Sends have no timeout of their own.
	HTTPClient *http.Client

	// Fallback generates offline replies (default: NewFallback(nil))
	Fallback *Fallback

	// Logger receives diagnostics (default: discard)
	Logger *slog.Logger

	// Now is the clock used for the freshness window (default: time.Now)
	Now func() time.Time
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         DefaultBaseURL,
		HealthTimeout:   DefaultHealthTimeout,
		FreshnessWindow: DefaultFreshnessWindow,
		StreamDelay:     DefaultStreamDelay,
	}
}

// =============================================================================
// GATEWAY
// =============================================================================

// Gateway owns the connectivity state for one backend endpoint.
//
// The Gateway is safe for concurrent use.
type Gateway struct {
	httpClient      *http.Client
	fallback        *Fallback
	logger          *slog.Logger
	now             func() time.Time
	healthTimeout   time.Duration
	freshnessWindow time.Duration
	streamDelay     time.Duration

	mu            sync.Mutex
	baseURL       string
	available     bool
	lastCheckedAt time.Time
	probeInFlight bool
	// epoch changes on SetEndpoint so stale probe results are dropped
	epoch uint64

	background sync.WaitGroup
}

// New creates a Gateway. A nil config uses DefaultConfig; zero fields are
// filled with defaults. No probe is issued until the first operation.
func New(config *Config) *Gateway {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config

	// Fill in defaults for any zero values
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.FreshnessWindow == 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	if cfg.StreamDelay == 0 {
		cfg.StreamDelay = DefaultStreamDelay
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Fallback == nil {
		cfg.Fallback = NewFallback(nil)
	}
	if cfg.Logger == nil {
		// not logging.Discard: logging imports config, which imports gateway
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Gateway{
		httpClient:      cfg.HTTPClient,
		fallback:        cfg.Fallback,
		logger:          cfg.Logger.With("component", "gateway"),
		now:             cfg.Now,
		healthTimeout:   cfg.HealthTimeout,
		freshnessWindow: cfg.FreshnessWindow,
		streamDelay:     cfg.StreamDelay,
		baseURL:         normalizeBaseURL(cfg.BaseURL),
	}
}

// Fallback returns the generator used for offline replies.
func (g *Gateway) Fallback() *Fallback {
	return g.fallback
}

// =============================================================================
// AVAILABILITY
// =============================================================================

// EnsureAvailability returns whether the backend is reachable.
//
// While another probe is running it returns the last known state at once.
// Within the freshness window it returns the cached state. Otherwise it
// probes /health, bounded by the health timeout. It never fails.
func (g *Gateway) EnsureAvailability(ctx context.Context) bool {
	g.mu.Lock()
	if g.probeInFlight {
		available := g.available
		g.mu.Unlock()
		return available
	}
	now := g.now()
	if !g.lastCheckedAt.IsZero() && now.Sub(g.lastCheckedAt) < g.freshnessWindow {
		available := g.available
		g.mu.Unlock()
		return available
	}
	g.probeInFlight = true
	prevCheckedAt := g.lastCheckedAt
	prevAvailable := g.available
	g.lastCheckedAt = now
	baseURL := g.baseURL
	epoch := g.epoch
	g.mu.Unlock()

	ok := false
	canceled := false
	defer func() {
		g.mu.Lock()
		if g.epoch == epoch {
			if canceled {
				// The caller gave up; the backend was not judged.
				g.lastCheckedAt = prevCheckedAt
			} else {
				g.available = ok
			}
		}
		g.probeInFlight = false
		g.mu.Unlock()
	}()

	err := g.probe(ctx, baseURL)
	ok = err == nil
	switch {
	case err != nil && ctx.Err() != nil:
		canceled = true
		g.logger.Debug("backend probe canceled", "url", baseURL)
		return prevAvailable
	case err != nil:
		g.logger.Debug("backend probe failed", "url", baseURL, "error", err)
	default:
		g.logger.Debug("backend probe succeeded", "url", baseURL)
	}
	return ok
}

func (g *Gateway) probe(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, g.healthTimeout)
	defer cancel()

	req, err := g.newRequest(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

// markUnavailable records a failed live call. The freshness timer is left
// alone, so the next probe happens when the window expires.
func (g *Gateway) markUnavailable(op string, err error) {
	if errors.Is(err, context.Canceled) {
		g.logger.Debug("request canceled", "op", op)
		return
	}
	g.mu.Lock()
	g.available = false
	g.mu.Unlock()
	g.logger.Warn("backend request failed, using fallback", "op", op, "error", err)
}

// =============================================================================
// ENDPOINT & STATUS
// =============================================================================

// SetEndpoint switches to a new backend URL, forgets the cached availability
// and starts a probe in the background without waiting for it.
func (g *Gateway) SetEndpoint(baseURL string) {
	g.mu.Lock()
	g.baseURL = normalizeBaseURL(baseURL)
	g.available = false
	g.lastCheckedAt = time.Time{}
	g.epoch++
	g.mu.Unlock()

	g.logger.Info("backend endpoint changed", "url", baseURL)

	g.background.Add(1)
	go func() {
		defer g.background.Done()
		g.EnsureAvailability(context.Background())
	}()
}

// Endpoint returns the current backend URL.
func (g *Gateway) Endpoint() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.baseURL
}

// Status describes the gateway's view of the backend.
type Status struct {
	Available bool      `json:"available"`
	URL       string    `json:"url"`
	LastCheck time.Time `json:"lastCheck"`
}

// Status refreshes availability if needed and reports the current state.
func (g *Gateway) Status(ctx context.Context) Status {
	g.EnsureAvailability(ctx)
	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{
		Available: g.available,
		URL:       g.baseURL,
		LastCheck: g.lastCheckedAt,
	}
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

func (g *Gateway) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// postForm sends a multipart form and returns the response when the status
// is 2xx. The caller closes the body.
func (g *Gateway) postForm(ctx context.Context, path string, form *multipartForm) (*http.Response, error) {
	g.mu.Lock()
	url := g.baseURL + path
	g.mu.Unlock()

	req, err := g.newRequest(ctx, http.MethodPost, url, form.body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.contentType)

	g.logger.Debug("backend request", "path", path, "request_id", req.Header.Get("X-Request-ID"))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return resp, nil
}

func normalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
