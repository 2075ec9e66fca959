// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/craftchat/internal/gateway/gatewaytest"
)

// fakeClock is a settable clock for freshness window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestGateway(t *testing.T, baseURL string, clock *fakeClock) *Gateway {
	t.Helper()
	if clock == nil {
		clock = newFakeClock()
	}
	return New(&Config{
		BaseURL:       baseURL,
		HealthTimeout: 200 * time.Millisecond,
		StreamDelay:   time.Millisecond,
		Fallback:      NewFallback(rand.New(rand.NewPCG(1, 2))),
		Now:           clock.Now,
	})
}

// deadURL returns a base URL nothing listens on.
func deadURL(t *testing.T) string {
	t.Helper()
	backend := gatewaytest.New(t)
	url := backend.URL
	backend.Close()
	return url
}

func TestNewFillsDefaults(t *testing.T) {
	g := New(nil)
	assert.Equal(t, DefaultBaseURL, g.Endpoint())
	assert.Equal(t, DefaultHealthTimeout, g.healthTimeout)
	assert.Equal(t, DefaultFreshnessWindow, g.freshnessWindow)
	assert.Equal(t, DefaultStreamDelay, g.streamDelay)
	assert.NotNil(t, g.Fallback())

	g = New(&Config{BaseURL: "http://example.com:5000/"})
	assert.Equal(t, "http://example.com:5000", g.Endpoint())
}

// =============================================================================
// AVAILABILITY
// =============================================================================

func TestEnsureAvailabilityCachesWithinWindow(t *testing.T) {
	backend := gatewaytest.New(t)
	clock := newFakeClock()
	g := newTestGateway(t, backend.URL, clock)
	ctx := context.Background()

	require.True(t, g.EnsureAvailability(ctx))
	require.Equal(t, 1, backend.Count("/health"))

	clock.Advance(10 * time.Second)
	assert.True(t, g.EnsureAvailability(ctx))
	assert.Equal(t, 1, backend.Count("/health"))

	clock.Advance(21 * time.Second)
	assert.True(t, g.EnsureAvailability(ctx))
	assert.Equal(t, 2, backend.Count("/health"))
}

func TestEnsureAvailabilityCachesFailure(t *testing.T) {
	backend := gatewaytest.New(t)
	backend.SetHealthy(false)
	clock := newFakeClock()
	g := newTestGateway(t, backend.URL, clock)
	ctx := context.Background()

	assert.False(t, g.EnsureAvailability(ctx))
	backend.SetHealthy(true)
	assert.False(t, g.EnsureAvailability(ctx))
	assert.Equal(t, 1, backend.Count("/health"))

	clock.Advance(DefaultFreshnessWindow)
	assert.True(t, g.EnsureAvailability(ctx))
}

func TestEnsureAvailabilityTimeout(t *testing.T) {
	backend := gatewaytest.New(t)
	backend.SetHealthDelay(2 * time.Second)
	g := newTestGateway(t, backend.URL, nil)

	start := time.Now()
	assert.False(t, g.EnsureAvailability(context.Background()))
	assert.Less(t, time.Since(start), time.Second)

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.False(t, g.probeInFlight)
}

func TestEnsureAvailabilityNetworkError(t *testing.T) {
	g := newTestGateway(t, deadURL(t), nil)
	assert.False(t, g.EnsureAvailability(context.Background()))

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.False(t, g.probeInFlight)
	assert.False(t, g.lastCheckedAt.IsZero())
}

func TestEnsureAvailabilityCallerCancelDoesNotMarkOffline(t *testing.T) {
	backend := gatewaytest.New(t)
	backend.SetHealthDelay(100 * time.Millisecond)
	g := newTestGateway(t, backend.URL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, g.EnsureAvailability(ctx))

	g.mu.Lock()
	assert.False(t, g.probeInFlight)
	assert.True(t, g.lastCheckedAt.IsZero(), "a canceled probe must not start the freshness window")
	g.mu.Unlock()

	backend.SetHealthDelay(0)
	resp := g.SendMessage(context.Background(), "hello", nil)
	assert.False(t, resp.IsFallback())
	assert.Equal(t, "ok", resp.Message)
	assert.Equal(t, 2, backend.Count("/health"))
	assert.Equal(t, 1, backend.Count("/chat"))
}

func TestEnsureAvailabilityInFlightReturnsLastKnown(t *testing.T) {
	backend := gatewaytest.New(t)
	backend.SetHealthDelay(100 * time.Millisecond)
	g := New(&Config{BaseURL: backend.URL, HealthTimeout: time.Second})

	done := make(chan bool)
	go func() { done <- g.EnsureAvailability(context.Background()) }()

	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.probeInFlight
	}, time.Second, time.Millisecond)

	// second caller does not wait for or duplicate the probe
	start := time.Now()
	assert.False(t, g.EnsureAvailability(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	assert.True(t, <-done)
	assert.Equal(t, 1, backend.Count("/health"))
}

func TestProbeSendsRequestID(t *testing.T) {
	backend := gatewaytest.New(t)
	g := newTestGateway(t, backend.URL, nil)
	g.EnsureAvailability(context.Background())

	assert.Len(t, backend.Last("/health").RequestID, 36)
}

// =============================================================================
// ENDPOINT & STATUS
// =============================================================================

func TestSetEndpointForcesReprobe(t *testing.T) {
	down := gatewaytest.New(t)
	down.SetHealthy(false)
	up := gatewaytest.New(t)

	g := newTestGateway(t, down.URL, nil)
	require.False(t, g.EnsureAvailability(context.Background()))

	g.SetEndpoint(up.URL + "/")
	g.background.Wait()

	assert.Equal(t, up.URL, g.Endpoint())
	assert.Equal(t, 1, up.Count("/health"))
	assert.True(t, g.EnsureAvailability(context.Background()))
	assert.Equal(t, 1, up.Count("/health"))
}

func TestStatus(t *testing.T) {
	backend := gatewaytest.New(t)
	clock := newFakeClock()
	g := newTestGateway(t, backend.URL, clock)

	status := g.Status(context.Background())
	assert.True(t, status.Available)
	assert.Equal(t, backend.URL, status.URL)
	assert.Equal(t, clock.Now(), status.LastCheck)
}

func TestValidateEndpoint(t *testing.T) {
	assert.NoError(t, ValidateEndpoint("http://localhost:5000"))
	assert.NoError(t, ValidateEndpoint("https://chat.example.com/api"))

	for _, bad := range []string{"", "localhost:5000", "ftp://host", "file:///etc/passwd", "http://"} {
		err := ValidateEndpoint(bad)
		assert.True(t, errors.Is(err, ErrInvalidEndpoint), bad)
	}
}

// =============================================================================
// SEND MESSAGE
// =============================================================================

func TestSendMessageUnavailableNeverCallsNetwork(t *testing.T) {
	backend := gatewaytest.New(t)
	backend.SetHealthy(false)
	g := newTestGateway(t, backend.URL, nil)

	for _, msg := range []string{"hi", "help me", "upload a csv", "anything", ""} {
		resp := g.SendMessage(context.Background(), msg, nil)
		assert.True(t, resp.Success)
		assert.True(t, resp.IsFallback())
		assert.Equal(t, false, resp.Metadata["backendAvailable"])
	}
	assert.Equal(t, 0, backend.Count("/chat"))
	assert.Equal(t, 1, backend.Total())
}

func TestSendMessageSuccess(t *testing.T) {
	backend := gatewaytest.New(t)
	backend.SetChatReply(http.StatusOK, `{"success":true,"response":"Hi from backend","metadata":{"model":"m1"}}`)
	g := newTestGateway(t, backend.URL, nil)

	resp := g.SendMessage(context.Background(), "hello", nil)
	assert.True(t, resp.Success)
	assert.Equal(t, "Hi from backend", resp.Message)
	assert.Equal(t, "m1", resp.Metadata["model"])
	assert.False(t, resp.IsFallback())
	assert.Equal(t, "hello", backend.Last("/chat").Fields["message"])
}

func TestSendMessageWithAttachment(t *testing.T) {
	backend := gatewaytest.New(t)
	g := newTestGateway(t, backend.URL, nil)

	file := &Attachment{Name: "notes.txt", Content: stringsReader("file body")}
	resp := g.SendMessage(context.Background(), "summarize", file)
	require.True(t, resp.Success)

	last := backend.Last("/chat")
	assert.Equal(t, "notes.txt", last.FileName)
	assert.Equal(t, "file body", last.FileContent)
}

func TestSendMessageFailuresFallBack(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"success":false,"error":"boom"}`},
		{"rejected", http.StatusOK, `{"success":false,"error":"bad key"}`},
		{"missing success", http.StatusOK, `{"response":"hi"}`},
		{"missing response", http.StatusOK, `{"success":true}`},
		{"not json", http.StatusOK, `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := gatewaytest.New(t)
			backend.SetChatReply(tt.status, tt.body)
			g := newTestGateway(t, backend.URL, nil)

			resp := g.SendMessage(context.Background(), "hello", nil)
			assert.True(t, resp.Success)
			assert.True(t, resp.IsFallback())
			assert.Contains(t, g.Fallback().Replies(CategoryGreeting), resp.Message)

			g.mu.Lock()
			assert.False(t, g.available)
			g.mu.Unlock()

			// still within the window: next send skips the network
			g.SendMessage(context.Background(), "hello", nil)
			assert.Equal(t, 1, backend.Count("/chat"))
		})
	}
}

// =============================================================================
// PROCESS FILE
// =============================================================================

func TestProcessFileUnavailable(t *testing.T) {
	backend := gatewaytest.New(t)
	backend.SetHealthy(false)
	g := newTestGateway(t, backend.URL, nil)

	resp := g.ProcessFile(context.Background(), &Attachment{Name: "a.csv", Content: stringsReader("x")}, "")
	assert.False(t, resp.Success)
	assert.Equal(t, MsgFileBackendUnavailable, resp.Message)
	assert.NotNil(t, resp.Metadata)
	assert.Equal(t, 0, backend.Count("/process-file"))
}

func TestProcessFile(t *testing.T) {
	backend := gatewaytest.New(t)
	backend.SetProcessFileReply(http.StatusOK, `{"success":true,"response":"3 rows","metadata":{"rows":3}}`)
	g := newTestGateway(t, backend.URL, nil)

	resp := g.ProcessFile(context.Background(), &Attachment{Name: "a.csv", Content: stringsReader("a,b\n1,2")}, "count rows")
	assert.True(t, resp.Success)
	assert.Equal(t, "3 rows", resp.Message)
	assert.EqualValues(t, 3, resp.Metadata["rows"])

	last := backend.Last("/process-file")
	assert.Equal(t, "count rows", last.Fields["query"])
	assert.Equal(t, "a.csv", last.FileName)
	assert.Equal(t, "a,b\n1,2", last.FileContent)
}

func TestProcessFileOmitsEmptyQuery(t *testing.T) {
	backend := gatewaytest.New(t)
	g := newTestGateway(t, backend.URL, nil)

	g.ProcessFile(context.Background(), &Attachment{Name: "a.pdf", Content: stringsReader("%PDF")}, "")
	_, ok := backend.Last("/process-file").Fields["query"]
	assert.False(t, ok)
}

func TestProcessFileRejectionSurfacesReason(t *testing.T) {
	backend := gatewaytest.New(t)
	backend.SetProcessFileReply(http.StatusOK, `{"success":false,"error":"Unsupported file type"}`)
	g := newTestGateway(t, backend.URL, nil)

	resp := g.ProcessFile(context.Background(), &Attachment{Name: "a.exe", Content: stringsReader("MZ")}, "")
	assert.False(t, resp.Success)
	assert.Equal(t, "Unsupported file type", resp.Message)

	// a rejection is not a connectivity failure
	g.mu.Lock()
	assert.True(t, g.available)
	g.mu.Unlock()
}

func TestProcessFileHTTPError(t *testing.T) {
	backend := gatewaytest.New(t)
	backend.SetProcessFileReply(http.StatusBadGateway, `oops`)
	g := newTestGateway(t, backend.URL, nil)

	resp := g.ProcessFile(context.Background(), &Attachment{Name: "a.csv", Content: stringsReader("x")}, "")
	assert.False(t, resp.Success)
	assert.Equal(t, MsgFileProcessingFailed, resp.Message)
}

func TestProcessFileMissingFile(t *testing.T) {
	backend := gatewaytest.New(t)
	g := newTestGateway(t, backend.URL, nil)

	resp := g.ProcessFile(context.Background(), nil, "query")
	assert.False(t, resp.Success)
	assert.Equal(t, MsgFileMissing, resp.Message)
	assert.Equal(t, 0, backend.Total())
}
