// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gatewaytest provides a scriptable fake chat backend for tests.
package gatewaytest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Request is what the fake backend saw for one call.
type Request struct {
	RequestID   string
	Fields      map[string]string
	FileName    string
	FileContent string
}

type reply struct {
	status int
	body   string
}

// Backend serves /health, /chat, /chat/stream and /process-file from an
// httptest.Server. Replies are configured with the Set* methods.
type Backend struct {
	*httptest.Server

	mu           sync.Mutex
	healthStatus int
	healthDelay  time.Duration
	chat         reply
	processFile  reply
	streamStatus int
	streamLines  []string
	streamBreak  bool
	counts       map[string]int
	last         map[string]Request
}

// New starts a healthy Backend that is closed when the test ends.
func New(t testing.TB) *Backend {
	t.Helper()

	b := &Backend{
		healthStatus: http.StatusOK,
		chat:         reply{http.StatusOK, `{"success":true,"response":"ok"}`},
		processFile:  reply{http.StatusOK, `{"success":true,"response":"processed"}`},
		streamStatus: http.StatusOK,
		streamLines:  []string{"data: [DONE]"},
		counts:       make(map[string]int),
		last:         make(map[string]Request),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Get("/health", b.handleHealth)
	r.Post("/chat", b.handleReply(func() reply { return b.chat }))
	r.Post("/chat/stream", b.handleStream)
	r.Post("/process-file", b.handleReply(func() reply { return b.processFile }))

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Close)
	return b
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// SetHealthy makes /health answer 200 or 503.
func (b *Backend) SetHealthy(healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if healthy {
		b.healthStatus = http.StatusOK
	} else {
		b.healthStatus = http.StatusServiceUnavailable
	}
}

// SetHealthDelay delays every /health reply.
func (b *Backend) SetHealthDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthDelay = d
}

// SetChatReply sets the status and JSON body of /chat.
func (b *Backend) SetChatReply(status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chat = reply{status, body}
}

// SetProcessFileReply sets the status and JSON body of /process-file.
func (b *Backend) SetProcessFileReply(status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.processFile = reply{status, body}
}

// SetStream sets the status and raw body lines of /chat/stream. With
// broken set, the connection is cut after the lines are written.
func (b *Backend) SetStream(status int, broken bool, lines ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamStatus = status
	b.streamBreak = broken
	b.streamLines = lines
}

// =============================================================================
// INSPECTION
// =============================================================================

// Count returns how many times path was requested.
func (b *Backend) Count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[path]
}

// Total returns the number of requests to any path.
func (b *Backend) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.counts {
		n += c
	}
	return n
}

// Last returns the most recent request to path.
func (b *Backend) Last(path string) Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last[path]
}

// =============================================================================
// HANDLERS
// =============================================================================

func (b *Backend) record(r *http.Request) {
	req := Request{
		RequestID: r.Header.Get("X-Request-ID"),
		Fields:    map[string]string{},
	}
	if req.RequestID == "" {
		req.RequestID = middleware.GetReqID(r.Context())
	}
	if err := r.ParseMultipartForm(10 << 20); err == nil {
		for k, v := range r.MultipartForm.Value {
			if len(v) > 0 {
				req.Fields[k] = v[0]
			}
		}
		if f, hdr, err := r.FormFile("file"); err == nil {
			data, _ := io.ReadAll(f)
			f.Close()
			req.FileName = hdr.Filename
			req.FileContent = string(data)
		}
	}

	b.mu.Lock()
	b.counts[r.URL.Path]++
	b.last[r.URL.Path] = req
	b.mu.Unlock()
}

func (b *Backend) handleHealth(w http.ResponseWriter, r *http.Request) {
	b.record(r)
	b.mu.Lock()
	status, delay := b.healthStatus, b.healthDelay
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	w.WriteHeader(status)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (b *Backend) handleReply(get func() reply) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		b.mu.Lock()
		rep := get()
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rep.status)
		fmt.Fprint(w, rep.body)
	}
}

func (b *Backend) handleStream(w http.ResponseWriter, r *http.Request) {
	b.record(r)
	b.mu.Lock()
	status, lines, broken := b.streamStatus, b.streamLines, b.streamBreak
	b.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(status)
	flusher, _ := w.(http.Flusher)
	for _, line := range lines {
		fmt.Fprintf(w, "%s\n", line)
		if flusher != nil {
			flusher.Flush()
		}
	}

	if broken {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
			}
		}
	}
}
