// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"

	"golang.org/x/time/rate"
)

// =============================================================================
// EVENT READER
// =============================================================================

const (
	dataPrefix = "data: "
	doneMarker = "[DONE]"
)

// eventReader extracts "data: " payloads from a server-sent-event style body.
// Other lines are ignored.
type eventReader struct {
	reader *bufio.Reader
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{reader: bufio.NewReader(r)}
}

// next returns the next data payload, io.EOF at the clean end of the body,
// or the read error.
func (e *eventReader) next() (string, error) {
	for {
		line, err := e.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}

		line = strings.TrimRight(line, "\r\n")
		if payload, ok := strings.CutPrefix(line, dataPrefix); ok {
			return payload, nil
		}
		if err != nil {
			return "", err
		}
	}
}

// streamFragment is one {"text": "..."} event.
type streamFragment struct {
	Text string `json:"text"`
}

// =============================================================================
// STREAM
// =============================================================================

// Stream is a single streamed reply. Snapshots may be ranged over once;
// Result reports the terminal Response.
type Stream struct {
	g    *Gateway
	ctx  context.Context
	text string
	file *Attachment

	started bool
	result  Response
}

// OpenStream prepares a streamed send of text. Nothing happens until
// Snapshots is iterated or Result is called.
func (g *Gateway) OpenStream(ctx context.Context, text string, file *Attachment) *Stream {
	return &Stream{g: g, ctx: ctx, text: text, file: file}
}

// Snapshots yields the cumulative reply text after each received fragment.
// At least one snapshot is yielded unless the caller stops early. A second
// iteration yields nothing.
func (s *Stream) Snapshots() iter.Seq[string] {
	return func(yield func(string) bool) {
		if s.started {
			return
		}
		s.started = true
		s.result = s.run(yield)
	}
}

// Result returns the terminal Response, draining the stream first if it has
// not been iterated.
func (s *Stream) Result() Response {
	if !s.started {
		for range s.Snapshots() {
		}
	}
	return s.result
}

func (s *Stream) run(yield func(string) bool) Response {
	g := s.g
	if !g.EnsureAvailability(s.ctx) {
		g.logger.Debug("sending fallback reply", "op", "stream", "reason", ErrUnavailable)
		return g.simulateStream(s.ctx, s.text, yield)
	}

	form, err := encodeForm([]formField{{"message", s.text}, {"stream", "true"}}, s.file)
	if err != nil {
		return g.streamFailure(s.text, err, yield)
	}
	httpResp, err := g.postForm(s.ctx, "/chat/stream", form)
	if err != nil {
		return g.streamFailure(s.text, err, yield)
	}
	defer httpResp.Body.Close()

	var acc strings.Builder
	emitted := false
	events := newEventReader(httpResp.Body)
	for {
		payload, err := events.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if s.ctx.Err() != nil {
				return streamAborted(acc.String())
			}
			return g.streamFailure(s.text, err, yield)
		}
		if payload == doneMarker {
			break
		}

		var frag streamFragment
		if err := json.Unmarshal([]byte(payload), &frag); err != nil || frag.Text == "" {
			continue
		}
		acc.WriteString(frag.Text)
		emitted = true
		if !yield(acc.String()) {
			return streamAborted(acc.String())
		}
	}

	if !emitted {
		yield(acc.String())
	}
	return Response{Success: true, Message: acc.String(), Metadata: map[string]any{}}
}

// streamFailure marks the backend down and emits the fallback reply once.
func (g *Gateway) streamFailure(text string, err error, yield func(string) bool) Response {
	g.markUnavailable("stream", err)
	resp := g.fallback.Respond(text)
	yield(resp.Message)
	return resp
}

// simulateStream replays the fallback reply word by word, pausing
// streamDelay before each word. It never touches the network.
func (g *Gateway) simulateStream(ctx context.Context, text string, yield func(string) bool) Response {
	resp := g.fallback.Respond(text)
	words := strings.Split(resp.Message, " ")

	limiter := rate.NewLimiter(rate.Every(g.streamDelay), 1)
	limiter.Allow()

	for i := range words {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		if !yield(strings.Join(words[:i+1], " ")) {
			break
		}
	}
	return resp
}

func streamAborted(partial string) Response {
	return Response{
		Success:  true,
		Message:  partial,
		Metadata: map[string]any{"aborted": true},
	}
}

// =============================================================================
// CALLBACK API
// =============================================================================

// SendMessageStream streams a reply to text, calling onChunk with the full
// text received so far after each fragment, and returns the final Response.
// onChunk is called at least once and must not block for long.
func (g *Gateway) SendMessageStream(ctx context.Context, text string, onChunk func(string), file *Attachment) Response {
	stream := g.OpenStream(ctx, text, file)
	for snapshot := range stream.Snapshots() {
		if onChunk != nil {
			onChunk(snapshot)
		}
	}
	return stream.Result()
}
