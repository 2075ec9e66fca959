// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// =============================================================================
// RESPONSE
// =============================================================================

// Response is the uniform result of every Gateway operation, live or not.
type Response struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata"`
}

// IsFallback reports whether the reply was generated locally.
func (r Response) IsFallback() bool {
	v, _ := r.Metadata["fallback"].(bool)
	return v
}

// Aborted reports whether the caller stopped a stream before it finished.
func (r Response) Aborted() bool {
	v, _ := r.Metadata["aborted"].(bool)
	return v
}

func failure(message string) Response {
	return Response{Success: false, Message: message, Metadata: map[string]any{}}
}

// =============================================================================
// ENVELOPE DECODING
// =============================================================================

// envelopeResult is either okEnvelope or errEnvelope.
type envelopeResult interface {
	response() Response
}

type okEnvelope struct {
	Text     string
	Metadata map[string]any
}

func (e okEnvelope) response() Response {
	return Response{Success: true, Message: e.Text, Metadata: e.Metadata}
}

type errEnvelope struct {
	Reason   string
	Metadata map[string]any
}

func (e errEnvelope) response() Response {
	return Response{Success: false, Message: e.Reason, Metadata: e.Metadata}
}

// rawEnvelope is the wire form {success, response|error, metadata?}.
type rawEnvelope struct {
	Success  *bool           `json:"success"`
	Response *string         `json:"response"`
	Error    *string         `json:"error"`
	Metadata json.RawMessage `json:"metadata"`
}

// decodeEnvelope validates a backend reply at the boundary. A success
// envelope must carry a string response; a failure envelope takes its
// reason from response, then error.
func decodeEnvelope(r io.Reader) (envelopeResult, error) {
	var raw rawEnvelope
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if raw.Success == nil {
		return nil, fmt.Errorf("%w: missing success", ErrMalformedEnvelope)
	}

	meta := map[string]any{}
	if trimmed := bytes.TrimSpace(raw.Metadata); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &meta); err != nil {
			return nil, fmt.Errorf("%w: metadata is not an object", ErrMalformedEnvelope)
		}
	}

	if *raw.Success {
		if raw.Response == nil {
			return nil, fmt.Errorf("%w: missing response", ErrMalformedEnvelope)
		}
		return okEnvelope{Text: *raw.Response, Metadata: meta}, nil
	}

	reason := "Unknown error"
	switch {
	case raw.Response != nil && *raw.Response != "":
		reason = *raw.Response
	case raw.Error != nil && *raw.Error != "":
		reason = *raw.Error
	}
	return errEnvelope{Reason: reason, Metadata: meta}, nil
}
