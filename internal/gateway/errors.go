// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// Sentinel errors for the live path. They are logged, never returned from
// public Gateway operations.
var (
	// ErrUnavailable is reported when the backend failed its health probe.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrMalformedEnvelope is reported when a JSON reply lacks required fields.
	ErrMalformedEnvelope = errors.New("malformed response envelope")

	// ErrBackendRejected is reported when the backend answers success=false.
	ErrBackendRejected = errors.New("backend rejected request")

	// ErrInvalidEndpoint is returned by ValidateEndpoint.
	ErrInvalidEndpoint = errors.New("endpoint must be an absolute http or https URL")
)

// StatusError is a non-2xx HTTP reply from the backend.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return "unexpected status from backend: " + e.Status
	}
	return fmt.Sprintf("unexpected status from backend: %d", e.Code)
}

// ValidateEndpoint checks that raw is an absolute http(s) URL with a host.
func ValidateEndpoint(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidEndpoint, raw)
	}
	return nil
}
