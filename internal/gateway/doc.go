// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway brokers calls from craftchat to the remote chat backend.
//
// The Gateway tracks whether the backend is reachable and decides, for every
// call, between the live HTTP path and a locally generated fallback reply.
// No public operation returns an error: network failures, non-2xx statuses
// and malformed envelopes all end in a displayable Response.
//
// # Backend HTTP Surface
//
//	GET  /health        2xx means reachable
//	POST /chat          multipart: message, optional file
//	POST /chat/stream   multipart: message, stream=true, optional file
//	POST /process-file  multipart: file, optional query
//
// # Availability
//
// EnsureAvailability probes /health with a hard timeout, caches the answer
// for a freshness window and never runs two probes at once.
//
// # Streaming
//
// OpenStream returns a Stream whose Snapshots sequence yields the cumulative
// reply text after each fragment. Breaking out of the loop closes the
// connection. SendMessageStream wraps the same sequence behind a callback.
//
//	stream := gw.OpenStream(ctx, "hello", nil)
//	for text := range stream.Snapshots() {
//	    render(text)
//	}
//	resp := stream.Result()
package gateway
