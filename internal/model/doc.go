// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
//
// # Key Types
//
//   - ChatSession: one conversation thread (id, title, messages, timestamps)
//   - Message: a single user or assistant turn
//   - MessageType: "user" or "assistant"
//
// Sessions are created lazily from the first user message; the title is
// derived from that message with DeriveTitle.
//
// The JSON shape matches the persisted history format:
//
//	[{"id": "chat_...", "title": "...", "messages": [{"text": "...",
//	  "type": "user", "timestamp": "..."}], "createdAt": "...", "updatedAt": "..."}]
package model
