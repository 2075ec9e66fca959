// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
package model

import (
	"time"
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// MessageType identifies who produced a message.
type MessageType string

const (
	TypeUser      MessageType = "user"
	TypeAssistant MessageType = "assistant"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	return t == TypeUser || t == TypeAssistant
}

// DisplayName returns a human-readable name for the sender.
func (t MessageType) DisplayName() string {
	switch t {
	case TypeUser:
		return "You"
	case TypeAssistant:
		return "Assistant"
	default:
		return string(t)
	}
}

// =============================================================================
// MESSAGE
// =============================================================================

// Message is a single turn in a chat session.
// Text is stored raw; escaping is left to whoever renders it.
type Message struct {
	Text      string      `json:"text"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(t MessageType, text string) Message {
	return Message{
		Text:      text,
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(text string) Message {
	return NewMessage(TypeUser, text)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(text string) Message {
	return NewMessage(TypeAssistant, text)
}

// Preview returns the message text truncated to maxLen runes.
func (m Message) Preview(maxLen int) string {
	runes := []rune(m.Text)
	if len(runes) <= maxLen {
		return m.Text
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
