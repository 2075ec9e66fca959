// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// TITLE TESTS
// =============================================================================

func TestDeriveTitle(t *testing.T) {
	exact := strings.Repeat("a", 50)
	over := strings.Repeat("b", 51)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"short", "Hello world", "Hello world"},
		{"exactly 50", exact, exact},
		{"51 chars", over, strings.Repeat("b", 50) + "..."},
		{"trimmed", "   padded   ", "padded"},
		{"trim before length check", "  " + exact + "  ", exact},
		{"multibyte", strings.Repeat("é", 51), strings.Repeat("é", 50) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DeriveTitle(tt.input))
		})
	}
}

// =============================================================================
// SESSION TESTS
// =============================================================================

func TestGenerateSessionID_Format(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := GenerateSessionID(now)

	require.Regexp(t, regexp.MustCompile(`^chat_1700000000123_[0-9a-z]{9}$`), id)
	require.NotEqual(t, id, GenerateSessionID(now), "random suffix should differ")
}

func TestNewChatSession(t *testing.T) {
	s := NewChatSession("Hello world")

	require.True(t, strings.HasPrefix(s.ID, "chat_"))
	require.Equal(t, "Hello world", s.Title)
	require.NotNil(t, s.Messages)
	require.Empty(t, s.Messages)
	require.Equal(t, s.CreatedAt, s.UpdatedAt)
}

func TestChatSession_SetMessagesBumpsUpdatedAt(t *testing.T) {
	s := NewChatSession("hi")
	s.CreatedAt = s.CreatedAt.Add(-time.Minute)
	s.UpdatedAt = s.CreatedAt

	msgs := []Message{NewUserMessage("hi"), NewAssistantMessage("hello")}
	s.SetMessages(msgs)

	require.Len(t, s.Messages, 2)
	require.True(t, s.UpdatedAt.After(s.CreatedAt))

	// the session keeps its own copy
	msgs[0].Text = "changed"
	require.Equal(t, "hi", s.Messages[0].Text)
}

func TestChatSession_TouchNeverPrecedesCreatedAt(t *testing.T) {
	s := NewChatSession("hi")
	s.CreatedAt = time.Now().Add(time.Hour)

	s.SetTitle("renamed")

	require.Equal(t, "renamed", s.Title)
	require.False(t, s.UpdatedAt.Before(s.CreatedAt))
}

func TestChatSession_Clone(t *testing.T) {
	s := NewChatSession("hi")
	s.SetMessages([]Message{NewUserMessage("hi")})

	clone := s.Clone()
	clone.Messages[0].Text = "mutated"

	require.Equal(t, "hi", s.Messages[0].Text)
}

func TestChatSession_JSONShape(t *testing.T) {
	s := NewChatSession("hi")
	s.SetMessages([]Message{NewUserMessage("hi")})

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"id", "title", "messages", "createdAt", "updatedAt"} {
		require.Contains(t, raw, key)
	}

	msg := raw["messages"].([]any)[0].(map[string]any)
	require.Equal(t, "hi", msg["text"])
	require.Equal(t, "user", msg["type"])
	require.Contains(t, msg, "timestamp")
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessageType(t *testing.T) {
	require.True(t, TypeUser.Valid())
	require.True(t, TypeAssistant.Valid())
	require.False(t, MessageType("system").Valid())
	require.Equal(t, "You", TypeUser.DisplayName())
}

func TestMessage_Preview(t *testing.T) {
	m := NewUserMessage("Hello, World!")
	require.Equal(t, "Hello, World!", m.Preview(20))
	require.Equal(t, "Hello, ...", m.Preview(10))
}
