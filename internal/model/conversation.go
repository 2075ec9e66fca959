// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// CHAT SESSION
// =============================================================================

// TitleMaxRunes is the number of characters kept from the first message when
// deriving a session title.
const TitleMaxRunes = 50

// titleEllipsis marks a truncated title.
const titleEllipsis = "..."

// ChatSession is one conversation thread with its message history.
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewChatSession creates an empty session titled after firstMessage.
func NewChatSession(firstMessage string) *ChatSession {
	now := time.Now().UTC()
	return &ChatSession{
		ID:        GenerateSessionID(now),
		Title:     DeriveTitle(firstMessage),
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetMessages replaces the message list wholesale and bumps UpdatedAt.
func (s *ChatSession) SetMessages(messages []Message) {
	s.Messages = append([]Message(nil), messages...)
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	s.touch()
}

// SetTitle renames the session and bumps UpdatedAt.
func (s *ChatSession) SetTitle(title string) {
	s.Title = title
	s.touch()
}

// touch keeps UpdatedAt >= CreatedAt even if the wall clock stepped back.
func (s *ChatSession) touch() {
	now := time.Now().UTC()
	if now.Before(s.CreatedAt) {
		now = s.CreatedAt
	}
	s.UpdatedAt = now
}

// MessageCount returns the number of messages in the session.
func (s *ChatSession) MessageCount() int {
	return len(s.Messages)
}

// LastMessage returns the most recent message, if any.
func (s *ChatSession) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Clone creates a deep copy of the session.
func (s *ChatSession) Clone() *ChatSession {
	clone := *s
	clone.Messages = make([]Message, len(s.Messages))
	copy(clone.Messages, s.Messages)
	return &clone
}

// =============================================================================
// HELPERS
// =============================================================================

// DeriveTitle builds a session title from the first user message: the trimmed
// text, cut to TitleMaxRunes characters with an ellipsis when it is longer.
func DeriveTitle(message string) string {
	trimmed := strings.TrimSpace(message)
	runes := []rune(trimmed)
	if len(runes) <= TitleMaxRunes {
		return trimmed
	}
	return string(runes[:TitleMaxRunes]) + titleEllipsis
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateSessionID returns "chat_<unix millis>_<9 random base36 chars>".
// Uniqueness is probabilistic, not guaranteed.
func GenerateSessionID(now time.Time) string {
	var sb strings.Builder
	sb.WriteString("chat_")
	sb.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	sb.WriteByte('_')
	max := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < 9; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			n = big.NewInt(now.UnixNano() % int64(len(idAlphabet)))
		}
		sb.WriteByte(idAlphabet[n.Int64()])
	}
	return sb.String()
}
