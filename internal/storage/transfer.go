// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/craftchat/internal/model"
)

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

// Export serializes the full collection as pretty-printed JSON
// (two-space indent). Export then Import on an empty store reproduces the
// collection exactly.
func (s *ChatStore) Export() string {
	data, err := json.MarshalIndent(s.read(), "", "  ")
	if err != nil {
		s.logger.Warn("failed to export chat collection", "error", err)
		return "[]"
	}
	return string(data)
}

// Import replaces the whole collection with the sessions in data. The input
// must be a JSON array of session records; anything else is rejected and the
// stored collection is left untouched. The current pointer is not modified.
func (s *ChatStore) Import(data string) bool {
	chats, err := decodeImport(data)
	if err != nil {
		s.logger.Warn("rejected chat import", "error", err)
		return false
	}
	if !s.write(chats) {
		return false
	}
	s.logger.Info("imported chat collection", "sessions", len(chats))
	return true
}

// importRecord mirrors model.ChatSession with pointer fields so missing keys
// can be told apart from zero values.
type importRecord struct {
	ID        *string          `json:"id"`
	Title     *string          `json:"title"`
	Messages  *[]importMessage `json:"messages"`
	CreatedAt *time.Time       `json:"createdAt"`
	UpdatedAt *time.Time       `json:"updatedAt"`
}

type importMessage struct {
	Text      *string           `json:"text"`
	Type      model.MessageType `json:"type"`
	Timestamp *time.Time        `json:"timestamp"`
}

func decodeImport(data string) ([]*model.ChatSession, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("import is not a JSON array: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("import is not a JSON array")
	}

	seen := make(map[string]bool, len(raw))
	chats := make([]*model.ChatSession, 0, len(raw))
	for i, item := range raw {
		if !isJSONObject(item) {
			return nil, fmt.Errorf("record %d: not an object", i)
		}
		var rec importRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		chat, err := rec.session()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if seen[chat.ID] {
			return nil, fmt.Errorf("record %d: duplicate id %q", i, chat.ID)
		}
		seen[chat.ID] = true
		chats = append(chats, chat)
	}
	return chats, nil
}

func (r importRecord) session() (*model.ChatSession, error) {
	if r.ID == nil || *r.ID == "" {
		return nil, fmt.Errorf("missing id")
	}
	if r.Title == nil {
		return nil, fmt.Errorf("missing title")
	}
	if r.Messages == nil {
		return nil, fmt.Errorf("missing messages")
	}

	chat := &model.ChatSession{
		ID:       *r.ID,
		Title:    *r.Title,
		Messages: make([]model.Message, 0, len(*r.Messages)),
	}
	if r.CreatedAt != nil {
		chat.CreatedAt = *r.CreatedAt
	}
	if r.UpdatedAt != nil {
		chat.UpdatedAt = *r.UpdatedAt
	}
	if chat.UpdatedAt.Before(chat.CreatedAt) {
		chat.UpdatedAt = chat.CreatedAt
	}

	for j, m := range *r.Messages {
		if m.Text == nil {
			return nil, fmt.Errorf("message %d: missing text", j)
		}
		if !m.Type.Valid() {
			return nil, fmt.Errorf("message %d: invalid type %q", j, m.Type)
		}
		msg := model.Message{Text: *m.Text, Type: m.Type}
		if m.Timestamp != nil {
			msg.Timestamp = *m.Timestamp
		}
		chat.Messages = append(chat.Messages, msg)
	}
	return chat, nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{")
}
