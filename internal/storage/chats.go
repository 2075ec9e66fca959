// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/jeranaias/craftchat/internal/kv"
	"github.com/jeranaias/craftchat/internal/logging"
	"github.com/jeranaias/craftchat/internal/model"
)

// Keys used inside the key-value store.
const (
	CollectionKey = "craftchat_chats"
	CurrentKey    = "craftchat_current_chat"
)

// =============================================================================
// CHAT STORE
// =============================================================================

// ChatStore manages the persisted chat session collection.
//
// Read-modify-write cycles are not atomic against other writers of the same
// kv.Store; a single interactive client is the expected writer.
type ChatStore struct {
	kv     kv.Store
	logger *slog.Logger
}

// NewChatStore creates a ChatStore over store and initializes the collection.
// A nil logger discards log output.
func NewChatStore(store kv.Store, logger *slog.Logger) *ChatStore {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &ChatStore{
		kv:     store,
		logger: logger.With("component", "storage"),
	}
	s.Initialize()
	return s
}

// Initialize writes an empty collection if none exists yet. It is idempotent.
func (s *ChatStore) Initialize() {
	_, err := s.kv.Get(CollectionKey)
	if err == nil {
		return
	}
	if !errors.Is(err, kv.ErrNotFound) {
		s.logger.Warn("failed to read chat collection", "error", err)
		return
	}
	if err := s.kv.Set(CollectionKey, "[]"); err != nil {
		s.logger.Warn("failed to initialize chat collection", "error", err)
	}
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// ListAll returns every session, most recently created first.
// Unreadable or corrupted history yields an empty list.
func (s *ChatStore) ListAll() []*model.ChatSession {
	return s.read()
}

// Get returns the session with the given id.
func (s *ChatStore) Get(id string) (*model.ChatSession, bool) {
	for _, chat := range s.read() {
		if chat.ID == id {
			return chat, true
		}
	}
	return nil, false
}

// CurrentID returns the current session pointer, or "" when unset.
// The pointer may reference a session that no longer exists.
func (s *ChatStore) CurrentID() string {
	id, err := s.kv.Get(CurrentKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Warn("failed to read current chat", "error", err)
		}
		return ""
	}
	return id
}

// Current resolves the current pointer. A dangling pointer reports false.
func (s *ChatStore) Current() (*model.ChatSession, bool) {
	id := s.CurrentID()
	if id == "" {
		return nil, false
	}
	return s.Get(id)
}

// Search returns sessions whose title or message text contains query,
// case-insensitively, in collection order. An empty query returns everything.
func (s *ChatStore) Search(query string) []*model.ChatSession {
	all := s.read()
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return all
	}

	var results []*model.ChatSession
	for _, chat := range all {
		if strings.Contains(strings.ToLower(chat.Title), query) {
			results = append(results, chat)
			continue
		}
		for _, msg := range chat.Messages {
			if strings.Contains(strings.ToLower(msg.Text), query) {
				results = append(results, chat)
				break
			}
		}
	}
	return results
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// SetCurrentID sets the current session pointer; "" clears it.
// The id is not checked against the collection.
func (s *ChatStore) SetCurrentID(id string) bool {
	var err error
	if id == "" {
		err = s.kv.Remove(CurrentKey)
	} else {
		err = s.kv.Set(CurrentKey, id)
	}
	if err != nil {
		s.logger.Warn("failed to write current chat", "id", id, "error", err)
		return false
	}
	return true
}

// Create starts a new session titled after firstMessage, prepends it to the
// collection and makes it current. The returned bool is false when the
// session could not be persisted.
func (s *ChatStore) Create(firstMessage string) (*model.ChatSession, bool) {
	chat := model.NewChatSession(firstMessage)

	chats := s.read()
	chats = append([]*model.ChatSession{chat}, chats...)
	if !s.write(chats) {
		return chat, false
	}
	if !s.SetCurrentID(chat.ID) {
		return chat, false
	}

	s.logger.Debug("created chat", "id", chat.ID)
	return chat.Clone(), true
}

// Update replaces the message list of session id. It reports false when the
// session does not exist or the write fails.
func (s *ChatStore) Update(id string, messages []model.Message) bool {
	return s.modify(id, func(chat *model.ChatSession) {
		chat.SetMessages(messages)
	})
}

// Rename sets the title of session id.
func (s *ChatStore) Rename(id, title string) bool {
	return s.modify(id, func(chat *model.ChatSession) {
		chat.SetTitle(title)
	})
}

// Delete removes session id and clears the current pointer if it pointed
// there. Deleting an unknown id succeeds without changes.
func (s *ChatStore) Delete(id string) bool {
	chats := s.read()
	kept := chats[:0]
	for _, chat := range chats {
		if chat.ID != id {
			kept = append(kept, chat)
		}
	}

	if len(kept) != len(chats) && !s.write(kept) {
		return false
	}
	if s.CurrentID() == id {
		return s.SetCurrentID("")
	}
	return true
}

// ClearAll empties the collection and clears the current pointer.
func (s *ChatStore) ClearAll() bool {
	if !s.write(nil) {
		return false
	}
	return s.SetCurrentID("")
}

func (s *ChatStore) modify(id string, fn func(*model.ChatSession)) bool {
	chats := s.read()
	for _, chat := range chats {
		if chat.ID == id {
			fn(chat)
			return s.write(chats)
		}
	}
	return false
}

// =============================================================================
// PERSISTENCE HELPERS
// =============================================================================

func (s *ChatStore) read() []*model.ChatSession {
	raw, err := s.kv.Get(CollectionKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Warn("failed to read chat collection", "error", err)
		}
		return []*model.ChatSession{}
	}

	var chats []*model.ChatSession
	if err := json.Unmarshal([]byte(raw), &chats); err != nil {
		s.logger.Warn("chat collection is corrupted, treating as empty", "error", err)
		return []*model.ChatSession{}
	}

	valid := chats[:0]
	for _, chat := range chats {
		if chat != nil {
			if chat.Messages == nil {
				chat.Messages = []model.Message{}
			}
			valid = append(valid, chat)
		}
	}
	if valid == nil {
		valid = []*model.ChatSession{}
	}
	return valid
}

func (s *ChatStore) write(chats []*model.ChatSession) bool {
	if chats == nil {
		chats = []*model.ChatSession{}
	}
	data, err := json.Marshal(chats)
	if err != nil {
		s.logger.Warn("failed to encode chat collection", "error", err)
		return false
	}
	if err := s.kv.Set(CollectionKey, string(data)); err != nil {
		s.logger.Warn("failed to write chat collection", "error", err)
		return false
	}
	return true
}
