// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/craftchat/internal/gateway"
	"github.com/jeranaias/craftchat/internal/gateway/gatewaytest"
	"github.com/jeranaias/craftchat/internal/kv"
	"github.com/jeranaias/craftchat/internal/model"
	"github.com/jeranaias/craftchat/internal/storage"
)

func newTestController(t *testing.T) (*Controller, *storage.ChatStore, *gatewaytest.Backend) {
	t.Helper()
	backend := gatewaytest.New(t)
	store := storage.NewChatStore(kv.NewMemoryStore(0), nil)
	gw := gateway.New(&gateway.Config{BaseURL: backend.URL, StreamDelay: time.Millisecond})
	return NewController(store, gw, nil), store, backend
}

func TestSubmitRejectsBlank(t *testing.T) {
	c, store, backend := newTestController(t)

	_, _, err := c.Submit(context.Background(), "   \n", nil, nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, store.ListAll())
	assert.Zero(t, backend.Total())
}

func TestSubmitCreatesSessionLazily(t *testing.T) {
	c, store, backend := newTestController(t)
	backend.SetChatReply(http.StatusOK, `{"success":true,"response":"Hi!"}`)

	_, ok := c.Current()
	require.False(t, ok)
	assert.Empty(t, store.ListAll())

	chat, resp, err := c.Submit(context.Background(), "  Hello world  ", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi!", resp.Message)
	assert.Equal(t, "Hello world", chat.Title)
	require.Len(t, chat.Messages, 2)
	assert.Equal(t, model.TypeUser, chat.Messages[0].Type)
	assert.Equal(t, "Hello world", chat.Messages[0].Text)
	assert.Equal(t, model.TypeAssistant, chat.Messages[1].Type)

	stored, ok := store.Get(chat.ID)
	require.True(t, ok)
	assert.Len(t, stored.Messages, 2)
	assert.Equal(t, chat.ID, store.CurrentID())

	// second turn reuses the session
	chat2, _, err := c.Submit(context.Background(), "again", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, chat.ID, chat2.ID)
	assert.Len(t, chat2.Messages, 4)
	assert.Len(t, store.ListAll(), 1)
}

func TestSubmitStreaming(t *testing.T) {
	c, _, backend := newTestController(t)
	backend.SetStream(http.StatusOK, false, `data: {"text":"Hel"}`, `data: {"text":"lo"}`, `data: [DONE]`)

	var chunks []string
	chat, resp, err := c.Submit(context.Background(), "stream please", nil, func(s string) {
		chunks = append(chunks, s)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "Hello"}, chunks)
	assert.Equal(t, "Hello", resp.Message)
	assert.Equal(t, "Hello", chat.Messages[1].Text)
}

func TestSubmitOfflineStoresFallback(t *testing.T) {
	c, store, backend := newTestController(t)
	backend.SetHealthy(false)

	chat, resp, err := c.Submit(context.Background(), "hi", nil, nil)
	require.NoError(t, err)
	assert.True(t, resp.IsFallback())

	stored, _ := store.Get(chat.ID)
	assert.Equal(t, resp.Message, stored.Messages[1].Text)
}

func TestNewChatAndSelect(t *testing.T) {
	c, store, _ := newTestController(t)
	first, _, _ := c.Submit(context.Background(), "first", nil, nil)

	c.NewChat()
	assert.Equal(t, "", c.CurrentID())
	assert.Equal(t, "", store.CurrentID())
	assert.Len(t, store.ListAll(), 1)

	second, _, _ := c.Submit(context.Background(), "second", nil, nil)
	assert.NotEqual(t, first.ID, second.ID)

	require.True(t, c.Select(first.ID))
	assert.Equal(t, first.ID, store.CurrentID())
	assert.False(t, c.Select("chat_missing"))
	assert.Equal(t, first.ID, c.CurrentID())
}

func TestReloadClearsDanglingPointer(t *testing.T) {
	backend := gatewaytest.New(t)
	store := storage.NewChatStore(kv.NewMemoryStore(0), nil)
	store.SetCurrentID("chat_0_gone")

	c := NewController(store, gateway.New(&gateway.Config{BaseURL: backend.URL}), nil)
	_, ok := c.Current()
	assert.False(t, ok)
	assert.Equal(t, "", store.CurrentID())
}

func TestReloadOpensCurrent(t *testing.T) {
	backend := gatewaytest.New(t)
	store := storage.NewChatStore(kv.NewMemoryStore(0), nil)
	chat, _ := store.Create("persisted")

	c := NewController(store, gateway.New(&gateway.Config{BaseURL: backend.URL}), nil)
	assert.Equal(t, chat.ID, c.CurrentID())
}

func TestDeleteAndRenameOpenChat(t *testing.T) {
	c, store, _ := newTestController(t)
	chat, _, _ := c.Submit(context.Background(), "doomed", nil, nil)

	require.True(t, c.Rename(chat.ID, "Renamed"))
	current, _ := c.Current()
	assert.Equal(t, "Renamed", current.Title)

	require.True(t, c.Delete(chat.ID))
	assert.Equal(t, "", c.CurrentID())
	assert.Empty(t, store.ListAll())
}

func TestUploadRecordsExchange(t *testing.T) {
	c, _, backend := newTestController(t)
	backend.SetProcessFileReply(http.StatusOK, `{"success":true,"response":"2 rows"}`)
	c.Submit(context.Background(), "start", nil, nil)

	file := &gateway.Attachment{Name: "data.csv", Content: strings.NewReader("a\nb\n")}
	resp := c.Upload(context.Background(), file, "count")
	assert.True(t, resp.Success)

	chat, _ := c.Current()
	require.Len(t, chat.Messages, 4)
	assert.Equal(t, "Uploaded data.csv: count", chat.Messages[2].Text)
	assert.Equal(t, "2 rows", chat.Messages[3].Text)
}
