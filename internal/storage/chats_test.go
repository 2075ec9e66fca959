// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/craftchat/internal/kv"
	"github.com/jeranaias/craftchat/internal/model"
)

func newTestStore(t *testing.T) (*ChatStore, *kv.MemoryStore) {
	t.Helper()
	mem := kv.NewMemoryStore(0)
	return NewChatStore(mem, nil), mem
}

func TestInitializeIsIdempotent(t *testing.T) {
	store, mem := newTestStore(t)

	raw, err := mem.Get(CollectionKey)
	require.NoError(t, err)
	assert.Equal(t, "[]", raw)

	_, ok := store.Create("hello")
	require.True(t, ok)

	store.Initialize()
	assert.Len(t, store.ListAll(), 1)
}

func TestCreatePrependsAndSetsCurrent(t *testing.T) {
	store, _ := newTestStore(t)

	first, ok := store.Create("first chat")
	require.True(t, ok)
	second, ok := store.Create("second chat")
	require.True(t, ok)

	all := store.ListAll()
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)
	assert.Equal(t, second.ID, store.CurrentID())

	assert.Equal(t, "second chat", second.Title)
	assert.Empty(t, second.Messages)
	assert.NotNil(t, second.Messages)
	assert.Equal(t, second.CreatedAt, second.UpdatedAt)
}

func TestCreateTitleTruncation(t *testing.T) {
	store, _ := newTestStore(t)

	exact := strings.Repeat("a", 50)
	chat, _ := store.Create(exact)
	assert.Equal(t, exact, chat.Title)

	long := strings.Repeat("b", 51)
	chat, _ = store.Create(long)
	assert.Equal(t, strings.Repeat("b", 50)+"...", chat.Title)
}

func TestUpdateReplacesMessages(t *testing.T) {
	store, _ := newTestStore(t)
	chat, _ := store.Create("hi")

	msgs := []model.Message{
		model.NewUserMessage("hi"),
		model.NewAssistantMessage("hello"),
	}
	require.True(t, store.Update(chat.ID, msgs))

	got, ok := store.Get(chat.ID)
	require.True(t, ok)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hello", got.Messages[1].Text)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	before := store.ListAll()
	assert.False(t, store.Update("chat_missing", msgs))
	assert.Equal(t, before, store.ListAll())
}

func TestRenameKeepsTitleVerbatim(t *testing.T) {
	store, _ := newTestStore(t)
	chat, _ := store.Create("original")

	long := strings.Repeat("x", 80)
	require.True(t, store.Rename(chat.ID, long))

	got, _ := store.Get(chat.ID)
	assert.Equal(t, long, got.Title)
	assert.False(t, store.Rename("chat_missing", "nope"))
}

func TestDeleteClearsCurrentPointer(t *testing.T) {
	store, _ := newTestStore(t)
	first, _ := store.Create("one")
	second, _ := store.Create("two")

	require.True(t, store.Delete(second.ID))
	assert.Equal(t, "", store.CurrentID())
	assert.Len(t, store.ListAll(), 1)

	require.True(t, store.SetCurrentID(first.ID))
	require.True(t, store.Delete("chat_unknown"))
	assert.Equal(t, first.ID, store.CurrentID())
	assert.Len(t, store.ListAll(), 1)

	// deleting twice is a no-op
	require.True(t, store.Delete(second.ID))
	assert.Len(t, store.ListAll(), 1)
}

func TestClearAll(t *testing.T) {
	store, _ := newTestStore(t)
	store.Create("one")
	store.Create("two")

	require.True(t, store.ClearAll())
	assert.Empty(t, store.ListAll())
	assert.Equal(t, "", store.CurrentID())
}

func TestDanglingCurrentPointer(t *testing.T) {
	store, _ := newTestStore(t)
	require.True(t, store.SetCurrentID("chat_123_ghost"))

	assert.Equal(t, "chat_123_ghost", store.CurrentID())
	_, ok := store.Current()
	assert.False(t, ok)
}

func TestCorruptedCollectionReadsAsEmpty(t *testing.T) {
	store, mem := newTestStore(t)
	require.NoError(t, mem.Set(CollectionKey, "{not json"))

	assert.Empty(t, store.ListAll())
	_, ok := store.Get("anything")
	assert.False(t, ok)

	chat, ok := store.Create("recovered")
	require.True(t, ok)
	assert.Len(t, store.ListAll(), 1)
	assert.Equal(t, chat.ID, store.ListAll()[0].ID)
}

func TestQuotaFailureReportsFalse(t *testing.T) {
	mem := kv.NewMemoryStore(512)
	store := NewChatStore(mem, nil)

	chat, ok := store.Create("small")
	require.True(t, ok)

	huge := []model.Message{model.NewUserMessage(strings.Repeat("z", 4096))}
	assert.False(t, store.Update(chat.ID, huge))

	got, ok := store.Get(chat.ID)
	require.True(t, ok)
	assert.Empty(t, got.Messages)
}

func TestSearch(t *testing.T) {
	store, _ := newTestStore(t)
	recipes, _ := store.Create("Crafting recipes")
	other, _ := store.Create("Weather")
	store.Update(other.ID, []model.Message{model.NewUserMessage("How do I craft a TORCH?")})
	store.Create("Unrelated")

	results := store.Search("craft")
	require.Len(t, results, 2)
	assert.Equal(t, other.ID, results[0].ID)
	assert.Equal(t, recipes.ID, results[1].ID)

	assert.Len(t, store.Search("  "), 3)
	assert.Empty(t, store.Search("nothing matches"))
}

func TestExportImportRoundTrip(t *testing.T) {
	source, _ := newTestStore(t)
	a, _ := source.Create("alpha")
	source.Update(a.ID, []model.Message{
		model.NewUserMessage("alpha"),
		model.NewAssistantMessage("<b>raw</b> text"),
	})
	source.Create("beta")

	exported := source.Export()
	assert.Contains(t, exported, "\n  {")

	target, _ := newTestStore(t)
	require.True(t, target.Import(exported))
	assert.Equal(t, exported, target.Export())
	assert.Equal(t, "", target.CurrentID())
}

func TestExportEmpty(t *testing.T) {
	store, _ := newTestStore(t)
	assert.Equal(t, "[]", store.Export())
}

func TestImportRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "garbage"},
		{"object", `{"id":"x"}`},
		{"null", `null`},
		{"array of strings", `["a","b"]`},
		{"missing id", `[{"title":"t","messages":[]}]`},
		{"empty id", `[{"id":"","title":"t","messages":[]}]`},
		{"missing title", `[{"id":"a","messages":[]}]`},
		{"missing messages", `[{"id":"a","title":"t"}]`},
		{"bad message type", `[{"id":"a","title":"t","messages":[{"text":"x","type":"system"}]}]`},
		{"missing message text", `[{"id":"a","title":"t","messages":[{"type":"user"}]}]`},
		{"duplicate ids", `[{"id":"a","title":"t","messages":[]},{"id":"a","title":"u","messages":[]}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newTestStore(t)
			existing, _ := store.Create("keep me")
			before := store.Export()

			assert.False(t, store.Import(tt.data))
			assert.Equal(t, before, store.Export())
			assert.Equal(t, existing.ID, store.CurrentID())
		})
	}
}

func TestImportReplacesCollection(t *testing.T) {
	store, _ := newTestStore(t)
	old, _ := store.Create("old")

	data := `[{"id":"chat_1_abc","title":"Imported","messages":[{"text":"hi","type":"user"}],` +
		`"createdAt":"2025-01-02T03:04:05Z","updatedAt":"2025-01-01T00:00:00Z"}]`
	require.True(t, store.Import(data))

	all := store.ListAll()
	require.Len(t, all, 1)
	assert.Equal(t, "chat_1_abc", all[0].ID)
	assert.Equal(t, all[0].CreatedAt, all[0].UpdatedAt)

	// current pointer still references the replaced session
	assert.Equal(t, old.ID, store.CurrentID())
	_, ok := store.Current()
	assert.False(t, ok)
}

func TestStorePersistsAcrossFileStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	fs1, err := kv.NewFileStore(path)
	require.NoError(t, err)
	chat, ok := NewChatStore(fs1, nil).Create("persisted")
	require.True(t, ok)
	require.NoError(t, fs1.Close())

	fs2, err := kv.NewFileStore(path)
	require.NoError(t, err)
	defer fs2.Close()
	store := NewChatStore(fs2, nil)

	got, ok := store.Get(chat.ID)
	require.True(t, ok)
	assert.Equal(t, "persisted", got.Title)
	assert.Equal(t, chat.ID, store.CurrentID())
}

func TestStoredShape(t *testing.T) {
	store, mem := newTestStore(t)
	store.Create("shape")

	raw, err := mem.Get(CollectionKey)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	require.Len(t, decoded, 1)
	for _, key := range []string{"id", "title", "messages", "createdAt", "updatedAt"} {
		assert.Contains(t, decoded[0], key)
	}
}
