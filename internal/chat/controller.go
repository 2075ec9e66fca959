// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat ties the chat history store and the backend gateway together
// into the conversation flow used by the command line interface.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jeranaias/craftchat/internal/gateway"
	"github.com/jeranaias/craftchat/internal/logging"
	"github.com/jeranaias/craftchat/internal/model"
	"github.com/jeranaias/craftchat/internal/storage"
)

// ErrEmptyMessage is returned by Submit for blank input.
var ErrEmptyMessage = errors.New("message is empty")

// WelcomePrompts are suggestions shown when no chat is open.
var WelcomePrompts = []string{
	"Create an image for me",
	"Help me brainstorm ideas",
	"Make a plan for me",
	"Analyze this data",
	"Help me write",
}

// Controller tracks the open chat and runs one user turn at a time.
//
// A Controller is not safe for concurrent use.
type Controller struct {
	store  *storage.ChatStore
	gw     *gateway.Gateway
	logger *slog.Logger

	// session is nil until the first message of a new chat is submitted
	session *model.ChatSession
}

// NewController creates a Controller and opens the store's current chat,
// if it still exists.
func NewController(store *storage.ChatStore, gw *gateway.Gateway, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = logging.Discard()
	}
	c := &Controller{
		store:  store,
		gw:     gw,
		logger: logger.With("component", "chat"),
	}
	c.Reload()
	return c
}

// Reload re-reads the current chat from the store. A dangling current
// pointer is cleared.
func (c *Controller) Reload() {
	id := c.store.CurrentID()
	if id == "" {
		c.session = nil
		return
	}
	if !c.Select(id) {
		c.logger.Info("current chat no longer exists", "id", id)
		c.NewChat()
	}
}

// Select opens the chat with the given id and makes it current.
func (c *Controller) Select(id string) bool {
	chat, ok := c.store.Get(id)
	if !ok {
		return false
	}
	c.session = chat
	c.store.SetCurrentID(id)
	return true
}

// NewChat closes the open chat. No session is created until the next Submit.
func (c *Controller) NewChat() {
	c.session = nil
	c.store.SetCurrentID("")
}

// Current returns a copy of the open chat.
func (c *Controller) Current() (*model.ChatSession, bool) {
	if c.session == nil {
		return nil, false
	}
	return c.session.Clone(), true
}

// CurrentID returns the open chat's id, or "".
func (c *Controller) CurrentID() string {
	if c.session == nil {
		return ""
	}
	return c.session.ID
}

// Delete removes a chat, closing it first when it is open.
func (c *Controller) Delete(id string) bool {
	if c.CurrentID() == id {
		c.session = nil
	}
	return c.store.Delete(id)
}

// Rename retitles a chat and keeps the open copy in sync.
func (c *Controller) Rename(id, title string) bool {
	if !c.store.Rename(id, title) {
		return false
	}
	if c.CurrentID() == id {
		c.session.SetTitle(title)
	}
	return true
}

// Submit runs one turn: it creates the chat on its first message, records
// the user message, sends it to the gateway and records the reply. With a
// non-nil onChunk the reply is streamed.
//
// The returned session reflects both messages even when saving failed.
func (c *Controller) Submit(ctx context.Context, text string, file *gateway.Attachment, onChunk func(string)) (*model.ChatSession, gateway.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, gateway.Response{}, ErrEmptyMessage
	}

	if c.session == nil {
		chat, ok := c.store.Create(text)
		if !ok {
			c.logger.Warn("chat could not be saved, continuing unsaved", "id", chat.ID)
		}
		c.session = chat
	}

	c.append(model.NewUserMessage(text))

	var resp gateway.Response
	if onChunk != nil {
		resp = c.gw.SendMessageStream(ctx, text, onChunk, file)
	} else {
		resp = c.gw.SendMessage(ctx, text, file)
	}

	c.append(model.NewAssistantMessage(resp.Message))
	return c.session.Clone(), resp, nil
}

// Upload sends a file to the backend for processing and records the
// exchange in the open chat, if any.
func (c *Controller) Upload(ctx context.Context, file *gateway.Attachment, query string) gateway.Response {
	resp := c.gw.ProcessFile(ctx, file, query)
	if c.session != nil && file != nil {
		prompt := "Uploaded " + file.Name
		if query != "" {
			prompt += ": " + query
		}
		c.append(model.NewUserMessage(prompt))
		c.append(model.NewAssistantMessage(resp.Message))
	}
	return resp
}

func (c *Controller) append(msg model.Message) {
	messages := append(c.session.Messages, msg)
	c.session.SetMessages(messages)
	if !c.store.Update(c.session.ID, c.session.Messages) {
		c.logger.Warn("failed to save chat", "id", c.session.ID)
	}
}
