// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jeranaias/craftchat/internal/chat"
	"github.com/jeranaias/craftchat/internal/config"
	"github.com/jeranaias/craftchat/internal/gateway"
	"github.com/jeranaias/craftchat/internal/kv"
	"github.com/jeranaias/craftchat/internal/logging"
	"github.com/jeranaias/craftchat/internal/storage"
)

// App holds everything a command needs for one run.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	KV         kv.Store
	Store      *storage.ChatStore
	Gateway    *gateway.Gateway
	Controller *chat.Controller

	Out io.Writer
	Err io.Writer

	// JSON selects machine-readable output
	JSON bool
	// Plain disables markdown rendering
	Plain bool
}

// NewApp opens the configured storage and builds the gateway and
// controller on top of it.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	path, err := cfg.StoragePath()
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if cfg.Storage.Driver != kv.DriverMemory && cfg.Storage.Path == "" {
		if err := config.EnsureConfigDir(); err != nil {
			return nil, fmt.Errorf("create config directory: %w", err)
		}
	}
	store, err := kv.Open(cfg.Storage.Driver, path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return NewAppWithStore(cfg, logger, store), nil
}

// NewAppWithStore builds an App on an already open store.
func NewAppWithStore(cfg *config.Config, logger *slog.Logger, store kv.Store) *App {
	if logger == nil {
		logger = logging.Discard()
	}

	gwConfig := gateway.DefaultConfig()
	gwConfig.BaseURL = cfg.Backend.URL
	gwConfig.HealthTimeout = cfg.Backend.HealthTimeout.Duration
	gwConfig.FreshnessWindow = cfg.Backend.FreshnessWindow.Duration
	gwConfig.StreamDelay = cfg.Backend.StreamDelay.Duration
	gwConfig.Logger = logger
	gw := gateway.New(gwConfig)

	chats := storage.NewChatStore(store, logger)
	return &App{
		Config:     cfg,
		Logger:     logger,
		KV:         store,
		Store:      chats,
		Gateway:    gw,
		Controller: chat.NewController(chats, gw, logger),
		Out:        os.Stdout,
		Err:        os.Stderr,
		Plain:      !cfg.UI.Markdown,
	}
}

// Close releases the storage.
func (a *App) Close() error {
	return a.KV.Close()
}

// render formats assistant text for display.
func (a *App) render(text string) string {
	if a.Plain || a.JSON || !IsStdoutTTY() {
		return text
	}
	return renderMarkdown(text)
}
