// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for craftchat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CRAFTCHAT_*), including values from a .env file
//   - ~/.craftchat/config.toml
//   - ~/.craftchat/config.json
//   - Built-in defaults
//
// # Example
//
//	[backend]
//	url = "http://localhost:5000"
//	health_timeout = "3s"
//	freshness_window = "30s"
//
//	[storage]
//	driver = "sqlite"
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	path, _ := cfg.StoragePath()
package config
