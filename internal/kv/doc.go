// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kv provides the durable local key-value stores that back chat history.
//
// The stores mirror the browser's localStorage contract: string keys, string
// values, synchronous reads and writes, and contents that survive restarts.
//
// # Implementations
//
//   - MemoryStore: process-local map with an optional byte quota (tests, --ephemeral)
//   - FileStore: one JSON document on disk, written atomically
//   - SQLiteStore: a single kv table in a pure Go SQLite database
//
// # Usage
//
//	store, err := kv.Open(kv.DriverFile, "~/.craftchat/history.json")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Set("craftgpt_chats", "[]")
//	value, err := store.Get("craftgpt_chats")
//
// FileStore additionally supports Watch, which reports keys changed by other
// processes sharing the same file.
package kv
