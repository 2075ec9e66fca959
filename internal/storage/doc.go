// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides chat history persistence for craftchat.
//
// ChatStore keeps an ordered collection of chat sessions (newest first) and a
// "current chat" pointer inside a kv.Store. Every operation reads the
// collection from the key-value store, applies its change and writes it back,
// so the store survives restarts and sees writes from other processes.
//
// # Failure Policy
//
// Storage errors never escape ChatStore. Corrupted or unreadable history is
// treated as empty and logged; failed writes make the operation report false.
//
// # Usage
//
//	chats := storage.NewChatStore(kvStore, logger)
//	session, _ := chats.Create("Hello world")
//	session.Messages = append(session.Messages, model.NewUserMessage("Hello world"))
//	chats.Update(session.ID, session.Messages)
//
// Export and import the whole history:
//
//	snapshot := chats.Export()
//	ok := other.Import(snapshot)
package storage
