// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the craftchat command line.
//
// Running craftchat with no command starts the interactive chat REPL.
// The remaining commands work on saved chats without entering it:
//
//	craftchat ask "question"          Send one message and print the reply
//	craftchat list [--search text]    List saved chats
//	craftchat show <id>               Print a chat as markdown
//	craftchat rename <id> <title>     Rename a chat
//	craftchat delete <id>             Delete a chat
//	craftchat clear                   Delete every chat
//	craftchat export [file]           Write all chats as JSON
//	craftchat import <file>           Replace all chats from JSON
//	craftchat upload <file>           Send a file to the backend
//	craftchat status                  Show backend availability
//	craftchat config get|set|keys     Inspect or change settings
//
// Global flags --backend, --storage, --no-stream, --plain and --json
// override the loaded configuration for one run.
package cli
