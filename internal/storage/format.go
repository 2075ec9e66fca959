// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/craftchat/internal/model"
)

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// FormatSessionList renders sessions as an aligned table for terminal display.
// The session matching currentID is marked with an asterisk.
func FormatSessionList(chats []*model.ChatSession, currentID string) string {
	if len(chats) == 0 {
		return "No saved chats."
	}

	var sb strings.Builder
	sb.WriteString("Saved chats:\n\n")
	sb.WriteString(fmt.Sprintf("  %-4s %s %s %s\n",
		"#", padRight("Title", 40), padRight("Messages", 9), "Updated"))
	sb.WriteString("  " + strings.Repeat("-", 72) + "\n")

	for i, chat := range chats {
		marker := " "
		if chat.ID == currentID {
			marker = "*"
		}
		sb.WriteString(fmt.Sprintf("%s %-4d %s %s %s\n",
			marker,
			i+1,
			padRight(runewidth.Truncate(chat.Title, 40, "..."), 40),
			padRight(fmt.Sprintf("%d", chat.MessageCount()), 9),
			formatAge(chat.UpdatedAt),
		))
	}
	return sb.String()
}

// ExportMarkdown renders one session as a Markdown transcript.
func ExportMarkdown(chat *model.ChatSession) string {
	var sb strings.Builder
	title := chat.Title
	if title == "" {
		title = "Untitled chat"
	}
	sb.WriteString("# " + title + "\n\n")
	sb.WriteString(fmt.Sprintf("- **ID:** `%s`\n", chat.ID))
	sb.WriteString(fmt.Sprintf("- **Created:** %s\n", chat.CreatedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("- **Updated:** %s\n", chat.UpdatedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("- **Messages:** %d\n", chat.MessageCount()))

	for _, msg := range chat.Messages {
		sb.WriteString("\n---\n\n")
		sb.WriteString(fmt.Sprintf("**%s**", msg.Type.DisplayName()))
		if !msg.Timestamp.IsZero() {
			sb.WriteString(fmt.Sprintf(" _%s_", msg.Timestamp.Format("2006-01-02 15:04")))
		}
		sb.WriteString("\n\n")
		sb.WriteString(msg.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// padRight pads s to width terminal cells, accounting for wide runes.
func padRight(s string, width int) string {
	return runewidth.FillRight(s, width)
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Local().Format("2006-01-02")
	}
}
