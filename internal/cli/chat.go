// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL.
//
// Interactive Commands (during chat):
//   /help, /h              Show available commands
//   /new, /n               Start a new chat
//   /list, /l [text]       List saved chats, optionally filtered
//   /open, /o <id|#>       Switch to a saved chat
//   /rename <title>        Rename the current chat
//   /delete [id|#]         Delete a chat (default: current)
//   /clear                 Delete every saved chat
//   /export <file>         Write all chats to a JSON file
//   /import <file>         Replace all chats from a JSON file
//   /upload <file> [query] Send a file to the backend
//   /attach <file>         Attach a file to the next message
//   /status, /s            Show backend status
//   /endpoint [url]        Show or change the backend URL
//   /quit, /q              Exit chat
//   Ctrl+C                 Cancel the current reply
//   Ctrl+D                 Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/peterh/liner"

	"github.com/jeranaias/craftchat/internal/chat"
	"github.com/jeranaias/craftchat/internal/config"
	"github.com/jeranaias/craftchat/internal/gateway"
	"github.com/jeranaias/craftchat/internal/kv"
	"github.com/jeranaias/craftchat/internal/storage"
)

// errQuit ends the REPL.
var errQuit = errors.New("quit")

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI and loads saved input history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeSlash)

	historyFile, err := config.HistoryPath()
	if err != nil {
		historyFile = ""
	}

	cli := &ChatCLI{
		line:        line,
		historyFile: historyFile,
	}
	cli.LoadHistory()
	return cli
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if c.historyFile == "" {
		return
	}
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory writes input history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if c.historyFile == "" {
		return
	}
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

func completeSlash(line string) []string {
	if !strings.HasPrefix(line, "/") || strings.Contains(line, " ") {
		return nil
	}
	var out []string
	for _, cmd := range slashCommands {
		if strings.HasPrefix(cmd.name, line) {
			out = append(out, cmd.name)
		}
	}
	return out
}

// =============================================================================
// REPL
// =============================================================================

// session is the REPL state that outlives one input line.
type session struct {
	app *App

	// attachment is sent with the next message
	attachment *gateway.Attachment

	// changed is set by the history file watcher
	changed atomic.Bool
}

// runChat starts the interactive REPL.
func runChat(ctx context.Context, app *App) error {
	if !IsTTY() {
		return &UsageError{
			Field:   "terminal",
			Reason:  "interactive chat needs a terminal",
			Example: `craftchat ask "hello"`,
		}
	}

	s := &session{app: app}
	if fs, ok := app.KV.(*kv.FileStore); ok {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := fs.Watch(watchCtx, func(keys []string) { s.changed.Store(true) }); err != nil {
			app.Logger.Warn("history watch disabled", "error", err)
		}
	}

	input := NewChatCLI()
	defer input.Close()

	printWelcome(s)

	for {
		if s.changed.Swap(false) {
			app.Controller.Reload()
			fmt.Fprintln(app.Out, DimStyle.Render("History changed in another window; reloaded."))
		}

		line, err := input.ReadInput(PromptStyle.Render("craftchat> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or a closed terminal
			fmt.Fprintln(app.Out)
			return nil
		}

		err = s.handleLine(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			DisplayError(app.Err, err)
		}
	}
}

// handleLine runs one line of REPL input.
func (s *session) handleLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case strings.HasPrefix(line, "/"):
		return s.handleSlashCommand(ctx, line)
	case strings.EqualFold(line, "exit"), strings.EqualFold(line, "quit"):
		return errQuit
	}
	return s.send(ctx, line)
}

// send submits one message, cancelling the reply on Ctrl+C.
func (s *session) send(ctx context.Context, text string) error {
	app := s.app
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	file := s.attachment
	s.attachment = nil

	fmt.Fprintln(app.Out, AssistantStyle.Render("Assistant:"))
	var printer *streamPrinter
	var onChunk func(string)
	if streaming(app) {
		printer = &streamPrinter{w: app.Out}
		onChunk = printer.update
	}

	_, resp, err := app.Controller.Submit(turnCtx, text, file, onChunk)
	if err != nil {
		return err
	}
	if printer != nil {
		printer.finish()
	} else {
		fmt.Fprintln(app.Out, app.render(resp.Message))
	}

	switch {
	case resp.Aborted():
		fmt.Fprintln(app.Out, WarningStyle.Render("[Cancelled]"))
	case resp.IsFallback():
		fmt.Fprintln(app.Out, DimStyle.Render("(offline reply: backend unavailable)"))
	}
	fmt.Fprintln(app.Out)
	return nil
}

// welcomePreviewRunes bounds the last-message preview shown on resume.
const welcomePreviewRunes = 60

func printWelcome(s *session) {
	app := s.app
	w := app.Out
	fmt.Fprintln(w, TitleStyle.Render("craftchat"))
	fmt.Fprintf(w, "%s %s\n", DimStyle.Render("Backend:"), app.Gateway.Endpoint())

	if current, ok := app.Controller.Current(); ok {
		fmt.Fprintf(w, "%s %s (%d messages)\n", DimStyle.Render("Resuming:"), current.Title, current.MessageCount())
		if last, ok := current.LastMessage(); ok {
			preview := strings.Join(strings.Fields(last.Preview(welcomePreviewRunes)), " ")
			fmt.Fprintf(w, "  %s %s\n", DimStyle.Render(last.Type.DisplayName()+":"), preview)
		}
	} else {
		fmt.Fprintln(w, DimStyle.Render("Try one of these to get started:"))
		for _, prompt := range chat.WelcomePrompts {
			fmt.Fprintf(w, "  - %s\n", prompt)
		}
	}
	fmt.Fprintln(w, DimStyle.Render("Type /help for commands, /quit to exit."))
	fmt.Fprintln(w)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

type slashCommand struct {
	name    string
	aliases []string
	usage   string
	help    string
	run     func(s *session, ctx context.Context, args []string) error
}

var slashCommands []slashCommand

func init() {
	slashCommands = []slashCommand{
		{name: "/help", aliases: []string{"/h", "/?"}, help: "Show available commands", run: (*session).cmdHelp},
		{name: "/new", aliases: []string{"/n"}, help: "Start a new chat", run: (*session).cmdNew},
		{name: "/list", aliases: []string{"/l"}, usage: "[text]", help: "List saved chats", run: (*session).cmdList},
		{name: "/open", aliases: []string{"/o"}, usage: "<id>", help: "Switch to a saved chat", run: (*session).cmdOpen},
		{name: "/rename", usage: "<title>", help: "Rename the current chat", run: (*session).cmdRename},
		{name: "/delete", usage: "[id]", help: "Delete a chat (default: current)", run: (*session).cmdDelete},
		{name: "/clear", help: "Delete every saved chat", run: (*session).cmdClear},
		{name: "/export", usage: "<file>", help: "Write all chats to a JSON file", run: (*session).cmdExport},
		{name: "/import", usage: "<file>", help: "Replace all chats from a JSON file", run: (*session).cmdImport},
		{name: "/upload", usage: "<file> [query]", help: "Send a file to the backend", run: (*session).cmdUpload},
		{name: "/attach", usage: "<file>", help: "Attach a file to the next message", run: (*session).cmdAttach},
		{name: "/status", aliases: []string{"/s"}, help: "Show backend status", run: (*session).cmdStatus},
		{name: "/endpoint", usage: "[url]", help: "Show or change the backend URL", run: (*session).cmdEndpoint},
		{name: "/quit", aliases: []string{"/q", "/exit"}, help: "Exit chat", run: (*session).cmdQuit},
	}
}

func findSlashCommand(name string) (slashCommand, bool) {
	name = strings.ToLower(name)
	for _, cmd := range slashCommands {
		if cmd.name == name {
			return cmd, true
		}
		for _, alias := range cmd.aliases {
			if alias == name {
				return cmd, true
			}
		}
	}
	return slashCommand{}, false
}

// handleSlashCommand runs a "/" command. It returns errQuit to end the REPL.
func (s *session) handleSlashCommand(ctx context.Context, input string) error {
	fields := strings.Fields(input)
	cmd, ok := findSlashCommand(fields[0])
	if !ok {
		return &UsageError{Field: "command", Value: fields[0], Reason: "unknown command", Example: "/help"}
	}
	return cmd.run(s, ctx, fields[1:])
}

func (s *session) cmdHelp(_ context.Context, _ []string) error {
	w := s.app.Out
	fmt.Fprintln(w, TitleStyle.Render("Commands"))
	for _, cmd := range slashCommands {
		name := cmd.name
		if cmd.usage != "" {
			name += " " + cmd.usage
		}
		fmt.Fprintf(w, "  %-24s %s\n", CommandStyle.Render(name), cmd.help)
	}
	return nil
}

func (s *session) cmdNew(_ context.Context, _ []string) error {
	s.app.Controller.NewChat()
	fmt.Fprintln(s.app.Out, DimStyle.Render("Started a new chat."))
	return nil
}

func (s *session) cmdList(_ context.Context, args []string) error {
	return listChats(s.app, strings.Join(args, " "))
}

func (s *session) cmdOpen(_ context.Context, args []string) error {
	if len(args) != 1 {
		return &UsageError{Field: "arguments", Reason: "expected a chat id", Example: "/open <id>"}
	}
	if !s.app.Controller.Select(resolveChatID(s.app, args[0])) {
		return &NotFoundError{Resource: "chat", ID: args[0]}
	}
	current, _ := s.app.Controller.Current()
	fmt.Fprintln(s.app.Out, s.app.render(storage.ExportMarkdown(current)))
	return nil
}

func (s *session) cmdRename(_ context.Context, args []string) error {
	id := s.app.Controller.CurrentID()
	if id == "" {
		return &UsageError{Field: "chat", Reason: "no chat is open"}
	}
	if len(args) == 0 {
		return &UsageError{Field: "arguments", Reason: "expected a title", Example: "/rename Trip ideas"}
	}
	if !s.app.Controller.Rename(id, strings.Join(args, " ")) {
		return &CommandError{Command: "rename", Reason: "could not save history"}
	}
	fmt.Fprintln(s.app.Out, DimStyle.Render("Renamed."))
	return nil
}

func (s *session) cmdDelete(_ context.Context, args []string) error {
	id := s.app.Controller.CurrentID()
	if len(args) > 0 {
		id = resolveChatID(s.app, args[0])
	}
	if id == "" {
		return &UsageError{Field: "chat", Reason: "no chat is open", Example: "/delete <id>"}
	}
	if !s.app.Controller.Delete(id) {
		return &CommandError{Command: "delete", Reason: "could not save history"}
	}
	fmt.Fprintf(s.app.Out, "%s %s\n", DimStyle.Render("Deleted"), id)
	return nil
}

func (s *session) cmdClear(_ context.Context, _ []string) error {
	if !s.app.Store.ClearAll() {
		return &CommandError{Command: "clear", Reason: "could not save history"}
	}
	s.app.Controller.NewChat()
	fmt.Fprintln(s.app.Out, DimStyle.Render("History cleared."))
	return nil
}

func (s *session) cmdExport(_ context.Context, args []string) error {
	if len(args) != 1 {
		return &UsageError{Field: "arguments", Reason: "expected a file name", Example: "/export chats.json"}
	}
	if err := os.WriteFile(args[0], []byte(s.app.Store.Export()), 0600); err != nil {
		return &CommandError{Command: "export", Reason: "write file", Err: err}
	}
	fmt.Fprintf(s.app.Out, "%s %s\n", DimStyle.Render("Exported to"), args[0])
	return nil
}

func (s *session) cmdImport(_ context.Context, args []string) error {
	if len(args) != 1 {
		return &UsageError{Field: "arguments", Reason: "expected a file name", Example: "/import chats.json"}
	}
	return importChats(s.app, args[0])
}

func (s *session) cmdUpload(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return &UsageError{Field: "arguments", Reason: "expected a file name", Example: "/upload report.pdf summarize it"}
	}
	return upload(ctx, s.app, args[0], strings.Join(args[1:], " "))
}

func (s *session) cmdAttach(_ context.Context, args []string) error {
	if len(args) != 1 {
		return &UsageError{Field: "arguments", Reason: "expected a file name", Example: "/attach notes.txt"}
	}
	file, err := gateway.OpenAttachment(args[0])
	if err != nil {
		return &NotFoundError{Resource: "file", ID: args[0]}
	}
	s.attachment = file
	fmt.Fprintf(s.app.Out, "%s %s (%s)\n", DimStyle.Render("Attached"), file.Name, gateway.FormatFileSize(file.Size))
	return nil
}

func (s *session) cmdStatus(ctx context.Context, _ []string) error {
	return printStatus(ctx, s.app)
}

func (s *session) cmdEndpoint(_ context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(s.app.Out, s.app.Gateway.Endpoint())
		return nil
	}
	if err := gateway.ValidateEndpoint(args[0]); err != nil {
		return &UsageError{Field: "endpoint", Value: args[0], Reason: err.Error(), Example: "/endpoint http://localhost:5000"}
	}
	s.app.Gateway.SetEndpoint(args[0])
	fmt.Fprintf(s.app.Out, "%s %s\n", DimStyle.Render("Backend set to"), s.app.Gateway.Endpoint())
	return nil
}

func (s *session) cmdQuit(_ context.Context, _ []string) error {
	return errQuit
}
