// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// root.go - Cobra command tree for craftchat.
//
// Running craftchat with no subcommand starts interactive chat. Every
// other command opens the same storage and gateway, does one thing, and
// exits.

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/craftchat/internal/config"
	"github.com/jeranaias/craftchat/internal/gateway"
	"github.com/jeranaias/craftchat/internal/model"
	"github.com/jeranaias/craftchat/internal/storage"
)

// Version is reported by --version.
var Version = "dev"

// rootOptions carries global flags and shared state for one invocation.
type rootOptions struct {
	cfg    *config.Config
	logger *slog.Logger

	backend  string
	storage  string
	noStream bool
	plain    bool
	json     bool

	// app, when set, is used instead of opening storage
	app *App

	out io.Writer
	err io.Writer
}

// Execute runs the craftchat command line with the loaded configuration.
func Execute(cfg *config.Config, logger *slog.Logger) error {
	opts := &rootOptions{
		cfg:    cfg,
		logger: logger,
		out:    os.Stdout,
		err:    os.Stderr,
	}
	root := newRootCmd(opts)
	err := root.Execute()
	if err != nil {
		if opts.json {
			NewJSONErrorResponse(commandName(root, os.Args[1:]), err).Print(opts.out)
		} else {
			DisplayError(opts.err, err)
		}
	}
	return err
}

func commandName(root *cobra.Command, args []string) string {
	cmd, _, err := root.Find(args)
	if err != nil || cmd == root {
		return "chat"
	}
	return cmd.Name()
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "craftchat",
		Short: "Chat with a craftchat backend from the terminal",
		Long: "craftchat keeps a local history of chats and talks to a chat backend.\n" +
			"When the backend is unreachable it answers with canned offline replies.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open()
			if err != nil {
				return err
			}
			defer opts.close(app)
			return runChat(cmd.Context(), app)
		},
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.out)
	root.SetErr(opts.err)

	// Global flags
	root.PersistentFlags().StringVar(&opts.backend, "backend", "", "backend base URL (overrides backend.url)")
	root.PersistentFlags().StringVar(&opts.storage, "storage", "", "storage driver: file, sqlite or memory")
	root.PersistentFlags().BoolVar(&opts.noStream, "no-stream", false, "wait for complete replies instead of streaming")
	root.PersistentFlags().BoolVar(&opts.plain, "plain", false, "print replies without markdown rendering")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newAskCmd(opts),
		newListCmd(opts),
		newShowCmd(opts),
		newRenameCmd(opts),
		newDeleteCmd(opts),
		newClearCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newUploadCmd(opts),
		newStatusCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// open builds the App with flag overrides applied to a copy of the config.
func (o *rootOptions) open() (*App, error) {
	if o.app != nil {
		o.app.JSON = o.json
		if o.plain {
			o.app.Plain = true
		}
		if o.noStream {
			o.app.Config.UI.Stream = false
		}
		return o.app, nil
	}

	cfg := o.cfg.Clone()
	if o.backend != "" {
		cfg.Backend.URL = o.backend
	}
	if o.storage != "" {
		cfg.Storage.Driver = o.storage
	}
	if o.noStream {
		cfg.UI.Stream = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app, err := NewApp(cfg, o.logger)
	if err != nil {
		return nil, err
	}
	app.Out = o.out
	app.Err = o.err
	app.JSON = o.json
	if o.plain {
		app.Plain = true
	}
	return app, nil
}

func (o *rootOptions) close(app *App) {
	if app == o.app {
		return
	}
	if err := app.Close(); err != nil {
		o.logger.Warn("close storage", "error", err)
	}
}

// emit prints data as JSON with --json, otherwise calls text.
func emit(app *App, command string, data interface{}, text func(w io.Writer)) error {
	if app.JSON {
		return NewJSONResponse(command, data).Print(app.Out)
	}
	text(app.Out)
	return nil
}

func streaming(app *App) bool {
	return app.Config.UI.Stream && !app.JSON
}

// =============================================================================
// ASK
// =============================================================================

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		filePath string
		resume   bool
	)
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one message and print the reply",
		Example: `  craftchat ask "What is a good name for a bakery?"
  craftchat ask --file notes.txt "Summarize this"
  craftchat ask --continue "And one more"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open()
			if err != nil {
				return err
			}
			defer opts.close(app)

			var file *gateway.Attachment
			if filePath != "" {
				file, err = gateway.OpenAttachment(filePath)
				if err != nil {
					return &NotFoundError{Resource: "file", ID: filePath}
				}
			}
			if !resume {
				app.Controller.NewChat()
			}
			return ask(cmd.Context(), app, strings.Join(args, " "), file)
		},
	}
	cmd.Flags().StringVarP(&filePath, "file", "f", "", "attach a file to the message")
	cmd.Flags().BoolVar(&resume, "continue", false, "add to the current chat instead of starting a new one")
	return cmd
}

// ask submits one turn and prints the reply.
func ask(ctx context.Context, app *App, text string, file *gateway.Attachment) error {
	var printer *streamPrinter
	var onChunk func(string)
	if streaming(app) {
		printer = &streamPrinter{w: app.Out}
		onChunk = printer.update
	}

	session, resp, err := app.Controller.Submit(ctx, text, file, onChunk)
	if err != nil {
		return &UsageError{Field: "message", Reason: err.Error(), Example: `craftchat ask "hello"`}
	}

	if app.JSON {
		return NewJSONResponse("ask", map[string]interface{}{
			"chatId":   session.ID,
			"response": resp,
		}).Print(app.Out)
	}
	if printer != nil {
		printer.finish()
	} else {
		fmt.Fprintln(app.Out, app.render(resp.Message))
	}
	if resp.IsFallback() {
		fmt.Fprintln(app.Err, WarningStyle.Render("(offline reply: backend unavailable)"))
	}
	return nil
}

// streamPrinter writes the growth of cumulative snapshots.
type streamPrinter struct {
	w       io.Writer
	printed string
}

func (p *streamPrinter) update(snapshot string) {
	if strings.HasPrefix(snapshot, p.printed) {
		fmt.Fprint(p.w, snapshot[len(p.printed):])
	} else {
		fmt.Fprint(p.w, "\n"+snapshot)
	}
	p.printed = snapshot
}

func (p *streamPrinter) finish() {
	fmt.Fprintln(p.w)
}

// =============================================================================
// HISTORY COMMANDS
// =============================================================================

// resolveChatID accepts a chat id or its 1-based position in the list.
func resolveChatID(app *App, arg string) string {
	if _, ok := app.Store.Get(arg); ok {
		return arg
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg
	}
	chats := app.Store.ListAll()
	if n < 1 || n > len(chats) {
		return arg
	}
	return chats[n-1].ID
}

// chatSummary is the JSON form of a chat in listings.
type chatSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Messages  int    `json:"messages"`
	UpdatedAt string `json:"updatedAt"`
	Current   bool   `json:"current"`
}

func summarize(chats []*model.ChatSession, currentID string) []chatSummary {
	out := make([]chatSummary, 0, len(chats))
	for _, c := range chats {
		out = append(out, chatSummary{
			ID:        c.ID,
			Title:     c.Title,
			Messages:  c.MessageCount(),
			UpdatedAt: c.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Current:   c.ID == currentID,
		})
	}
	return out
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved chats, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open()
			if err != nil {
				return err
			}
			defer opts.close(app)
			return listChats(app, search)
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "only show chats whose title or messages contain text")
	return cmd
}

func listChats(app *App, search string) error {
	chats := app.Store.ListAll()
	if search != "" {
		chats = app.Store.Search(search)
	}
	current := app.Store.CurrentID()
	return emit(app, "list", summarize(chats, current), func(w io.Writer) {
		fmt.Fprintln(w, strings.TrimRight(storage.FormatSessionList(chats, current), "\n"))
	})
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Print a chat as markdown (default: the current chat)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open()
			if err != nil {
				return err
			}
			defer opts.close(app)

			id := app.Store.CurrentID()
			if len(args) == 1 {
				id = resolveChatID(app, args[0])
			}
			chat, ok := app.Store.Get(id)
			if !ok {
				return &NotFoundError{Resource: "chat", ID: id}
			}
			return emit(app, "show", chat, func(w io.Writer) {
				fmt.Fprintln(w, app.render(storage.ExportMarkdown(chat)))
			})
		},
	}
}

func newRenameCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a chat",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open()
			if err != nil {
				return err
			}
			defer opts.close(app)

			id, title := resolveChatID(app, args[0]), strings.Join(args[1:], " ")
			if !app.Controller.Rename(id, title) {
				if _, ok := app.Store.Get(id); !ok {
					return &NotFoundError{Resource: "chat", ID: id}
				}
				return &CommandError{Command: "rename", Reason: "could not save history"}
			}
			return emit(app, "rename", map[string]string{"id": id, "title": title}, func(w io.Writer) {
				fmt.Fprintf(w, "%s Renamed %s\n", SuccessStyle.Render("[OK]"), id)
			})
		},
	}
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Delete chats",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open()
			if err != nil {
				return err
			}
			defer opts.close(app)

			for _, arg := range args {
				if !app.Controller.Delete(resolveChatID(app, arg)) {
					return &CommandError{Command: "delete", Reason: "could not save history"}
				}
			}
			return emit(app, "delete", map[string][]string{"deleted": args}, func(w io.Writer) {
				fmt.Fprintf(w, "%s Deleted %d chat(s)\n", SuccessStyle.Render("[OK]"), len(args))
			})
		},
	}
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every saved chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open()
			if err != nil {
				return err
			}
			defer opts.close(app)

			if !app.Store.ClearAll() {
				return &CommandError{Command: "clear", Reason: "could not save history"}
			}
			app.Controller.NewChat()
			return emit(app, "clear", map[string]bool{"cleared": true}, func(w io.Writer) {
				fmt.Fprintf(w, "%s History cleared\n", SuccessStyle.Render("[OK]"))
			})
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write all chats as JSON to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open()
			if err != nil {
				return err
			}
			defer opts.close(app)

			data := app.Store.Export()
			if len(args) == 0 {
				fmt.Fprintln(app.Out, data)
				return nil
			}
			if err := os.WriteFile(args[0], []byte(data), 0600); err != nil {
				return &CommandError{Command: "export", Reason: "write file", Err: err}
			}
			return emit(app, "export", map[string]string{"file": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "%s Exported history to %s\n", SuccessStyle.Render("[OK]"), args[0])
			})
		},
	}
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace all chats with a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open()
			if err != nil {
				return err
			}
			defer opts.close(app)
			return importChats(app, args[0])
		},
	}
}

func importChats(app *App, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &NotFoundError{Resource: "file", ID: path}
	}
	if !app.Store.Import(string(data)) {
		return &UsageError{Field: "import file", Value: path, Reason: "not a valid chat history export"}
	}
	app.Controller.Reload()
	count := len(app.Store.ListAll())
	return emit(app, "import", map[string]int{"imported": count}, func(w io.Writer) {
		fmt.Fprintf(w, "%s Imported %d chat(s)\n", SuccessStyle.Render("[OK]"), count)
	})
}

// =============================================================================
// BACKEND COMMANDS
// =============================================================================

func newUploadCmd(opts *rootOptions) *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Send a file to the backend for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open()
			if err != nil {
				return err
			}
			defer opts.close(app)
			return upload(cmd.Context(), app, args[0], query)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "question to ask about the file")
	return cmd
}

func upload(ctx context.Context, app *App, path, query string) error {
	file, err := gateway.OpenAttachment(path)
	if err != nil {
		return &NotFoundError{Resource: "file", ID: path}
	}
	resp := app.Controller.Upload(ctx, file, query)
	return emit(app, "upload", resp, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s (%s)\n", DimStyle.Render("Uploaded"), file.Name, gateway.FormatFileSize(file.Size))
		fmt.Fprintln(w, app.render(resp.Message))
	})
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether the backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open()
			if err != nil {
				return err
			}
			defer opts.close(app)
			return printStatus(cmd.Context(), app)
		},
	}
}

func printStatus(ctx context.Context, app *App) error {
	status := app.Gateway.Status(ctx)
	return emit(app, "status", status, func(w io.Writer) {
		fmt.Fprintln(w, TitleStyle.Render("Backend"))
		fmt.Fprintf(w, "%s%s\n", LabelStyle.Render("URL"), status.URL)
		fmt.Fprintf(w, "%s%s\n", LabelStyle.Render("Status"), statusBadge(status.Available))
		if !status.LastCheck.IsZero() {
			fmt.Fprintf(w, "%s%s\n", LabelStyle.Render("Last check"), status.LastCheck.Format("15:04:05"))
		}
		fmt.Fprintf(w, "%s%d\n", LabelStyle.Render("Saved chats"), len(app.Store.ListAll()))
	})
}

// =============================================================================
// CONFIG
// =============================================================================

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "keys",
		Short: "List setting keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, k := range config.Keys() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := opts.cfg.Get(args[0])
			if err != nil {
				return &UsageError{Field: "key", Value: args[0], Reason: err.Error(), Example: "craftchat config keys"}
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting and save the config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Edit the file's own values so env overrides are not persisted.
			next, err := config.LoadPersisted()
			if err != nil {
				return &CommandError{Command: "config set", Reason: "load config", Err: err}
			}
			if err := next.Set(args[0], args[1]); err != nil {
				return &UsageError{Field: "key", Value: args[0], Reason: err.Error(), Example: "craftchat config set backend.url http://localhost:5000"}
			}
			if err := next.Validate(); err != nil {
				return err
			}
			if err := config.Save(next); err != nil {
				return &CommandError{Command: "config set", Reason: "save config", Err: err}
			}
			if err := opts.cfg.Set(args[0], args[1]); err != nil {
				return &UsageError{Field: "key", Value: args[0], Reason: err.Error()}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", SuccessStyle.Render("[OK]"), args[0], args[1])
			return nil
		},
	})
	return cmd
}
