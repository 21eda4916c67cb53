package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/codepad/internal/dispatch"
	"github.com/michaelbrown/codepad/internal/language"
	"github.com/michaelbrown/codepad/internal/session"
	"github.com/michaelbrown/codepad/internal/storage"
)

var shellLangFlag string

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Edit and run code from the terminal",
	Long: `Start an interactive editor session in the terminal.

Lines you type are added to the current buffer; commands start with ":".
The first line after a language change replaces the boilerplate.

Examples:
  codepad shell
  codepad shell --lang go`,
	RunE: runShell,
}

func init() {
	shellCmd.Flags().StringVar(&shellLangFlag, "lang", session.DefaultLanguage, "Starting language")
	rootCmd.AddCommand(shellCmd)
}

// shell is the line-oriented editor behind the shell command.
type shell struct {
	out   io.Writer
	sess  *session.Session
	langs *language.Table
	d     *dispatch.Dispatcher
	store func() (storage.Store, error)

	part  session.Part
	fresh bool // buffer still holds the boilerplate

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newShell(out io.Writer, langs *language.Table, d *dispatch.Dispatcher, key string) (*shell, error) {
	sess, err := session.New(uuid.New().String(), langs)
	if err != nil {
		return nil, err
	}
	sh := &shell{out: out, sess: sess, langs: langs, d: d, store: openStore}
	if err := sh.setLanguage(key); err != nil {
		return nil, err
	}
	return sh, nil
}

func (sh *shell) setLanguage(key string) error {
	if err := sh.sess.SetLanguage(key); err != nil {
		return err
	}
	sh.fresh = true
	sh.part = session.PartSource
	if key == language.LocalRender {
		sh.part = session.PartHTML
	}
	return nil
}

func (sh *shell) prompt() string {
	snap := sh.sess.Snapshot()
	if snap.Language == language.LocalRender {
		return fmt.Sprintf("\033[36m%s:%s>\033[0m ", snap.Language, sh.part)
	}
	return fmt.Sprintf("\033[36m%s>\033[0m ", snap.Language)
}

func (sh *shell) buffer() string {
	snap := sh.sess.Snapshot()
	switch sh.part {
	case session.PartHTML:
		return snap.Parts.HTML
	case session.PartCSS:
		return snap.Parts.CSS
	case session.PartJS:
		return snap.Parts.JS
	default:
		return snap.Source
	}
}

// appendLine adds line to the current buffer. The first line after a
// language change replaces the boilerplate.
func (sh *shell) appendLine(line string) error {
	text := line + "\n"
	if !sh.fresh {
		text = sh.buffer() + text
	}
	if err := sh.sess.Edit(sh.part, text); err != nil {
		return err
	}
	sh.fresh = false
	return nil
}

// interrupt cancels the run in flight, if any.
func (sh *shell) interrupt() {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.cancel != nil {
		sh.cancel()
	}
}

func (sh *shell) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	sh.mu.Lock()
	sh.cancel = cancel
	sh.mu.Unlock()
	defer func() {
		cancel()
		sh.mu.Lock()
		sh.cancel = nil
		sh.mu.Unlock()
	}()

	onState := func(s dispatch.State, attempt int) {
		if s == dispatch.StatePolling {
			fmt.Fprintf(sh.out, "  \033[90m│ waiting for result (%d)\033[0m\n", attempt)
		}
	}
	out, _, _ := sh.sess.Run(ctx, sh.d, onState)

	switch out.Kind {
	case dispatch.OutputError:
		fmt.Fprintf(sh.out, "\033[31m%s\033[0m\n", out.Text)
	case dispatch.OutputMarkup:
		fmt.Fprintf(sh.out, "\033[32m%s\033[0m\n", out.DataURL)
	default:
		fmt.Fprintf(sh.out, "\033[32m%s\033[0m", out.Text)
		if !strings.HasSuffix(out.Text, "\n") {
			fmt.Fprintln(sh.out)
		}
	}
}

// handle processes one input line and reports whether the shell should exit.
func (sh *shell) handle(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, ":") {
		if err := sh.appendLine(line); err != nil {
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
		return false
	}

	fields := strings.Fields(line)
	arg := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	switch strings.ToLower(fields[0]) {
	case ":quit", ":exit", ":q":
		return true
	case ":run", ":r":
		sh.run(ctx)
	case ":lang":
		if arg == "" {
			for _, d := range sh.langs.All() {
				fmt.Fprintf(sh.out, "  %-14s %s\n", d.Key, d.Name)
			}
			return false
		}
		if err := sh.setLanguage(arg); err != nil {
			fmt.Fprintf(sh.out, "error: %v\n", err)
			return false
		}
		fmt.Fprintf(sh.out, "Language set to %s; buffer reset.\n", arg)
	case ":part":
		if sh.sess.Snapshot().Language != language.LocalRender {
			fmt.Fprintln(sh.out, "error: :part only applies to html_css_js")
			return false
		}
		switch p := session.Part(arg); p {
		case session.PartHTML, session.PartCSS, session.PartJS:
			sh.part = p
			sh.fresh = true
		default:
			fmt.Fprintln(sh.out, "error: part must be html, css or js")
		}
	case ":show":
		fmt.Fprint(sh.out, sh.buffer())
		if !strings.HasSuffix(sh.buffer(), "\n") {
			fmt.Fprintln(sh.out)
		}
	case ":clear":
		sh.setLanguage(sh.sess.Snapshot().Language)
		fmt.Fprintln(sh.out, "Buffer reset.")
	case ":stdin":
		sh.sess.SetStdin(arg)
	case ":save":
		sh.save(ctx, arg)
	case ":help":
		fmt.Fprintln(sh.out, "Commands:")
		fmt.Fprintln(sh.out, "  :run            - Run the buffer")
		fmt.Fprintln(sh.out, "  :lang [key]     - List languages or switch (resets the buffer)")
		fmt.Fprintln(sh.out, "  :part html|css|js - Pick the buffer to edit for html_css_js")
		fmt.Fprintln(sh.out, "  :show           - Print the buffer")
		fmt.Fprintln(sh.out, "  :clear          - Reset the buffer to the boilerplate")
		fmt.Fprintln(sh.out, "  :stdin <text>   - Set program input")
		fmt.Fprintln(sh.out, "  :save [title]   - Save the buffer as a snippet")
		fmt.Fprintln(sh.out, "  :quit           - Exit")
	default:
		fmt.Fprintf(sh.out, "Unknown command: %s (try :help)\n", fields[0])
	}
	return false
}

func (sh *shell) save(ctx context.Context, title string) {
	store, err := sh.store()
	if err != nil {
		fmt.Fprintf(sh.out, "error: %v\n", err)
		return
	}
	defer store.Close()

	snap := sh.sess.Snapshot()
	sn := &storage.Snippet{
		ID:       uuid.New().String(),
		Title:    title,
		Language: snap.Language,
		Stdin:    snap.Stdin,
	}
	if snap.Language == language.LocalRender {
		sn.Parts = snap.Parts
	} else {
		sn.Source = snap.Source
	}
	if err := store.CreateSnippet(ctx, sn); err != nil {
		fmt.Fprintf(sh.out, "error: %v\n", err)
		return
	}
	fmt.Fprintf(sh.out, "Saved snippet %s\n", sn.ID[:8])
}

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, zap.NewNop(), nil, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	sh, err := newShell(out, rt.langs.Table(), rt.dispatcher, shellLangFlag)
	if err != nil {
		return err
	}
	defer sh.sess.Close()

	fmt.Fprintln(out, "codepad shell")
	fmt.Fprintf(out, "Executor: %s\n", cfg.Judge0.BaseURL)
	fmt.Fprintln(out, "Type :help for commands, :quit to exit")
	fmt.Fprintln(out)

	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          sh.prompt(),
		HistoryFile:     filepath.Join(home, ".codepad", "shell_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          out,
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Ctrl+C cancels the active run, not the shell.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			sh.interrupt()
		}
	}()

	ctx := cmd.Context()
	for {
		rl.SetPrompt(sh.prompt())
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Fprintln(out, "\nGoodbye!")
				return nil
			}
			return err
		}
		if strings.TrimSpace(line) == "" && sh.fresh {
			continue
		}
		if sh.handle(ctx, line) {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}
	}
}
