package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/app"
	"github.com/rhuss/plauder/pkg/chat"
	"github.com/rhuss/plauder/pkg/provider"
)

var chatNoHistory bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Long: `Start an interactive chat with the configured model.

The model is loaded first, with progress shown on stderr. Replies stream
as they are generated. Commands:
  /reset   start a new conversation
  /quit    exit (Ctrl-D works too)`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatNoHistory, "no-history", false, "do not read or write the input history file")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.Engines.Initialize(ctx, printProgress(cmd.ErrOrStderr())); err != nil {
		return fmt.Errorf("loading model: %w", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr())

	repl := newREPL(!chatNoHistory)
	defer repl.Close()

	sess := a.Sessions.Create(ctx)
	out := cmd.OutOrStdout()
	for {
		input, err := repl.Prompt("> ")
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			return nil
		}
		if err != nil {
			return err
		}

		switch strings.TrimSpace(input) {
		case "/quit", "/exit":
			return nil
		case "/reset":
			_ = a.Sessions.Delete(ctx, sess.ID)
			sess = a.Sessions.Create(ctx)
			fmt.Fprintln(out, "(new conversation)")
			continue
		}

		if err := sendTurn(ctx, out, sess, input); err != nil {
			return err
		}
	}
}

// sendTurn streams one reply to out, printing only the newly generated
// text of each draft.
func sendTurn(ctx context.Context, out io.Writer, sess *chat.Session, input string) error {
	printed := ""
	turn, err := sess.Send(ctx, input, func(draft api.ChatMessage) {
		text := draft.Text()
		if strings.HasPrefix(text, printed) {
			fmt.Fprint(out, text[len(printed):])
		} else {
			fmt.Fprint(out, "\n", text)
		}
		printed = text
	})
	if err != nil {
		return err
	}
	if turn == nil {
		return nil
	}
	if turn.Err != nil {
		if printed != "" {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, turn.Reply.Text())
		fmt.Fprintf(os.Stderr, "(%v)\n", turn.Err)
		return nil
	}
	if rest := turn.Reply.Text(); strings.HasPrefix(rest, printed) {
		fmt.Fprint(out, rest[len(printed):])
	}
	fmt.Fprintln(out)
	return nil
}

// printProgress renders load progress on a single terminal line.
func printProgress(w io.Writer) provider.ProgressFunc {
	return func(p provider.Progress) {
		if p.Fraction > 0 {
			fmt.Fprintf(w, "\r\033[K%s (%.0f%%, %.0fs)", p.Text, p.Fraction*100, p.Elapsed.Seconds())
			return
		}
		fmt.Fprintf(w, "\r\033[K%s (%.0fs)", p.Text, p.Elapsed.Seconds())
	}
}

// repl wraps liner with a persistent input history.
type repl struct {
	line        *liner.State
	historyFile string
}

func newREPL(history bool) *repl {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &repl{line: line}
	if history {
		if dir, err := os.UserConfigDir(); err == nil {
			r.historyFile = filepath.Join(dir, "plauder", "chat_history")
		}
	}
	if r.historyFile != "" {
		if f, err := os.Open(r.historyFile); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}
	return r
}

// Prompt reads one line and records non-blank input in the history.
func (r *repl) Prompt(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history and restores the terminal.
func (r *repl) Close() {
	defer r.line.Close()
	if r.historyFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = r.line.WriteHistory(f)
}
