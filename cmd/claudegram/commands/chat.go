package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/claudegram/claudegram/pkg/claudegram/claude"
	"github.com/claudegram/claudegram/pkg/claudegram/session"
)

// newChatCmd creates the `claudegram chat` command for terminal conversations.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant from the terminal",
		Long: `Talk to the assistant directly, without going through a chat channel.
With a message argument it runs one exchange and exits; without, it
opens an interactive prompt.

Examples:
  claudegram chat "summarize my git log"
  claudegram chat`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w (run `claudegram setup` first)", err)
	}

	// Chat logs go to stderr so streamed output stays clean on stdout.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store := session.NewStore(cfg.SessionFile, logger)
	bridge := claude.NewBridge(cfg.Claude, store, nil, logger)

	stream := claude.Callbacks{
		OnText:    func(text string) { fmt.Print(text) },
		OnToolUse: func(name string) { fmt.Fprintf(os.Stderr, "[%s]\n", name) },
	}

	if len(args) > 0 {
		_, err := bridge.Run(cmd.Context(), args[0], stream)
		fmt.Println()
		return err
	}

	rl, err := readline.New("you> ")
	if err != nil {
		return fmt.Errorf("opening prompt: %w", err)
	}
	defer rl.Close()

	fmt.Println("Interactive chat. :new starts a session, :sessions lists them, :quit exits.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == ":quit" || line == ":q":
			return nil
		case line == ":new":
			store.SetCurrent("")
			fmt.Println("Next message starts a fresh session.")
			continue
		case line == ":sessions":
			printSessions(store)
			continue
		}

		res, err := bridge.Run(context.Background(), line, stream)
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if res.ResumeFailed {
			fmt.Fprintln(os.Stderr, "note: previous session could not be resumed, started a new one")
		}
	}
}

func printSessions(store *session.Store) {
	history := store.History()
	if len(history) == 0 {
		fmt.Println("No sessions yet.")
		return
	}
	current := store.Current()
	for _, e := range history {
		marker := " "
		if e.ID == current {
			marker = "*"
		}
		fmt.Printf("%s %s  %s  %s\n", marker, e.StartedAt.Format("Jan 2 15:04"), shortID(e.ID), e.Label)
	}
}

// shortID abbreviates an id for display. A hand-edited state file can carry
// ids shorter than a UUID, so never assume eight bytes.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
