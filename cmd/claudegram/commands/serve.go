package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/claudegram/claudegram/pkg/claudegram/bot"
	"github.com/claudegram/claudegram/pkg/claudegram/channels"
	"github.com/claudegram/claudegram/pkg/claudegram/channels/discord"
	"github.com/claudegram/claudegram/pkg/claudegram/channels/telegram"
	"github.com/claudegram/claudegram/pkg/claudegram/claude"
	"github.com/claudegram/claudegram/pkg/claudegram/config"
	"github.com/claudegram/claudegram/pkg/claudegram/queue"
	"github.com/claudegram/claudegram/pkg/claudegram/scheduler"
	"github.com/claudegram/claudegram/pkg/claudegram/session"
	"github.com/claudegram/claudegram/pkg/claudegram/transcribe"
)

// newServeCmd creates the `claudegram serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay daemon",
		Long: `Start claudegram as a daemon: connect the configured chat channels
and relay incoming messages to the assistant subprocess.

Examples:
  claudegram serve
  claudegram serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w (run `claudegram setup` first)", err)
	}

	logger := buildLogger(cmd, cfg)

	// ── Core plumbing ──
	store := session.NewStore(cfg.SessionFile, logger)
	bridge := claude.NewBridge(cfg.Claude, store, nil, logger)
	q := queue.New()
	defer q.Close()

	var transcriber *transcribe.Client
	if cfg.Transcription.APIKey != "" {
		transcriber = transcribe.New(cfg.Transcription, logger)
	}

	b := bot.New(bridge, q, transcriber, cfg.TempDir, logger)

	// ── Register channels ──
	var chs []channels.Channel
	if cfg.Telegram.Token != "" {
		tg := telegram.New(cfg.Telegram, logger)
		b.AddChannel(tg)
		chs = append(chs, tg)
		logger.Info("telegram channel registered")
	}
	if cfg.Discord.Token != "" {
		dc := discord.New(cfg.Discord, logger)
		b.AddChannel(dc)
		chs = append(chs, dc)
		logger.Info("discord channel registered")
	}
	if len(chs) == 0 {
		return fmt.Errorf("no channels configured; set a telegram or discord token via `claudegram config set-token`")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, ch := range chs {
		if err := ch.Connect(ctx); err != nil {
			return fmt.Errorf("connecting %s: %w", ch.Name(), err)
		}
		logger.Info("channel connected", "channel", ch.Name())
	}

	// ── Scheduler ──
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		storage, err := scheduler.OpenSQLiteStorage(cfg.Scheduler.DBPath)
		if err != nil {
			logger.Error("opening scheduler storage failed", "error", err)
		} else {
			defer storage.Close()
			sched = scheduler.New(storage, b.Execute, logger)
			if err := sched.Start(); err != nil {
				logger.Error("starting scheduler failed", "error", err)
			} else {
				logger.Info("scheduler started", "db", cfg.Scheduler.DBPath)
			}
		}
	}

	logger.Info("claudegram running, press Ctrl+C to stop")

	err = b.Run(ctx)

	// ── Graceful shutdown ──
	logger.Info("shutting down...")
	done := make(chan struct{})
	go func() {
		if sched != nil {
			sched.Stop()
		}
		for _, ch := range chs {
			if derr := ch.Disconnect(); derr != nil {
				logger.Warn("disconnect failed", "channel", ch.Name(), "error", derr)
			}
		}
		close(done)
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// resolveConfig loads the config from the --config flag or the default path.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	return config.LoadFromFile(path)
}

// buildLogger configures slog per the logging section, honoring --verbose.
func buildLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
