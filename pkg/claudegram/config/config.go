// Package config defines the relay's configuration, loaded from a YAML file
// with .env support and environment-variable expansion, and resolves secrets
// through the OS keyring.
package config

import (
	"os"
	"path/filepath"

	"github.com/claudegram/claudegram/pkg/claudegram/channels/discord"
	"github.com/claudegram/claudegram/pkg/claudegram/channels/telegram"
	"github.com/claudegram/claudegram/pkg/claudegram/claude"
	"github.com/claudegram/claudegram/pkg/claudegram/scheduler"
	"github.com/claudegram/claudegram/pkg/claudegram/transcribe"
)

// Config holds all relay configuration.
type Config struct {
	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging"`

	// Telegram configures the primary delivery channel.
	Telegram telegram.Config `yaml:"telegram"`

	// Discord configures the optional secondary channel.
	Discord discord.Config `yaml:"discord"`

	// Claude configures the subprocess bridge.
	Claude claude.Config `yaml:"claude"`

	// Transcription configures voice-note transcription.
	Transcription transcribe.Config `yaml:"transcription"`

	// Scheduler configures recurring prompts.
	Scheduler scheduler.Config `yaml:"scheduler"`

	// SessionFile is where conversation state persists across restarts.
	SessionFile string `yaml:"session_file"`

	// TempDir is the shared directory for screenshots and tool-written
	// images.
	TempDir string `yaml:"temp_dir"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Dir returns the relay's state directory (~/.claudegram).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claudegram"
	}
	return filepath.Join(home, ".claudegram")
}

// DefaultPath is the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telegram: telegram.DefaultConfig(),
		Discord:  discord.DefaultConfig(),
		Claude: claude.Config{
			Binary:         "claude",
			TimeoutSeconds: 120,
		},
		Scheduler: scheduler.Config{
			DBPath: filepath.Join(Dir(), "claudegram.db"),
		},
		SessionFile: filepath.Join(Dir(), "session.json"),
		TempDir:     filepath.Join(os.TempDir(), "claudegram"),
	}
}
