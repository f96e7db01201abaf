package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/claudegram/claudegram/pkg/claudegram/config"
)

// newSetupCmd creates the `claudegram setup` interactive wizard.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-run configuration",
		Long: `Walk through the initial configuration: bot token, allowed chat,
assistant binary and optional voice transcription. Secrets go to the
OS keyring when available; the rest is written to the config file.`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()

	var (
		telegramToken string
		allowedChat   string
		openaiKey     string
		wantVoice     bool
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("From @BotFather. Leave empty to configure later.").
				EchoMode(huh.EchoModePassword).
				Value(&telegramToken),
			huh.NewInput().
				Title("Allowed chat ID").
				Description("Only this Telegram chat may talk to the bot.").
				Value(&allowedChat).
				Validate(func(s string) error {
					s = strings.TrimSpace(s)
					if s == "" {
						return nil
					}
					if _, err := strconv.ParseInt(s, 10, 64); err != nil {
						return fmt.Errorf("chat ID must be a number")
					}
					return nil
				}),
			huh.NewInput().
				Title("Assistant binary").
				Description("Command used to run the assistant subprocess.").
				Value(&cfg.Claude.Binary),
			huh.NewInput().
				Title("Working directory").
				Description("Directory the assistant runs in. Empty means the daemon's cwd.").
				Value(&cfg.Claude.WorkDir),
			huh.NewConfirm().
				Title("Enable voice transcription?").
				Value(&wantVoice),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	if wantVoice {
		keyForm := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("OpenAI API key").
				Description("Used for Whisper voice transcription.").
				EchoMode(huh.EchoModePassword).
				Value(&openaiKey),
		))
		if err := keyForm.Run(); err != nil {
			return err
		}
	}

	if s := strings.TrimSpace(allowedChat); s != "" {
		id, _ := strconv.ParseInt(s, 10, 64)
		cfg.Telegram.AllowedChats = []int64{id}
	}

	// Secrets go to the keyring when one is available; otherwise they stay
	// in the config file with a warning.
	storeSecret := func(key, value, name string) {
		if value == "" {
			return
		}
		if config.KeyringAvailable() {
			if err := config.StoreSecret(key, value); err == nil {
				fmt.Printf("✓ %s stored in the OS keyring\n", name)
				return
			}
		}
		fmt.Printf("! no keyring available, writing %s to the config file\n", name)
		switch key {
		case config.KeyTelegramToken:
			cfg.Telegram.Token = value
		case config.KeyTranscriptionKey:
			cfg.Transcription.APIKey = value
		}
	}
	storeSecret(config.KeyTelegramToken, strings.TrimSpace(telegramToken), "Telegram token")
	storeSecret(config.KeyTranscriptionKey, strings.TrimSpace(openaiKey), "transcription key")

	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("✓ Config written to %s\n", path)
	fmt.Println("Run `claudegram serve` to start the relay.")
	return nil
}
