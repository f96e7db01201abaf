package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/claudegram/claudegram/pkg/claudegram/config"
)

// newConfigCmd creates the `claudegram config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage configuration",
		Long: `Inspect the effective configuration and manage secrets.

Examples:
  claudegram config show
  claudegram config set-token telegram
  claudegram config clear-token telegram`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetTokenCmd(),
		newConfigClearTokenCmd(),
	)
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			// Never print resolved secrets.
			redact := func(s string) string {
				if s == "" {
					return "(unset)"
				}
				return "(set)"
			}
			cfg.Telegram.Token = redact(cfg.Telegram.Token)
			cfg.Discord.Token = redact(cfg.Discord.Token)
			cfg.Transcription.APIKey = redact(cfg.Transcription.APIKey)

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func newConfigSetTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-token <telegram|discord|transcription>",
		Short: "Store a secret in the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			key, err := keyringKeyFor(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Enter %s token (input hidden): ", args[0])
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("reading token: %w", err)
			}
			if len(raw) == 0 {
				return fmt.Errorf("empty token")
			}

			if err := config.StoreSecret(key, string(raw)); err != nil {
				return fmt.Errorf("storing in keyring: %w", err)
			}
			fmt.Println("✓ Stored in the OS keyring.")
			return nil
		},
	}
}

func newConfigClearTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-token <telegram|discord|transcription>",
		Short: "Remove a secret from the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			key, err := keyringKeyFor(args[0])
			if err != nil {
				return err
			}
			if err := config.DeleteSecret(key); err != nil {
				return fmt.Errorf("removing from keyring: %w", err)
			}
			fmt.Println("✓ Removed.")
			return nil
		},
	}
}

func keyringKeyFor(name string) (string, error) {
	switch name {
	case "telegram":
		return config.KeyTelegramToken, nil
	case "discord":
		return config.KeyDiscordToken, nil
	case "transcription":
		return config.KeyTranscriptionKey, nil
	default:
		return "", fmt.Errorf("unknown secret %q (telegram, discord, transcription)", name)
	}
}
