package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
)

const unitTemplate = `[Unit]
Description=Claudegram personal assistant relay
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s serve
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

// newInstallCmd creates the `claudegram install` command that writes a
// systemd user unit so the daemon survives logout and reboot.
func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install a systemd user service",
		Long: `Write a systemd user unit that runs "claudegram serve" at login.

After installing:
  systemctl --user enable --now claudegram
  loginctl enable-linger $USER   # keep it running after logout`,
		RunE: runInstall,
	}
}

func runInstall(_ *cobra.Command, _ []string) error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("install is only supported on linux (systemd)")
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving binary path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Errorf("resolving binary path: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	unitDir := filepath.Join(home, ".config", "systemd", "user")
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		return fmt.Errorf("creating unit directory: %w", err)
	}

	unitPath := filepath.Join(unitDir, "claudegram.service")
	if err := os.WriteFile(unitPath, []byte(fmt.Sprintf(unitTemplate, exe)), 0o644); err != nil {
		return fmt.Errorf("writing unit file: %w", err)
	}

	fmt.Printf("✓ Unit written to %s\n", unitPath)
	fmt.Println("Enable it with:")
	fmt.Println("  systemctl --user daemon-reload")
	fmt.Println("  systemctl --user enable --now claudegram")
	return nil
}
