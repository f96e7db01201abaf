// Package screenshot captures the screen through the platform's native
// command-line tool and writes the image into the shared temp directory the
// renderer picks files up from.
package screenshot

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

// Capture takes a screenshot and returns the written file path.
func Capture(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating screenshot dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("screenshot-%d.png", time.Now().UnixNano()))

	cmd, err := captureCommand(ctx, path)
	if err != nil {
		return "", err
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("screenshot command failed: %w: %s", err, out)
	}

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("screenshot not written: %w", err)
	}
	return path, nil
}

// captureCommand picks the platform screenshot tool.
func captureCommand(ctx context.Context, path string) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		return exec.CommandContext(ctx, "screencapture", "-x", path), nil
	case "linux":
		for _, tool := range []struct {
			bin  string
			args []string
		}{
			{"gnome-screenshot", []string{"-f", path}},
			{"scrot", []string{path}},
			{"import", []string{"-window", "root", path}},
		} {
			if _, err := exec.LookPath(tool.bin); err == nil {
				return exec.CommandContext(ctx, tool.bin, tool.args...), nil
			}
		}
		return nil, fmt.Errorf("no screenshot tool found (tried gnome-screenshot, scrot, import)")
	default:
		return nil, fmt.Errorf("screenshots not supported on %s", runtime.GOOS)
	}
}
