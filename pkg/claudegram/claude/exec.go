// exec.go isolates process spawning behind a small interface so the bridge
// can be exercised in tests with scripted processes instead of a real CLI.
package claude

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// maxStderrCapture bounds how much stderr is kept for error reporting.
const maxStderrCapture = 2048

// Executor starts one external AI process per request.
type Executor interface {
	// Start launches the process in workdir with the given arguments, writes
	// prompt to its stdin and closes it.
	Start(ctx context.Context, workdir string, args []string, prompt string) (Process, error)
}

// Process is a running subprocess invocation.
type Process interface {
	// Stdout is the process output stream, read until EOF.
	Stdout() io.Reader

	// Wait blocks until the process exits. A non-zero exit reports an error.
	Wait() error

	// Stderr returns the captured standard error, truncated.
	Stderr() string
}

// CLIExecutor runs the real claude binary.
type CLIExecutor struct {
	binary string
}

// NewCLIExecutor creates an Executor invoking the given binary.
func NewCLIExecutor(binary string) *CLIExecutor {
	if binary == "" {
		binary = "claude"
	}
	return &CLIExecutor{binary: binary}
}

// Start implements Executor.
func (e *CLIExecutor) Start(ctx context.Context, workdir string, args []string, prompt string) (Process, error) {
	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Dir = workdir

	stderr := &limitedBuffer{limit: maxStderrCapture}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", e.binary, err)
	}

	// The prompt can exceed the pipe buffer, so write it off the caller's
	// goroutine. Stdin is closed as soon as the prompt is delivered.
	go func() {
		_, _ = io.WriteString(stdin, prompt)
		_ = stdin.Close()
	}()

	return &cliProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type cliProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *limitedBuffer
}

func (p *cliProcess) Stdout() io.Reader { return p.stdout }

func (p *cliProcess) Wait() error { return p.cmd.Wait() }

func (p *cliProcess) Stderr() string { return p.stderr.String() }

// limitedBuffer keeps at most limit bytes and drops the rest.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if room := b.limit - b.buf.Len(); room > 0 {
		if n > room {
			p = p[:room]
		}
		b.buf.Write(p)
	}
	return n, nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
