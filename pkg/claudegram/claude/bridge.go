// bridge.go orchestrates one subprocess invocation per request: argument
// construction for new vs. continued conversations, prompt delivery, stream
// decoding, timeout enforcement, and the retry-once-as-fresh policy when a
// continuation fails.
package claude

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/claudegram/claudegram/pkg/claudegram/session"
)

// errSpawn marks a failure to start the subprocess at all. Spawn failures
// (binary missing, fork failure) say nothing about the session being
// continued, so they never trigger the fresh-session retry.
var errSpawn = errors.New("spawning subprocess")

const (
	// DefaultTimeout bounds one subprocess invocation wall-clock time.
	DefaultTimeout = 120 * time.Second

	// labelRunes is how much of the opening prompt becomes the session label.
	labelRunes = 40

	// maxAttempts bounds the run loop: the original attempt plus at most one
	// fresh-session retry after a failed continuation.
	maxAttempts = 2
)

// Config holds the subprocess invocation settings. The tool allowlist and
// MCP config are fixed at startup and never derived from user input.
type Config struct {
	// Binary is the CLI executable (default "claude").
	Binary string `yaml:"binary"`

	// Model is the model identifier passed to the CLI.
	Model string `yaml:"model"`

	// SystemPrompt is appended to the CLI's system prompt for new
	// conversations.
	SystemPrompt string `yaml:"system_prompt"`

	// AllowedTools is the tool allowlist handed to the CLI.
	AllowedTools []string `yaml:"allowed_tools"`

	// MCPConfig is the path to the MCP server config file, if any.
	MCPConfig string `yaml:"mcp_config"`

	// WorkDir is the working directory for spawned processes.
	WorkDir string `yaml:"workdir"`

	// TimeoutSeconds bounds one invocation; 0 means the 120s default.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Bridge produces one Result per prompt by running the external CLI to
// completion, keeping the session store consistent along the way.
//
// Bridge is not safe for concurrent Run calls; the caller serializes
// requests (see the queue package). Two concurrent runs would race on the
// store's read-modify-persist cycle.
type Bridge struct {
	cfg      Config
	exec     Executor
	sessions *session.Store
	timeout  time.Duration
	logger   *slog.Logger
}

// NewBridge creates a Bridge. A nil executor runs the real CLI from
// cfg.Binary.
func NewBridge(cfg Config, sessions *session.Store, executor Executor, logger *slog.Logger) *Bridge {
	if executor == nil {
		executor = NewCLIExecutor(cfg.Binary)
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := DefaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Bridge{
		cfg:      cfg,
		exec:     executor,
		sessions: sessions,
		timeout:  timeout,
		logger:   logger.With("component", "bridge"),
	}
}

// Sessions returns the session store the bridge mutates.
func (b *Bridge) Sessions() *session.Store {
	return b.sessions
}

// Run executes prompt through one subprocess invocation and returns the
// reconciled reply.
//
// When no session is active a fresh conversation id is minted and recorded
// before spawning. When continuing an existing conversation fails, the
// broken session is discarded and the whole operation retries once as a new
// conversation, with ResumeFailed set on the eventual result. A failure on a
// fresh attempt propagates to the caller with no further retry, as does a
// spawn failure on any attempt: a binary that cannot start leaves the
// session untouched.
func (b *Bridge) Run(ctx context.Context, prompt string, cb Callbacks) (*Result, error) {
	resumeFailed := false

	for attempt := 0; attempt < maxAttempts; attempt++ {
		current := b.sessions.Current()
		continuing := current != ""

		var args []string
		if continuing {
			args = b.continueArgs(current)
			b.logger.Debug("continuing conversation", "session_id", current)
		} else {
			id := uuid.NewString()
			b.sessions.RecordNew(session.Entry{
				ID:        id,
				Label:     sessionLabel(prompt),
				StartedAt: time.Now(),
			})
			args = b.newArgs(id)
			b.logger.Debug("starting conversation", "session_id", id)
		}

		res, err := b.invoke(ctx, args, prompt, cb)
		if err != nil {
			if continuing && attempt == 0 && !errors.Is(err, errSpawn) {
				// The conversation may have expired at the external layer;
				// discard it and run the same prompt as a fresh session.
				b.logger.Warn("continuation failed, retrying as new session",
					"session_id", current,
					"error", err,
				)
				b.sessions.SetCurrent("")
				resumeFailed = true
				continue
			}
			if cb.OnError != nil {
				cb.OnError(err)
			}
			return nil, err
		}

		res.ResumeFailed = resumeFailed
		if cb.OnComplete != nil {
			cb.OnComplete(res)
		}
		return res, nil
	}

	// Unreachable: the second iteration never takes the continue branch.
	return nil, errors.New("claude: attempts exhausted")
}

// invoke runs one process to completion, streaming decoded events to the
// callbacks as they arrive.
func (b *Bridge) invoke(ctx context.Context, args []string, prompt string, cb Callbacks) (*Result, error) {
	pctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	proc, err := b.exec.Start(pctx, b.cfg.WorkDir, args, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errSpawn, err)
	}

	dec := NewDecoder()
	var completed *StreamEvent
	handle := func(ev StreamEvent) {
		switch ev.Kind {
		case EventText:
			if cb.OnText != nil {
				cb.OnText(ev.Text)
			}
		case EventToolUse:
			b.logger.Debug("tool invoked", "tool", ev.ToolName)
			if cb.OnToolUse != nil {
				cb.OnToolUse(ev.ToolName)
			}
		case EventCompleted:
			completed = &ev
		}
	}

	buf := make([]byte, 32*1024)
	for {
		n, rerr := proc.Stdout().Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				handle(ev)
			}
		}
		if rerr != nil {
			break
		}
	}
	for _, ev := range dec.Flush() {
		handle(ev)
	}

	werr := proc.Wait()

	if pctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("subprocess timed out after %s", b.timeout)
	}
	if werr != nil {
		if stderr := strings.TrimSpace(proc.Stderr()); stderr != "" {
			return nil, fmt.Errorf("subprocess failed: %w: %s", werr, stderr)
		}
		return nil, fmt.Errorf("subprocess failed: %w", werr)
	}
	if completed == nil {
		return nil, errors.New("stream ended without a result record")
	}

	b.logger.Info("request completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"reply_len", len(completed.Text),
	)
	return &Result{Text: completed.Text, Usage: completed.Usage}, nil
}

// baseArgs are the flags shared by both invocation modes.
func (b *Bridge) baseArgs() []string {
	args := []string{
		"--print",
		"--verbose",
		"--output-format", "stream-json",
		"--include-partial-messages",
	}
	if b.cfg.Model != "" {
		args = append(args, "--model", b.cfg.Model)
	}
	if len(b.cfg.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(b.cfg.AllowedTools, ","))
	}
	if b.cfg.MCPConfig != "" {
		args = append(args, "--mcp-config", b.cfg.MCPConfig)
	}
	return args
}

// newArgs builds the "start new conversation" argument set.
func (b *Bridge) newArgs(id string) []string {
	args := append(b.baseArgs(), "--session-id", id)
	if b.cfg.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", b.cfg.SystemPrompt)
	}
	return args
}

// continueArgs builds the "continue conversation" argument set: the existing
// id replaces the system prompt, all other flags are unchanged.
func (b *Bridge) continueArgs(id string) []string {
	return append(b.baseArgs(), "--resume", id)
}

// sessionLabel derives a short label from the opening prompt.
func sessionLabel(prompt string) string {
	label := strings.Join(strings.Fields(prompt), " ")
	runes := []rune(label)
	if len(runes) > labelRunes {
		return string(runes[:labelRunes])
	}
	return label
}
