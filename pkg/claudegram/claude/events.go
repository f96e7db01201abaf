// Package claude runs prompts through the external claude CLI, one process
// per request, decoding its line-delimited JSON output stream and tracking
// which conversation the next prompt should continue.
package claude

// EventKind classifies a decoded stream event.
type EventKind string

const (
	// EventText is an incremental text delta of the reply being generated.
	EventText EventKind = "text"

	// EventToolUse marks the start of a tool invocation inside the subprocess.
	EventToolUse EventKind = "tool_use"

	// EventUsage carries a token-accounting update. Later reports replace
	// earlier ones.
	EventUsage EventKind = "usage"

	// EventCompleted is the terminal success event carrying the final reply.
	EventCompleted EventKind = "completed"

	// EventFailed is the terminal failure event (non-zero exit, spawn error,
	// timeout).
	EventFailed EventKind = "failed"
)

// StreamEvent is one classified unit decoded from the subprocess output.
// Exactly one terminal event (EventCompleted or EventFailed) occurs per
// request, after all other events.
type StreamEvent struct {
	Kind EventKind

	// Text is the delta text for EventText, or the reconciled final reply
	// for EventCompleted.
	Text string

	// ToolName is set for EventToolUse.
	ToolName string

	// Usage is set for EventUsage and, when the stream reported accounting,
	// for EventCompleted.
	Usage *Usage

	// Err is set for EventFailed.
	Err error
}

// Usage holds token and cost accounting reported by the subprocess. The
// fields are passed through to callers opaquely.
type Usage struct {
	InputTokens              int     `json:"input_tokens"`
	OutputTokens             int     `json:"output_tokens"`
	CacheCreationInputTokens int     `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int     `json:"cache_read_input_tokens"`
	CostUSD                  float64 `json:"-"`
}

// Result is the outcome of one bridge request.
type Result struct {
	// Text is the reconciled final reply.
	Text string

	// Usage is the last token accounting observed, or nil if the stream
	// never reported one.
	Usage *Usage

	// ResumeFailed is true when the request silently restarted as a new
	// session because continuing the prior one failed.
	ResumeFailed bool
}

// Callbacks are optional per-event hooks invoked while a request streams.
// Nil fields are skipped.
type Callbacks struct {
	OnText     func(text string)
	OnToolUse  func(name string)
	OnComplete func(res *Result)
	OnError    func(err error)
}
