// decoder.go reassembles the subprocess's line-delimited JSON output from
// arbitrarily-chunked reads and classifies each record into a StreamEvent.
// The wire format is the claude CLI's `--output-format stream-json` with
// `--include-partial-messages`.
package claude

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ---------- Wire Types ----------

// streamRecord is one NDJSON line from the subprocess.
type streamRecord struct {
	Type    string      `json:"type"`    // "system", "assistant", "result", "stream_event", ...
	Subtype string      `json:"subtype"` // "success", "init", ...
	Event   *innerEvent `json:"event"`   // for "stream_event"
	Result  string      `json:"result"`  // for "result"
	IsError bool        `json:"is_error"`
	Usage   *Usage      `json:"usage"`
	CostUSD float64     `json:"total_cost_usd"`
}

// innerEvent is the wrapped API event inside a "stream_event" record.
type innerEvent struct {
	Type         string        `json:"type"` // "message_start", "content_block_start", "content_block_delta", "message_delta"
	Delta        *eventDelta   `json:"delta"`
	ContentBlock *contentBlock `json:"content_block"`
	Message      *eventMessage `json:"message"`
	Usage        *Usage        `json:"usage"`
}

type eventDelta struct {
	Type string `json:"type"` // "text_delta", "input_json_delta", ...
	Text string `json:"text"`
}

type contentBlock struct {
	Type string `json:"type"` // "text", "tool_use"
	Name string `json:"name"`
}

type eventMessage struct {
	Usage *Usage `json:"usage"`
}

// ---------- Decoder ----------

// Decoder converts a raw, arbitrarily-chunked byte stream into StreamEvents
// with no data loss or duplication across chunk boundaries. It buffers the
// trailing incomplete line fragment between Feed calls; Flush processes
// whatever is left when the stream ends.
//
// Malformed JSON lines are silently discarded: partial and heartbeat lines
// are an expected artifact of line-buffered streaming. After the terminal
// record has been decoded, remaining input is ignored.
type Decoder struct {
	pending []byte
	accum   strings.Builder
	usage   *Usage
	done    bool
}

// NewDecoder returns a Decoder ready to consume output chunks.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends a chunk and returns the events decoded from every complete
// line now available.
func (d *Decoder) Feed(chunk []byte) []StreamEvent {
	if d.done {
		return nil
	}
	d.pending = append(d.pending, chunk...)

	var events []StreamEvent
	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		line := d.pending[:i]
		d.pending = d.pending[i+1:]
		ev, ok := d.decodeLine(line)
		if !ok {
			continue
		}
		events = append(events, ev)
		if d.done {
			d.pending = nil
			break
		}
	}
	return events
}

// Flush processes any buffered final line that arrived without a trailing
// newline. Call once when the stream ends.
func (d *Decoder) Flush() []StreamEvent {
	if d.done {
		return nil
	}
	line := d.pending
	d.pending = nil
	if len(bytes.TrimSpace(line)) == 0 {
		return nil
	}
	if ev, ok := d.decodeLine(line); ok {
		return []StreamEvent{ev}
	}
	return nil
}

// Done reports whether the terminal record has been decoded.
func (d *Decoder) Done() bool {
	return d.done
}

// Text returns the text deltas accumulated so far.
func (d *Decoder) Text() string {
	return d.accum.String()
}

// Usage returns the latest token accounting observed, or nil.
func (d *Decoder) Usage() *Usage {
	return d.usage
}

func (d *Decoder) decodeLine(line []byte) (StreamEvent, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return StreamEvent{}, false
	}

	var rec streamRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return StreamEvent{}, false
	}

	switch rec.Type {
	case "stream_event":
		return d.decodeInner(rec.Event)

	case "result":
		d.done = true
		if rec.Usage != nil {
			u := *rec.Usage
			u.CostUSD = rec.CostUSD
			d.usage = &u
		} else if d.usage != nil && rec.CostUSD > 0 {
			d.usage.CostUSD = rec.CostUSD
		}
		text := rec.Result
		if text == "" {
			text = d.accum.String()
		}
		return StreamEvent{Kind: EventCompleted, Text: text, Usage: d.usage}, true
	}

	// "system", "assistant", "user" and anything unrecognized carry nothing
	// the relay needs beyond what the stream_event deltas already delivered.
	return StreamEvent{}, false
}

func (d *Decoder) decodeInner(ev *innerEvent) (StreamEvent, bool) {
	if ev == nil {
		return StreamEvent{}, false
	}

	switch ev.Type {
	case "content_block_delta":
		if ev.Delta == nil || ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
			return StreamEvent{}, false
		}
		d.accum.WriteString(ev.Delta.Text)
		return StreamEvent{Kind: EventText, Text: ev.Delta.Text}, true

	case "content_block_start":
		if ev.ContentBlock == nil || ev.ContentBlock.Type != "tool_use" {
			return StreamEvent{}, false
		}
		name := ev.ContentBlock.Name
		if name == "" {
			name = "unknown tool"
		}
		return StreamEvent{Kind: EventToolUse, ToolName: name}, true

	case "message_start":
		if ev.Message == nil || ev.Message.Usage == nil {
			return StreamEvent{}, false
		}
		u := *ev.Message.Usage
		d.usage = &u
		return StreamEvent{Kind: EventUsage, Usage: d.usage}, true

	case "message_delta":
		if ev.Usage == nil {
			return StreamEvent{}, false
		}
		u := *ev.Usage
		d.usage = &u
		return StreamEvent{Kind: EventUsage, Usage: d.usage}, true
	}

	return StreamEvent{}, false
}
