package bot

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/claudegram/claudegram/pkg/claudegram/channels"
	"github.com/claudegram/claudegram/pkg/claudegram/claude"
	"github.com/claudegram/claudegram/pkg/claudegram/queue"
	"github.com/claudegram/claudegram/pkg/claudegram/session"
)

// scriptedProcess replays canned subprocess output.
type scriptedProcess struct {
	stdout  io.Reader
	waitErr error
}

func (p *scriptedProcess) Stdout() io.Reader { return p.stdout }
func (p *scriptedProcess) Wait() error       { return p.waitErr }
func (p *scriptedProcess) Stderr() string    { return "" }

type scriptedExecutor struct {
	mu      sync.Mutex
	replies []string
	calls   int
	prompts []string
}

func (e *scriptedExecutor) Start(_ context.Context, _ string, _ []string, prompt string) (claude.Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.prompts = append(e.prompts, prompt)
	if len(e.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	reply := e.replies[0]
	e.replies = e.replies[1:]
	line := `{"type":"result","result":` + "\"" + reply + "\"}" + "\n"
	return &scriptedProcess{stdout: strings.NewReader(line)}, nil
}

func (e *scriptedExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *scriptedExecutor) promptLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.prompts...)
}

// menuChannel records everything the bot sends and implements the full
// channel surface.
type menuChannel struct {
	mu       sync.Mutex
	sent     []*channels.OutgoingMessage
	menus    []string
	buttons  [][]channels.Button
	edits    []string
	answers  []string
	typing   int
	incoming chan *channels.IncomingMessage
}

func newMenuChannel() *menuChannel {
	return &menuChannel{incoming: make(chan *channels.IncomingMessage, 16)}
}

func (c *menuChannel) Name() string                              { return "fake" }
func (c *menuChannel) Connect(context.Context) error             { return nil }
func (c *menuChannel) Disconnect() error                         { return nil }
func (c *menuChannel) IsConnected() bool                         { return true }
func (c *menuChannel) MaxMessageLength() int                     { return 4096 }
func (c *menuChannel) Health() channels.HealthStatus             { return channels.HealthStatus{Connected: true} }
func (c *menuChannel) Receive() <-chan *channels.IncomingMessage { return c.incoming }

func (c *menuChannel) Send(_ context.Context, _ string, msg *channels.OutgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *menuChannel) SendTyping(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing++
	return nil
}

func (c *menuChannel) SendMenu(_ context.Context, _, text string, buttons []channels.Button) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.menus = append(c.menus, text)
	c.buttons = append(c.buttons, buttons)
	return "menu-1", nil
}

func (c *menuChannel) EditMessageText(_ context.Context, _, _, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits = append(c.edits, text)
	return nil
}

func (c *menuChannel) AnswerCallback(_ context.Context, _, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers = append(c.answers, text)
	return nil
}

func (c *menuChannel) sentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, m := range c.sent {
		out[i] = m.Content
	}
	return out
}

func (c *menuChannel) typingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

func (c *menuChannel) menuButtons() ([]string, [][]channels.Button) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.menus...), append([][]channels.Button(nil), c.buttons...)
}

func (c *menuChannel) editTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.edits...)
}

func (c *menuChannel) answerTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.answers...)
}

func newTestBot(t *testing.T, exec claude.Executor) (*Bot, *menuChannel, *session.Store) {
	t.Helper()
	store := session.NewStore(filepath.Join(t.TempDir(), "session.json"), nil)
	bridge := claude.NewBridge(claude.Config{}, store, exec, nil)
	q := queue.New()
	t.Cleanup(q.Close)

	b := New(bridge, q, nil, t.TempDir(), nil)
	ch := newMenuChannel()
	b.AddChannel(ch)
	return b, ch, store
}

func textMessage(content string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:      "m1",
		Channel: "fake",
		ChatID:  "chat-1",
		Type:    channels.MessageText,
		Content: content,
	}
}

// waitFor polls cond until it holds; dispatch hands work to the queue and
// side goroutines, so tests observe effects rather than returns.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not reached in time")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestBot_RelaysTextAndDeliversReply(t *testing.T) {
	exec := &scriptedExecutor{replies: []string{"the answer"}}
	b, ch, store := newTestBot(t, exec)

	b.handleMessage(context.Background(), ch, textMessage("a question"))

	waitFor(t, func() bool { return len(ch.sentTexts()) == 1 })
	if texts := ch.sentTexts(); texts[0] != "the answer" {
		t.Errorf("sent = %v, want the reply", texts)
	}
	if ch.typingCount() == 0 {
		t.Error("no typing indicator sent")
	}
	if store.Current() == "" {
		t.Error("no session recorded after first message")
	}
}

func TestBot_BackToBackMessagesKeepArrivalOrder(t *testing.T) {
	exec := &scriptedExecutor{replies: []string{"r1", "r2", "r3"}}
	b, ch, _ := newTestBot(t, exec)

	// Three quick texts from the same receive loop: each must reach the
	// subprocess in the order it arrived, not in goroutine-scheduler order.
	ctx := context.Background()
	b.handleMessage(ctx, ch, textMessage("first"))
	b.handleMessage(ctx, ch, textMessage("second"))
	b.handleMessage(ctx, ch, textMessage("third"))

	waitFor(t, func() bool { return len(ch.sentTexts()) == 3 })

	got := exec.promptLog()
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("prompt order = %v, want %v", got, want)
		}
	}
}

func TestBot_NewCommandClearsSession(t *testing.T) {
	exec := &scriptedExecutor{replies: []string{"first", "second"}}
	b, ch, store := newTestBot(t, exec)

	b.handleMessage(context.Background(), ch, textMessage("start a conversation"))
	waitFor(t, func() bool { return store.Current() != "" })
	firstID := store.Current()

	b.handleMessage(context.Background(), ch, textMessage("/new"))
	waitFor(t, func() bool { return store.Current() == "" })

	b.handleMessage(context.Background(), ch, textMessage("another conversation"))
	waitFor(t, func() bool { return len(store.History()) == 2 })
	if id := store.Current(); id == "" || id == firstID {
		t.Errorf("second message reused session %q", id)
	}
}

func TestBot_SessionsMenuAndCallbackSwitch(t *testing.T) {
	exec := &scriptedExecutor{replies: []string{"r1", "r2"}}
	b, ch, store := newTestBot(t, exec)

	b.handleMessage(context.Background(), ch, textMessage("first topic"))
	waitFor(t, func() bool { return store.Current() != "" })
	first := store.Current()
	b.handleMessage(context.Background(), ch, textMessage("/new"))
	waitFor(t, func() bool { return store.Current() == "" })
	b.handleMessage(context.Background(), ch, textMessage("second topic"))
	waitFor(t, func() bool { return len(store.History()) == 2 })

	b.handleMessage(context.Background(), ch, textMessage("/sessions"))
	waitFor(t, func() bool { menus, _ := ch.menuButtons(); return len(menus) == 1 })
	_, allButtons := ch.menuButtons()
	buttons := allButtons[0]
	if len(buttons) != 2 {
		t.Fatalf("buttons = %+v, want 2", buttons)
	}
	// Newest first.
	if !strings.HasPrefix(buttons[0].Text, "▸") {
		t.Errorf("current session not marked: %+v", buttons[0])
	}
	if buttons[1].Data != "session:"+first {
		t.Errorf("button data = %q, want session:%s", buttons[1].Data, first)
	}

	// Selecting the older session makes it current again.
	b.handleMessage(context.Background(), ch, &channels.IncomingMessage{
		ID:      "cb",
		Channel: "fake",
		ChatID:  "chat-1",
		Type:    channels.MessageCallback,
		Callback: &channels.CallbackInfo{
			ID:        "cb-1",
			Data:      "session:" + first,
			MessageID: "menu-1",
		},
	})

	waitFor(t, func() bool { return store.Current() == first })
	if len(ch.answerTexts()) == 0 {
		t.Error("callback never acknowledged")
	}
	waitFor(t, func() bool { return len(ch.editTexts()) == 1 })
	if edits := ch.editTexts(); !strings.Contains(edits[0], "first topic") {
		t.Errorf("edits = %v, want confirmation naming the session", edits)
	}
}

func TestBot_CallbackForUnknownSession(t *testing.T) {
	exec := &scriptedExecutor{}
	b, ch, store := newTestBot(t, exec)

	b.handleMessage(context.Background(), ch, &channels.IncomingMessage{
		Type:   channels.MessageCallback,
		ChatID: "chat-1",
		Callback: &channels.CallbackInfo{
			ID:   "cb-1",
			Data: "session:ghost",
		},
	})

	waitFor(t, func() bool { return len(ch.answerTexts()) == 1 })
	if answers := ch.answerTexts(); answers[0] == "" {
		t.Errorf("answers = %v, want a notice about the missing session", answers)
	}
	if store.Current() != "" {
		t.Error("unknown session became current")
	}
	if edits := ch.editTexts(); len(edits) != 0 {
		t.Errorf("edits = %v, want none on a failed switch", edits)
	}
}

func TestBot_UnknownCommand(t *testing.T) {
	exec := &scriptedExecutor{}
	b, ch, _ := newTestBot(t, exec)

	b.handleMessage(context.Background(), ch, textMessage("/frobnicate"))

	waitFor(t, func() bool { return len(ch.sentTexts()) == 1 })
	if texts := ch.sentTexts(); !strings.Contains(texts[0], "/frobnicate") {
		t.Errorf("sent = %v, want unknown-command reply", texts)
	}
	if exec.callCount() != 0 {
		t.Error("a command reached the subprocess")
	}
}

func TestBot_CommandWithBotMention(t *testing.T) {
	exec := &scriptedExecutor{}
	b, ch, store := newTestBot(t, exec)

	store.RecordNew(session.Entry{ID: "s1", Label: "x", StartedAt: time.Now()})
	b.handleMessage(context.Background(), ch, textMessage("/new@claudegram_bot"))

	waitFor(t, func() bool { return store.Current() == "" })
}

func TestBot_SubprocessErrorReported(t *testing.T) {
	exec := &scriptedExecutor{} // no scripted reply -> Start fails
	b, ch, _ := newTestBot(t, exec)

	b.handleMessage(context.Background(), ch, textMessage("doomed"))

	waitFor(t, func() bool { return len(ch.sentTexts()) == 1 })
	if texts := ch.sentTexts(); !strings.Contains(texts[0], "Request failed") {
		t.Errorf("sent = %v, want a failure notice", texts)
	}
}

func TestBot_ResumeFailureNotePrefixed(t *testing.T) {
	// First invocation (continuation) fails, the fresh retry succeeds.
	exec := &failOnceExecutor{reply: "recovered"}
	store := session.NewStore(filepath.Join(t.TempDir(), "session.json"), nil)
	store.RecordNew(session.Entry{ID: "stale", Label: "old", StartedAt: time.Now()})

	bridge := claude.NewBridge(claude.Config{}, store, exec, nil)
	q := queue.New()
	t.Cleanup(q.Close)
	b := New(bridge, q, nil, t.TempDir(), nil)
	ch := newMenuChannel()
	b.AddChannel(ch)

	b.handleMessage(context.Background(), ch, textMessage("continue please"))

	waitFor(t, func() bool { return len(ch.sentTexts()) == 1 })
	texts := ch.sentTexts()
	if !strings.Contains(texts[0], "could not be resumed") || !strings.Contains(texts[0], "recovered") {
		t.Errorf("reply = %q, want restart note plus reply", texts[0])
	}
}

type failOnceExecutor struct {
	mu     sync.Mutex
	failed bool
	reply  string
}

func (e *failOnceExecutor) Start(context.Context, string, []string, string) (claude.Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.failed {
		e.failed = true
		return &scriptedProcess{stdout: strings.NewReader(""), waitErr: errors.New("exit status 1")}, nil
	}
	line := `{"type":"result","result":"` + e.reply + `"}` + "\n"
	return &scriptedProcess{stdout: strings.NewReader(line)}, nil
}

func TestBot_RunConsumesChannel(t *testing.T) {
	exec := &scriptedExecutor{replies: []string{"reply"}}
	b, ch, _ := newTestBot(t, exec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()

	ch.incoming <- textMessage("via the loop")
	waitFor(t, func() bool { return len(ch.sentTexts()) == 1 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
