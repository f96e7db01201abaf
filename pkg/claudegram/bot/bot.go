// Package bot wires the delivery channels to the subprocess bridge: inbound
// messages are serialized through the request queue, relayed as prompts, and
// the reconciled replies are rendered back to the chat. Commands and inline
// menu selections manage the rolling session.
package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/claudegram/claudegram/pkg/claudegram/channels"
	"github.com/claudegram/claudegram/pkg/claudegram/claude"
	"github.com/claudegram/claudegram/pkg/claudegram/queue"
	"github.com/claudegram/claudegram/pkg/claudegram/render"
	"github.com/claudegram/claudegram/pkg/claudegram/screenshot"
	"github.com/claudegram/claudegram/pkg/claudegram/transcribe"
)

const welcome = `Hi! Send me a message and I'll relay it to the assistant.

Commands:
/new — start a fresh session
/sessions — switch to a past session
/status — current session and queue state
/screenshot — capture the screen
/help — this message`

// Bot consumes inbound messages from one or more channels and produces
// replies. All bridge invocations go through a single serial queue, so at
// most one subprocess is active at a time.
type Bot struct {
	bridge      *claude.Bridge
	queue       *queue.Queue
	transcriber *transcribe.Client
	tempDir     string
	logger      *slog.Logger

	channels  map[string]channels.Channel
	renderers map[string]*render.Renderer
}

// New creates a Bot. transcriber may be nil when voice support is not
// configured.
func New(bridge *claude.Bridge, q *queue.Queue, transcriber *transcribe.Client, tempDir string, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		bridge:      bridge,
		queue:       q,
		transcriber: transcriber,
		tempDir:     tempDir,
		logger:      logger.With("component", "bot"),
		channels:    make(map[string]channels.Channel),
		renderers:   make(map[string]*render.Renderer),
	}
}

// AddChannel registers a delivery channel and its renderer.
func (b *Bot) AddChannel(ch channels.Channel) {
	b.channels[ch.Name()] = ch
	b.renderers[ch.Name()] = render.New(ch, b.tempDir, b.logger)
}

// Run consumes inbound messages from all registered channels until ctx is
// cancelled.
func (b *Bot) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range b.channels {
		wg.Add(1)
		go func(ch channels.Channel) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch.Receive():
					if !ok {
						return
					}
					// Dispatched on the receive loop: the text path only
					// enqueues (so back-to-back messages keep their arrival
					// order) and everything else forks, so the loop never
					// blocks on the bridge.
					b.handleMessage(ctx, ch, msg)
				}
			}
		}(ch)
	}
	wg.Wait()
	return ctx.Err()
}

// Execute relays a prompt on behalf of a scheduled job and delivers the
// reply to the given chat.
func (b *Bot) Execute(ctx context.Context, channelName, chatID, prompt string) error {
	ch, ok := b.channels[channelName]
	if !ok {
		return fmt.Errorf("unknown channel %q", channelName)
	}
	start := time.Now()
	res, err := queue.Run(b.queue, func() (*claude.Result, error) {
		return b.bridge.Run(ctx, prompt, claude.Callbacks{})
	})
	if err != nil {
		return err
	}
	return b.renderers[ch.Name()].Deliver(ctx, chatID, res.Text, start)
}

// ---------- Inbound Dispatch ----------

func (b *Bot) handleMessage(ctx context.Context, ch channels.Channel, msg *channels.IncomingMessage) {
	switch msg.Type {
	case channels.MessageCallback:
		go b.handleCallback(ctx, ch, msg)

	case channels.MessageVoice:
		go b.handleVoice(ctx, ch, msg)

	case channels.MessagePhoto, channels.MessageDocument:
		go b.handleMedia(ctx, ch, msg)

	case channels.MessageText:
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			return
		}
		if strings.HasPrefix(text, "/") {
			go b.handleCommand(ctx, ch, msg.ChatID, text)
			return
		}
		b.relay(ctx, ch, msg.ChatID, text)
	}
}

// relay enqueues one prompt for the bridge and renders the reply once it has
// run. The queue slot is taken before relay returns, so prompts run in the
// order relay was called; the wait and delivery happen on a side goroutine.
func (b *Bot) relay(ctx context.Context, ch channels.Channel, chatID, prompt string) {
	start := time.Now()

	var (
		res *claude.Result
		err error
	)
	done, serr := b.queue.Submit(func() {
		res, err = b.bridge.Run(ctx, prompt, claude.Callbacks{
			// Tool runs can take a while; refresh the indicator on each one.
			OnToolUse: func(string) { b.typing(ctx, ch, chatID) },
		})
	})
	if serr != nil {
		b.reply(ctx, ch, chatID, "⚠️ Request failed: "+serr.Error())
		return
	}

	go func() {
		b.typing(ctx, ch, chatID)
		<-done
		if err != nil {
			b.reply(ctx, ch, chatID, "⚠️ Request failed: "+err.Error())
			return
		}
		text := res.Text
		if res.ResumeFailed {
			text = "ℹ️ The previous session could not be resumed, so a new one was started.\n\n" + text
		}
		if err := b.renderers[ch.Name()].Deliver(ctx, chatID, text, start); err != nil {
			b.logger.Warn("delivering reply failed", "chat_id", chatID, "error", err)
		}
	}()
}

// ---------- Commands ----------

func (b *Bot) handleCommand(ctx context.Context, ch channels.Channel, chatID, text string) {
	name, _, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	// Telegram suffixes commands with the bot mention in some clients.
	name, _, _ = strings.Cut(name, "@")

	switch name {
	case "start", "help":
		b.reply(ctx, ch, chatID, welcome)

	case "new":
		_ = b.queue.Do(func() { b.bridge.Sessions().SetCurrent("") })
		b.reply(ctx, ch, chatID, "Started fresh — your next message opens a new session.")

	case "sessions":
		b.sendSessionMenu(ctx, ch, chatID)

	case "status":
		b.reply(ctx, ch, chatID, b.statusText(ch))

	case "screenshot":
		b.handleScreenshot(ctx, ch, chatID)

	default:
		b.reply(ctx, ch, chatID, fmt.Sprintf("Unknown command /%s — try /help.", name))
	}
}

// sendSessionMenu offers the session history as an inline menu.
func (b *Bot) sendSessionMenu(ctx context.Context, ch channels.Channel, chatID string) {
	history := b.bridge.Sessions().History()
	if len(history) == 0 {
		b.reply(ctx, ch, chatID, "No sessions yet — just send a message to start one.")
		return
	}

	mc, ok := ch.(channels.MenuChannel)
	if !ok {
		var sb strings.Builder
		sb.WriteString("Sessions:\n")
		for _, e := range history {
			sb.WriteString(fmt.Sprintf("• %s (%s)\n", e.Label, e.StartedAt.Format("Jan 2 15:04")))
		}
		b.reply(ctx, ch, chatID, sb.String())
		return
	}

	current := b.bridge.Sessions().Current()
	// Newest first: the most recent sessions are the likeliest targets.
	buttons := make([]channels.Button, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		e := history[i]
		label := e.Label
		if label == "" {
			label = e.StartedAt.Format("Jan 2 15:04")
		}
		if e.ID == current {
			label = "▸ " + label
		}
		buttons = append(buttons, channels.Button{Text: label, Data: "session:" + e.ID})
	}

	if _, err := mc.SendMenu(ctx, chatID, "Pick a session to continue:", buttons); err != nil {
		b.logger.Warn("sending session menu failed", "error", err)
	}
}

func (b *Bot) statusText(ch channels.Channel) string {
	var sb strings.Builder
	current := b.bridge.Sessions().Current()
	if current == "" {
		sb.WriteString("No active session — the next message starts one.\n")
	} else {
		label := current
		for _, e := range b.bridge.Sessions().History() {
			if e.ID == current {
				label = e.Label
				break
			}
		}
		sb.WriteString("Active session: " + label + "\n")
	}
	if b.queue.Busy() {
		sb.WriteString(fmt.Sprintf("A request is running, %d waiting.\n", b.queue.Len()))
	} else {
		sb.WriteString("Idle.\n")
	}
	health := ch.Health()
	sb.WriteString(fmt.Sprintf("Channel %s: connected=%t errors=%d", ch.Name(), health.Connected, health.ErrorCount))
	return sb.String()
}

func (b *Bot) handleScreenshot(ctx context.Context, ch channels.Channel, chatID string) {
	mc, ok := ch.(channels.MediaChannel)
	if !ok {
		b.reply(ctx, ch, chatID, "This channel cannot receive photos.")
		return
	}
	path, err := screenshot.Capture(ctx, b.tempDir)
	if err != nil {
		b.reply(ctx, ch, chatID, "⚠️ Screenshot failed: "+err.Error())
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		b.reply(ctx, ch, chatID, "⚠️ Reading screenshot failed: "+err.Error())
		return
	}
	if err := mc.SendPhoto(ctx, chatID, &channels.Photo{Data: data, Filename: filepath.Base(path)}); err != nil {
		b.reply(ctx, ch, chatID, "⚠️ Sending screenshot failed: "+err.Error())
		return
	}
	_ = os.Remove(path)
}

// ---------- Menu Selections ----------

func (b *Bot) handleCallback(ctx context.Context, ch channels.Channel, msg *channels.IncomingMessage) {
	mc, ok := ch.(channels.MenuChannel)
	if !ok || msg.Callback == nil {
		return
	}

	id, ok := strings.CutPrefix(msg.Callback.Data, "session:")
	if !ok {
		_ = mc.AnswerCallback(ctx, msg.Callback.ID, "")
		return
	}

	var label string
	for _, e := range b.bridge.Sessions().History() {
		if e.ID == id {
			label = e.Label
			break
		}
	}

	var switchErr error
	_ = b.queue.Do(func() { switchErr = b.bridge.Sessions().SwitchTo(id) })
	if switchErr != nil {
		_ = mc.AnswerCallback(ctx, msg.Callback.ID, "That session is gone.")
		return
	}

	_ = mc.AnswerCallback(ctx, msg.Callback.ID, "")
	if err := mc.EditMessageText(ctx, msg.ChatID, msg.Callback.MessageID, "Continuing: "+label); err != nil {
		b.logger.Debug("editing menu message failed", "error", err)
	}
}

// ---------- Media ----------

func (b *Bot) handleVoice(ctx context.Context, ch channels.Channel, msg *channels.IncomingMessage) {
	if b.transcriber == nil || !b.transcriber.Enabled() {
		b.reply(ctx, ch, msg.ChatID, "Voice transcription is not configured.")
		return
	}
	mc, ok := ch.(channels.MediaChannel)
	if !ok {
		return
	}

	data, _, err := mc.DownloadMedia(ctx, msg)
	if err != nil {
		b.reply(ctx, ch, msg.ChatID, "⚠️ Downloading voice note failed: "+err.Error())
		return
	}
	text, err := b.transcriber.Transcribe(ctx, data, "voice.ogg")
	if err != nil {
		b.reply(ctx, ch, msg.ChatID, "⚠️ Transcription failed: "+err.Error())
		return
	}
	if text == "" {
		b.reply(ctx, ch, msg.ChatID, "I couldn't hear anything in that note.")
		return
	}

	b.reply(ctx, ch, msg.ChatID, "🎤 "+text)
	b.relay(ctx, ch, msg.ChatID, text)
}

// handleMedia saves an inbound photo/document to the temp directory and
// relays a prompt referencing the saved path, so the subprocess's file tools
// can reach it.
func (b *Bot) handleMedia(ctx context.Context, ch channels.Channel, msg *channels.IncomingMessage) {
	mc, ok := ch.(channels.MediaChannel)
	if !ok {
		return
	}
	data, _, err := mc.DownloadMedia(ctx, msg)
	if err != nil {
		b.reply(ctx, ch, msg.ChatID, "⚠️ Downloading attachment failed: "+err.Error())
		return
	}

	name := "attachment"
	if msg.Media != nil && msg.Media.Filename != "" {
		name = filepath.Base(msg.Media.Filename)
	} else if msg.Type == channels.MessagePhoto {
		name = fmt.Sprintf("photo-%d.jpg", time.Now().UnixNano())
	}

	if err := os.MkdirAll(b.tempDir, 0o755); err != nil {
		b.reply(ctx, ch, msg.ChatID, "⚠️ Saving attachment failed: "+err.Error())
		return
	}
	path := filepath.Join(b.tempDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		b.reply(ctx, ch, msg.ChatID, "⚠️ Saving attachment failed: "+err.Error())
		return
	}

	prompt := fmt.Sprintf("The user sent a file, saved at %s.", path)
	if caption := strings.TrimSpace(msg.Content); caption != "" {
		prompt += " They wrote: " + caption
	}
	b.relay(ctx, ch, msg.ChatID, prompt)
}

// ---------- Helpers ----------

func (b *Bot) reply(ctx context.Context, ch channels.Channel, chatID, text string) {
	if err := ch.Send(ctx, chatID, &channels.OutgoingMessage{Content: text, Plain: true}); err != nil {
		b.logger.Warn("sending reply failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) typing(ctx context.Context, ch channels.Channel, chatID string) {
	if pc, ok := ch.(channels.PresenceChannel); ok {
		_ = pc.SendTyping(ctx, chatID)
	}
}
