// Package discord implements the Discord delivery channel using discordgo.
// It mirrors the Telegram channel's surface: text, photos, typing
// indicators, and inline menus rendered as message-component buttons.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/claudegram/claudegram/pkg/claudegram/channels"
)

// MaxMessage is Discord's text-message size limit.
const MaxMessage = 2000

// interactionTTL is how long a pending menu interaction is kept for
// acknowledgement before being dropped.
const interactionTTL = 10 * time.Minute

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty accepts all channels.
	AllowedChannels []string `yaml:"allowed_channels"`

	// SendTyping enables "typing..." indicators while processing.
	SendTyping bool `yaml:"send_typing"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{SendTyping: true}
}

// Discord implements channels.Channel, channels.MediaChannel,
// channels.PresenceChannel, and channels.MenuChannel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// httpClient downloads attachments.
	httpClient *http.Client

	// pending maps interaction IDs to the interaction awaiting an
	// AnswerCallback response.
	pending   map[string]*pendingInteraction
	pendingMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

type pendingInteraction struct {
	interaction *discordgo.Interaction
	createdAt   time.Time
}

// New creates a Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:        cfg,
		logger:     logger.With("component", "discord"),
		messages:   make(chan *channels.IncomingMessage, 256),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		pending:    make(map[string]*pendingInteraction),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// MaxMessageLength returns the Discord text limit.
func (d *Discord) MaxMessageLength() int { return MaxMessage }

// Connect opens the Discord gateway connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onInteractionCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)
	d.logger.Info("discord: connected", "bot", session.State.User.Username, "id", session.State.User.ID)
	return nil
}

// Disconnect closes the gateway connection.
func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.session != nil {
		_ = d.session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Send delivers a text message to the given channel.
func (d *Discord) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	if d.session == nil {
		return channels.ErrDisconnected
	}
	send := &discordgo.MessageSend{Content: msg.Content}
	if msg.ReplyTo != "" {
		send.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo}
	}
	_, err := d.session.ChannelMessageSendComplex(to, send)
	return err
}

// Receive returns the inbound message stream.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected reports connection state.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health snapshot.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

// ---------- MediaChannel Interface ----------

// SendPhoto sends image bytes as an attachment.
func (d *Discord) SendPhoto(ctx context.Context, to string, photo *channels.Photo) error {
	if d.session == nil {
		return channels.ErrDisconnected
	}
	filename := photo.Filename
	if filename == "" {
		filename = "photo.png"
	}
	send := &discordgo.MessageSend{
		Files: []*discordgo.File{{Name: filename, Reader: bytes.NewReader(photo.Data)}},
	}
	if photo.Caption != "" {
		send.Content = photo.Caption
	}
	_, err := d.session.ChannelMessageSendComplex(to, send)
	return err
}

// DownloadMedia downloads an attachment. For Discord the media FileID is the
// attachment URL.
func (d *Discord) DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	if msg.Media == nil || msg.Media.FileID == "" {
		return nil, "", channels.ErrMediaDownloadFailed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, msg.Media.FileID, nil)
	if err != nil {
		return nil, "", fmt.Errorf("discord: creating download request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("discord: download: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("discord: reading attachment: %w", err)
	}
	return data, msg.Media.MimeType, nil
}

// ---------- PresenceChannel Interface ----------

// SendTyping sends a typing indicator.
func (d *Discord) SendTyping(ctx context.Context, to string) error {
	if d.session == nil || !d.cfg.SendTyping {
		return nil
	}
	return d.session.ChannelTyping(to)
}

// ---------- MenuChannel Interface ----------

// SendMenu sends text with component buttons and returns the message id.
func (d *Discord) SendMenu(ctx context.Context, to, text string, buttons []channels.Button) (string, error) {
	if d.session == nil {
		return "", channels.ErrDisconnected
	}

	// Discord allows at most 5 buttons per action row and 5 rows.
	var rows []discordgo.MessageComponent
	var row []discordgo.MessageComponent
	for _, b := range buttons {
		row = append(row, discordgo.Button{
			Label:    b.Text,
			Style:    discordgo.SecondaryButton,
			CustomID: b.Data,
		})
		if len(row) == 5 {
			rows = append(rows, discordgo.ActionsRow{Components: row})
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, discordgo.ActionsRow{Components: row})
	}

	sent, err := d.session.ChannelMessageSendComplex(to, &discordgo.MessageSend{
		Content:    text,
		Components: rows,
	})
	if err != nil {
		return "", err
	}
	return sent.ID, nil
}

// EditMessageText replaces a sent message's text and drops its components.
func (d *Discord) EditMessageText(ctx context.Context, chatID, messageID, text string) error {
	if d.session == nil {
		return channels.ErrDisconnected
	}
	empty := []discordgo.MessageComponent{}
	_, err := d.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    chatID,
		ID:         messageID,
		Content:    &text,
		Components: &empty,
	})
	return err
}

// AnswerCallback acknowledges a button press, optionally with an ephemeral
// notice.
func (d *Discord) AnswerCallback(ctx context.Context, callbackID, text string) error {
	d.pendingMu.Lock()
	p, ok := d.pending[callbackID]
	delete(d.pending, callbackID)
	d.pendingMu.Unlock()
	if !ok {
		return fmt.Errorf("discord: unknown callback %q", callbackID)
	}

	if text == "" {
		return d.session.InteractionRespond(p.interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		})
	}
	return d.session.InteractionRespond(p.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: text,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// ---------- Event Handlers ----------

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	if !d.channelAllowed(m.ChannelID) {
		return
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		ChatID:    m.ChannelID,
		Type:      channels.MessageText,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}

	if len(m.Attachments) > 0 {
		att := m.Attachments[0]
		mediaType := inferMediaType(att.ContentType)
		incoming.Type = mediaType
		incoming.Media = &channels.MediaInfo{
			Type:     mediaType,
			FileID:   att.URL,
			MimeType: att.ContentType,
			FileSize: int64(att.Size),
			Filename: att.Filename,
		}
	}

	d.deliver(incoming)
}

func (d *Discord) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	if !d.channelAllowed(i.ChannelID) {
		return
	}

	d.pendingMu.Lock()
	now := time.Now()
	for id, p := range d.pending {
		if now.Sub(p.createdAt) > interactionTTL {
			delete(d.pending, id)
		}
	}
	d.pending[i.ID] = &pendingInteraction{interaction: i.Interaction, createdAt: now}
	d.pendingMu.Unlock()

	from := ""
	if i.Member != nil && i.Member.User != nil {
		from = i.Member.User.ID
	} else if i.User != nil {
		from = i.User.ID
	}

	messageID := ""
	if i.Message != nil {
		messageID = i.Message.ID
	}

	d.deliver(&channels.IncomingMessage{
		ID:        i.ID,
		Channel:   "discord",
		From:      from,
		ChatID:    i.ChannelID,
		Type:      channels.MessageCallback,
		Timestamp: time.Now(),
		Callback: &channels.CallbackInfo{
			ID:        i.ID,
			Data:      i.MessageComponentData().CustomID,
			MessageID: messageID,
		},
	})
}

func (d *Discord) channelAllowed(channelID string) bool {
	if len(d.cfg.AllowedChannels) == 0 {
		return true
	}
	for _, id := range d.cfg.AllowedChannels {
		if id == channelID {
			return true
		}
	}
	return false
}

func (d *Discord) deliver(msg *channels.IncomingMessage) {
	d.lastMsg.Store(time.Now())
	select {
	case d.messages <- msg:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", msg.ID)
	}
}

// inferMediaType maps an attachment content type to a MessageType.
func inferMediaType(contentType string) channels.MessageType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return channels.MessagePhoto
	case strings.HasPrefix(contentType, "audio/"):
		return channels.MessageVoice
	default:
		return channels.MessageDocument
	}
}

// Compile-time interface verification.
var (
	_ channels.Channel         = (*Discord)(nil)
	_ channels.MediaChannel    = (*Discord)(nil)
	_ channels.PresenceChannel = (*Discord)(nil)
	_ channels.MenuChannel     = (*Discord)(nil)
)
