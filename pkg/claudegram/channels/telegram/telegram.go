// Package telegram implements the Telegram delivery channel using the Bot
// API directly via HTTP, without a client library.
//
// Features:
//   - Long polling for updates (getUpdates)
//   - Send/receive text, photos, voice notes, documents
//   - Typing indicators (sendChatAction)
//   - Inline keyboards with callback queries (the session picker menu)
//   - Message edits (editMessageText) and callback acks (answerCallbackQuery)
//   - Media download via getFile
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/claudegram/claudegram/pkg/claudegram/channels"
)

// MaxMessage is Telegram's text-message size limit.
const MaxMessage = 4096

// Config holds Telegram channel configuration.
type Config struct {
	// Token is the Telegram Bot API token (from @BotFather).
	Token string `yaml:"token"`

	// AllowedChats restricts which chat IDs the bot responds to. The relay
	// serves a single authorized user, so this is normally one entry; empty
	// accepts all chats.
	AllowedChats []int64 `yaml:"allowed_chats"`

	// SendTyping enables "typing..." indicators while processing.
	SendTyping bool `yaml:"send_typing"`

	// ParseMode is the formatting mode for outgoing messages ("Markdown",
	// "HTML", or empty for plain text).
	ParseMode string `yaml:"parse_mode"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendTyping: true,
		ParseMode:  "Markdown",
	}
}

// Telegram implements channels.Channel, channels.MediaChannel,
// channels.PresenceChannel, and channels.MenuChannel.
type Telegram struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	// baseURL is https://api.telegram.org/bot<token>.
	baseURL string

	// messages carries inbound events to the bot loop.
	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// offset is the last processed update ID + 1.
	offset int64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Telegram channel instance.
func New(cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		cfg:      cfg,
		logger:   logger.With("component", "telegram"),
		client:   &http.Client{Timeout: 60 * time.Second},
		baseURL:  "https://api.telegram.org/bot" + cfg.Token,
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// ---------- Channel Interface ----------

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// MaxMessageLength returns the Telegram text limit.
func (t *Telegram) MaxMessageLength() int { return MaxMessage }

// Connect verifies the token and starts the long-polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	if t.connected.Load() {
		return nil
	}

	t.ctx, t.cancel = context.WithCancel(ctx)

	me, err := t.getMe()
	if err != nil {
		return fmt.Errorf("telegram: failed to verify token: %w", err)
	}
	t.logger.Info("telegram: connected", "bot", me.Username, "id", me.ID)
	t.connected.Store(true)

	go t.pollLoop()
	return nil
}

// Disconnect stops the polling loop.
func (t *Telegram) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.connected.Store(false)
	t.logger.Info("telegram: disconnected")
	return nil
}

// Send delivers a text message to the given chat.
func (t *Telegram) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	if !t.connected.Load() {
		return channels.ErrDisconnected
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", to, err)
	}

	payload := map[string]any{
		"chat_id": chatID,
		"text":    msg.Content,
	}
	if t.cfg.ParseMode != "" && !msg.Plain {
		payload["parse_mode"] = t.cfg.ParseMode
	}
	if msg.ReplyTo != "" {
		if msgID, e := strconv.ParseInt(msg.ReplyTo, 10, 64); e == nil {
			payload["reply_parameters"] = map[string]any{"message_id": msgID}
		}
	}

	_, err = t.apiCall(ctx, "sendMessage", payload)
	return err
}

// Receive returns the inbound message stream.
func (t *Telegram) Receive() <-chan *channels.IncomingMessage {
	return t.messages
}

// IsConnected reports connection state.
func (t *Telegram) IsConnected() bool { return t.connected.Load() }

// Health returns the channel health snapshot.
func (t *Telegram) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := t.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     t.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(t.errorCount.Load()),
	}
}

// ---------- MediaChannel Interface ----------

// SendPhoto uploads image bytes to the given chat.
func (t *Telegram) SendPhoto(ctx context.Context, to string, photo *channels.Photo) error {
	if !t.connected.Load() {
		return channels.ErrDisconnected
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", to, err)
	}
	return t.uploadPhoto(ctx, chatID, photo)
}

// DownloadMedia fetches the payload of an inbound media message.
func (t *Telegram) DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	if msg.Media == nil || msg.Media.FileID == "" {
		return nil, "", channels.ErrMediaDownloadFailed
	}

	fileInfo, err := t.getFile(msg.Media.FileID)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: getFile failed: %w", err)
	}

	downloadURL := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", t.cfg.Token, fileInfo.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: creating download request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: download failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: reading media: %w", err)
	}
	return data, msg.Media.MimeType, nil
}

// ---------- PresenceChannel Interface ----------

// SendTyping sends a "typing..." chat action.
func (t *Telegram) SendTyping(ctx context.Context, to string) error {
	if !t.connected.Load() || !t.cfg.SendTyping {
		return nil
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return nil
	}
	_, err = t.apiCall(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	})
	return err
}

// ---------- MenuChannel Interface ----------

// SendMenu sends text with a one-button-per-row inline keyboard and returns
// the sent message id.
func (t *Telegram) SendMenu(ctx context.Context, to, text string, buttons []channels.Button) (string, error) {
	if !t.connected.Load() {
		return "", channels.ErrDisconnected
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return "", fmt.Errorf("telegram: invalid chat ID %q: %w", to, err)
	}

	rows := make([][]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		data := b.Data
		if len(data) > 64 {
			data = data[:64] // Telegram caps callback_data at 64 bytes
		}
		rows = append(rows, []map[string]any{{
			"text":          b.Text,
			"callback_data": data,
		}})
	}

	result, err := t.apiCall(ctx, "sendMessage", map[string]any{
		"chat_id":      chatID,
		"text":         text,
		"reply_markup": map[string]any{"inline_keyboard": rows},
	})
	if err != nil {
		return "", err
	}

	var sent struct {
		MessageID int `json:"message_id"`
	}
	if err := json.Unmarshal(result, &sent); err != nil {
		return "", fmt.Errorf("telegram: parsing sendMessage result: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// EditMessageText replaces the text of a previously sent message, dropping
// its inline keyboard.
func (t *Telegram) EditMessageText(ctx context.Context, chatID, messageID, text string) error {
	cid, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", chatID, err)
	}
	mid, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram: invalid message ID %q: %w", messageID, err)
	}
	_, err = t.apiCall(ctx, "editMessageText", map[string]any{
		"chat_id":    cid,
		"message_id": mid,
		"text":       text,
	})
	return err
}

// AnswerCallback acknowledges a callback query.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	_, err := t.apiCall(ctx, "answerCallbackQuery", payload)
	return err
}

// ---------- Polling ----------

// pollLoop runs the getUpdates long-polling loop with exponential backoff on
// errors.
func (t *Telegram) pollLoop() {
	t.logger.Info("telegram: polling started")
	backoff := time.Second

	for {
		select {
		case <-t.ctx.Done():
			t.logger.Info("telegram: polling stopped")
			return
		default:
		}

		updates, err := t.getUpdates(t.offset, 100, 30)
		if err != nil {
			t.errorCount.Add(1)
			t.logger.Warn("telegram: getUpdates error", "error", err, "backoff", backoff)
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		t.errorCount.Store(0)

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			t.processUpdate(u)
		}
	}
}

// processUpdate converts a Telegram update into an IncomingMessage.
func (t *Telegram) processUpdate(u tgUpdate) {
	if u.CallbackQuery != nil {
		t.processCallback(u.CallbackQuery)
		return
	}

	msg := u.Message
	if msg == nil {
		return
	}

	if !t.chatAllowed(msg.Chat.ID) {
		t.logger.Debug("telegram: message from unauthorized chat ignored", "chat_id", msg.Chat.ID)
		return
	}

	from := ""
	fromName := ""
	if msg.From != nil {
		from = strconv.FormatInt(msg.From.ID, 10)
		fromName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if fromName == "" {
			fromName = msg.From.Username
		}
	}

	incoming := &channels.IncomingMessage{
		ID:        strconv.Itoa(msg.MessageID),
		Channel:   "telegram",
		From:      from,
		FromName:  fromName,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Type:      channels.MessageText,
		Content:   msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
	if msg.Caption != "" && incoming.Content == "" {
		incoming.Content = msg.Caption
	}

	switch {
	case msg.Voice != nil:
		incoming.Type = channels.MessageVoice
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageVoice,
			FileID:   msg.Voice.FileID,
			MimeType: msg.Voice.MimeType,
			FileSize: msg.Voice.FileSize,
			Duration: msg.Voice.Duration,
		}
	case len(msg.Photo) > 0:
		// Telegram sends several resolutions; the last is the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		incoming.Type = channels.MessagePhoto
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessagePhoto,
			FileID:   photo.FileID,
			FileSize: photo.FileSize,
		}
	case msg.Document != nil:
		incoming.Type = channels.MessageDocument
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageDocument,
			FileID:   msg.Document.FileID,
			MimeType: msg.Document.MimeType,
			FileSize: msg.Document.FileSize,
			Filename: msg.Document.FileName,
		}
	}

	t.deliver(incoming)
}

// processCallback converts a callback query into a MessageCallback event.
func (t *Telegram) processCallback(cq *tgCallbackQuery) {
	if cq.Message == nil || !t.chatAllowed(cq.Message.Chat.ID) {
		return
	}
	from := ""
	if cq.From != nil {
		from = strconv.FormatInt(cq.From.ID, 10)
	}
	t.deliver(&channels.IncomingMessage{
		ID:        cq.ID,
		Channel:   "telegram",
		From:      from,
		ChatID:    strconv.FormatInt(cq.Message.Chat.ID, 10),
		Type:      channels.MessageCallback,
		Timestamp: time.Now(),
		Callback: &channels.CallbackInfo{
			ID:        cq.ID,
			Data:      cq.Data,
			MessageID: strconv.Itoa(cq.Message.MessageID),
		},
	})
}

func (t *Telegram) chatAllowed(chatID int64) bool {
	if len(t.cfg.AllowedChats) == 0 {
		return true
	}
	for _, id := range t.cfg.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

func (t *Telegram) deliver(msg *channels.IncomingMessage) {
	t.lastMsg.Store(time.Now())
	select {
	case t.messages <- msg:
	default:
		t.logger.Warn("telegram: message buffer full, dropping message", "msg_id", msg.ID)
	}
}

// ---------- Telegram Bot API Types ----------

type tgUpdate struct {
	UpdateID      int64            `json:"update_id"`
	Message       *tgMessage       `json:"message"`
	CallbackQuery *tgCallbackQuery `json:"callback_query"`
}

type tgMessage struct {
	MessageID int         `json:"message_id"`
	From      *tgUser     `json:"from"`
	Chat      tgChat      `json:"chat"`
	Date      int         `json:"date"`
	Text      string      `json:"text"`
	Caption   string      `json:"caption"`
	Photo     []tgPhoto   `json:"photo"`
	Voice     *tgVoice    `json:"voice"`
	Document  *tgDocument `json:"document"`
}

type tgCallbackQuery struct {
	ID      string     `json:"id"`
	From    *tgUser    `json:"from"`
	Message *tgMessage `json:"message"`
	Data    string     `json:"data"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type tgChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type tgPhoto struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
}

type tgVoice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type tgDocument struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type tgFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

type tgBotUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// ---------- API Helpers ----------

// apiCall makes a POST request to the Bot API and unwraps the result.
func (t *Telegram) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	if ctx == nil {
		ctx = t.ctx
	}
	url := t.baseURL + "/" + method
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}

// getMe verifies the bot token and returns bot info.
func (t *Telegram) getMe() (*tgBotUser, error) {
	data, err := t.apiCall(t.ctx, "getMe", map[string]any{})
	if err != nil {
		return nil, err
	}
	var user tgBotUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &user, nil
}

// getUpdates fetches new updates using long polling.
func (t *Telegram) getUpdates(offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	data, err := t.apiCall(t.ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"limit":           limit,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message", "callback_query"},
	})
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

// getFile retrieves file info for downloading.
func (t *Telegram) getFile(fileID string) (*tgFile, error) {
	data, err := t.apiCall(t.ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return nil, err
	}
	var file tgFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("telegram: parsing getFile: %w", err)
	}
	return &file, nil
}

// uploadPhoto uploads photo bytes via multipart form data.
func (t *Telegram) uploadPhoto(ctx context.Context, chatID int64, photo *channels.Photo) error {
	if len(photo.Data) == 0 {
		return fmt.Errorf("telegram: photo data is required")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chat_id", strconv.FormatInt(chatID, 10))
	if photo.Caption != "" {
		_ = w.WriteField("caption", photo.Caption)
	}

	filename := photo.Filename
	if filename == "" {
		filename = "photo.png"
	}
	part, err := w.CreateFormFile("photo", filename)
	if err != nil {
		return fmt.Errorf("telegram: creating form file: %w", err)
	}
	if _, err := part.Write(photo.Data); err != nil {
		return fmt.Errorf("telegram: writing photo data: %w", err)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/sendPhoto", &buf)
	if err != nil {
		return fmt.Errorf("telegram: creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: upload failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("telegram: decoding upload response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram: sendPhoto: %s", result.Description)
	}
	return nil
}

// Compile-time interface verification.
var (
	_ channels.Channel         = (*Telegram)(nil)
	_ channels.MediaChannel    = (*Telegram)(nil)
	_ channels.PresenceChannel = (*Telegram)(nil)
	_ channels.MenuChannel     = (*Telegram)(nil)
)
