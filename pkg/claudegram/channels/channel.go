// Package channels defines the delivery-channel interface the relay speaks
// to. A channel accepts plain text and image payloads, surfaces inbound
// events (messages, commands, menu selections) and renders inline selectable
// menus. Telegram and Discord implement it.
package channels

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by channel implementations.
var (
	ErrDisconnected        = errors.New("channel: not connected")
	ErrMediaDownloadFailed = errors.New("channel: media download failed")
)

// MessageType identifies the kind of inbound message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageVoice    MessageType = "voice"
	MessagePhoto    MessageType = "photo"
	MessageDocument MessageType = "document"

	// MessageCallback is an inline-menu selection, not user-authored text.
	MessageCallback MessageType = "callback"
)

// Channel is the minimal surface every delivery channel implements.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram").
	Name() string

	// Connect establishes the connection and starts delivering inbound
	// events to Receive.
	Connect(ctx context.Context) error

	// Disconnect stops the channel.
	Disconnect() error

	// Send delivers a text message to the given chat.
	Send(ctx context.Context, to string, msg *OutgoingMessage) error

	// Receive returns the stream of inbound messages.
	Receive() <-chan *IncomingMessage

	// IsConnected reports connection state.
	IsConnected() bool

	// MaxMessageLength is the transport's maximum text payload per message.
	MaxMessageLength() int

	// Health returns the channel health snapshot.
	Health() HealthStatus
}

// MediaChannel extends Channel with photo/file transfer.
type MediaChannel interface {
	Channel

	// SendPhoto delivers image bytes to the given chat.
	SendPhoto(ctx context.Context, to string, photo *Photo) error

	// DownloadMedia fetches the payload of an inbound media message.
	// Returns raw bytes and MIME type.
	DownloadMedia(ctx context.Context, msg *IncomingMessage) ([]byte, string, error)
}

// PresenceChannel extends Channel with a "typing" chat-action indicator.
type PresenceChannel interface {
	Channel

	SendTyping(ctx context.Context, to string) error
}

// MenuChannel extends Channel with inline selectable menus and the
// follow-ups a selection needs.
type MenuChannel interface {
	Channel

	// SendMenu sends text with an inline button menu and returns the sent
	// message id for later edits.
	SendMenu(ctx context.Context, to, text string, buttons []Button) (string, error)

	// EditMessageText replaces the text (and drops the menu) of a previously
	// sent message.
	EditMessageText(ctx context.Context, chatID, messageID, text string) error

	// AnswerCallback acknowledges a menu selection, optionally with a short
	// notice shown to the user.
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Button is one selectable inline-menu entry. Data is returned verbatim in
// the resulting callback message.
type Button struct {
	Text string
	Data string
}

// IncomingMessage is an inbound event from any channel.
type IncomingMessage struct {
	// ID is the message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "telegram").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name, if available.
	FromName string

	// ChatID identifies the conversation for replies.
	ChatID string

	// Type is the content kind.
	Type MessageType

	// Content is the text content (or caption for media).
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// Media describes the payload of voice/photo/document messages.
	Media *MediaInfo

	// Callback is set for MessageCallback events.
	Callback *CallbackInfo
}

// MediaInfo references a media payload for download.
type MediaInfo struct {
	Type     MessageType
	FileID   string
	MimeType string
	FileSize int64
	Duration int
	Filename string
}

// CallbackInfo carries an inline-menu selection.
type CallbackInfo struct {
	// ID acknowledges the selection via AnswerCallback.
	ID string

	// Data is the Button.Data of the selected entry.
	Data string

	// MessageID is the menu message, for EditMessageText.
	MessageID string
}

// OutgoingMessage is a text payload for Send.
type OutgoingMessage struct {
	Content string

	// ReplyTo quotes a message by id, when the transport supports it.
	ReplyTo string

	// Plain forces plain-text delivery, bypassing the channel's default
	// formatting mode. Used to retry chunks the transport rejected as
	// malformed markup.
	Plain bool
}

// Photo is an image payload for SendPhoto.
type Photo struct {
	Data     []byte
	Filename string
	Caption  string
}

// HealthStatus is a point-in-time channel health snapshot.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
}
