package channel

import (
	"context"
)

// InboundMessage is one command received by a front-end. Exactly one of Text
// or Audio is expected to be set.
type InboundMessage struct {
	Channel  string
	SenderID string
	ChatID   string
	Text     string
	Audio    []byte
	MimeType string
	Metadata map[string]string
}

// HasAudio reports whether the message carries an audio attachment.
func (m InboundMessage) HasAudio() bool {
	return len(m.Audio) > 0
}

// OutboundMessage is the immediate reply sent back to the sender.
type OutboundMessage struct {
	Content string
	Error   string
}

// Handler processes one inbound channel message and returns an outbound reply.
type Handler func(context.Context, InboundMessage) (OutboundMessage, error)

// Adapter bridges one external transport (for example Telegram) into the pipeline.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}

// Notifier delivers an unsolicited message to a chat, used to report failed
// commands back to the user.
type Notifier interface {
	Notify(ctx context.Context, chatID string, text string) error
}
