// Package command defines the values that flow through the voice command
// pipeline: references, payloads, outcomes, and their queue encodings.
package command

import (
	"fmt"
	"strings"
)

// Kind discriminates the two payload variants.
type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
)

// Reference identifies one staged command. It is the only thing the command
// queue carries; the payload itself stays in the cache.
type Reference struct {
	ID     string
	UserID string
	// ChatID is empty when the front-end has no separate chat address.
	ChatID string
}

// Payload is either a TextPayload or an AudioPayload.
type Payload interface {
	Kind() Kind
	isPayload()
}

// TextPayload is a command the user typed.
type TextPayload struct {
	Text string
}

func (TextPayload) Kind() Kind { return KindText }
func (TextPayload) isPayload() {}

// AudioPayload is a recorded voice command in an arbitrary container format.
type AudioPayload struct {
	Content  []byte
	MimeType string
}

func (AudioPayload) Kind() Kind { return KindAudio }
func (AudioPayload) isPayload() {}

// ParseKind maps a stored discriminant back to a Kind.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.TrimSpace(value)) {
	case KindText:
		return KindText, nil
	case KindAudio:
		return KindAudio, nil
	default:
		return "", fmt.Errorf("unknown payload kind %q", value)
	}
}
