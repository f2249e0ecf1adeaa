package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CommandMessage is the body published on the command queue.
type CommandMessage struct {
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id,omitempty"`
}

// SuccessMessage is the body published on the success queue.
type SuccessMessage struct {
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

// ErrorMessage is the body published on the error queue.
type ErrorMessage struct {
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id,omitempty"`
	Reason    string `json:"reason"`
}

// EncodeReference renders ref as a command queue body.
func EncodeReference(ref Reference) ([]byte, error) {
	return json.Marshal(CommandMessage{UserID: ref.UserID, MessageID: ref.ID, ChatID: ref.ChatID})
}

// DecodeReference parses a command queue body. Bodies without both
// identifiers are rejected.
func DecodeReference(body []byte) (Reference, error) {
	var msg CommandMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return Reference{}, fmt.Errorf("decode command message: %w", err)
	}

	msg.UserID = strings.TrimSpace(msg.UserID)
	msg.MessageID = strings.TrimSpace(msg.MessageID)
	if msg.UserID == "" || msg.MessageID == "" {
		return Reference{}, errors.New("command message requires user_id and message_id")
	}

	return Reference{ID: msg.MessageID, UserID: msg.UserID, ChatID: strings.TrimSpace(msg.ChatID)}, nil
}

// EncodeOutcome renders an outcome as the body for its destination queue.
func EncodeOutcome(outcome Outcome) ([]byte, error) {
	switch o := outcome.(type) {
	case Success:
		return json.Marshal(SuccessMessage{UserID: o.UserID, MessageID: o.ID, Text: o.Text})
	case Failure:
		return json.Marshal(ErrorMessage{UserID: o.UserID, MessageID: o.ID, ChatID: o.ChatID, Reason: o.Reason})
	default:
		return nil, fmt.Errorf("unsupported outcome %T", outcome)
	}
}

// DecodeSuccess parses a success queue body.
func DecodeSuccess(body []byte) (Success, error) {
	var msg SuccessMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return Success{}, fmt.Errorf("decode success message: %w", err)
	}
	if msg.MessageID == "" {
		return Success{}, errors.New("success message requires message_id")
	}

	return Success{UserID: msg.UserID, ID: msg.MessageID, Text: msg.Text}, nil
}

// DecodeFailure parses an error queue body. The category is not carried on
// the wire, so it is recovered from the reason where possible.
func DecodeFailure(body []byte) (Failure, error) {
	var msg ErrorMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return Failure{}, fmt.Errorf("decode error message: %w", err)
	}
	if msg.MessageID == "" {
		return Failure{}, errors.New("error message requires message_id")
	}

	return Failure{
		UserID: msg.UserID,
		ChatID: strings.TrimSpace(msg.ChatID),
		ID:     msg.MessageID,
		Kind:   reasonKind(msg.MessageID, msg.Reason),
		Reason: msg.Reason,
	}, nil
}
