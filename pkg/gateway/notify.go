package gateway

import (
	"context"

	"homevoice/pkg/channel"
	"homevoice/pkg/command"
)

// NotifyFailure reports a failed command back to the chat it came from, or
// to the sender's private chat when no chat was reported, through the first
// adapter that can send unsolicited messages. Successes are ignored; they are
// answered by the downstream consumer. It has the shape of an
// outcome.Listener.
func (s *Service) NotifyFailure(ctx context.Context, o command.Outcome) {
	failure, ok := o.(command.Failure)
	if !ok || !s.cfg.NotifyErrors {
		return
	}

	notifier := s.notifier()
	if notifier == nil {
		s.log.Debug("No channel can deliver failure notifications", "message_id", failure.ID)
		return
	}

	chatID := failure.ChatID
	if chatID == "" {
		chatID = failure.UserID
	}

	if err := notifier.Notify(ctx, chatID, failureText(failure)); err != nil {
		s.log.Warn("Failed to notify user", "message_id", failure.ID, "user_id", failure.UserID, "chat_id", chatID, "error", err)
	}
}

func (s *Service) notifier() channel.Notifier {
	for _, adapter := range s.channels {
		if notifier, ok := adapter.(channel.Notifier); ok {
			return notifier
		}
	}
	return nil
}

func failureText(f command.Failure) string {
	switch f.Kind {
	case command.KindAudioNotFound:
		return "Your command expired before it could be processed, please send it again"
	case command.KindAudioConversion:
		return "Could not read the voice message, please try another recording"
	default:
		return "Could not process your command, please try again"
	}
}
