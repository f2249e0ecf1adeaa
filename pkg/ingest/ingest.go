// Package ingest stages inbound commands in the payload cache and announces
// them on the command queue.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"homevoice/pkg/bus"
	"homevoice/pkg/command"

	"github.com/google/uuid"
)

const unstageTimeout = 5 * time.Second

// Submission is one command as captured by a front-end. Exactly one of Text
// and Audio must be set.
type Submission struct {
	UserID   string
	ChatID   string
	Text     string
	Audio    []byte
	MimeType string
}

// Stager is the part of payload.Repository ingestion needs.
type Stager interface {
	Save(ctx context.Context, id string, p command.Payload) (string, error)
	Delete(ctx context.Context, id string, kind command.Kind) error
}

// Service implements the ingestion stage.
type Service struct {
	stager        Stager
	publisher     bus.Publisher
	queue         string
	maxAudioBytes int64
	newID         func() (string, error)
	log           *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithMaxAudioBytes rejects audio larger than n bytes. n <= 0 disables the limit.
func WithMaxAudioBytes(n int64) Option {
	return func(s *Service) {
		s.maxAudioBytes = n
	}
}

// WithIDGenerator replaces the UUIDv7 generator, for tests.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// NewService publishes references on queue.
func NewService(stager Stager, publisher bus.Publisher, queue string, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		stager:    stager,
		publisher: publisher,
		queue:     queue,
		newID:     newCommandID,
		log:       log.With("component", "ingest.service"),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func newCommandID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Submit validates sub, stages its payload, and publishes a reference to it.
// The publish only happens after the cache write succeeded. Validation
// failures wrap command.ErrInvalidInput and have no side effects.
func (s *Service) Submit(ctx context.Context, sub Submission) (command.Reference, error) {
	p, err := s.validate(sub)
	if err != nil {
		return command.Reference{}, err
	}

	id, err := s.newID()
	if err != nil {
		return command.Reference{}, fmt.Errorf("generate command id: %w", err)
	}

	ref := command.Reference{
		ID:     id,
		UserID: strings.TrimSpace(sub.UserID),
		ChatID: strings.TrimSpace(sub.ChatID),
	}
	log := s.log.With("message_id", ref.ID, "user_id", ref.UserID, "kind", string(p.Kind()))

	key, err := s.stager.Save(ctx, ref.ID, p)
	if err != nil {
		log.Error("Failed to stage payload", "error", err)
		return command.Reference{}, err
	}

	body, err := command.EncodeReference(ref)
	if err != nil {
		s.unstage(ctx, ref.ID, p.Kind(), log)
		return command.Reference{}, fmt.Errorf("encode reference: %w", err)
	}

	if err := s.publisher.Publish(ctx, s.queue, body); err != nil {
		log.Error("Failed to publish command reference", "queue", s.queue, "error", err)
		s.unstage(ctx, ref.ID, p.Kind(), log)
		return command.Reference{}, fmt.Errorf("publish command reference: %w", err)
	}

	log.Info("Command submitted", "key", key, "queue", s.queue)
	return ref, nil
}

// unstage drops a payload nobody will ever reference. It detaches from ctx
// because ctx may be the reason the publish failed.
func (s *Service) unstage(ctx context.Context, id string, kind command.Kind, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unstageTimeout)
	defer cancel()

	if err := s.stager.Delete(ctx, id, kind); err != nil {
		log.Warn("Failed to remove orphaned payload", "error", err)
	}
}

func (s *Service) validate(sub Submission) (command.Payload, error) {
	if strings.TrimSpace(sub.UserID) == "" {
		return nil, fmt.Errorf("user id is required: %w", command.ErrInvalidInput)
	}

	// Whitespace only counts as missing text; accepted text is staged as given.
	hasText := strings.TrimSpace(sub.Text) != ""
	hasAudio := len(sub.Audio) > 0

	switch {
	case hasText && hasAudio:
		return nil, fmt.Errorf("submission carries both text and audio: %w", command.ErrInvalidInput)
	case hasText:
		if !utf8.ValidString(sub.Text) {
			return nil, fmt.Errorf("text is not valid UTF-8: %w", command.ErrInvalidInput)
		}
		return command.TextPayload{Text: sub.Text}, nil
	case hasAudio:
		mime := strings.TrimSpace(sub.MimeType)
		if mime == "" {
			return nil, fmt.Errorf("audio mime type is required: %w", command.ErrInvalidInput)
		}
		if s.maxAudioBytes > 0 && int64(len(sub.Audio)) > s.maxAudioBytes {
			return nil, fmt.Errorf("audio exceeds %d bytes: %w", s.maxAudioBytes, command.ErrInvalidInput)
		}
		return command.AudioPayload{Content: sub.Audio, MimeType: mime}, nil
	default:
		return nil, fmt.Errorf("submission carries neither text nor audio: %w", command.ErrInvalidInput)
	}
}
