// Package dispatch consumes command references, resolves their payloads into
// text and routes exactly one outcome per command.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"homevoice/pkg/audio"
	"homevoice/pkg/bus"
	"homevoice/pkg/command"
	"homevoice/pkg/payload"
	"homevoice/pkg/stt"
)

const defaultTranscribeTimeout = 120 * time.Second

// PayloadStore is the slice of the payload repository the worker needs.
type PayloadStore interface {
	Load(ctx context.Context, id string) (command.Payload, error)
	Delete(ctx context.Context, id string, kind command.Kind) error
	DeleteAll(ctx context.Context, id string) error
}

// OutcomeRouter publishes a terminal outcome.
type OutcomeRouter interface {
	Route(ctx context.Context, o command.Outcome) error
}

type Options struct {
	// TranscribeTimeout bounds one transcription call.
	TranscribeTimeout time.Duration
	Retry             RetryConfig
}

type Worker struct {
	payloads    PayloadStore
	normalizer  audio.Normalizer
	transcriber stt.Transcriber
	router      OutcomeRouter
	timeout     time.Duration
	retry       RetryConfig
	log         *slog.Logger
}

func NewWorker(payloads PayloadStore, normalizer audio.Normalizer, transcriber stt.Transcriber, router OutcomeRouter, opts Options, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if opts.TranscribeTimeout <= 0 {
		opts.TranscribeTimeout = defaultTranscribeTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryConfig()
	}

	return &Worker{
		payloads:    payloads,
		normalizer:  normalizer,
		transcriber: transcriber,
		router:      router,
		timeout:     opts.TranscribeTimeout,
		retry:       opts.Retry,
		log:         log.With("component", "dispatch.worker"),
	}
}

// Run consumes queue with concurrency handlers until ctx ends.
func (w *Worker) Run(ctx context.Context, subscriber bus.Subscriber, queue string, concurrency int) error {
	w.log.Info("Dispatch worker started", "queue", queue, "concurrency", concurrency)
	err := subscriber.Subscribe(ctx, queue, concurrency, w.HandleDelivery)
	w.log.Info("Dispatch worker stopped", "queue", queue)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// HandleDelivery is the bus handler for one command message. Undecodable
// messages are rejected; a failed outcome publish is returned so the broker
// redelivers.
func (w *Worker) HandleDelivery(ctx context.Context, d bus.Delivery) error {
	ref, err := command.DecodeReference(d.Body)
	if err != nil {
		w.log.Warn("Rejecting malformed command message", "delivery_id", d.ID, "error", err)
		return fmt.Errorf("%w: %v", bus.ErrReject, err)
	}

	log := w.log.With("message_id", ref.ID, "user_id", ref.UserID, "attempt", d.Attempt)

	outcome, err := w.Handle(ctx, ref)
	if err != nil {
		log.Warn("Command abandoned", "error", err)
		return err
	}

	err = withRetry(ctx, w.retry, func() error {
		return w.router.Route(ctx, outcome)
	})
	if err != nil {
		log.Error("Failed to route outcome", "error", err)
		return fmt.Errorf("route outcome for %s: %w", ref.ID, err)
	}

	return nil
}

// Handle turns ref into its terminal outcome and removes the staged payload.
// An error is returned only when ctx ended before an outcome was reached; the
// payload is left in place for redelivery.
func (w *Worker) Handle(ctx context.Context, ref command.Reference) (command.Outcome, error) {
	startedAt := time.Now()
	log := w.log.With("message_id", ref.ID, "user_id", ref.UserID)

	p, err := w.payloads.Load(ctx, ref.ID)
	switch {
	case err == nil:
	case errors.Is(err, command.ErrAudioNotFound):
		log.Info("Payload not found", "error", err)
		return command.Fail(ref, err), nil
	case errors.Is(err, payload.ErrCorrupt):
		log.Error("Discarding corrupt payload", "error", err)
		w.discard(ctx, ref, log)
		return internalFailure(ref, err), nil
	default:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Error("Failed to load payload", "error", err)
		w.discard(ctx, ref, log)
		return internalFailure(ref, err), nil
	}

	outcome, err := w.resolve(ctx, ref, p)
	if err != nil {
		return nil, err
	}

	if err := w.payloads.Delete(ctx, ref.ID, p.Kind()); err != nil {
		log.Warn("Failed to delete payload", "kind", p.Kind(), "error", err)
	}

	log.Info("Command handled",
		"kind", p.Kind(),
		"outcome", outcomeName(outcome),
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)
	return outcome, nil
}

// discard removes every staged key of ref after a failed load. Errors are
// logged; the cache TTL still bounds what is left behind.
func (w *Worker) discard(ctx context.Context, ref command.Reference, log *slog.Logger) {
	if err := w.payloads.DeleteAll(ctx, ref.ID); err != nil {
		log.Warn("Failed to delete payload", "error", err)
	}
}

func (w *Worker) resolve(ctx context.Context, ref command.Reference, p command.Payload) (command.Outcome, error) {
	switch v := p.(type) {
	case command.TextPayload:
		return command.Success{UserID: ref.UserID, ID: ref.ID, Text: v.Text}, nil
	case command.AudioPayload:
		return w.transcribeAudio(ctx, ref, v)
	default:
		return internalFailure(ref, fmt.Errorf("unsupported payload %T", p)), nil
	}
}

func (w *Worker) transcribeAudio(ctx context.Context, ref command.Reference, in command.AudioPayload) (command.Outcome, error) {
	normalized, err := w.normalizer.Normalize(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, command.ErrAudioConversion) {
			err = fmt.Errorf("failed to convert %s: %w: %v", in.MimeType, command.ErrAudioConversion, err)
		}
		return command.Fail(ref, err), nil
	}

	text, err := w.safeTranscribe(ctx, normalized.Content)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return internalFailure(ref, err), nil
	}

	return command.Success{UserID: ref.UserID, ID: ref.ID, Text: text}, nil
}

// safeTranscribe bounds the call by the worker timeout even if the
// transcriber ignores ctx, and converts a panic into an error.
func (w *Worker) safeTranscribe(ctx context.Context, wav []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Transcriber panic", "panic", r, "stack", string(debug.Stack()))
				done <- result{err: fmt.Errorf("transcriber panic: %v", r)}
			}
		}()

		text, err := w.transcriber.Transcribe(ctx, wav)
		done <- result{text: text, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("transcription timed out after %s: %w", w.timeout, res.err)
		}
		return res.text, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("transcription timed out after %s", w.timeout)
		}
		return "", ctx.Err()
	}
}

// internalFailure is a Failure of kind internal whatever err wraps.
func internalFailure(ref command.Reference, err error) command.Failure {
	return command.Failure{
		UserID: ref.UserID,
		ChatID: ref.ChatID,
		ID:     ref.ID,
		Kind:   command.KindInternal,
		Reason: command.InternalReason(err),
	}
}

func outcomeName(o command.Outcome) string {
	if f, ok := o.(command.Failure); ok {
		return string(f.Kind)
	}
	return "success"
}
