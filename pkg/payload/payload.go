// Package payload stores command payloads in a cache.Store under the
// "<kind>:<id>" key scheme.
package payload

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"homevoice/pkg/cache"
	"homevoice/pkg/command"

	"github.com/zeebo/blake3"
)

// ErrCorrupt reports a stored envelope that cannot be trusted.
var ErrCorrupt = errors.New("payload: corrupt envelope")

// probeOrder is the order Load tries keys in. Text first, so the cheap path
// costs one round trip.
var probeOrder = []command.Kind{command.KindText, command.KindAudio}

// Key returns the cache key for a payload of kind staged under id.
func Key(kind command.Kind, id string) string {
	return string(kind) + ":" + id
}

type envelope struct {
	Kind     command.Kind `json:"kind"`
	Text     string       `json:"text,omitempty"`
	Content  string       `json:"content,omitempty"`
	MimeType string       `json:"mime_type,omitempty"`
	Digest   string       `json:"digest"`
}

// Repository reads and writes payloads. It owns the key scheme and the
// envelope codec; the store only sees opaque bytes.
type Repository struct {
	store cache.Store
	ttl   time.Duration
}

// NewRepository wraps store. Every Save uses ttl; ttl <= 0 means no expiry.
func NewRepository(store cache.Store, ttl time.Duration) *Repository {
	return &Repository{store: store, ttl: ttl}
}

// Save stages p under id and returns the key it used.
func (r *Repository) Save(ctx context.Context, id string, p command.Payload) (string, error) {
	body, err := encode(p)
	if err != nil {
		return "", err
	}

	key := Key(p.Kind(), id)
	if err := r.store.Set(ctx, key, body, r.ttl); err != nil {
		return "", fmt.Errorf("stage payload %s: %w", key, err)
	}

	return key, nil
}

// Load fetches the payload staged under id. It returns command.ErrAudioNotFound
// when no key of any kind exists, and ErrCorrupt when the stored bytes do not
// decode or fail the digest check.
func (r *Repository) Load(ctx context.Context, id string) (command.Payload, error) {
	for _, kind := range probeOrder {
		key := Key(kind, id)
		body, err := r.store.Get(ctx, key)
		if errors.Is(err, cache.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load payload %s: %w", key, err)
		}

		p, err := decode(body)
		if err != nil {
			return nil, fmt.Errorf("load payload %s: %w", key, err)
		}
		if p.Kind() != kind {
			return nil, fmt.Errorf("load payload %s: stored kind %s: %w", key, p.Kind(), ErrCorrupt)
		}

		return p, nil
	}

	return nil, fmt.Errorf("payload %s: %w", id, command.ErrAudioNotFound)
}

// Delete removes the payload staged under id for kind.
func (r *Repository) Delete(ctx context.Context, id string, kind command.Kind) error {
	key := Key(kind, id)
	if err := r.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete payload %s: %w", key, err)
	}

	return nil
}

// DeleteAll removes every key id may be staged under. It is used when the
// kind is unknown because the stored envelope was unreadable.
func (r *Repository) DeleteAll(ctx context.Context, id string) error {
	var errs []error
	for _, kind := range probeOrder {
		if err := r.Delete(ctx, id, kind); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func encode(p command.Payload) ([]byte, error) {
	var env envelope
	switch v := p.(type) {
	case command.TextPayload:
		// JSON would rewrite invalid bytes and break the digest.
		if !utf8.ValidString(v.Text) {
			return nil, errors.New("payload: text is not valid UTF-8")
		}
		env = envelope{Kind: command.KindText, Text: v.Text, Digest: digest([]byte(v.Text))}
	case command.AudioPayload:
		env = envelope{
			Kind:     command.KindAudio,
			Content:  base64.StdEncoding.EncodeToString(v.Content),
			MimeType: v.MimeType,
			Digest:   digest(v.Content),
		}
	default:
		return nil, fmt.Errorf("encode payload: unsupported type %T", p)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	return body, nil
}

func decode(body []byte) (command.Payload, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	kind, err := command.ParseKind(string(env.Kind))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	switch kind {
	case command.KindText:
		if digest([]byte(env.Text)) != env.Digest {
			return nil, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
		}
		return command.TextPayload{Text: env.Text}, nil
	case command.KindAudio:
		content, err := base64.StdEncoding.DecodeString(env.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if digest(content) != env.Digest {
			return nil, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
		}
		return command.AudioPayload{Content: content, MimeType: env.MimeType}, nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrCorrupt, kind)
	}
}

func digest(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}
