// Package openai transcribes audio through an OpenAI-compatible
// /audio/transcriptions endpoint, including self-hosted Whisper servers.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"homevoice/pkg/config"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultModel  = "whisper-1"
	audioFilename = "command.wav"
	audioMimeType = "audio/wav"
)

type Client struct {
	client   osdk.Client
	model    string
	language string
	log      *slog.Logger
}

// New builds a client from cfg. Extra request options are appended last.
func New(cfg config.STTConfig, extra ...option.RequestOption) (*Client, error) {
	key := apiKey(cfg.APIKeyEnv)
	if key == "" {
		return nil, errors.New("no transcription API key: set stt.api_key_env or OPENAI_API_KEY")
	}

	model, err := modelName(cfg.Model)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.RequestTimeoutSeconds > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(cfg.RequestTimeoutSeconds)*time.Second))
	}

	return &Client{
		client:   osdk.NewClient(append(opts, extra...)...),
		model:    model,
		language: strings.TrimSpace(cfg.Language),
		log:      slog.Default().With("component", "stt.openai", "model", model),
	}, nil
}

// Transcribe uploads wav and returns the recognized text. An empty
// transcript is an error.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", errors.New("audio is required")
	}

	params := osdk.AudioTranscriptionNewParams{
		File:  osdk.File(bytes.NewReader(wav), audioFilename, audioMimeType),
		Model: osdk.AudioModel(c.model),
	}
	if c.language != "" {
		params.Language = osdk.String(c.language)
	}

	started := time.Now()
	result, err := c.client.Audio.Transcriptions.New(ctx, params)
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		c.log.Debug("Transcription request failed", "audio_bytes", len(wav), "duration_ms", elapsed, "error", err)
		return "", fmt.Errorf("transcribe failed: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		c.log.Debug("Transcription was empty", "audio_bytes", len(wav), "duration_ms", elapsed)
		return "", errors.New("transcription succeeded but returned no text")
	}

	c.log.Debug("Transcription received", "audio_bytes", len(wav), "duration_ms", elapsed, "text_length", len(text))
	return text, nil
}

// apiKey reads the key from envName, falling back to OPENAI_API_KEY.
func apiKey(envName string) string {
	for _, name := range []string{strings.TrimSpace(envName), "OPENAI_API_KEY"} {
		if name == "" {
			continue
		}
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			return key
		}
	}
	return ""
}

// modelName accepts "whisper-1" or "openai/whisper-1".
func modelName(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return defaultModel, nil
	}

	provider, name, qualified := strings.Cut(model, "/")
	if !qualified {
		return model, nil
	}

	provider, name = strings.TrimSpace(provider), strings.TrimSpace(name)
	switch {
	case provider == "" || name == "":
		return "", fmt.Errorf("invalid stt model %q", model)
	case provider != "openai":
		return "", fmt.Errorf("stt model %q: provider %q is not OpenAI-compatible", model, provider)
	}
	return name, nil
}
