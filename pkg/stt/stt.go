// Package stt turns canonical WAV audio into text.
package stt

import (
	"context"
	"fmt"
	"log/slog"

	"homevoice/pkg/config"
	sttopenai "homevoice/pkg/stt/openai"
)

//go:generate mockgen -destination=mocks/mock_transcriber.go -package=mocks homevoice/pkg/stt Transcriber

// Transcriber converts one canonical WAV recording into the spoken text.
// Implementations must honour ctx cancellation.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// New builds the transcriber selected by cfg.Provider.
func New(cfg config.STTConfig) (Transcriber, error) {
	providerID := cfg.Provider
	if providerID == "" {
		providerID = "openai"
	}

	slog.Default().With("component", "stt.factory").Debug("Resolving transcriber", "provider", providerID, "model", cfg.Model)

	switch providerID {
	case "openai":
		client, err := sttopenai.New(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported stt provider: %s", providerID)
	}
}
