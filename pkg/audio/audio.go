// Package audio converts recorded voice commands into the canonical format
// the transcriber accepts: 16-bit PCM WAV.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"homevoice/pkg/command"
	"homevoice/pkg/config"
)

// CanonicalMimeType is the only format the transcriber receives.
const CanonicalMimeType = "audio/wav"

var wavAliases = map[string]struct{}{
	"audio/wav":      {},
	"audio/x-wav":    {},
	"audio/wave":     {},
	"audio/vnd.wave": {},
}

var (
	errEmptyAudio = errors.New("audio content is empty")
	errNotWAV     = errors.New("output is not a RIFF/WAVE stream")
)

// Normalizer turns any supported audio payload into canonical WAV.
type Normalizer interface {
	Normalize(ctx context.Context, in command.AudioPayload) (command.AudioPayload, error)
}

// Runner executes an external program with stdin and returns its stdout and
// stderr. It exists so tests can stand in for ffmpeg.
type Runner func(ctx context.Context, path string, args []string, stdin []byte) (stdout []byte, stderr []byte, err error)

// Converter is the production Normalizer.
type Converter struct {
	ffmpegPath string
	timeout    time.Duration
	sampleRate int
	channels   int
	run        Runner
	log        *slog.Logger
}

// Option customizes a Converter.
type Option func(*Converter)

// WithRunner replaces the ffmpeg process runner.
func WithRunner(run Runner) Option {
	return func(c *Converter) {
		c.run = run
	}
}

func NewConverter(cfg config.AudioConfig, log *slog.Logger, opts ...Option) *Converter {
	if log == nil {
		log = slog.Default()
	}

	c := &Converter{
		ffmpegPath: cfg.FFmpegPath,
		timeout:    cfg.ConversionTimeout(),
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		run:        execRunner,
		log:        log.With("component", "audio.converter"),
	}
	if c.ffmpegPath == "" {
		c.ffmpegPath = "ffmpeg"
	}
	if c.sampleRate <= 0 {
		c.sampleRate = 16000
	}
	if c.channels <= 0 {
		c.channels = 1
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Normalize returns canonical audio for in. WAV input is passed through
// byte for byte. Every failure wraps command.ErrAudioConversion.
func (c *Converter) Normalize(ctx context.Context, in command.AudioPayload) (command.AudioPayload, error) {
	mediaType, params, err := parseMime(in.MimeType)
	if err != nil {
		return command.AudioPayload{}, conversionError(in.MimeType, err)
	}
	if len(in.Content) == 0 {
		return command.AudioPayload{}, conversionError(in.MimeType, errEmptyAudio)
	}

	if _, ok := wavAliases[mediaType]; ok {
		return command.AudioPayload{Content: in.Content, MimeType: CanonicalMimeType}, nil
	}

	startedAt := time.Now()
	var out []byte
	switch mediaType {
	case "audio/pcm", "audio/l16":
		out, err = c.encodePCM(in.Content, mediaType == "audio/l16", params)
	default:
		out, err = c.transcode(ctx, in.Content)
	}
	if err != nil {
		c.log.Debug("Audio conversion failed", "mime_type", in.MimeType, "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return command.AudioPayload{}, conversionError(in.MimeType, err)
	}

	c.log.Debug("Audio converted", "mime_type", in.MimeType, "in_bytes", len(in.Content), "out_bytes", len(out), "duration_ms", time.Since(startedAt).Milliseconds())
	return command.AudioPayload{Content: out, MimeType: CanonicalMimeType}, nil
}

func (c *Converter) transcode(ctx context.Context, content []byte) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ac", strconv.Itoa(c.channels),
		"-ar", strconv.Itoa(c.sampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		"pipe:1",
	}

	stdout, stderr, err := c.run(ctx, c.ffmpegPath, args, content)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("ffmpeg: %w", ctxErr)
		}
		if detail := strings.TrimSpace(string(stderr)); detail != "" {
			return nil, fmt.Errorf("ffmpeg: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	if !isWAV(stdout) {
		return nil, errNotWAV
	}

	return stdout, nil
}

func execRunner(ctx context.Context, path string, args []string, stdin []byte) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func parseMime(value string) (string, map[string]string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil, errors.New("mime type is empty")
	}

	mediaType, params, err := mime.ParseMediaType(value)
	if err != nil {
		return "", nil, fmt.Errorf("parse mime type: %w", err)
	}

	return strings.ToLower(mediaType), params, nil
}

func isWAV(content []byte) bool {
	return len(content) >= 12 &&
		string(content[0:4]) == "RIFF" &&
		string(content[8:12]) == "WAVE"
}

func conversionError(mimeType string, err error) error {
	return fmt.Errorf("failed to convert %s to wav: %w: %w", mimeType, command.ErrAudioConversion, err)
}
