package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os/exec"
	"slices"
	"testing"
	"time"

	"homevoice/pkg/command"
	"homevoice/pkg/config"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.AudioConfig {
	return config.AudioConfig{FFmpegPath: "ffmpeg", ConversionTimeoutSeconds: 5, SampleRate: 16000, Channels: 1}
}

func pcmLE(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func TestNormalizePassesCanonicalAudioThrough(t *testing.T) {
	called := false
	conv := NewConverter(testConfig(), nil, WithRunner(func(context.Context, string, []string, []byte) ([]byte, []byte, error) {
		called = true
		return nil, nil, nil
	}))

	content := []byte("RIFF\x24\x00\x00\x00WAVEfmt ")
	for _, mimeType := range []string{"audio/wav", "audio/x-wav", "Audio/WAV", "audio/wave; codecs=1"} {
		out, err := conv.Normalize(context.Background(), command.AudioPayload{Content: content, MimeType: mimeType})
		require.NoError(t, err, mimeType)
		assert.Equal(t, content, out.Content, mimeType)
		assert.Equal(t, CanonicalMimeType, out.MimeType)
	}
	assert.False(t, called, "canonical audio must not reach ffmpeg")
}

func TestNormalizeEncodesRawPCM(t *testing.T) {
	conv := NewConverter(testConfig(), nil)

	in := pcmLE(0, 1000, -1000, 32767, -32768, 5)
	out, err := conv.Normalize(context.Background(), command.AudioPayload{Content: in, MimeType: "audio/pcm; rate=8000"})
	require.NoError(t, err)
	assert.Equal(t, CanonicalMimeType, out.MimeType)

	dec := wav.NewDecoder(bytes.NewReader(out.Content))
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, uint32(8000), dec.SampleRate)
	assert.Equal(t, uint16(1), dec.NumChans)
	assert.Equal(t, []int{0, 1000, -1000, 32767, -32768, 5}, buf.Data)
}

func TestNormalizeEncodesBigEndianL16(t *testing.T) {
	conv := NewConverter(testConfig(), nil)

	in := []byte{0x03, 0xe8, 0xfc, 0x18} // 1000, -1000
	out, err := conv.Normalize(context.Background(), command.AudioPayload{Content: in, MimeType: "audio/L16; rate=16000; channels=2"})
	require.NoError(t, err)

	dec := wav.NewDecoder(bytes.NewReader(out.Content))
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, uint16(2), dec.NumChans)
	assert.Equal(t, []int{1000, -1000}, buf.Data)
}

func TestNormalizeRejectsMalformedPCM(t *testing.T) {
	conv := NewConverter(testConfig(), nil)

	tests := []command.AudioPayload{
		{Content: []byte{1, 2, 3}, MimeType: "audio/pcm"},
		{Content: pcmLE(1, 2, 3), MimeType: "audio/pcm; channels=2"},
		{Content: pcmLE(1), MimeType: "audio/pcm; rate=fast"},
	}
	for _, in := range tests {
		_, err := conv.Normalize(context.Background(), in)
		assert.ErrorIs(t, err, command.ErrAudioConversion, in.MimeType)
	}
}

func TestNormalizeRunsFFmpegForOtherFormats(t *testing.T) {
	var gotPath string
	var gotArgs []string
	var gotStdin []byte
	wavBytes := []byte("RIFF\x00\x00\x00\x00WAVEdata")

	conv := NewConverter(testConfig(), nil, WithRunner(func(_ context.Context, path string, args []string, stdin []byte) ([]byte, []byte, error) {
		gotPath, gotArgs, gotStdin = path, args, stdin
		return wavBytes, nil, nil
	}))

	out, err := conv.Normalize(context.Background(), command.AudioPayload{Content: []byte("OggS voice"), MimeType: "audio/ogg"})
	require.NoError(t, err)
	assert.Equal(t, wavBytes, out.Content)
	assert.Equal(t, CanonicalMimeType, out.MimeType)
	assert.Equal(t, "ffmpeg", gotPath)
	assert.Equal(t, []byte("OggS voice"), gotStdin)
	assert.True(t, slices.Contains(gotArgs, "pipe:0"))
	assert.Equal(t, "pipe:1", gotArgs[len(gotArgs)-1])
	assert.True(t, slices.Contains(gotArgs, "16000"))
}

func TestNormalizeReportsFFmpegFailure(t *testing.T) {
	conv := NewConverter(testConfig(), nil, WithRunner(func(context.Context, string, []string, []byte) ([]byte, []byte, error) {
		return nil, []byte("Invalid data found when processing input"), errors.New("exit status 1")
	}))

	_, err := conv.Normalize(context.Background(), command.AudioPayload{Content: []byte("junk"), MimeType: "audio/ogg"})
	require.ErrorIs(t, err, command.ErrAudioConversion)
	assert.Contains(t, err.Error(), "Invalid data found")
	assert.Contains(t, err.Error(), "audio/ogg")
}

func TestNormalizeRejectsNonWAVOutput(t *testing.T) {
	conv := NewConverter(testConfig(), nil, WithRunner(func(context.Context, string, []string, []byte) ([]byte, []byte, error) {
		return []byte("not a wav"), nil, nil
	}))

	_, err := conv.Normalize(context.Background(), command.AudioPayload{Content: []byte("x"), MimeType: "audio/mpeg"})
	assert.ErrorIs(t, err, command.ErrAudioConversion)
}

func TestNormalizeTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.ConversionTimeoutSeconds = 0
	conv := NewConverter(cfg, nil, WithRunner(func(ctx context.Context, _ string, _ []string, _ []byte) ([]byte, []byte, error) {
		<-ctx.Done()
		return nil, nil, errors.New("signal: killed")
	}))
	conv.timeout = 20 * time.Millisecond

	_, err := conv.Normalize(context.Background(), command.AudioPayload{Content: []byte("x"), MimeType: "audio/ogg"})
	require.ErrorIs(t, err, command.ErrAudioConversion)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNormalizeRejectsEmptyAndUnparseable(t *testing.T) {
	conv := NewConverter(testConfig(), nil)

	_, err := conv.Normalize(context.Background(), command.AudioPayload{MimeType: "audio/ogg"})
	assert.ErrorIs(t, err, command.ErrAudioConversion)

	_, err = conv.Normalize(context.Background(), command.AudioPayload{Content: []byte{1}, MimeType: ";;"})
	assert.ErrorIs(t, err, command.ErrAudioConversion)
}

func TestNormalizeMissingFFmpegBinary(t *testing.T) {
	cfg := testConfig()
	cfg.FFmpegPath = "/nonexistent/ffmpeg"
	conv := NewConverter(cfg, nil)

	_, err := conv.Normalize(context.Background(), command.AudioPayload{Content: []byte("x"), MimeType: "audio/ogg"})
	assert.ErrorIs(t, err, command.ErrAudioConversion)
}

func TestNormalizeWithRealFFmpeg(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	conv := NewConverter(testConfig(), nil)

	// An 8 kHz stereo WAV labelled as an unknown container still probes as WAV.
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(i * 10)
	}
	source, err := conv.Normalize(context.Background(), command.AudioPayload{Content: pcmLE(samples...), MimeType: "audio/pcm; rate=8000; channels=2"})
	require.NoError(t, err)

	out, err := conv.Normalize(context.Background(), command.AudioPayload{Content: source.Content, MimeType: "application/octet-stream"})
	require.NoError(t, err)

	dec := wav.NewDecoder(bytes.NewReader(out.Content))
	dec.ReadInfo()
	assert.Equal(t, uint32(16000), dec.SampleRate)
	assert.Equal(t, uint16(1), dec.NumChans)
}

func TestWriteSeeker(t *testing.T) {
	w := &writeSeeker{}
	_, _ = w.Write([]byte("hello world"))
	_, err := w.Seek(0, 0)
	require.NoError(t, err)
	_, _ = w.Write([]byte("HE"))
	assert.Equal(t, "HEllo world", string(w.buf))

	_, err = w.Seek(-1, 0)
	assert.Error(t, err)
}
