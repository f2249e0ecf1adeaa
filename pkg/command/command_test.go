package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "invalid", err: fmt.Errorf("submit: %w", ErrInvalidInput), want: KindInvalidInput},
		{name: "not found", err: ErrAudioNotFound, want: KindAudioNotFound},
		{name: "conversion", err: fmt.Errorf("ffmpeg: %w", ErrAudioConversion), want: KindAudioConversion},
		{name: "internal sentinel", err: ErrInternal, want: KindInternal},
		{name: "unknown", err: errors.New("boom"), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestFailReasons(t *testing.T) {
	ref := Reference{ID: "c1", UserID: "u1"}

	notFound := Fail(ref, ErrAudioNotFound)
	assert.Equal(t, KindAudioNotFound, notFound.Kind)
	assert.Equal(t, "audio c1 not found", notFound.Reason)

	internal := Fail(ref, errors.New("model unavailable"))
	assert.Equal(t, KindInternal, internal.Kind)
	assert.Equal(t, "internal error: model unavailable", internal.Reason)

	conversion := Fail(ref, fmt.Errorf("failed to convert audio/ogg to wav: %w", ErrAudioConversion))
	assert.Equal(t, KindAudioConversion, conversion.Kind)
	assert.Contains(t, conversion.Reason, "audio/ogg")
	assert.Equal(t, "u1", conversion.UserID)
	assert.Equal(t, "c1", conversion.CommandID())
}

func TestDecodeReference(t *testing.T) {
	body, err := EncodeReference(Reference{ID: "c1", UserID: "u1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"u1","message_id":"c1"}`, string(body))

	ref, err := DecodeReference([]byte(`{"user_id":"u1","message_id":"c1","chat_id":"42"}`))
	require.NoError(t, err)
	assert.Equal(t, Reference{ID: "c1", UserID: "u1", ChatID: "42"}, ref)

	_, err = DecodeReference([]byte(`{"user_id":"u1"}`))
	assert.Error(t, err)

	_, err = DecodeReference([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeOutcome(t *testing.T) {
	body, err := EncodeOutcome(Success{UserID: "u1", ID: "c1", Text: "turn on the lights"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"u1","message_id":"c1","text":"turn on the lights"}`, string(body))

	body, err = EncodeOutcome(Failure{UserID: "u1", ID: "c1", Kind: KindAudioNotFound, Reason: "audio c1 not found"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"u1","message_id":"c1","reason":"audio c1 not found"}`, string(body))

	failure, err := DecodeFailure(body)
	require.NoError(t, err)
	assert.Equal(t, KindAudioNotFound, failure.Kind)
}

func TestDecodeFailureKinds(t *testing.T) {
	tests := []struct {
		reason string
		want   ErrorKind
	}{
		{reason: "audio c1 not found", want: KindAudioNotFound},
		{reason: "failed to convert audio/ogg to wav: audio conversion failed: exit status 1", want: KindAudioConversion},
		{reason: "internal error: model unavailable", want: KindInternal},
		{reason: "nlu rejected command", want: KindInternal},
		{reason: "audio c2 not found", want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			body, err := json.Marshal(ErrorMessage{UserID: "u1", MessageID: "c1", Reason: tt.reason})
			require.NoError(t, err)

			failure, err := DecodeFailure(body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, failure.Kind)
			assert.Equal(t, tt.reason, failure.Reason)
		})
	}
}

func TestFailConversionReasonRoundTrips(t *testing.T) {
	ref := Reference{ID: "c1", UserID: "u1", ChatID: "-100"}
	failure := Fail(ref, fmt.Errorf("%w: ffmpeg exited 1", ErrAudioConversion))
	assert.Equal(t, "failed to convert audio: audio conversion failed: ffmpeg exited 1", failure.Reason)
	assert.Equal(t, "-100", failure.ChatID)

	body, err := EncodeOutcome(failure)
	require.NoError(t, err)
	decoded, err := DecodeFailure(body)
	require.NoError(t, err)
	assert.Equal(t, failure, decoded)
}

func TestPayloadKind(t *testing.T) {
	var p Payload = TextPayload{Text: "hi"}
	assert.Equal(t, KindText, p.Kind())

	p = AudioPayload{Content: []byte{1}, MimeType: "audio/ogg"}
	assert.Equal(t, KindAudio, p.Kind())

	kind, err := ParseKind("audio")
	require.NoError(t, err)
	assert.Equal(t, KindAudio, kind)

	_, err = ParseKind("video")
	assert.Error(t, err)
}
