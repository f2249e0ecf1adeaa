package command

import (
	"errors"
	"fmt"
	"strings"
)

// Reason prefixes that survive the error_queue wire format.
const (
	conversionPrefix = "failed to convert"
	internalPrefix   = "internal error:"
)

// ErrorKind is the closed set of failure categories a command can end in.
type ErrorKind string

const (
	KindInvalidInput    ErrorKind = "invalid_input"
	KindAudioNotFound   ErrorKind = "audio_not_found"
	KindAudioConversion ErrorKind = "audio_conversion"
	KindInternal        ErrorKind = "internal"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrAudioNotFound   = errors.New("audio not found")
	ErrAudioConversion = errors.New("audio conversion failed")
	ErrInternal        = errors.New("internal error")
)

// Classify maps any error onto the taxonomy. Errors that match no sentinel
// are internal.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrAudioNotFound):
		return KindAudioNotFound
	case errors.Is(err, ErrAudioConversion):
		return KindAudioConversion
	default:
		return KindInternal
	}
}

// NotFoundReason is the user-facing reason for a payload that is gone.
func NotFoundReason(id string) string {
	return fmt.Sprintf("audio %s not found", id)
}

// InternalReason is the user-facing reason for an unexpected failure.
func InternalReason(err error) string {
	return fmt.Sprintf("%s %v", internalPrefix, err)
}

// ConversionReason is the user-facing reason for audio that could not be
// normalized. It always starts with "failed to convert".
func ConversionReason(err error) string {
	reason := err.Error()
	if strings.HasPrefix(reason, conversionPrefix) {
		return reason
	}
	return conversionPrefix + " audio: " + reason
}

// reasonKind recovers the failure kind from a reason read off the wire.
// Reasons from unknown producers are internal.
func reasonKind(id string, reason string) ErrorKind {
	switch {
	case reason == NotFoundReason(id):
		return KindAudioNotFound
	case strings.HasPrefix(reason, conversionPrefix):
		return KindAudioConversion
	default:
		return KindInternal
	}
}
