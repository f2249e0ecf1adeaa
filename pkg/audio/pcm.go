package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// encodePCM wraps raw signed 16-bit samples in a WAV container. params may
// carry "rate" and "channels" as in "audio/L16; rate=8000; channels=2".
// audio/L16 is big-endian; audio/pcm is little-endian.
func (c *Converter) encodePCM(content []byte, bigEndian bool, params map[string]string) ([]byte, error) {
	if len(content)%2 != 0 {
		return nil, fmt.Errorf("pcm content has odd length %d", len(content))
	}

	rate, err := intParam(params, "rate", c.sampleRate)
	if err != nil {
		return nil, err
	}
	channels, err := intParam(params, "channels", 1)
	if err != nil {
		return nil, err
	}
	if (len(content)/2)%channels != 0 {
		return nil, fmt.Errorf("pcm content is not a whole number of %d-channel frames", channels)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		order = binary.BigEndian
	}

	samples := make([]int, len(content)/2)
	for i := range samples {
		samples[i] = int(int16(order.Uint16(content[2*i:])))
	}

	out := &writeSeeker{}
	enc := wav.NewEncoder(out, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: channels,
			SampleRate:  rate,
		},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}

	return out.buf, nil
}

func intParam(params map[string]string, key string, fallback int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid %s parameter %q", key, raw)
	}

	return value, nil
}

// writeSeeker is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes once all samples are written.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		if end > cap(w.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, w.buf)
			w.buf = grown
		} else {
			w.buf = w.buf[:end]
		}
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(w.pos) + offset
	case io.SeekEnd:
		next = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("writeSeeker: invalid whence")
	}
	if next < 0 {
		return 0, errors.New("writeSeeker: negative position")
	}

	w.pos = int(next)
	return next, nil
}
