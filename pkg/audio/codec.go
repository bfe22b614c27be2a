package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// DecodeError reports malformed base64 input to [DecodeBase64].
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "audio: decode base64: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// AudioDecodeError reports PCM data that cannot be split into whole frames.
type AudioDecodeError struct {
	Len        int
	SampleRate int
	Channels   int
}

func (e *AudioDecodeError) Error() string {
	return fmt.Sprintf("audio: decode pcm: %d bytes is not a whole number of frames at %s",
		e.Len, Format{SampleRate: e.SampleRate, Channels: e.Channels})
}

// DecodeBase64 decodes standard base64 into raw bytes.
func DecodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return b, nil
}

// EncodeBytes encodes b as standard base64. It is the exact inverse of
// [DecodeBase64].
func EncodeBytes(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// PCM16FromFloat32 converts float samples in [-1, 1] to little-endian signed
// 16-bit PCM. Samples are scaled by 32768 and clamped to the int16 range so
// out-of-range input saturates instead of wrapping. NaN maps to silence.
func PCM16FromFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := float64(s) * 32768
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// Buffer is decoded PCM ready for playback.
type Buffer struct {
	format Format
	pcm    []byte
}

// DecodeBuffer interprets pcm as interleaved little-endian 16-bit samples at
// the given rate and channel count. It fails with [*AudioDecodeError] when the
// length is not a multiple of the frame size.
func DecodeBuffer(pcm []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 || channels <= 0 || len(pcm)%(2*channels) != 0 {
		return nil, &AudioDecodeError{Len: len(pcm), SampleRate: sampleRate, Channels: channels}
	}
	data := make([]byte, len(pcm))
	copy(data, pcm)
	return &Buffer{format: Format{SampleRate: sampleRate, Channels: channels}, pcm: data}, nil
}

// Format returns the buffer's sample rate and channel count.
func (b *Buffer) Format() Format { return b.format }

// Frames returns the number of sample frames in the buffer.
func (b *Buffer) Frames() int { return len(b.pcm) / (2 * b.format.Channels) }

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	return time.Duration(int64(b.Frames()) * int64(time.Second) / int64(b.format.SampleRate))
}

// PCM returns the raw interleaved 16-bit samples. The slice must not be modified.
func (b *Buffer) PCM() []byte { return b.pcm }
