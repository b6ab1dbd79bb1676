package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	SampleRate    = 48000
	Channels      = 2
	FrameSamples  = 960 // 20ms at 48kHz
	bytesPerValue = 2
)

var ErrInvalidShape = errors.New("invalid audio shape")

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// Voice is what the voice transport hands us after Opus decoding.
var Voice = Format{SampleRate: SampleRate, Channels: Channels}

// FrameWidth is the number of bytes per sample frame across all channels.
func (f Format) FrameWidth() int {
	return f.Channels * bytesPerValue
}

func (f Format) Duration(n int) time.Duration {
	width := f.SampleRate * f.FrameWidth()
	if width == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(width)
}

// ToMono reduces interleaved PCM to a single channel by keeping the second
// channel of every frame. Mono input is returned as a copy.
func ToMono(buf []byte, channels int) ([]byte, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidShape, channels)
	}
	if len(buf)%bytesPerValue != 0 {
		return nil, fmt.Errorf("%w: odd byte length %d", ErrInvalidShape, len(buf))
	}
	samples := len(buf) / bytesPerValue
	if samples%channels != 0 {
		return nil, fmt.Errorf(
			"%w: %d samples not divisible by %d channels",
			ErrInvalidShape, samples, channels,
		)
	}

	keep := 0
	if channels > 1 {
		keep = 1
	}

	frames := samples / channels
	out := make([]byte, frames*bytesPerValue)
	for i := 0; i < frames; i++ {
		src := (i*channels + keep) * bytesPerValue
		copy(out[i*bytesPerValue:], buf[src:src+bytesPerValue])
	}
	return out, nil
}

func BytesToInt16(buf []byte) []int16 {
	out := make([]int16, len(buf)/bytesPerValue)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return out
}

func Int16ToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*bytesPerValue)
	for i, v := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
