package audio

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// Silence is the Opus frame Discord sends when a speaker goes quiet.
var Silence = []byte{0xf8, 0xff, 0xfe}

func IsSilence(packet []byte) bool {
	return len(packet) == 3 &&
		packet[0] == Silence[0] &&
		packet[1] == Silence[1] &&
		packet[2] == Silence[2]
}

type Decoder struct {
	dec *opus.Decoder
	pcm []int16
}

func NewDecoder() (*Decoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("create Opus decoder: %w", err)
	}
	return &Decoder{
		dec: dec,
		// 120ms is the largest Opus frame
		pcm: make([]int16, SampleRate/1000*120*Channels),
	}, nil
}

// Decode returns interleaved stereo PCM bytes for one Opus packet.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("decode Opus packet: %w", err)
	}
	return Int16ToBytes(d.pcm[:n*Channels]), nil
}

type Encoder struct {
	enc      *opus.Encoder
	channels int
	buf      []byte
}

func NewEncoder(channels int) (*Encoder, error) {
	enc, err := opus.NewEncoder(SampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("create Opus encoder: %w", err)
	}
	if err := enc.SetBitrate(128000); err != nil {
		return nil, fmt.Errorf("set Opus bitrate: %w", err)
	}
	return &Encoder{enc: enc, channels: channels, buf: make([]byte, 4000)}, nil
}

// EncodePCM cuts interleaved PCM into 20ms frames and encodes each one.
// A short final frame is padded with silence.
func (e *Encoder) EncodePCM(pcm []byte) ([][]byte, error) {
	samples := BytesToInt16(pcm)
	frame := FrameSamples * e.channels

	var packets [][]byte
	for start := 0; start < len(samples); start += frame {
		chunk := samples[start:min(start+frame, len(samples))]
		if len(chunk) < frame {
			chunk = append(chunk, make([]int16, frame-len(chunk))...)
		}
		n, err := e.enc.Encode(chunk, e.buf)
		if err != nil {
			return nil, fmt.Errorf("encode Opus frame: %w", err)
		}
		packet := make([]byte, n)
		copy(packet, e.buf[:n])
		packets = append(packets, packet)
	}
	return packets, nil
}
