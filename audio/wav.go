package audio

import (
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV writes mono 16-bit PCM as a WAV file.
func WriteWAV(w io.WriteSeeker, mono []byte, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)

	samples := BytesToInt16(mono)
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write WAV samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close WAV encoder: %w", err)
	}
	return nil
}

// ReadWAV returns the 16-bit samples of a WAV file and its format.
func ReadWAV(r io.ReadSeeker) ([]byte, Format, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, Format{}, fmt.Errorf("%w: not a WAV file", ErrInvalidShape)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("read WAV samples: %w", err)
	}
	pcm := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		pcm[i] = int16(v)
	}
	return Int16ToBytes(pcm), Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}, nil
}
