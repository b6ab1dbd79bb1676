package audio

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestToMono(t *testing.T) {
	tests := []struct {
		name     string
		input    []int16
		channels int
		expected []int16
	}{
		{
			name:     "Stereo keeps second channel",
			input:    []int16{1, 2, 3, 4, 5, 6},
			channels: 2,
			expected: []int16{2, 4, 6},
		},
		{
			name:     "Mono is unchanged",
			input:    []int16{7, -8, 9},
			channels: 1,
			expected: []int16{7, -8, 9},
		},
		{
			name:     "Four channels",
			input:    []int16{1, 2, 3, 4, 5, 6, 7, 8},
			channels: 4,
			expected: []int16{2, 6},
		},
		{
			name:     "Empty",
			input:    []int16{},
			channels: 2,
			expected: []int16{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ToMono(Int16ToBytes(tt.input), tt.channels)
			if err != nil {
				t.Fatalf("ToMono() error = %v", err)
			}
			got := BytesToInt16(out)
			if len(got) != len(tt.input)/tt.channels {
				t.Fatalf("ToMono() returned %d samples, want %d", len(got), len(tt.input)/tt.channels)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("sample %d = %d, want %d", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestToMonoInvalidShape(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		channels int
	}{
		{"Odd byte length", []byte{1, 2, 3}, 2},
		{"Samples not divisible by channels", Int16ToBytes([]int16{1, 2, 3}), 2},
		{"No channels", Int16ToBytes([]int16{1, 2}), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToMono(tt.input, tt.channels)
			if !errors.Is(err, ErrInvalidShape) {
				t.Errorf("ToMono() error = %v, want ErrInvalidShape", err)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	// one second of 48kHz stereo is 192000 bytes
	if d := Voice.Duration(192000); d != time.Second {
		t.Errorf("Duration(192000) = %v, want 1s", d)
	}
	mono := Format{SampleRate: 48000, Channels: 1}
	if d := mono.Duration(48000); d != 500*time.Millisecond {
		t.Errorf("Duration(48000) = %v, want 500ms", d)
	}
}

func TestIsSilence(t *testing.T) {
	if !IsSilence([]byte{0xf8, 0xff, 0xfe}) {
		t.Error("expected silence frame to be detected")
	}
	if IsSilence([]byte{0xf8, 0xff}) {
		t.Error("short packet is not silence")
	}
}

func TestOggRoundTrip(t *testing.T) {
	packets := [][]byte{
		{0xfc, 0x01, 0x02},
		{0xfc, 0x03, 0x04, 0x05},
		{0xfc, 0x06},
	}

	var buf bytes.Buffer
	if err := WriteOggOpus(&buf, 2, packets); err != nil {
		t.Fatalf("WriteOggOpus() error = %v", err)
	}

	got, err := ReadOggOpus(&buf)
	if err != nil {
		t.Fatalf("ReadOggOpus() error = %v", err)
	}
	if len(got) != len(packets) {
		t.Fatalf("ReadOggOpus() returned %d packets, want %d", len(got), len(packets))
	}
	for i := range packets {
		if !bytes.Equal(got[i], packets[i]) {
			t.Errorf("packet %d = %v, want %v", i, got[i], packets[i])
		}
	}
}

func TestWAVRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	f, err := fs.Create("turn.wav")
	if err != nil {
		t.Fatal(err)
	}
	mono := Int16ToBytes([]int16{0, 100, -100, 32767, -32768})
	if err := WriteWAV(f, mono, 48000); err != nil {
		t.Fatalf("WriteWAV() error = %v", err)
	}
	f.Close()

	f, err = fs.Open("turn.wav")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	pcm, format, err := ReadWAV(f)
	if err != nil {
		t.Fatalf("ReadWAV() error = %v", err)
	}
	if format.SampleRate != 48000 || format.Channels != 1 {
		t.Errorf("ReadWAV() format = %+v", format)
	}
	if !bytes.Equal(pcm, mono) {
		t.Errorf("ReadWAV() samples = %v, want %v", BytesToInt16(pcm), BytesToInt16(mono))
	}
}
