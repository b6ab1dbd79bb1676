package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

type OggOpusWriter struct {
	writer *oggwriter.OggWriter
	seq    uint16
	ts     uint32
}

func NewOggOpusWriter(w io.Writer, channels int) (*OggOpusWriter, error) {
	oggWriter, err := oggwriter.NewWith(w, SampleRate, uint16(channels))
	if err != nil {
		return nil, fmt.Errorf("create OGG writer: %w", err)
	}
	return &OggOpusWriter{writer: oggWriter}, nil
}

// WritePacket appends one 20ms Opus packet.
func (w *OggOpusWriter) WritePacket(payload []byte) error {
	if err := w.writer.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: w.seq,
			Timestamp:      w.ts,
		},
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("write Opus packet: %w", err)
	}
	w.seq++
	w.ts += FrameSamples
	return nil
}

func (w *OggOpusWriter) Close() error {
	return w.writer.Close()
}

// WriteOggOpus writes packets as a complete Ogg Opus stream.
func WriteOggOpus(w io.Writer, channels int, packets [][]byte) error {
	writer, err := NewOggOpusWriter(w, channels)
	if err != nil {
		return err
	}
	for i, packet := range packets {
		if err := writer.WritePacket(packet); err != nil {
			writer.Close()
			return fmt.Errorf("packet %d: %w", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close OGG writer: %w", err)
	}
	return nil
}

var opusTags = []byte("OpusTags")

// ReadOggOpus returns the Opus packets of a stream written one packet per
// page, as WriteOggOpus does.
func ReadOggOpus(r io.Reader) ([][]byte, error) {
	reader, _, err := oggreader.NewWith(r)
	if err != nil {
		return nil, fmt.Errorf("read OGG header: %w", err)
	}

	var packets [][]byte
	for {
		page, _, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return packets, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read OGG page: %w", err)
		}
		if bytes.HasPrefix(page, opusTags) || len(page) == 0 {
			continue
		}
		packets = append(packets, page)
	}
}
