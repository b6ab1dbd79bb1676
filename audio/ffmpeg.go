package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// DecodeToPCM runs any audio ffmpeg understands through it and returns
// interleaved s16le stereo at 48kHz.
func DecodeToPCM(ctx context.Context, ffmpeg string, input io.Reader) ([]byte, error) {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ffmpeg,
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-")
	cmd.Stdin = input
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf(
			"ffmpeg: %w: %s",
			err,
			strings.TrimSpace(stderr.String()),
		)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: ffmpeg produced no audio", ErrInvalidShape)
	}
	return stdout.Bytes(), nil
}
