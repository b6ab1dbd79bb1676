//go:build !vosk

package stt

import (
	"fmt"

	"github.com/charmbracelet/log"
)

// NewVosk needs the vosk build tag and libvosk.
func NewVosk(models map[string]string, sampleRate float64, opts LocalOptions, logger *log.Logger) (*Local, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags vosk", ErrUnavailable)
}
