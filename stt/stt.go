// Package stt turns a finished speaker turn into text.
package stt

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

var (
	// ErrQuota means the service refused the call for rate or quota reasons.
	ErrQuota = errors.New("speech recognition quota exceeded")
	// ErrUnavailable means the backend is not built into this binary.
	ErrUnavailable         = errors.New("speech recognition backend unavailable")
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// Bounds limits the length of turns worth sending. Zero means no limit.
type Bounds struct {
	Min time.Duration
	Max time.Duration
}

func (b Bounds) Allows(d time.Duration) bool {
	if b.Min > 0 && d < b.Min {
		return false
	}
	if b.Max > 0 && d > b.Max {
		return false
	}
	return true
}

// Recognizer transcribes mono 16-bit PCM at 48kHz.
type Recognizer interface {
	Name() string
	Bounds() Bounds
	Transcribe(ctx context.Context, language string, mono []byte) (string, error)
	Close() error
}

// LanguageSetter is implemented by services that keep the language on
// their side rather than per request.
type LanguageSetter interface {
	SetLanguage(ctx context.Context, language string) error
}

// Submit runs one recognition and reports whether it produced any text.
// Failures are logged and never returned.
func Submit(
	ctx context.Context,
	r Recognizer,
	language string,
	mono []byte,
	logger *log.Logger,
) (string, bool) {
	start := time.Now()
	text, err := r.Transcribe(ctx, language, mono)
	if err != nil {
		if errors.Is(err, ErrQuota) {
			logger.Warn("recognition throttled", "backend", r.Name(), "error", err)
		} else {
			logger.Error("recognition failed", "backend", r.Name(), "error", err)
		}
		return "", false
	}

	text = strings.TrimSpace(text)
	logger.Debug(
		"recognized",
		"backend", r.Name(),
		"language", language,
		"text", text,
		"took", time.Since(start),
	)
	return text, text != ""
}
