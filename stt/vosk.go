//go:build vosk

package stt

import (
	"encoding/json"
	"fmt"
	"os"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/charmbracelet/log"
)

type voskEngine struct {
	rec *vosk.VoskRecognizer
}

type voskResult struct {
	Text string `json:"text"`
}

func (e *voskEngine) Recognize(mono []byte) (string, error) {
	e.rec.AcceptWaveform(mono)
	raw := e.rec.FinalResult()
	e.rec.Reset()

	var result voskResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return "", fmt.Errorf("while unmarshaling Vosk result: %w", err)
	}
	return result.Text, nil
}

func (e *voskEngine) Free() {
	e.rec.Free()
}

// NewVosk loads one model per language. Recognizers are created from the
// loaded models and rotated by the returned Local.
func NewVosk(models map[string]string, sampleRate float64, opts LocalOptions, logger *log.Logger) (*Local, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("no Vosk models configured")
	}

	loaded := make(map[string]*vosk.VoskModel, len(models))
	release := func() {
		for _, m := range loaded {
			m.Free()
		}
	}

	languages := make([]string, 0, len(models))
	for lang, path := range models {
		if _, err := os.Stat(path); err != nil {
			release()
			return nil, fmt.Errorf("Vosk model for %s not found at %s: %w", lang, path, err)
		}
		model, err := vosk.NewModel(path)
		if err != nil {
			release()
			return nil, fmt.Errorf("while creating Vosk model for %s: %w", lang, err)
		}
		loaded[lang] = model
		languages = append(languages, lang)
		logger.Info("loaded model", "language", lang, "path", path)
	}

	factory := func(lang string) (Engine, error) {
		model, ok := loaded[lang]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
		}
		rec, err := vosk.NewRecognizer(model, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("while creating Vosk recognizer: %w", err)
		}
		return &voskEngine{rec: rec}, nil
	}

	return NewLocal("vosk", languages, factory, opts, release, logger), nil
}
