package stt

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	speech "google.golang.org/api/speech/v1"
)

// languageCodes maps the short codes used in chat to BCP-47 tags.
var languageCodes = map[string]string{
	"en": "en-US",
	"ru": "ru-RU",
	"de": "de-DE",
	"fr": "fr-FR",
	"es": "es-ES",
	"it": "it-IT",
}

func bcp47(language string) string {
	if code, ok := languageCodes[strings.ToLower(language)]; ok {
		return code
	}
	if language == "" {
		return "en-US"
	}
	return language
}

type Google struct {
	service *speech.Service
	bounds  Bounds
	log     *log.Logger
}

func NewGoogle(ctx context.Context, bounds Bounds, logger *log.Logger, opts ...option.ClientOption) (*Google, error) {
	service, err := speech.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Google{service: service, bounds: bounds, log: logger}, nil
}

func (g *Google) Name() string   { return "google" }
func (g *Google) Bounds() Bounds { return g.bounds }
func (g *Google) Close() error   { return nil }

func (g *Google) Transcribe(ctx context.Context, language string, mono []byte) (string, error) {
	req := &speech.RecognizeRequest{
		Config: &speech.RecognitionConfig{
			Encoding:        "LINEAR16",
			SampleRateHertz: 48000,
			LanguageCode:    bcp47(language),
		},
		Audio: &speech.RecognitionAudio{
			Content: base64.StdEncoding.EncodeToString(mono),
		},
	}

	resp, err := g.service.Speech.Recognize(req).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %s", ErrQuota, apiErr.Message)
		}
		return "", fmt.Errorf("recognize: %w", err)
	}

	var lines []string
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		lines = append(lines, result.Alternatives[0].Transcript)
	}
	return strings.Join(lines, "\n"), nil
}
