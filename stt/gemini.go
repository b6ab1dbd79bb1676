package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"node.town/honk/audio"
)

const geminiPrompt = `Transcribe this short voice chat clip exactly as spoken, in the language %s.
Reply with the transcript only. If nobody speaks, reply with nothing.`

type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	bounds Bounds
	log    *log.Logger
}

func NewGemini(ctx context.Context, apiKey, modelName string, bounds Bounds, logger *log.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	model := client.GenerativeModel(modelName)
	model.GenerationConfig.SetTemperature(0)
	model.GenerationConfig.SetMaxOutputTokens(256)
	return &Gemini{client: client, model: model, bounds: bounds, log: logger}, nil
}

func (g *Gemini) Name() string   { return "gemini" }
func (g *Gemini) Bounds() Bounds { return g.bounds }
func (g *Gemini) Close() error   { return g.client.Close() }

func (g *Gemini) Transcribe(ctx context.Context, language string, mono []byte) (string, error) {
	clip, err := encodeMonoOgg(mono)
	if err != nil {
		return "", err
	}

	resp, err := g.model.GenerateContent(
		ctx,
		genai.Blob{MIMEType: "audio/ogg", Data: clip},
		genai.Text(fmt.Sprintf(geminiPrompt, language)),
	)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %s", ErrQuota, apiErr.Message)
		}
		return "", fmt.Errorf("generate content: %w", err)
	}

	return responseText(resp), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		break
	}
	return strings.TrimSpace(b.String())
}

func encodeMonoOgg(mono []byte) ([]byte, error) {
	enc, err := audio.NewEncoder(1)
	if err != nil {
		return nil, err
	}
	packets, err := enc.EncodePCM(mono)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := audio.WriteOggOpus(&buf, 1, packets); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
