package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	WitBaseURL     = "https://api.wit.ai"
	WitVersion     = "20240304"
	witContentType = "audio/raw;encoding=signed-integer;bits=16;rate=48k;endian=little"
)

// Wit sends each turn to Wit.ai. Calls are spaced because the service
// rejects bursts.
type Wit struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client

	gate   *Gate
	bounds Bounds
	log    *log.Logger
}

func NewWit(token string, spacing time.Duration, bounds Bounds, logger *log.Logger) *Wit {
	return &Wit{
		Token:      token,
		BaseURL:    WitBaseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		gate:       NewGate(spacing),
		bounds:     bounds,
		log:        logger,
	}
}

func (w *Wit) Name() string   { return "witai" }
func (w *Wit) Bounds() Bounds { return w.bounds }
func (w *Wit) Close() error   { return nil }

type witResponse struct {
	Text       string `json:"text"`
	LegacyText string `json:"_text"`
	Error      string `json:"error"`
	Code       string `json:"code"`
}

// Transcribe ignores language; Wit apps carry their own, see SetLanguage.
func (w *Wit) Transcribe(ctx context.Context, language string, mono []byte) (string, error) {
	var text string
	err := w.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		text, err = w.speech(ctx, mono)
		return err
	})
	return text, err
}

func (w *Wit) speech(ctx context.Context, mono []byte) (string, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		w.BaseURL+"/speech?v="+WitVersion,
		bytes.NewReader(mono),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.Token)
	req.Header.Set("Content-Type", witContentType)
	req.Header.Set("Accept", "application/json")

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: wit.ai returned %s", ErrQuota, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf(
			"unexpected status code: %d, body: %s",
			resp.StatusCode,
			strings.TrimSpace(string(body)),
		)
	}

	return decodeWitSpeech(resp.Body)
}

// decodeWitSpeech reads the stream of partial results and keeps the last
// text seen. Older API versions send a single object with _text.
func decodeWitSpeech(r io.Reader) (string, error) {
	dec := json.NewDecoder(r)
	var text string
	for {
		var chunk witResponse
		err := dec.Decode(&chunk)
		if errors.Is(err, io.EOF) {
			return text, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("wit.ai: %s", chunk.Error)
		}
		switch {
		case chunk.LegacyText != "":
			text = chunk.LegacyText
		case chunk.Text != "":
			text = chunk.Text
		}
	}
}

type witApp struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Lang string `json:"lang"`
}

// SetLanguage switches every app the token can see to language and
// returns the first failure. Apps owned by another token are skipped.
func (w *Wit) SetLanguage(ctx context.Context, language string) error {
	var apps []witApp
	if err := w.call(ctx, http.MethodGet, "/apps?offset=0&limit=100", nil, &apps); err != nil {
		return fmt.Errorf("list apps: %w", err)
	}
	if len(apps) == 0 {
		return fmt.Errorf("no apps found")
	}

	for _, app := range apps {
		var result witResponse
		err := w.call(ctx, http.MethodPut, "/apps/"+app.ID, map[string]string{"lang": language}, &result)
		if err != nil {
			return fmt.Errorf("update app %s: %w", app.Name, err)
		}
		if result.Error != "" {
			if strings.Contains(result.Error, "Access token does not match") {
				w.log.Debug("skipping app", "app", app.Name, "reason", result.Error)
				continue
			}
			return fmt.Errorf("update app %s: %s", app.Name, result.Error)
		}
		w.log.Info("app language updated", "app", app.Name, "language", language)
	}
	return nil
}

func (w *Wit) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, w.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: wit.ai returned %s", ErrQuota, resp.Status)
	}
	// errors come back as JSON bodies, which the caller inspects
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response (%s): %w", resp.Status, err)
	}
	return nil
}
