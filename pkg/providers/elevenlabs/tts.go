// Package elevenlabs provides the direct text-to-speech path.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/harunnryd/elara/pkg/logging"
	"github.com/harunnryd/elara/pkg/resilience"
)

const defaultBaseURL = "https://api.elevenlabs.io/v1"

type Config struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string
}

type Synthesizer struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config) *Synthesizer {
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_flash_v2_5"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Synthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}
}

// Synthesize converts one sentence of text into MP3 audio bytes.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return nil, errors.New("missing elevenlabs config")
	}
	payload := map[string]any{
		"text":     text,
		"model_id": s.cfg.ModelID,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.BaseURL+"/text-to-speech/"+s.cfg.VoiceID, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		s.logger.Warn("rate_limited", "status", resp.Status)
		return nil, resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, errors.New("elevenlabs: " + resp.Status + ": " + string(msg))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("synthesis_completed", "chars", len(text), "bytes", len(audio))
	return audio, nil
}
