// Package deepgram provides the direct prerecorded transcription path.
package deepgram

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	prerecorded "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/harunnryd/elara/pkg/logging"
	"github.com/harunnryd/elara/pkg/stt"
)

type Config struct {
	APIKey   string
	Model    string
	Language string
}

type Transcriber struct {
	cfg    Config
	dg     *prerecorded.Client
	logger *slog.Logger
}

func New(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	rest := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return &Transcriber{
		cfg:    cfg,
		dg:     prerecorded.New(rest),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

// Transcribe sends the finished utterance through the prerecorded REST
// endpoint and returns the first channel's top alternative.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, format string) (stt.Result, error) {
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       t.cfg.Model,
		SmartFormat: true,
	}
	if t.cfg.Language != "" {
		options.Language = t.cfg.Language
	} else {
		options.DetectLanguage = true
	}

	res, err := t.dg.FromStream(ctx, bytes.NewReader(audio), options)
	if err != nil {
		t.logger.Warn("transcription_failed", "error", err, "bytes", len(audio))
		return stt.Result{}, err
	}
	if res == nil || len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return stt.Result{}, errors.New("empty transcription response")
	}

	channel := res.Results.Channels[0]
	result := stt.Result{
		Text:       channel.Alternatives[0].Transcript,
		DurationMS: int64(res.Metadata.Duration * 1000),
	}
	if len(channel.DetectedLanguage) > 0 {
		result.Language = channel.DetectedLanguage
	} else {
		result.Language = t.cfg.Language
	}
	t.logger.Debug("transcription_completed", "chars", len(result.Text), "language", result.Language)
	return result, nil
}
