// Package tts exposes speech synthesis behind the same two-tier shape
// as transcription: direct provider path, then durable queue fallback.
package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/elara/pkg/errorsx"
	"github.com/harunnryd/elara/pkg/jobqueue"
	"github.com/harunnryd/elara/pkg/logging"
	"github.com/harunnryd/elara/pkg/resilience"
)

// Result is one synthesized sentence, base64-encoded for the wire.
type Result struct {
	AudioBase64 string
	DurationMS  int64
}

// FastSynthesizer is the direct provider path.
type FastSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type Config struct {
	JobsQueue    string
	ResultPrefix string
	PollTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.JobsQueue == "" {
		c.JobsQueue = "tts:jobs"
	}
	if c.ResultPrefix == "" {
		c.ResultPrefix = "tts:result:"
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Second
	}
	return c
}

type Adapter struct {
	fast    FastSynthesizer
	queue   jobqueue.Queue
	breaker *resilience.CircuitBreaker
	cfg     Config
	logger  *slog.Logger
}

func NewAdapter(fast FastSynthesizer, queue jobqueue.Queue, cfg Config) *Adapter {
	return &Adapter{
		fast:    fast,
		queue:   queue,
		breaker: resilience.NewCircuitBreaker(0, 0),
		cfg:     cfg.withDefaults(),
		logger:  logging.NewComponentLogger(slog.Default(), "tts"),
	}
}

type job struct {
	JobID     string `json:"job_id"`
	Text      string `json:"text"`
	Streaming bool   `json:"streaming"`
}

type jobResult struct {
	AudioBase64 string  `json:"audio_base64"`
	DurationMS  float64 `json:"duration_ms"`
}

// Synthesize tries the direct path first, then the queue fallback.
func (a *Adapter) Synthesize(ctx context.Context, text string) (Result, error) {
	if a.fast != nil && a.breaker.Allow() {
		audio, err := a.fast.Synthesize(ctx, text)
		if err == nil {
			a.breaker.OnSuccess()
			return Result{AudioBase64: base64.StdEncoding.EncodeToString(audio)}, nil
		}
		a.breaker.OnError(err)
		if ctx.Err() != nil {
			return Result{}, errorsx.Wrap(ctx.Err(), errorsx.ReasonCancelled)
		}
		a.logger.Warn("fast_path_failed", "error", err)
	}
	if a.queue == nil {
		return Result{}, errorsx.Wrap(errProviderDown, errorsx.ReasonProviderUnavailable)
	}
	return a.fallback(ctx, text)
}

func (a *Adapter) fallback(ctx context.Context, text string) (Result, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(job{JobID: id, Text: text})
	if err != nil {
		return Result{}, err
	}
	if err := a.queue.Push(ctx, a.cfg.JobsQueue, payload); err != nil {
		a.logger.Error("fallback_push_failed", "error", err)
		return Result{}, errorsx.Wrap(err, errorsx.ReasonProviderUnavailable)
	}
	a.logger.Info("fallback_enqueued", "job_id", id, "chars", len(text))

	raw, err := jobqueue.PollResult(ctx, a.queue, a.cfg.ResultPrefix+id, a.cfg.PollTimeout)
	if err != nil {
		return Result{}, errorsx.Wrap(err, errorsx.ReasonTTSFallback)
	}
	var res jobResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, errorsx.Wrap(err, errorsx.ReasonTTSFallback)
	}
	return Result{AudioBase64: res.AudioBase64, DurationMS: int64(res.DurationMS)}, nil
}

var errProviderDown = &providerDownError{}

type providerDownError struct{}

func (*providerDownError) Error() string { return "synthesis provider unavailable" }
