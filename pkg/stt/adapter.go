// Package stt exposes transcription behind a two-tier adapter: a direct
// provider path guarded by a circuit breaker, with a durable queue
// fallback worked by external consumers.
package stt

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

// Result is one finished transcription.
type Result struct {
	Text       string
	Language   string
	DurationMS int64
}

// FastTranscriber is the direct provider path.
type FastTranscriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (Result, error)
}

type Config struct {
	JobsQueue    string
	ResultPrefix string
	PollTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.JobsQueue == "" {
		c.JobsQueue = "stt:jobs"
	}
	if c.ResultPrefix == "" {
		c.ResultPrefix = "stt:result:"
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Second
	}
	return c
}

type Adapter struct {
	fast    FastTranscriber
	queue   jobqueue.Queue
	breaker *resilience.CircuitBreaker
	cfg     Config
	logger  *slog.Logger
}

func NewAdapter(fast FastTranscriber, queue jobqueue.Queue, cfg Config) *Adapter {
	return &Adapter{
		fast:    fast,
		queue:   queue,
		breaker: resilience.NewCircuitBreaker(0, 0),
		cfg:     cfg.withDefaults(),
		logger:  logging.NewComponentLogger(slog.Default(), "stt"),
	}
}

type job struct {
	JobID       string `json:"job_id"`
	AudioBase64 string `json:"audio_base64"`
	Format      string `json:"format"`
}

type jobResult struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	DurationMS float64 `json:"duration_ms"`
}

// Transcribe tries the direct path first, then the queue fallback. Both
// failing surfaces as provider_unavailable.
func (a *Adapter) Transcribe(ctx context.Context, audio []byte, format string) (Result, error) {
	if a.fast != nil && a.breaker.Allow() {
		res, err := a.fast.Transcribe(ctx, audio, format)
		if err == nil {
			a.breaker.OnSuccess()
			return res, nil
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
	return a.fallback(ctx, audio, format)
}

func (a *Adapter) fallback(ctx context.Context, audio []byte, format string) (Result, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(job{
		JobID:       id,
		AudioBase64: base64.StdEncoding.EncodeToString(audio),
		Format:      format,
	})
	if err != nil {
		return Result{}, err
	}
	if err := a.queue.Push(ctx, a.cfg.JobsQueue, payload); err != nil {
		a.logger.Error("fallback_push_failed", "error", err)
		return Result{}, errorsx.Wrap(err, errorsx.ReasonProviderUnavailable)
	}
	a.logger.Info("fallback_enqueued", "job_id", id, "bytes", len(audio))

	raw, err := jobqueue.PollResult(ctx, a.queue, a.cfg.ResultPrefix+id, a.cfg.PollTimeout)
	if err != nil {
		return Result{}, errorsx.Wrap(err, errorsx.ReasonSTTFallback)
	}
	var res jobResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, errorsx.Wrap(err, errorsx.ReasonSTTFallback)
	}
	return Result{Text: res.Text, Language: res.Language, DurationMS: int64(res.DurationMS)}, nil
}

var errProviderDown = &providerDownError{}

type providerDownError struct{}

func (*providerDownError) Error() string { return "transcription provider unavailable" }
