package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harunnryd/elara/pkg/config"
	"github.com/harunnryd/elara/pkg/jobqueue"
	"github.com/harunnryd/elara/pkg/logging"
	"github.com/harunnryd/elara/pkg/memory"
	qdrantmemory "github.com/harunnryd/elara/pkg/memory/qdrant"
	"github.com/harunnryd/elara/pkg/metrics"
	"github.com/harunnryd/elara/pkg/orchestrator"
	"github.com/harunnryd/elara/pkg/providers/anthropic"
	"github.com/harunnryd/elara/pkg/providers/deepgram"
	"github.com/harunnryd/elara/pkg/providers/elevenlabs"
	"github.com/harunnryd/elara/pkg/providers/openai"
	"github.com/harunnryd/elara/pkg/runner"
	"github.com/harunnryd/elara/pkg/stt"
	"github.com/harunnryd/elara/pkg/tools"
	"github.com/harunnryd/elara/pkg/transports/ws"
	"github.com/harunnryd/elara/pkg/tts"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	queue := buildQueue(cfg)
	retriever := buildRetriever(cfg)

	transcriber := stt.NewAdapter(
		deepgram.New(deepgram.Config{
			APIKey:   cfg.Vendors.Deepgram.APIKey,
			Model:    cfg.Vendors.Deepgram.Model,
			Language: cfg.Vendors.Deepgram.Language,
		}),
		queue,
		stt.Config{
			JobsQueue:    cfg.Queues.STTJobs,
			ResultPrefix: cfg.Queues.STTResultPrefix,
			PollTimeout:  cfg.Orchestrator.PollTimeout(),
		},
	)
	synthesizer := tts.NewAdapter(
		elevenlabs.New(elevenlabs.Config{
			APIKey:  cfg.Vendors.ElevenLabs.APIKey,
			VoiceID: cfg.Vendors.ElevenLabs.VoiceID,
			ModelID: cfg.Vendors.ElevenLabs.ModelID,
		}),
		queue,
		tts.Config{
			JobsQueue:    cfg.Queues.TTSJobs,
			ResultPrefix: cfg.Queues.TTSResultPrefix,
			PollTimeout:  cfg.Orchestrator.PollTimeout(),
		},
	)

	adapter := anthropic.NewAdapter(cfg.Vendors.Anthropic.APIKey, cfg.Vendors.Anthropic.Model, cfg.Persona)
	if cfg.Vendors.Anthropic.MaxTokens > 0 {
		adapter.MaxTokens = cfg.Vendors.Anthropic.MaxTokens
	}

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, tools.BuiltinConfig{
		Twilio: tools.TwilioConfig{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			FromNumber: cfg.Twilio.FromNumber,
		},
		ReminderUserNumber: cfg.Twilio.UserNumber,
	})
	dispatcher := tools.NewDispatcherWithOptions(registry, tools.Options{
		Timeout:      cfg.Tools.Timeout(),
		Retries:      cfg.Tools.Retries,
		RetryBackoff: cfg.Tools.RetryBackoff(),
	})

	orch := orchestrator.New(orchestrator.Config{
		RequestTimeout:    cfg.Orchestrator.RequestTimeout(),
		MaxHistory:        cfg.Orchestrator.MaxHistory,
		MemoryLimit:       cfg.Orchestrator.MemoryLimit,
		LegacyAudioChunks: cfg.Orchestrator.LegacyAudioChunks,
		ErrorMessage:      cfg.Orchestrator.ErrorMessage,
		Version:           runner.Version,
	}, adapter, transcriber, synthesizer, retriever, dispatcher)

	if store, ok := retriever.(memory.Store); ok {
		extractor := memory.NewExtractor(adapter, store)
		orch.SetExtractor(extractor.Extract)
	}
	orch.SetObserver(metrics.SlogObserver{Log: logging.NewComponentLogger(slog.Default(), "metrics")})

	transport := ws.New(ws.Config{
		ServerAddr:     cfg.Server.Addr,
		WebsocketPath:  cfg.Server.WebsocketPath,
		AllowAnyOrigin: cfg.Server.AllowAnyOrigin,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Version:        runner.Version,
	}, orch)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	life := runner.NewLifecycleRunner(transportDrainer{transport}, runner.Hooks{
		OnStart: func() {
			if err := transport.Start(ctx); err != nil {
				slog.Error("transport_start_failed", "error", err)
				stop()
			}
			slog.Info("daemon_started", "addr", cfg.Server.Addr, "environment", cfg.Environment)
		},
		OnStop: func() {
			slog.Info("daemon_stopped")
		},
	}, 10*time.Second)

	if err := life.Run(ctx); err != nil {
		slog.Error("shutdown_error", "error", err)
		os.Exit(1)
	}
}

func buildQueue(cfg config.Config) jobqueue.Queue {
	if cfg.Redis.Addr == "" {
		slog.Warn("redis_not_configured", "fallback", "in_memory_queue")
		return jobqueue.NewMemory()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return jobqueue.NewRedis(client)
}

func buildRetriever(cfg config.Config) memory.Retriever {
	if cfg.Qdrant.URL == "" || cfg.Vendors.Embeddings.APIKey == "" {
		slog.Info("memory_retrieval_disabled")
		return memory.Noop{}
	}
	embedder := openai.NewEmbedder(cfg.Vendors.Embeddings.APIKey, cfg.Vendors.Embeddings.Model)
	retriever, err := qdrantmemory.New(qdrantmemory.Config{
		URL:            cfg.Qdrant.URL,
		APIKey:         cfg.Qdrant.APIKey,
		CollectionName: cfg.Qdrant.Collection,
	}, embedder)
	if err != nil {
		slog.Warn("qdrant_unavailable", "error", err)
		return memory.Noop{}
	}
	return retriever
}

type transportDrainer struct {
	transport *ws.Transport
}

func (d transportDrainer) Drain() error {
	return d.transport.Stop()
}
