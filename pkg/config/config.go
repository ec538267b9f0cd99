// Package config loads daemon configuration from a file plus ELARA_
// environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Vendors      VendorsConfig      `mapstructure:"vendors"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Qdrant       QdrantConfig       `mapstructure:"qdrant"`
	Twilio       TwilioConfig       `mapstructure:"twilio"`
	Queues       QueuesConfig       `mapstructure:"queues"`
	Tools        ToolsConfig        `mapstructure:"tools"`
	Persona      string             `mapstructure:"persona"`
	Environment  string             `mapstructure:"environment"`
	LogLevel     string             `mapstructure:"log_level"`
	LogFormat    string             `mapstructure:"log_format"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	WebsocketPath  string   `mapstructure:"ws_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type OrchestratorConfig struct {
	RequestTimeoutMS  int    `mapstructure:"request_timeout_ms"`
	PollTimeoutMS     int    `mapstructure:"poll_timeout_ms"`
	MaxHistory        int    `mapstructure:"max_history"`
	MemoryLimit       int    `mapstructure:"memory_limit"`
	LegacyAudioChunks bool   `mapstructure:"legacy_audio_chunks"`
	ErrorMessage      string `mapstructure:"error_message"`
}

func (c OrchestratorConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

func (c OrchestratorConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMS) * time.Millisecond
}

type VendorsConfig struct {
	Deepgram   DeepgramConfig   `mapstructure:"deepgram"`
	ElevenLabs ElevenLabsConfig `mapstructure:"elevenlabs"`
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
}

type DeepgramConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
}

type ElevenLabsConfig struct {
	APIKey  string `mapstructure:"api_key"`
	VoiceID string `mapstructure:"voice_id"`
	ModelID string `mapstructure:"model_id"`
}

type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

type EmbeddingsConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type QdrantConfig struct {
	URL        string `mapstructure:"url"`
	APIKey     string `mapstructure:"api_key"`
	Collection string `mapstructure:"collection"`
}

type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
	UserNumber string `mapstructure:"user_number"`
}

type QueuesConfig struct {
	STTJobs         string `mapstructure:"stt_jobs"`
	STTResultPrefix string `mapstructure:"stt_result_prefix"`
	TTSJobs         string `mapstructure:"tts_jobs"`
	TTSResultPrefix string `mapstructure:"tts_result_prefix"`
}

type ToolsConfig struct {
	TimeoutMS      int `mapstructure:"timeout_ms"`
	Retries        int `mapstructure:"retries"`
	RetryBackoffMS int `mapstructure:"retry_backoff_ms"`
}

func (c ToolsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c ToolsConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.allow_any_origin", true)
	v.SetDefault("orchestrator.request_timeout_ms", 45000)
	v.SetDefault("orchestrator.poll_timeout_ms", 10000)
	v.SetDefault("orchestrator.max_history", 20)
	v.SetDefault("orchestrator.memory_limit", 5)
	v.SetDefault("orchestrator.legacy_audio_chunks", false)
	v.SetDefault("orchestrator.error_message", "Sorry, something went wrong. Please try again.")
	v.SetDefault("vendors.deepgram.model", "nova-2")
	v.SetDefault("vendors.elevenlabs.model_id", "eleven_flash_v2_5")
	v.SetDefault("vendors.anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("vendors.anthropic.max_tokens", 1024)
	v.SetDefault("vendors.embeddings.model", "text-embedding-3-small")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("qdrant.collection", "user_memories")
	v.SetDefault("queues.stt_jobs", "stt:jobs")
	v.SetDefault("queues.stt_result_prefix", "stt:result:")
	v.SetDefault("queues.tts_jobs", "tts:jobs")
	v.SetDefault("queues.tts_result_prefix", "tts:result:")
	v.SetDefault("tools.timeout_ms", 6000)
	v.SetDefault("tools.retries", 1)
	v.SetDefault("tools.retry_backoff_ms", 200)
	v.SetDefault("persona", "You are Elara, a warm and concise voice assistant.")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetEnvPrefix("ELARA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
