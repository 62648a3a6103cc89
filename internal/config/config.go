// Package config loads agent core configuration from environment variables,
// matching the env-var keys named in the external interfaces.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the agent core process.
type Config struct {
	Server    ServerConfig
	Bus       BusConfig
	Database  DatabaseConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Deadlines DeadlineConfig
	TTS       TTSConfig
	STT       STTConfig
	Durable   DurableConfig
	LiveKit   LiveKitConfig
	LogLevel  string
	OTELEndpoint string
	Environment  string
}

// ServerConfig holds the debug HTTP surface's listen address.
type ServerConfig struct {
	Host string
	Port int
}

type BusConfig struct {
	EphemeralURL string
	DurableURL   string
}

type DatabaseConfig struct {
	URL string
}

type LLMConfig struct {
	URL         string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type EmbeddingConfig struct {
	URL       string
	APIKey    string
	Model     string
	Dimension int
}

// STTConfig configures the speech-to-text HTTP adapter and VAD model.
type STTConfig struct {
	URL         string
	ModelPath   string
	SampleRate  int
}

// DeadlineConfig holds the bounded-latency timeouts enforced per turn.
type DeadlineConfig struct {
	Turn         time.Duration
	Reason       time.Duration
	STT          time.Duration
	TTSFirstChunk time.Duration
}

type TTSConfig struct {
	URL           string
	Voice         string
	MaxConcurrent int
}

type DurableConfig struct {
	RedeliverMax int
}

// LiveKitConfig configures room creation and participant access-token
// minting. Left with an empty APIKey/APISecret, room transport is simply
// not started; the reasoning/TTS debug surface still works standalone.
type LiveKitConfig struct {
	URL                   string
	APIKey                string
	APISecret             string
	TokenValidityDuration time.Duration
}

// DefaultConfig returns the configuration a bare process would start with
// when no environment variables are set, suitable for local development
// against services on their conventional default ports.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Bus: BusConfig{
			EphemeralURL: "nats://localhost:4222",
			DurableURL:   "nats://localhost:4222",
		},
		Database: DatabaseConfig{
			URL: "postgres://localhost:5432/agentcore",
		},
		LLM: LLMConfig{
			URL:         "http://localhost:8000/v1",
			Model:       "Qwen/Qwen3-8B-AWQ",
			MaxTokens:   1024,
			Temperature: 0.7,
		},
		Embedding: EmbeddingConfig{
			URL:       "http://localhost:8001/v1",
			Model:     "BAAI/bge-small-en-v1.5",
			Dimension: 384,
		},
		Deadlines: DeadlineConfig{
			Turn:          7 * time.Second,
			Reason:        5 * time.Second,
			STT:           3 * time.Second,
			TTSFirstChunk: 1 * time.Second,
		},
		TTS: TTSConfig{
			URL:           "http://localhost:8002",
			Voice:         "af_heart",
			MaxConcurrent: 4,
		},
		STT: STTConfig{
			URL:        "http://localhost:8003",
			ModelPath:  "/models/silero_vad.onnx",
			SampleRate: 16000,
		},
		Durable: DurableConfig{
			RedeliverMax: 3,
		},
		LiveKit: LiveKitConfig{
			URL:                   "ws://localhost:7880",
			TokenValidityDuration: 6 * time.Hour,
		},
		LogLevel:    "info",
		Environment: "development",
	}
}

func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

func envDuration(key string, target *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			*target = time.Duration(d) * time.Millisecond
		}
	}
}

// Load reads configuration from environment variables over the defaults
// and validates the result.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	envString("SERVER_HOST", &cfg.Server.Host)
	envInt("SERVER_PORT", &cfg.Server.Port)
	envString("BUS_EPHEMERAL_URL", &cfg.Bus.EphemeralURL)
	envString("BUS_DURABLE_URL", &cfg.Bus.DurableURL)
	envString("DB_URL", &cfg.Database.URL)
	envString("LLM_URL", &cfg.LLM.URL)
	envString("LLM_API_KEY", &cfg.LLM.APIKey)
	envString("LLM_MODEL", &cfg.LLM.Model)
	envInt("LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	envFloat("LLM_TEMPERATURE", &cfg.LLM.Temperature)
	envString("EMBEDDING_URL", &cfg.Embedding.URL)
	envString("EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	envString("EMBEDDING_MODEL", &cfg.Embedding.Model)
	envInt("EMBEDDING_DIM", &cfg.Embedding.Dimension)
	envString("TTS_URL", &cfg.TTS.URL)
	envString("TTS_VOICE", &cfg.TTS.Voice)
	envString("STT_URL", &cfg.STT.URL)
	envString("STT_MODEL_PATH", &cfg.STT.ModelPath)
	envInt("STT_SAMPLE_RATE", &cfg.STT.SampleRate)
	envDuration("T_TURN_MS", &cfg.Deadlines.Turn)
	envDuration("T_REASON_MS", &cfg.Deadlines.Reason)
	envDuration("T_STT_MS", &cfg.Deadlines.STT)
	envDuration("T_TTS_FIRST_CHUNK_MS", &cfg.Deadlines.TTSFirstChunk)
	envInt("MAX_CONCURRENT_TTS", &cfg.TTS.MaxConcurrent)
	envInt("REDELIVER_MAX", &cfg.Durable.RedeliverMax)
	envString("LIVEKIT_URL", &cfg.LiveKit.URL)
	envString("LIVEKIT_API_KEY", &cfg.LiveKit.APIKey)
	envString("LIVEKIT_API_SECRET", &cfg.LiveKit.APISecret)
	envDuration("LIVEKIT_TOKEN_TTL_MS", &cfg.LiveKit.TokenValidityDuration)
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("OTEL_ENDPOINT", &cfg.OTELEndpoint)
	envString("ENVIRONMENT", &cfg.Environment)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isValidURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has internally consistent values.
func (c *Config) Validate() error {
	var errs []string

	if c.Bus.EphemeralURL == "" {
		errs = append(errs, "ephemeral bus URL is required")
	}
	if c.Bus.DurableURL == "" {
		errs = append(errs, "durable bus URL is required")
	}
	if c.Database.URL == "" {
		errs = append(errs, "database URL is required")
	}
	if c.LLM.URL == "" {
		errs = append(errs, "LLM URL is required")
	} else if !isValidURL(c.LLM.URL) {
		errs = append(errs, "LLM URL must be a valid URL")
	}
	if c.Embedding.Dimension < 384 {
		errs = append(errs, "embedding dimension must be at least 384")
	}
	if c.TTS.MaxConcurrent < 1 {
		errs = append(errs, "MAX_CONCURRENT_TTS must be positive")
	}
	if c.Durable.RedeliverMax < 1 {
		errs = append(errs, "REDELIVER_MAX must be positive")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "SERVER_PORT must be between 1 and 65535")
	}
	if c.STT.SampleRate < 1 {
		errs = append(errs, "STT_SAMPLE_RATE must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
