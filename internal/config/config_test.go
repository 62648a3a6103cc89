package config

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LLM.URL == "" {
		t.Error("LLM URL should not be empty")
	}
	if cfg.Embedding.Dimension < 384 {
		t.Error("embedding dimension should default to at least 384")
	}
	if cfg.Deadlines.Turn <= 0 {
		t.Error("T_turn should be positive")
	}
	if cfg.TTS.MaxConcurrent <= 0 {
		t.Error("MAX_CONCURRENT_TTS should be positive")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestEnvString(t *testing.T) {
	target := "original"

	t.Run("sets value when env var exists", func(t *testing.T) {
		t.Setenv("TEST_VAR", "new_value")
		envString("TEST_VAR", &target)
		if target != "new_value" {
			t.Errorf("expected 'new_value', got '%s'", target)
		}
	})

	t.Run("does not change value when env var is unset", func(t *testing.T) {
		target = "original"
		envString("NONEXISTENT_VAR", &target)
		if target != "original" {
			t.Errorf("expected 'original', got '%s'", target)
		}
	})
}

func TestEnvDuration(t *testing.T) {
	d := DefaultConfig().Deadlines.Reason
	t.Setenv("T_REASON_MS", "1200")
	envDuration("T_REASON_MS", &d)
	if d.Milliseconds() != 1200 {
		t.Errorf("expected 1200ms, got %v", d)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("BUS_EPHEMERAL_URL", "nats://bus:4222")
	t.Setenv("BUS_DURABLE_URL", "nats://bus:4222")
	t.Setenv("DB_URL", "postgres://db/agentcore")
	t.Setenv("LLM_URL", "http://llm:8000/v1")
	t.Setenv("EMBEDDING_DIM", "768")
	t.Setenv("MAX_CONCURRENT_TTS", "8")
	t.Setenv("REDELIVER_MAX", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Bus.EphemeralURL != "nats://bus:4222" {
		t.Errorf("expected overridden ephemeral URL, got %s", cfg.Bus.EphemeralURL)
	}
	if cfg.Embedding.Dimension != 768 {
		t.Errorf("expected 768, got %d", cfg.Embedding.Dimension)
	}
	if cfg.TTS.MaxConcurrent != 8 {
		t.Errorf("expected 8, got %d", cfg.TTS.MaxConcurrent)
	}
	if cfg.Durable.RedeliverMax != 5 {
		t.Errorf("expected 5, got %d", cfg.Durable.RedeliverMax)
	}
}

func TestValidateRejectsBadURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.URL = "not-a-url"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for malformed LLM URL")
	}
}

func TestValidateRejectsLowEmbeddingDimension(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.Dimension = 16
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for embedding dimension below 384")
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for out-of-range server port")
	}
}

func TestValidateRejectsNonPositiveSampleRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.STT.SampleRate = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for non-positive STT sample rate")
	}
}
