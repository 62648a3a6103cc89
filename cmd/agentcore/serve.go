package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomvoice/agentcore/internal/adapters/embedding"
	"github.com/loomvoice/agentcore/internal/adapters/id"
	"github.com/loomvoice/agentcore/internal/adapters/livekit"
	"github.com/loomvoice/agentcore/internal/adapters/metrics"
	"github.com/loomvoice/agentcore/internal/adapters/postgres"
	"github.com/loomvoice/agentcore/internal/adapters/tracing"
	"github.com/loomvoice/agentcore/internal/bus"
	"github.com/loomvoice/agentcore/internal/httpapi"
	"github.com/loomvoice/agentcore/internal/llm"
	"github.com/loomvoice/agentcore/internal/memory"
	"github.com/loomvoice/agentcore/internal/reasoning"
	"github.com/loomvoice/agentcore/internal/speech"
	"github.com/loomvoice/agentcore/internal/voice"
)

// serveCmd starts the agent core process: bus connections, the reasoning
// pipeline, and the debug HTTP surface.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the agent core process",
		Long: `Start the agent core: connect to the ephemeral and durable
buses, PostgreSQL/pgvector memory store, LLM and embedding endpoints,
and expose a debug HTTP surface for manual exercising.

Required configuration:
  - NATS (BUS_EPHEMERAL_URL, BUS_DURABLE_URL)
  - PostgreSQL (DB_URL)
  - LLM endpoint (LLM_URL)
  - Embedding endpoint (EMBEDDING_URL)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// maskDatabaseURL masks the password in a database URL for safe logging.
func maskDatabaseURL(dbURL string) string {
	parsed, err := url.Parse(dbURL)
	if err != nil {
		return "[invalid URL]"
	}
	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), "****")
		}
	}
	return parsed.String()
}

// runServer wires every component and blocks until a shutdown signal or a
// fatal startup error.
func runServer(ctx context.Context) error {
	log.Println("Starting agentcore...")
	log.Printf("  HTTP:      http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("  Postgres:  %s", maskDatabaseURL(cfg.Database.URL))
	log.Printf("  LLM:       %s", cfg.LLM.URL)
	log.Printf("  Embedding: %s", cfg.Embedding.URL)
	log.Printf("  Bus:       ephemeral=%s durable=%s", cfg.Bus.EphemeralURL, cfg.Bus.DurableURL)
	log.Println()

	shutdown, err := tracing.InitTracer("agentcore")
	if err != nil {
		log.Printf("Warning: failed to initialize tracing: %v", err)
	} else {
		defer func() {
			if err := shutdown(ctx); err != nil {
				log.Printf("Error shutting down tracer: %v", err)
			}
		}()
		log.Println("OpenTelemetry tracing initialized")
	}

	log.Println("Connecting to PostgreSQL...")
	pool, err := postgres.Connect(ctx, postgres.DefaultConnectConfig(cfg.Database.URL))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("Database connection established")

	log.Println("Connecting to ephemeral bus...")
	ephemeral, err := bus.ConnectEphemeral(ctx, cfg.Bus.EphemeralURL, "agentcore")
	if err != nil {
		return fmt.Errorf("failed to connect to ephemeral bus: %w", err)
	}
	defer ephemeral.Close()
	log.Println("Ephemeral bus connected")

	log.Println("Connecting to durable bus...")
	durable, err := bus.ConnectDurable(ctx, cfg.Bus.DurableURL, "agentcore", cfg.Durable.RedeliverMax)
	if err != nil {
		return fmt.Errorf("failed to connect to durable bus: %w", err)
	}
	defer durable.Close()
	log.Println("Durable bus connected, streams ensured")

	idGen := id.New()

	store := memory.New(pool, cfg.Embedding.Dimension, memory.DistanceCosine)
	log.Println("Memory store initialized")

	embeddingClient := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimension)
	log.Println("Embedding client initialized")

	llmClient := llm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.LLM.Temperature)
	log.Println("LLM client initialized")

	workflow := reasoning.New(embeddingClient, store, llmClient, durable, idGen, cfg.Deadlines.Reason, 5)
	log.Println("Reasoning workflow initialized")

	synth, err := speech.NewSynthesizer(cfg.TTS.URL, cfg.TTS.Voice, cfg.TTS.MaxConcurrent)
	if err != nil {
		return fmt.Errorf("failed to initialize TTS synthesizer: %w", err)
	}
	log.Println("TTS synthesizer initialized")

	recognizerFactory := func() voice.Recognizer {
		return speech.NewRecognizer(cfg.STT.URL, cfg.STT.ModelPath, cfg.STT.SampleRate)
	}

	deadlines := voice.Deadlines{
		Turn:          cfg.Deadlines.Turn,
		STT:           cfg.Deadlines.STT,
		Reason:        cfg.Deadlines.Reason,
		TTSFirstChunk: cfg.Deadlines.TTSFirstChunk,
	}

	var liveKitService *livekit.Service
	if cfg.LiveKit.APIKey != "" && cfg.LiveKit.APISecret != "" {
		liveKitService, err = livekit.NewService(&livekit.ServiceConfig{
			URL:                   cfg.LiveKit.URL,
			APIKey:                cfg.LiveKit.APIKey,
			APISecret:             cfg.LiveKit.APISecret,
			TokenValidityDuration: cfg.LiveKit.TokenValidityDuration,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize livekit service: %w", err)
		}
		log.Println("LiveKit room service initialized")
	} else {
		log.Println("LiveKit credentials not configured, room/token endpoint disabled")
	}

	manager := voice.NewManager(recognizerFactory, synth, workflow, durable, idGen, deadlines)
	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()
	manager.Start(serverCtx)
	defer manager.Stop()
	log.Println("Voice session manager started")

	var ready atomic.Bool
	heartbeatStop := make(chan struct{})
	go runHeartbeat(ephemeral, manager, heartbeatStop)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: httpapi.New(workflow, synth, store, liveKitService, ready.Load, ephemeral.IsConnected),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	ready.Store(true)
	slog.Info("agentcore ready", "sessions_active", manager.Count())
	metrics.SessionsActive.Set(float64(manager.Count()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		close(heartbeatStop)
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		log.Println("Shutting down gracefully...")
		close(heartbeatStop)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		log.Println("Server stopped")
		return nil
	}
}

// runHeartbeat publishes liveness on the fixed system.health.heartbeat
// subject every 10 seconds until stop is closed.
func runHeartbeat(ephemeral *bus.Ephemeral, manager *voice.Manager, stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			status := "healthy"
			if !ephemeral.IsConnected() {
				status = "degraded"
			}
			sessionsActive := manager.Count()
			metrics.SessionsActive.Set(float64(sessionsActive))
			if err := ephemeral.PublishHeartbeat("agentcore", status, map[string]any{"sessions_active": sessionsActive}); err != nil {
				slog.Warn("heartbeat publish failed", "error", err)
			}
		}
	}
}
