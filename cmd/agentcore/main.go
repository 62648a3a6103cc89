package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomvoice/agentcore/internal/config"
)

// Version information (set via ldflags).
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Shared global configuration, loaded once in PersistentPreRunE.
var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "agentcore",
		Short: "agentcore - real-time voice agent core",
		Long: `agentcore is the reasoning, memory, and session-orchestration
core for a real-time voice agent: NATS for inter-service messaging,
PostgreSQL/pgvector for conversational memory, and a per-participant
state machine driving speech-to-text, reasoning, and text-to-speech.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Current configuration:")
			fmt.Println()
			fmt.Println("Bus:")
			fmt.Printf("  Ephemeral: %s\n", cfg.Bus.EphemeralURL)
			fmt.Printf("  Durable:   %s\n", cfg.Bus.DurableURL)
			fmt.Println()
			fmt.Println("Database:")
			fmt.Printf("  URL: %s\n", maskSecret(cfg.Database.URL))
			fmt.Println()
			fmt.Println("LLM:")
			fmt.Printf("  URL:         %s\n", cfg.LLM.URL)
			fmt.Printf("  Model:       %s\n", cfg.LLM.Model)
			fmt.Printf("  Max Tokens:  %d\n", cfg.LLM.MaxTokens)
			fmt.Printf("  Temperature: %.2f\n", cfg.LLM.Temperature)
			fmt.Println()
			fmt.Println("Embedding:")
			fmt.Printf("  URL:       %s\n", cfg.Embedding.URL)
			fmt.Printf("  Model:     %s\n", cfg.Embedding.Model)
			fmt.Printf("  Dimension: %d\n", cfg.Embedding.Dimension)
			fmt.Println()
			fmt.Println("TTS:")
			fmt.Printf("  URL:            %s\n", cfg.TTS.URL)
			fmt.Printf("  Voice:          %s\n", cfg.TTS.Voice)
			fmt.Printf("  Max Concurrent: %d\n", cfg.TTS.MaxConcurrent)
			fmt.Println()
			fmt.Println("STT:")
			fmt.Printf("  URL:         %s\n", cfg.STT.URL)
			fmt.Printf("  Model Path:  %s\n", cfg.STT.ModelPath)
			fmt.Printf("  Sample Rate: %d\n", cfg.STT.SampleRate)
			fmt.Println()
			fmt.Println("Deadlines:")
			fmt.Printf("  T_turn:            %s\n", cfg.Deadlines.Turn)
			fmt.Printf("  T_reason:          %s\n", cfg.Deadlines.Reason)
			fmt.Printf("  T_stt:             %s\n", cfg.Deadlines.STT)
			fmt.Printf("  T_tts_first_chunk: %s\n", cfg.Deadlines.TTSFirstChunk)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentcore %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
