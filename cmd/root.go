package cmd

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/llmbridge/llmbridge/internal/settings"
)

const (
	AppName = "llmbridge"
	Version = "0.1.0"
)

var (
	logger  *slog.Logger
	baseDir string
	store   *settings.Store
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	homeDir, err := os.UserHomeDir()
	if err != nil {
		logger.Error("Failed to get home directory", "error", err)
		os.Exit(1)
	}

	baseDir = filepath.Join(homeDir, "."+AppName)
	store = settings.NewStore(baseDir)
}

var rootCmd = &cobra.Command{
	Use:     AppName,
	Short:   "Unified client for LLM provider APIs",
	Long:    `Send chat requests to OpenAI, Anthropic, Gemini, Grok or OpenRouter through one canonical interface, with streaming and tool-calling support.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		setupLogging(verbose)
		return store.Load()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
