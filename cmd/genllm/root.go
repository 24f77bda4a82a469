package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aschepis/backscratcher/genllm/config"
	genlogger "github.com/aschepis/backscratcher/genllm/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	logFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "genllm",
	Short: "genllm - one prompt shape for many LLM providers",
	Long: `genllm sends prompts to Anthropic, OpenAI and OpenAI-compatible APIs,
Ollama and Gemini through one command, and reports normalized token usage,
cost and timing for every call.

Conversations are kept between invocations so a prompt can continue an
earlier exchange with --conversation.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: $GENLLM_CONFIG_PATH or ~/.genllm/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "logfile", "", "write logs to this file instead of stderr")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets LOG_LEVEL=debug)")
}

// setup loads .env files, the config file and the logger.
func setup() (*config.Config, zerolog.Logger, error) {
	if err := config.LoadDotEnv(".env", "~/.genllm/.env"); err != nil {
		return nil, zerolog.Nop(), err
	}
	if verbose {
		os.Setenv("LOG_LEVEL", "debug") //nolint:errcheck // cannot fail for a valid key
	}
	logger, err := genlogger.InitWithOptions(logFile, logFile == "")
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to initialize logger: %w", err)
	}

	path := cfgFile
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, logger, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Debug().Str("path", path).Str("default_provider", cfg.DefaultProvider).Msg("Loaded configuration")
	return cfg, logger, nil
}

// withApp builds the app for one command run and tears it down afterwards.
func withApp(ctx context.Context, fn func(a *app) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
