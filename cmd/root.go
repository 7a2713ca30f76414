package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"lawchat-gateway/internal/config"
)

type rootOptions struct {
	configPath string
	envFile    string
}

// Execute runs the CLI with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	root := newRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "lawchat",
		Short:         "Legal question gateway backed by a grounded generative model",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(opts.envFile)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML configuration file (required)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with API keys, skipped when missing")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newAskCommand(opts))
	return root
}

// loadEnvFile populates the environment before the config's ${VAR} references are expanded.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

func loadConfig(opts *rootOptions) (config.Config, error) {
	if opts.configPath == "" {
		return config.Config{}, errors.New("--config <path> is required")
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	slog.SetDefault(newLogger(cfg.Logging))
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
}
