package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/calltracker/config"
)

var version = "dev"

// flags globales
var (
	configPath string
	verbose    bool
	logFormat  string
)

func main() {
	root := &cobra.Command{
		Use:           "tracker",
		Short:         "Track token calls from channels and learn channel reputation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to config file")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "set log level to debug")
	root.PersistentFlags().StringVar(&logFormat, "format", "", "log format: text|json (overrides config)")

	root.AddCommand(
		runCmd(),
		mentionCmd(),
		evaluateCmd(),
		backfillCmd(),
		completeStaleCmd(),
		completeCmd(),
		reputationCmd(),
		signalsCmd(),
		outcomesCmd(),
		mapSymbolCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

// loadConfig carga la configuración y aplica los flags de logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	setupLogger(cfg.Log)
	return cfg, nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
