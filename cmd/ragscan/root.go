package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/ragscan/internal/api"
	"github.com/jackzampolin/ragscan/internal/config"
	"github.com/jackzampolin/ragscan/internal/home"
	"github.com/jackzampolin/ragscan/internal/svcctx"
	"github.com/jackzampolin/ragscan/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "ragscan",
	Short: "OCR engineering documents and publish them to a knowledge base",
	Long: `ragscan turns scanned engineering documents (drawings, manuals,
specifications) into searchable knowledge base content.

The pipeline includes:
  - PDF rasterization and aspect-ratio tiling of page images
  - Vision-model OCR with bounded page concurrency
  - Page-ordered aggregation that tolerates individual page failures
  - Idempotent dataset resolution, upload and parse tracking in RAGFlow`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.ragscan/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "ragscan home directory (default: ~/.ragscan)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "log level: debug, info, warn or error (default from config)",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves the home directory and loads configuration. A config
// file in a non-default home takes precedence over the search path.
func loadConfig() (*config.Manager, *home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, nil, err
	}

	path := cfgFile
	if path == "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		return nil, nil, err
	}
	return mgr, h, nil
}

// newLogger builds the process logger. The --log-level flag wins over config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// withLocalServices builds services in-process for commands that run
// without a server, and closes them afterwards.
func withLocalServices(ctx context.Context, fn func(context.Context, *svcctx.Services) error) error {
	mgr, h, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(mgr.Get())

	services, err := svcctx.Build(ctx, svcctx.BuildOptions{
		Config: mgr,
		Home:   h,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Warn("failed to close services", "error", err)
		}
	}()

	return fn(svcctx.WithServices(ctx, services), services)
}

// resultError turns an unsuccessful result into a non-zero exit after the
// result has been printed.
func resultError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("run failed: %w", err)
}
