package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/photofingerprint/internal/config"
	"github.com/cwbudde/photofingerprint/internal/fingerprint/backend"
	"github.com/cwbudde/photofingerprint/internal/store"
)

var (
	configPath  string
	envFile     string
	logLevel    string
	logFormat   string
	dataDir     string
	storeKind   string
	backendName string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "photofp",
	Short: "Color and layout fingerprints for photo similarity",
	Long: `photofp reduces images to sparse histograms over quantized color and
coarse position, stores them, and ranks stored images by cosine similarity.
Fingerprints can be built on the CPU, on a software compute device, or on an
OpenCL GPU when built with -tags gpu.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath, envFile)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("log-level") {
			loaded.LogLevel = logLevel
		}
		if flags.Changed("log-format") {
			loaded.LogFormat = logFormat
		}
		if flags.Changed("data-dir") {
			loaded.DataDir = dataDir
		}
		if flags.Changed("store") {
			loaded.Store = storeKind
		}
		if flags.Changed("backend") {
			loaded.Backend = backendName
		}
		if err := loaded.Validate(); err != nil {
			return err
		}

		cfg = loaded
		logger = cfg.NewLogger(os.Stderr)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "photofp.yaml", "YAML config file (skipped if missing)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file (skipped if missing)")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "json", "Log format (json, text)")
	flags.StringVar(&dataDir, "data-dir", "./data", "Base directory for stored fingerprints and job journals")
	flags.StringVar(&storeKind, "store", "fs", "Record store (fs, badger)")
	flags.StringVar(&backendName, "backend", "cpu", "Fingerprint backend (cpu, software, opencl)")
}

// openStore opens the configured record store.
func openStore() (store.Store, error) {
	st, err := store.NewStore(cfg.Store, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}
	return st, nil
}

// newBuilder creates the configured fingerprint builder.
func newBuilder() (backend.Builder, func(), error) {
	return backend.NewBuilderForBackend(cfg.Backend, backend.Options{
		Software: cfg.Device(),
		Logger:   logger,
	})
}
