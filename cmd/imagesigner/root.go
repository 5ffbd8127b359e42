package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/engine"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/store"
	bunstore "github.com/aws-samples/amazon-ecr-ingestion-demo/store/bun"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/store/memory"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/store/postgres"
	redisstore "github.com/aws-samples/amazon-ecr-ingestion-demo/store/redis"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/workflow"
)

// Version is the release version.
const Version = "0.1.0"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:   "imagesigner",
		Short: "Scheduled image pull, scan wait and sign workflow",
		Long: `imagesigner pulls a configured set of images through a registry cache,
waits for the registry to finish scanning them, then signs and promotes the
images that passed. Every step is recorded in an append-only execution log.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override the log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "override the log format (text, json)")

	root.AddCommand(
		newServeCmd(&g),
		newRunCmd(&g),
		newLogCmd(&g),
		newValidateCmd(&g),
		newWatchCmd(),
		newTriggerCmd(),
	)
	return root
}

// loadConfig reads the config file and applies flag overrides.
func (g *globalFlags) loadConfig() (ingestion.Config, error) {
	cfg, err := ingestion.LoadConfig(g.configFile)
	if err != nil {
		return ingestion.Config{}, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return ingestion.Config{}, err
	}
	return cfg, nil
}

// newLogger builds the process logger. Output goes to stderr and, when a
// file is configured, to a size-rotated file as well.
func newLogger(cfg ingestion.LoggingConfig, stderr io.Writer) (*slog.Logger, io.Closer) {
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

	out := stderr
	var closer io.Closer = io.NopCloser(nil)
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = io.MultiWriter(stderr, rotator)
		closer = rotator
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts)), closer
	}
	return slog.New(slog.NewTextHandler(out, opts)), closer
}

// openStore connects to the configured backend. The returned close
// function releases the backend and any client it owns.
func openStore(ctx context.Context, cfg ingestion.StoreConfig, logger *slog.Logger) (store.Store, func() error, error) {
	switch cfg.Driver {
	case "memory":
		s := memory.New()
		return s, s.Close, nil

	case "postgres":
		s, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case "bun":
		s, closeDB := bunstore.Open(cfg.DSN, bunstore.WithLogger(logger))
		return s, closeDB, nil

	case "redis":
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis dsn: %w", err)
		}
		client := goredis.NewClient(opts)
		s := redisstore.New(client,
			redisstore.WithPrefix(cfg.Prefix),
			redisstore.WithLogger(logger),
		)
		return s, client.Close, nil

	default:
		return nil, nil, fmt.Errorf("%w: unsupported store driver %q", ingestion.ErrInvalidConfig, cfg.Driver)
	}
}

// app bundles what every engine-backed command needs.
type app struct {
	cfg    ingestion.Config
	logger *slog.Logger
	store  store.Store
	eng    *engine.Engine

	closers []func() error
}

// newApp loads config, opens and migrates the store and builds the engine.
// definitionFiles are extra YAML definitions to register.
func (g *globalFlags) newApp(ctx context.Context, stderr io.Writer, definitionFiles []string) (*app, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, logCloser := newLogger(cfg.Logging, stderr)
	a := &app{cfg: cfg, logger: logger, closers: []func() error{logCloser.Close}}

	opts := []engine.Option{engine.WithLogger(logger)}
	for _, path := range definitionFiles {
		def, err := readDefinition(path)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, engine.WithDefinition(def))
	}

	s, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	a.store = s
	a.closers = append(a.closers, closeStore)

	if err := s.Migrate(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.eng, err = engine.Build(cfg, append(opts, engine.WithStore(s))...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
}

func readDefinition(path string) (*workflow.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	def, err := workflow.ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}
