package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ipwned/internal/builder"
)

func main() {
	cfg := builder.Default()

	cmd := &cobra.Command{
		Use:   "ipwned-builder",
		Short: "Fetch HIBP range shards and maintain a local compromised-password filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.BasePath, "base-path", ".", "directory holding the catalog and filter files")
	flags.StringVar(&cfg.StateDBName, "state-db-name", cfg.StateDBName, "catalog filename")
	flags.StringVar(&cfg.FilterName, "filter-name", cfg.FilterName, "filter filename")
	flags.StringVar(&cfg.MaxAge, "max-age", cfg.MaxAge, "skip shards fetched more recently than this (e.g. 1mo, 2w, 10d, 6h)")
	flags.IntVar(&cfg.Parallel, "parallel", cfg.Parallel, "maximum concurrent in-flight shard fetches")
	flags.Uint32Var(&cfg.Start, "start", cfg.Start, "first shard ID to process")
	flags.Uint32Var(&cfg.End, "end", cfg.End, "last shard ID to process (inclusive)")
	flags.Uint64Var(&cfg.MaxCount, "max-count", cfg.MaxCount, "planned filter capacity, used only when creating a new filter")
	flags.Float64Var(&cfg.MaxErrorRate, "max-error-rate", cfg.MaxErrorRate, "target false-positive rate, used only when creating a new filter")
	flags.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "range API base URL")
	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "per-shard retry ceiling")
	flags.StringVar(&cfg.Log, "log", cfg.Log, "log verbosity: off, error, warn, info, debug, trace")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(parent context.Context, cfg builder.Config) error {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Parameters are echoed prominently at startup per the spec's open
	// question about surfacing an existing filter's frozen parameters.
	logger.Info("starting build",
		zap.String("base_path", cfg.BasePath),
		zap.Uint32("start", cfg.Start),
		zap.Uint32("end", cfg.End),
		zap.String("max_age", cfg.MaxAge),
		zap.Int("parallel", cfg.Parallel),
		zap.Uint64("max_count", cfg.MaxCount),
		zap.Float64("max_error_rate", cfg.MaxErrorRate),
		zap.String("base_url", cfg.BaseURL),
		zap.Int("max_retries", cfg.MaxRetries))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := builder.Run(ctx, cfg, logger)
	if report != nil {
		logger.Info("run summary",
			zap.Uint32("total", report.Total),
			zap.Uint32("skipped_fresh", report.Skipped),
			zap.Uint32("downloaded", report.Downloaded),
			zap.Uint32("not_modified", report.NotModified),
			zap.Uint32("failed", report.Failed),
			zap.Uint32("hashes_new", report.HashesNew),
			zap.Uint32("lines_skipped", report.LinesSkipped))
		for id, msg := range report.Errors {
			logger.Warn("shard failed", zap.Uint32("id", id), zap.String("error", msg))
		}
	}
	if err != nil {
		return errs.Wrap(err)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	var zl zapcore.Level
	switch level {
	case "off":
		zl = zapcore.FatalLevel + 1
	case "error":
		zl = zapcore.ErrorLevel
	case "warn":
		zl = zapcore.WarnLevel
	case "info":
		zl = zapcore.InfoLevel
	case "debug", "trace":
		zl = zapcore.DebugLevel
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	conf := zap.NewProductionConfig()
	conf.Level = zap.NewAtomicLevelAt(zl)
	conf.Encoding = "console"
	conf.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	return conf.Build()
}
