package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ipwned/internal/queryserver"
	"ipwned/internal/rsqf"
)

func main() {
	var filterPath string

	cmd := &cobra.Command{
		Use:   "ipwned-server",
		Short: "Serve compromised-password lookups against a pre-built filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), filterPath)
		},
	}
	cmd.Flags().StringVarP(&filterPath, "filter-path", "f", "ipwned_filter.rsqf", "path to the serialized filter")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serverConfig is sourced from an external config file in the working
// directory (config.yaml/json/toml), per the CLI surface in the spec:
// filter path comes from a flag, host/port come from config.
type serverConfig struct {
	Host string
	Port int
}

func loadServerConfig() (serverConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return serverConfig{}, fmt.Errorf("reading config: %w", err)
		}
	}

	return serverConfig{Host: v.GetString("host"), Port: v.GetInt("port")}, nil
}

func run(parent context.Context, filterPath string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := loadServerConfig()
	if err != nil {
		return err
	}

	f, err := os.Open(filterPath)
	if err != nil {
		return fmt.Errorf("opening filter: %w", err)
	}
	filt, err := rsqf.ReadFrom(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("loading filter: %w", err)
	}

	logger.Info("filter loaded",
		zap.String("path", filterPath),
		zap.Uint64("capacity", filt.Capacity()),
		zap.Float64("fpr", filt.FPR()),
		zap.Uint64("entries", filt.Len()))

	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      queryserver.New(filt, logger),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	return nil
}
