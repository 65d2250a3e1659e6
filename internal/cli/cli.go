// Package cli holds the flag, logging and signal plumbing shared by the
// rendercast binaries.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/rendercast/config"
	"github.com/opd-ai/rendercast/metrics"
)

// Flags are the options every binary accepts.
type Flags struct {
	ConfigPath string
	EnvFiles   []string
	LogLevel   string
	LogFormat  string
}

// Bind registers the common flags on cmd.
func (f *Flags) Bind(cmd *cobra.Command, defaultConfig string) {
	cmd.PersistentFlags().StringVarP(&f.ConfigPath, "config", "c", defaultConfig, "YAML configuration file")
	cmd.PersistentFlags().StringSliceVar(&f.EnvFiles, "env-file", []string{".env"}, "dotenv files loaded before the configuration")
	cmd.PersistentFlags().StringVar(&f.LogLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&f.LogFormat, "log-format", "text", "log format (text, json)")
}

// Setup configures logrus and loads the dotenv files.
func (f *Flags) Setup() error {
	level, err := logrus.ParseLevel(f.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logrus.SetLevel(level)

	switch strings.ToLower(f.LogFormat) {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid --log-format %q", f.LogFormat)
	}
	logrus.SetOutput(os.Stderr)

	return config.LoadDotEnv(f.EnvFiles...)
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ServeMetrics serves h on addr under /metrics until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr, component string, h http.Handler) error {
	r := chi.NewRouter()
	r.Use(metrics.RequestLogger(component))
	r.Method(http.MethodGet, "/metrics", h)

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	logrus.WithFields(logrus.Fields{
		"function": "ServeMetrics",
		"addr":     addr,
	}).Info("Serving metrics")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
