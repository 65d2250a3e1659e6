// Command rrscheduler assigns rendering clients to the render servers listed
// in servers.csv.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/rendercast/config"
	"github.com/opd-ai/rendercast/discovery"
	"github.com/opd-ai/rendercast/internal/cli"
	"github.com/opd-ai/rendercast/metrics"
)

func main() {
	var flags cli.Flags

	rootCmd := &cobra.Command{
		Use:           "rrscheduler",
		Short:         "Assign rendering clients to render servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Setup(); err != nil {
				return err
			}
			cfg, err := config.LoadScheduler(flags.ConfigPath)
			if err != nil {
				return err
			}
			ctx, cancel := cli.SignalContext()
			defer cancel()
			return run(ctx, cfg)
		},
	}
	flags.Bind(rootCmd, "scheduler.yml")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.SchedulerConfig) error {
	servers, err := discovery.LoadServers(cfg.ServersFile)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"file":     cfg.ServersFile,
		}).Warn("Server list is empty, every request will be refused")
	}

	sched := discovery.NewScheduler(servers, discovery.SchedulerConfig{
		OpenSessionTimeout: time.Duration(cfg.OpenSessionTimeoutMs) * time.Millisecond,
		Metrics:            metrics.NewScheduler(),
	})
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: sched.Router(), ReadHeaderTimeout: 5 * time.Second}

	logrus.WithFields(logrus.Fields{
		"function": "run",
		"addr":     cfg.ListenAddr,
		"servers":  len(servers),
	}).Info("Scheduler listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
