// Command rrserver renders the scenes streamed by rendering clients and
// sends the encoded frames back.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opd-ai/rendercast/av/video"
	"github.com/opd-ai/rendercast/config"
	"github.com/opd-ai/rendercast/internal/cli"
	"github.com/opd-ai/rendercast/metrics"
	"github.com/opd-ai/rendercast/render"
	"github.com/opd-ai/rendercast/server"
)

func main() {
	var flags cli.Flags

	rootCmd := &cobra.Command{
		Use:           "rrserver",
		Short:         "Render scenes for rendering clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Setup(); err != nil {
				return err
			}
			fc, err := config.LoadServer(flags.ConfigPath)
			if err != nil {
				return err
			}
			cfg, err := server.FromFile(fc)
			if err != nil {
				return err
			}

			srv, err := server.New(cfg,
				render.NewFlatRenderer(render.DefaultFlatConfig()),
				video.ZlibEncoderFactory(fc.GOP, fc.CompressionLevel),
				server.WithMetrics(metrics.NewServer()))
			if err != nil {
				return err
			}

			ctx, cancel := cli.SignalContext()
			defer cancel()
			return srv.Run(ctx)
		},
	}
	flags.Bind(rootCmd, "server.yml")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
