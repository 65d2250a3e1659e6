// Command rrclient streams a demo scene to render servers and displays the
// frames they return. Without a window, the latest frame can be written to a
// PNG file on exit.
package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/rendercast/client"
	"github.com/opd-ai/rendercast/config"
	"github.com/opd-ai/rendercast/discovery"
	"github.com/opd-ai/rendercast/internal/cli"
	"github.com/opd-ai/rendercast/metrics"
	"github.com/opd-ai/rendercast/scene"
)

func main() {
	var (
		flags    cli.Flags
		snapshot string
		meshes   int
		database string
	)

	rootCmd := &cobra.Command{
		Use:           "rrclient",
		Short:         "Stream a scene to render servers and display the frames",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Setup(); err != nil {
				return err
			}
			fc, err := config.LoadClient(flags.ConfigPath)
			if err != nil {
				return err
			}

			configs := int32(1)
			if database != "" {
				db, err := scene.LoadDatabase(database)
				if err != nil {
					return err
				}
				configs = int32(db.Len())
			}

			ctx, cancel := cli.SignalContext()
			defer cancel()
			return run(ctx, fc, newDemoScene(meshes, configs), snapshot)
		},
	}
	flags.Bind(rootCmd, "client.yml")
	rootCmd.Flags().StringVar(&snapshot, "snapshot", "", "write the last displayed frame to this PNG file on exit")
	rootCmd.Flags().IntVar(&meshes, "meshes", 6, "number of meshes in the demo scene")
	rootCmd.Flags().StringVar(&database, "object-database", "", "object database shared with the servers (mesh config ids)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, fc config.ClientConfig, demo *demoScene, snapshot string) error {
	m := metrics.NewClient()
	c, err := client.New(client.FromFile(fc), discovery.NewHTTPFinder(fc.ServerFinding.ScheduleServerHost, nil),
		client.WithMetrics(m))
	if err != nil {
		return err
	}

	frame := make([]byte, c.FrameBytes())
	shown := false

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(time.Second / time.Duration(fc.Basic.FrameRate))
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				c.CaptureScene(demo.snapshot(now))
				if c.TakeFrame(frame) {
					shown = true
				}
			}
		}
	})
	if fc.MetricsAddr != "" {
		g.Go(func() error { return cli.ServeMetrics(gctx, fc.MetricsAddr, "client", m.Handler(nil)) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if snapshot != "" && shown {
		return writePNG(snapshot, frame, fc.Basic.Width, fc.Basic.Height)
	}
	return nil
}

// writePNG stores an RGB24 picture.
func writePNG(path string, rgb []byte, width, height int) error {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; j+2 < len(rgb) && i+3 < len(img.Pix); i, j = i+4, j+3 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = rgb[j], rgb[j+1], rgb[j+2], 0xFF
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function": "writePNG",
		"path":     path,
	}).Info("Wrote last frame")
	return f.Close()
}
