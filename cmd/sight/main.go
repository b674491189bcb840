// Package main is the sight command: it runs live object detection on a camera feed.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/visionarypath/sight/config"
	"github.com/visionarypath/sight/host"
	"github.com/visionarypath/sight/livedetect"
	"github.com/visionarypath/sight/logging"
)

const (
	flagConfig   = "config"
	flagDebug    = "debug"
	flagDuration = "duration"
	flagOut      = "out"
	flagNoWatch  = "no-watch"

	summaryInterval = 10 * time.Second
)

func main() {
	var logger logging.Logger

	app := &cli.App{
		Name:  "sight",
		Usage: "live object detection on a camera feed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagConfig,
				Aliases:  []string{"c"},
				Usage:    "Load configuration from `FILE`",
				Required: true,
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = logging.NewDebugLogger("sight")
			} else {
				logger = logging.NewLogger("sight")
			}
			config.InitLoggingSettings(logger, c.Bool(flagDebug))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run interactively, reading commands from stdin",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagNoWatch, Usage: "do not reload the config file when it changes"},
				},
				Action: func(c *cli.Context) error {
					return withHost(c, logger, func(ctx context.Context, h *host.Host) error {
						runCtx, cancel := context.WithCancel(ctx)
						defer cancel()
						done := make(chan error, 1)
						go func() { done <- h.Run(runCtx, nil, !c.Bool(flagNoWatch), summaryInterval) }()

						consoleErr := newConsole(h, c.App.Writer).run(runCtx, os.Stdin)
						cancel()
						return errors.Wrap(multierr.Combine(consoleErr, <-done), "run")
					})
				},
			},
			{
				Name:  "live",
				Usage: "run live detection for a while, printing timing every second",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: flagDuration, Value: 10 * time.Second, Usage: "how long to run"},
				},
				Action: func(c *cli.Context) error {
					return withHost(c, logger, func(ctx context.Context, h *host.Host) error {
						return live(ctx, h, c.Duration(flagDuration), c.App.Writer)
					})
				},
			},
			{
				Name:  "capture",
				Usage: "run detection on a single frame and save the result",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagOut, Value: "capture.png", Usage: "write the image to `FILE`"},
				},
				Action: func(c *cli.Context) error {
					return withHost(c, logger, func(ctx context.Context, h *host.Host) error {
						return capture(ctx, h, c.String(flagOut), c.App.Writer)
					})
				},
			},
			{
				Name:  "models",
				Usage: "list the configured models",
				Action: func(c *cli.Context) error {
					cfg, err := config.Read(c.String(flagConfig), logger)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, modelTable(cfg))
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		if logger == nil {
			logger = logging.NewLogger("sight")
		}
		logger.Error(err)
		os.Exit(1)
	}
}

func withHost(c *cli.Context, logger logging.Logger, fn func(context.Context, *host.Host) error) (err error) {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	cfg, err := config.Read(c.String(flagConfig), logger)
	if err != nil {
		return err
	}
	config.UpdateFileConfigDebug(cfg.Debug)
	h, err := host.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, h.Close(context.Background()))
	}()
	return fn(ctx, h)
}

func live(ctx context.Context, h *host.Host, duration time.Duration, out io.Writer) error {
	if err := h.Start(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	deadline := time.NewTimer(duration)
	defer deadline.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline.C:
			break loop
		case <-ticker.C:
			fmt.Fprintf(out, "%s\n\n", h.Metrics().Report())
		}
	}
	h.Stop()
	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.WaitIdle(waitCtx); err != nil {
		return err
	}
	summary, err := summaryTable(h.Metrics(), h.Stats())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, summary)
	return h.Err()
}

func capture(ctx context.Context, h *host.Host, path string, out io.Writer) error {
	img, err := h.Capture(ctx)
	if err != nil {
		return err
	}
	if err := imaging.Save(img, path); err != nil {
		return errors.Wrapf(err, "cannot save capture to %q", path)
	}
	for _, d := range h.Detections() {
		fmt.Fprintln(out, d)
	}
	fmt.Fprintf(out, "saved %s\n", path)
	return nil
}

func modelTable(cfg *config.Config) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Name", "Backend", "Default", "Min Score", "Labels"})
	for i, m := range cfg.Models {
		def := ""
		if m.Name == cfg.DefaultModel {
			def = "*"
		}
		t.AppendRow(table.Row{i + 1, m.Name, m.Backend, def, m.MinScore, strings.Join(m.Labels, ",")})
	}
	return t.Render()
}

func summaryTable(m *livedetect.Metrics, stats livedetect.SchedulerStats) (string, error) {
	sum, err := m.Summary()
	if err != nil {
		return "", err
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Cycles", "Skips", "Failures", "Mean", "P50", "P95", "Max"})
	t.AppendRow(table.Row{
		stats.Cycles, stats.Skips, stats.Failures,
		fmt.Sprintf("%.1fms", sum.MeanMs),
		fmt.Sprintf("%.1fms", sum.P50Ms),
		fmt.Sprintf("%.1fms", sum.P95Ms),
		fmt.Sprintf("%.1fms", sum.MaxMs),
	})
	return t.Render(), nil
}
