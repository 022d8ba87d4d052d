package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/finwatch/finwatch/pkg/usecase/monitor"
	"github.com/finwatch/finwatch/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func monitorCommand() *cli.Command {
	var (
		cfg      config
		interval time.Duration
		once     bool
	)

	flags := []cli.Flag{
		&cli.DurationFlag{
			Name:        "interval",
			Usage:       "Time between monitoring cycles",
			Value:       time.Hour,
			Sources:     cli.EnvVars("FINWATCH_INTERVAL"),
			Destination: &interval,
		},
		&cli.BoolFlag{
			Name:        "once",
			Usage:       "Run a single cycle and exit",
			Destination: &once,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, fetchFlags(&cfg)...)

	return &cli.Command{
		Name:  "monitor",
		Usage: "Watch the configured sources for content changes",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogging(ctx)
			logger := logging.From(ctx)

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			// Monitoring keeps going without a model: changes are still
			// detected and recorded, just not classified.
			llm, err := cfg.newLLM(ctx)
			if err != nil {
				logger.Warn("model unavailable, changes will not be classified", "error", err)
				llm = nil
			}

			archive, err := cfg.newArchive(ctx)
			if err != nil {
				return err
			}

			var opts []monitor.Option
			if archive != nil {
				opts = append(opts, monitor.WithArchive(archive))
			}
			uc := monitor.New(repo, llm, cfg.newFetcher(), opts...)

			if err := runCycle(ctx, c, uc); err != nil {
				return err
			}
			if once {
				return nil
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if err := runCycle(ctx, c, uc); err != nil {
						// A failed cycle is retried on the next tick.
						logger.Error("monitoring cycle failed", "error", err)
					}
				}
			}
		},
	}
}

func runCycle(ctx context.Context, c *cli.Command, uc *monitor.UseCase) error {
	events, err := uc.RunCycle(ctx)
	if err != nil {
		return err
	}

	w := c.Root().Writer
	for _, ev := range events {
		fmt.Fprintf(w, "[%s] %s (%s)\n  %s\n",
			ev.Timestamp.Format(time.RFC3339), ev.SourceName, ev.URL, ev.Summary)
	}
	if len(events) == 0 {
		fmt.Fprintf(w, "No changes detected\n")
	}
	return nil
}
