package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func changesCommand() *cli.Command {
	var (
		cfg   config
		limit int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of changes to show",
			Value:       20,
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:  "changes",
		Usage: "Show the detected-change log, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogging(ctx)

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			changes, err := repo.ListChanges(ctx, int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list changes")
			}

			w := c.Root().Writer
			for _, ch := range changes {
				fmt.Fprintf(w, "[%s] %s\n", ch.DetectedAt.Format(time.RFC3339), ch.URL)
				if ch.Analysis != nil {
					fmt.Fprintf(w, "  %s / %s\n", ch.Analysis.ChangeType, ch.Analysis.SignificanceLevel)
				}
				fmt.Fprintf(w, "  %s\n", ch.Summary)
			}
			fmt.Fprintf(w, "%d changes\n", len(changes))
			return nil
		},
	}
}
