package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/finwatch/finwatch/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func enquiriesCommand() *cli.Command {
	return &cli.Command{
		Name:  "enquiries",
		Usage: "Review and verify answered enquiries",
		Commands: []*cli.Command{
			enquiriesListCommand(),
			enquiriesVerifyCommand(),
		},
	}
}

func enquiriesListCommand() *cli.Command {
	var (
		cfg   config
		limit int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of enquiries to show",
			Value:       20,
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List recent enquiries, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogging(ctx)

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			enquiries, err := repo.ListEnquiries(ctx, int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list enquiries")
			}

			w := c.Root().Writer
			for _, e := range enquiries {
				mark := " "
				if e.Verified {
					mark = "*"
				}
				fmt.Fprintf(w, "%s %s [%s] used %d times\n  Q: %s\n  (%s)\n",
					mark, e.ID, e.AskedAt.Format(time.RFC3339), e.UsageCount,
					e.QuestionText, e.SourceOfAnswer)
			}
			fmt.Fprintf(w, "%d enquiries (* = verified)\n", len(enquiries))
			return nil
		},
	}
}

func enquiriesVerifyCommand() *cli.Command {
	var (
		cfg    config
		revoke bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "revoke",
			Usage:       "Revoke verification instead of granting it",
			Destination: &revoke,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:      "verify",
		Usage:     "Mark an enquiry's answer as reviewed so it can serve cache hits",
		ArgsUsage: "<enquiry-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogging(ctx)

			if c.Args().Len() != 1 {
				return goerr.New("exactly one enquiry ID is required")
			}
			id := model.EnquiryID(c.Args().First())

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.SetEnquiryVerified(ctx, id, !revoke); err != nil {
				return goerr.Wrap(err, "failed to update enquiry", goerr.V("id", id))
			}

			e, err := repo.GetEnquiry(ctx, id)
			if err != nil {
				return goerr.Wrap(err, "failed to read back enquiry", goerr.V("id", id))
			}

			state := "verified"
			if !e.Verified {
				state = "unverified"
			}
			fmt.Fprintf(c.Root().Writer, "Enquiry %s is now %s\n  Q: %s\n", e.ID, state, e.QuestionText)
			return nil
		},
	}
}
