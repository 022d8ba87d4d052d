// Package cli wires the command-line surface: the monitoring loop, the
// interactive Q&A prompt, and the maintenance commands around sources,
// changes and enquiries.
package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "finwatch",
		Usage: "UK tax and financial regulation monitoring agent",
		Commands: []*cli.Command{
			monitorCommand(),
			askCommand(),
			sourcesCommand(),
			changesCommand(),
			enquiriesCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
