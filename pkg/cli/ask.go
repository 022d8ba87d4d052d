package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/finwatch/finwatch/pkg/usecase/enquiry"
	"github.com/finwatch/finwatch/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func askCommand() *cli.Command {
	var (
		cfg      config
		question string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "question",
			Aliases:     []string{"q"},
			Usage:       "Ask a single question and exit",
			Destination: &question,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, fetchFlags(&cfg)...)

	return &cli.Command{
		Name:  "ask",
		Usage: "Ask about UK tax and financial regulation",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogging(ctx)
			logger := logging.From(ctx)

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			// Questions still get answered from the verified cache when
			// no model is configured.
			llm, err := cfg.newLLM(ctx)
			if err != nil {
				logger.Warn("model unavailable, only cached answers will be served", "error", err)
				llm = nil
			}

			uc := enquiry.New(repo, llm, cfg.newFetcher())

			if question != "" {
				return askOnce(ctx, c, uc, question)
			}

			rl, err := readline.New("finwatch> ")
			if err != nil {
				return goerr.Wrap(err, "failed to initialize prompt")
			}
			defer rl.Close()

			return runAskLoop(c.Root().Writer, rl, func(question string) error {
				return askOnce(ctx, c, uc, question)
			})
		},
	}
}

// lineReader is the prompt input consumed by the interactive loop.
type lineReader interface {
	Readline() (string, error)
}

// runAskLoop reads questions until EOF or an exit command. A failed
// question is reported and the prompt continues; only input errors end
// the session.
func runAskLoop(w io.Writer, rl lineReader, ask func(question string) error) error {
	fmt.Fprintf(w, "Ask about UK tax and financial regulation. Type 'exit' to quit.\n")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return goerr.Wrap(err, "failed to read input")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		if err := ask(line); err != nil {
			fmt.Fprintf(w, "Error: %s\n", err)
		}
	}
}

func askOnce(ctx context.Context, c *cli.Command, uc *enquiry.UseCase, question string) error {
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sp.Suffix = " looking this up..."
	sp.Start()

	e, err := uc.Ask(ctx, question)
	sp.Stop()
	if err != nil {
		return err
	}

	w := c.Root().Writer
	fmt.Fprintf(w, "\n%s\n", e.GeneratedAnswer)
	if len(e.IdentifiedURLs) > 0 {
		fmt.Fprintf(w, "\nSources:\n")
		for _, url := range e.IdentifiedURLs {
			fmt.Fprintf(w, "  - %s\n", url)
		}
	}
	fmt.Fprintf(w, "\n(enquiry %s, %s)\n", e.ID, e.SourceOfAnswer)
	return nil
}
