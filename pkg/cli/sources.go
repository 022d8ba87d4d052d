package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/finwatch/finwatch/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// sourceEntry is one entry of a sources import file.
type sourceEntry struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Active *bool  `yaml:"active"`
}

func sourcesCommand() *cli.Command {
	return &cli.Command{
		Name:  "sources",
		Usage: "Manage monitored sources",
		Commands: []*cli.Command{
			sourcesImportCommand(),
			sourcesListCommand(),
		},
	}
}

func sourcesImportCommand() *cli.Command {
	var (
		cfg   config
		input string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Path to YAML file of sources to import",
			Value:       "sources.yml",
			Destination: &input,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:  "import",
		Usage: "Import or update monitored sources from a YAML file",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogging(ctx)

			data, err := os.ReadFile(input)
			if err != nil {
				return goerr.Wrap(err, "failed to read sources file", goerr.V("path", input))
			}

			var entries []sourceEntry
			if err := yaml.Unmarshal(data, &entries); err != nil {
				return goerr.Wrap(err, "failed to parse sources file", goerr.V("path", input))
			}

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			existing, err := repo.ListSources(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to list existing sources")
			}
			byName := map[string]*model.MonitoredSource{}
			for _, src := range existing {
				byName[src.Name] = src
			}

			var created, updated int
			for _, entry := range entries {
				if entry.Name == "" || entry.URL == "" {
					return goerr.New("source entries need both name and url", goerr.V("entry", entry))
				}

				active := true
				if entry.Active != nil {
					active = *entry.Active
				}

				src, ok := byName[entry.Name]
				if !ok {
					// New sources start with no monitoring state.
					src = &model.MonitoredSource{
						ID:   model.NewSourceID(),
						Name: entry.Name,
					}
					created++
				} else {
					updated++
				}
				src.URL = entry.URL
				src.Active = active

				if err := repo.PutSource(ctx, src); err != nil {
					return goerr.Wrap(err, "failed to store source", goerr.V("name", entry.Name))
				}
			}

			fmt.Fprintf(c.Root().Writer, "Imported %d sources (%d new, %d updated)\n",
				created+updated, created, updated)
			return nil
		},
	}
}

func sourcesListCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List monitored sources",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogging(ctx)

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			sources, err := repo.ListSources(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to list sources")
			}

			w := c.Root().Writer
			for _, src := range sources {
				state := "active"
				if !src.Active {
					state = "inactive"
				}
				checked := "never checked"
				if src.LastCheckedAt != nil {
					checked = "last checked " + src.LastCheckedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s  %s (%s, %s)\n  %s\n", src.ID, src.Name, state, checked, src.URL)
			}
			fmt.Fprintf(w, "%d sources\n", len(sources))
			return nil
		},
	}
}
