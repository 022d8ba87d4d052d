package cli

import (
	"context"
	"os"
	"time"

	"github.com/finwatch/finwatch/pkg/adapter"
	"github.com/finwatch/finwatch/pkg/repository"
	"github.com/finwatch/finwatch/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel string

	// Repository
	backend  string
	dbPath   string
	project  string
	database string

	// LLM
	provider       string
	geminiProject  string
	geminiLocation string
	geminiModel    string
	openaiAPIKey   string

	// Fetching
	userAgent    string
	fetchTimeout time.Duration

	// Snapshot archive
	bucket string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("FINWATCH_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
	}
}

// storeFlags returns flags selecting and configuring the storage backend
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Storage backend (sqlite, firestore)",
			Value:       "sqlite",
			Sources:     cli.EnvVars("FINWATCH_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "db",
			Usage:       "SQLite database path",
			Value:       "finwatch.db",
			Sources:     cli.EnvVars("FINWATCH_DB"),
			Destination: &cfg.dbPath,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm",
			Usage:       "Model provider (gemini, openai)",
			Value:       "gemini",
			Sources:     cli.EnvVars("FINWATCH_LLM"),
			Destination: &cfg.provider,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model name",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
	}
}

// fetchFlags returns flags for page fetching
func fetchFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "user-agent",
			Usage:       "User-Agent header for page fetches",
			Sources:     cli.EnvVars("FINWATCH_USER_AGENT"),
			Destination: &cfg.userAgent,
		},
		&cli.DurationFlag{
			Name:        "fetch-timeout",
			Usage:       "Per-request fetch timeout",
			Value:       15 * time.Second,
			Sources:     cli.EnvVars("FINWATCH_FETCH_TIMEOUT"),
			Destination: &cfg.fetchTimeout,
		},
		&cli.StringFlag{
			Name:        "snapshot-bucket",
			Usage:       "Cloud Storage bucket for page snapshots (disabled when empty)",
			Sources:     cli.EnvVars("FINWATCH_SNAPSHOT_BUCKET"),
			Destination: &cfg.bucket,
		},
	}
}

// setupLogging installs the configured logger as process default and
// attaches it to the context.
func (cfg *config) setupLogging(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newRepository creates a repository for the configured backend
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	switch cfg.backend {
	case "sqlite":
		if cfg.dbPath == "" {
			return nil, goerr.New("db path is required")
		}
		repo, err := repository.NewSQLite(cfg.dbPath)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open sqlite repository")
		}
		return repo, nil

	case "firestore":
		if cfg.project == "" {
			return nil, goerr.New("project is required for firestore backend")
		}
		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create firestore repository")
		}
		return repo, nil

	default:
		return nil, goerr.New("unknown backend", goerr.V("backend", cfg.backend))
	}
}

// newLLM creates the configured model adapter
func (cfg *config) newLLM(ctx context.Context) (adapter.LLM, error) {
	switch cfg.provider {
	case "gemini":
		project := cfg.geminiProject
		if project == "" {
			project = cfg.project
		}
		if project == "" {
			return nil, goerr.New("gemini-project is required")
		}
		var opts []adapter.GeminiOption
		if cfg.geminiModel != "" {
			opts = append(opts, adapter.WithGeminiModel(cfg.geminiModel))
		}
		return adapter.NewGemini(ctx, project, cfg.geminiLocation, opts...)

	case "openai":
		if cfg.openaiAPIKey == "" {
			return nil, goerr.New("openai-api-key is required")
		}
		return adapter.NewOpenAI(cfg.openaiAPIKey), nil

	default:
		return nil, goerr.New("unknown model provider", goerr.V("llm", cfg.provider))
	}
}

// newFetcher creates the page fetcher
func (cfg *config) newFetcher() *adapter.Fetcher {
	var opts []adapter.FetcherOption
	if cfg.userAgent != "" {
		opts = append(opts, adapter.WithUserAgent(cfg.userAgent))
	}
	if cfg.fetchTimeout > 0 {
		opts = append(opts, adapter.WithFetchTimeout(cfg.fetchTimeout))
	}
	return adapter.NewFetcher(opts...)
}

// newArchive creates the snapshot archive, or nil when not configured
func (cfg *config) newArchive(ctx context.Context) (adapter.Archive, error) {
	if cfg.bucket == "" {
		return nil, nil
	}
	archive, err := adapter.NewArchive(ctx, cfg.bucket)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create snapshot archive")
	}
	return archive, nil
}
