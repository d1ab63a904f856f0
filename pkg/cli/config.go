package cli

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/adapter"
	"github.com/m-mizutani/prism/pkg/model"
	"github.com/m-mizutani/prism/pkg/repository"
	"github.com/m-mizutani/prism/pkg/usecase/allocation"
	"github.com/m-mizutani/prism/pkg/usecase/perspective"
	"github.com/m-mizutani/prism/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Repository
	project  string
	database string

	// Logging
	logLevel  string
	logFormat string
	logWriter io.Writer

	// Tuning file
	configPath string

	// Adapters
	llmProvider     string
	llmModel        string
	llmBaseURL      string
	anthropicAPIKey string
	openaiAPIKey    string
	geminiProject   string
	geminiLocation  string
	llmMaxParallel  int64
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID for Firestore. In-memory storage is used when empty",
			Sources:     cli.EnvVars("PRISM_FIRESTORE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("PRISM_FIRESTORE_DATABASE_ID", "FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("PRISM_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("PRISM_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Tuning file (.yaml, .yml or .toml)",
			Sources:     cli.EnvVars("PRISM_CONFIG"),
			Destination: &cfg.configPath,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm-provider",
			Usage:       "Generation backend (gemini, claude, openai, ollama)",
			Sources:     cli.EnvVars("PRISM_LLM_PROVIDER"),
			Destination: &cfg.llmProvider,
		},
		&cli.StringFlag{
			Name:        "llm-model",
			Usage:       "Model name passed to the generation backend",
			Sources:     cli.EnvVars("PRISM_LLM_MODEL"),
			Destination: &cfg.llmModel,
		},
		&cli.StringFlag{
			Name:        "llm-base-url",
			Usage:       "Base URL of the generation backend (claude, openai, ollama)",
			Sources:     cli.EnvVars("PRISM_LLM_BASE_URL"),
			Destination: &cfg.llmBaseURL,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
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
		&cli.IntFlag{
			Name:        "llm-max-parallel",
			Usage:       "Maximum in-flight generation calls across all runs (0 = unbounded)",
			Value:       4,
			Sources:     cli.EnvVars("PRISM_LLM_MAX_PARALLEL"),
			Destination: &cfg.llmMaxParallel,
		},
	}
}

// setupLogger installs the default logger and returns ctx carrying it.
// Logs go to stderr unless logWriter is set; stdout carries command output and MCP traffic.
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	w := cfg.logWriter
	if w == nil {
		w = os.Stderr
	}
	logger := logging.New(logging.Config{
		Level:  cfg.logLevel,
		Format: logging.Format(cfg.logFormat),
		Writer: w,
	})
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// loadTuning reads the tuning file if --config is set
func (cfg *config) loadTuning() (*tuning, error) {
	if cfg.configPath == "" {
		return &tuning{}, nil
	}
	return loadTuning(cfg.configPath)
}

// newRepository creates a Firestore repository, or an in-memory one when no project is set
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, func(), error) {
	if cfg.project == "" {
		logging.From(ctx).Warn("no firestore project configured, sessions are kept in memory")
		return repository.NewMemory(), func() {}, nil
	}
	if cfg.database == "" {
		return nil, nil, goerr.New("database is required")
	}

	repo, err := repository.New(cfg.project, cfg.database)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create repository")
	}
	closer := func() {
		if err := repo.Close(); err != nil {
			logging.From(ctx).Warn("failed to close repository", "error", err)
		}
	}
	return repo, closer, nil
}

// newLLM creates the throttled generation client. A missing backend is reported as nil so
// the process can still start; runs then fail with model.ErrClientUnavailable.
func (cfg *config) newLLM(ctx context.Context) (adapter.LLM, error) {
	llm, err := adapter.NewLLM(ctx, adapter.LLMConfig{
		Provider:        cfg.llmProvider,
		Model:           cfg.llmModel,
		BaseURL:         cfg.llmBaseURL,
		AnthropicAPIKey: cfg.anthropicAPIKey,
		OpenAIAPIKey:    cfg.openaiAPIKey,
		GeminiProject:   cfg.geminiProject,
		GeminiLocation:  cfg.geminiLocation,
	})
	if err != nil {
		if errors.Is(err, model.ErrClientUnavailable) {
			logging.From(ctx).Warn("generation client unavailable", "error", err)
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to create generation client")
	}
	return adapter.NewThrottledLLM(llm, cfg.llmMaxParallel), nil
}

// newGenerator creates a perspective generator from the generation client and tuning values
func (cfg *config) newGenerator(llm adapter.LLM, tune *tuning, opts ...perspective.Option) (*perspective.Generator, error) {
	tuned, err := tune.generatorOptions()
	if err != nil {
		return nil, err
	}
	return perspective.New(llm, append(tuned, opts...)...), nil
}

// newAllocator creates an allocator with the tuned target policy
func (cfg *config) newAllocator(tune *tuning) (*allocation.Allocator, error) {
	opts, err := tune.allocatorOptions()
	if err != nil {
		return nil, err
	}
	return allocation.New(opts...), nil
}

// newStorage creates a new Storage adapter instance
func (cfg *config) newStorage(ctx context.Context, bucketName, endpoint string) (adapter.Storage, error) {
	if bucketName == "" {
		return nil, goerr.New("bucket name is required")
	}

	storage, err := adapter.NewStorage(ctx, bucketName, endpoint)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}
