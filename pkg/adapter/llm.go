package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/model"
	"github.com/m-mizutani/prism/pkg/utils/logging"
	"golang.org/x/sync/semaphore"
)

// LLM is the generation backend used to produce perspectives
type LLM interface {
	// Generate sends a single prompt and returns the raw text of the response
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// LLMConfig selects and configures a generation backend
type LLMConfig struct {
	Provider string
	Model    string
	BaseURL  string

	AnthropicAPIKey string
	OpenAIAPIKey    string
	GeminiProject   string
	GeminiLocation  string
}

// NewLLM creates a generation client for the configured provider.
// An empty provider returns model.ErrClientUnavailable so callers can still start and report
// failed runs instead of refusing to boot.
func NewLLM(ctx context.Context, cfg LLMConfig) (LLM, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "":
		return nil, goerr.Wrap(model.ErrClientUnavailable, "llm provider is not configured")

	case "gemini":
		if cfg.GeminiProject == "" {
			return nil, goerr.Wrap(model.ErrClientUnavailable, "gemini-project is required")
		}
		var opts []GeminiOption
		if cfg.Model != "" {
			opts = append(opts, WithGenerativeModel(cfg.Model))
		}
		return NewGemini(ctx, cfg.GeminiProject, cfg.GeminiLocation, opts...)

	case "claude":
		if cfg.AnthropicAPIKey == "" {
			return nil, goerr.Wrap(model.ErrClientUnavailable, "anthropic-api-key is required")
		}
		var opts []ClaudeOption
		if cfg.Model != "" {
			opts = append(opts, WithClaudeModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithClaudeBaseURL(cfg.BaseURL))
		}
		return NewClaude(cfg.AnthropicAPIKey, opts...), nil

	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, goerr.Wrap(model.ErrClientUnavailable, "openai-api-key is required")
		}
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.Model, cfg.BaseURL), nil

	case "ollama":
		// Ollama speaks the OpenAI chat API under /v1; the key is ignored but must be present
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = fmt.Sprintf("%s/v1", strings.TrimRight(baseURL, "/"))
		}
		apiKey := cfg.OpenAIAPIKey
		if apiKey == "" {
			apiKey = "ollama"
		}
		logging.From(ctx).Info("using ollama through OpenAI compatible API", "base_url", baseURL)
		return NewOpenAI(apiKey, cfg.Model, baseURL), nil

	default:
		return nil, goerr.Wrap(model.ErrClientUnavailable, "unsupported llm provider", goerr.V("provider", provider))
	}
}

type throttledLLM struct {
	llm LLM
	sem *semaphore.Weighted
}

// NewThrottledLLM bounds the number of in-flight generation calls across all runs.
// maxParallel <= 0 returns llm unchanged.
func NewThrottledLLM(llm LLM, maxParallel int64) LLM {
	if maxParallel <= 0 {
		return llm
	}
	return &throttledLLM{
		llm: llm,
		sem: semaphore.NewWeighted(maxParallel),
	}
}

func (t *throttledLLM) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return "", goerr.Wrap(err, "failed to acquire generation slot")
	}
	defer t.sem.Release(1)

	return t.llm.Generate(ctx, prompt, temperature)
}
