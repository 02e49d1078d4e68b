package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"goalline/internal/config"
)

// LangChainProvider adapts a langchaingo model to the code-generation
// contract, with bounded retry at the collaborator boundary.
type LangChainProvider struct {
	model llms.Model
	retry config.Retry
}

func NewLangChain(model llms.Model, retry config.Retry) *LangChainProvider {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &LangChainProvider{model: model, retry: retry}
}

// NewFromConfig builds the provider named in the workspace config.
func NewFromConfig(cfg *config.Config) (*LangChainProvider, error) {
	switch cfg.Provider.Name {
	case "openai", "openrouter", "":
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey()),
			openai.WithModel(cfg.Provider.Model),
		}
		if cfg.Provider.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Provider.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("init %s provider: %w", cfg.Provider.Name, err)
		}
		return NewLangChain(model, cfg.Provider.Retry), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

func (p *LangChainProvider) Generate(ctx context.Context, prompt string, opts GenerateOptions) (GenerateResult, error) {
	callOpts := []llms.CallOption{
		llms.WithTemperature(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	if opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(opts.Model))
	}

	var lastErr error
	backoff := p.retry.BackoffBase
	for attempt := 1; attempt <= p.retry.MaxAttempts; attempt++ {
		out, err := llms.GenerateFromSinglePrompt(ctx, p.model, prompt, callOpts...)
		if err == nil {
			return GenerateResult{Code: out}, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt == p.retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return GenerateResult{}, &Error{Op: "generate", Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * p.retry.BackoffMultiplier)
		if p.retry.MaxBackoff > 0 && backoff > p.retry.MaxBackoff {
			backoff = p.retry.MaxBackoff
		}
	}
	return GenerateResult{}, &Error{Op: "generate", Err: lastErr}
}
