package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harun/agentgate/internal/config"
	"github.com/harun/agentgate/internal/observability"
	"github.com/rs/zerolog/log"
)

// LLMProvider is an interface for streaming LLM API providers
type LLMProvider interface {
	// Stream makes an LLM API call, invoking onDelta for every text delta
	// as it arrives, and returns the assembled response.
	Stream(ctx context.Context, request LLMRequest, onDelta func(string)) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	Messages     []Message
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from LLM
type LLMResponse struct {
	Content string
	Usage   *TokenUsage
}

// Providers picks a provider for a model name. Models without a configured
// provider fall back to the echo provider.
type Providers struct {
	openai    LLMProvider
	anthropic LLMProvider
	fallback  LLMProvider

	MaxTokens   int
	Temperature float64
	MaxRetries  int
}

// NewProviders builds the provider set from configuration.
func NewProviders(cfg config.ProvidersConfig) *Providers {
	p := &Providers{
		fallback:    NewEchoProvider(),
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		MaxRetries:  3,
	}
	if cfg.OpenAIAPIKey != "" {
		p.openai = NewOpenAIProvider(cfg.OpenAIAPIKey)
	}
	if cfg.AnthropicAPIKey != "" {
		p.anthropic = NewAnthropicProvider(cfg.AnthropicAPIKey)
	}
	return p
}

// NewStaticProviders returns a set that serves every model with provider.
func NewStaticProviders(provider LLMProvider) *Providers {
	return &Providers{fallback: provider, MaxTokens: 1024, MaxRetries: 1}
}

// For returns the provider serving model.
func (p *Providers) For(model string) LLMProvider {
	switch {
	case strings.HasPrefix(model, "claude") && p.anthropic != nil:
		return p.anthropic
	case (strings.HasPrefix(model, "gpt") || strings.HasPrefix(model, "o")) && p.openai != nil:
		return p.openai
	default:
		return p.fallback
	}
}

// StreamWithRetry streams a completion, retrying transient failures with
// exponential backoff. A call is only retried while no delta has reached
// onDelta, so a client never sees duplicated text.
func (p *Providers) StreamWithRetry(ctx context.Context, request LLMRequest, onDelta func(string)) (*LLMResponse, error) {
	provider := p.For(request.Model)
	if request.MaxTokens == 0 {
		request.MaxTokens = p.MaxTokens
	}
	if request.Temperature == 0 {
		request.Temperature = p.Temperature
	}

	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		emitted := false
		response, err := provider.Stream(ctx, request, func(delta string) {
			emitted = true
			onDelta(delta)
		})
		if err == nil {
			observability.RecordProviderRequest(provider.Provider(), true)
			return response, nil
		}

		lastErr = err
		observability.RecordProviderRequest(provider.Provider(), false)

		// Don't retry on permanent errors or after partial output
		if emitted || !IsRetryableError(err) {
			return nil, err
		}

		// Last attempt - don't wait
		if attempt == maxRetries-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		delayMs := 1000 * (1 << attempt)
		log.Info().
			Str("provider", provider.Provider()).
			Int("attempt", attempt+1).
			Int("delayMs", delayMs).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(delayMs) * time.Millisecond):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr)
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errMsg := err.Error()

	// Network errors
	if strings.Contains(errMsg, "ECONNRESET") || strings.Contains(errMsg, "ETIMEDOUT") {
		return true
	}

	// Rate limits
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "rate limit") {
		return true
	}

	// Server errors
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(errMsg, code) {
			return true
		}
	}

	return false
}
