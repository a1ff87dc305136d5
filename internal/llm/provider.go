// Package llm provides chat-completion clients. All classification callers
// run with temperature 0; callers that can fail open treat any error here as
// the safe default.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/sony/gobreaker"
)

// Provider constants
const (
	ProviderAzure = "azure"
	ProviderGroq  = "groq"
	ProviderMock  = "mock"
)

// callTimeout bounds every outbound completion call.
const callTimeout = 30 * time.Second

// AzureOptions configures the Azure OpenAI chat deployment.
type AzureOptions struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// NewClient creates a chat client for the named provider, wrapped in a
// circuit breaker so a dead provider fails fast instead of eating the
// per-call timeout on every request.
func NewClient(provider string, azure AzureOptions, groqAPIKey string) (domain.LLMClient, error) {
	var inner domain.LLMClient
	switch provider {
	case ProviderAzure:
		if azure.APIKey == "" || azure.Endpoint == "" {
			return nil, fmt.Errorf("LLM_AZURE_OPENAI_API_KEY and LLM_AZURE_ENDPOINT are required for the azure LLM provider")
		}
		inner = NewAzureClient(azure)

	case ProviderGroq:
		if groqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY is required for the groq LLM provider")
		}
		inner = NewGroqClient(groqAPIKey)

	case ProviderMock:
		return NewMockClient(), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (valid options: azure, groq, mock)", provider)
	}
	return withBreaker(provider, inner), nil
}

// breakerClient trips after consecutive provider failures and recovers after
// a cool-down probe succeeds.
type breakerClient struct {
	inner domain.LLMClient
	cb    *gobreaker.CircuitBreaker
}

func withBreaker(name string, inner domain.LLMClient) domain.LLMClient {
	return &breakerClient{
		inner: inner,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "llm-" + name,
			MaxRequests: 1,
			Timeout:     20 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (c *breakerClient) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out, err := c.cb.Execute(func() (any, error) {
		return c.inner.Complete(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}
