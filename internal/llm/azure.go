package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/memforge-ai/memforge/internal/domain"
)

// AzureClient calls an Azure OpenAI chat deployment.
type AzureClient struct {
	opts       AzureOptions
	httpClient *http.Client
}

func NewAzureClient(opts AzureOptions) *AzureClient {
	opts.Endpoint = strings.TrimSuffix(opts.Endpoint, "/")
	return &AzureClient{
		opts:       opts,
		httpClient: &http.Client{},
	}
}

func (c *AzureClient) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.opts.Endpoint, c.opts.Deployment, c.opts.APIVersion)
	// Azure routes by deployment; the model field is ignored but kept for
	// wire compatibility.
	body := buildChatRequest(c.opts.Deployment, req)
	return postChat(ctx, c.httpClient, url, map[string]string{"api-key": c.opts.APIKey}, body)
}
