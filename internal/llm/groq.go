package llm

import (
	"context"
	"net/http"

	"github.com/memforge-ai/memforge/internal/domain"
)

const (
	groqChatURL = "https://api.groq.com/openai/v1/chat/completions"
	groqModel   = "llama-3.3-70b-versatile"
)

// GroqClient is the fast graph-LLM override, selected when GROQ_API_KEY is
// set. OpenAI-compatible wire shape.
type GroqClient struct {
	apiKey     string
	httpClient *http.Client
}

func NewGroqClient(apiKey string) *GroqClient {
	return &GroqClient{
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

func (c *GroqClient) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	body := buildChatRequest(groqModel, req)
	return postChat(ctx, c.httpClient, groqChatURL, map[string]string{"Authorization": "Bearer " + c.apiKey}, body)
}
