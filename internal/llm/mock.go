package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/memforge-ai/memforge/internal/domain"
)

// MockClient returns scripted responses for tests. Responses are consumed in
// order; when the script is empty, Default is returned.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	Default   string
	Err       error

	// Calls records every request for assertions.
	Calls []domain.CompletionRequest
}

func NewMockClient() *MockClient {
	return &MockClient{Default: "{}"}
}

// Queue appends scripted responses.
func (c *MockClient) Queue(responses ...string) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, responses...)
	return c
}

func (c *MockClient) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, req)
	if c.Err != nil {
		return "", c.Err
	}
	if len(c.responses) > 0 {
		out := c.responses[0]
		c.responses = c.responses[1:]
		return out, nil
	}
	if c.Default == "" {
		return "", errors.New("mock llm: no scripted response")
	}
	return c.Default, nil
}

// CallCount returns the number of completed calls.
func (c *MockClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}
