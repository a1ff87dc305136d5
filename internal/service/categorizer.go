package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/llm"
)

// Categorizer assigns categories from the fixed vocabulary to a memory. It
// runs fire-and-forget after writes; failures leave the memory uncategorized.
type Categorizer struct {
	memories domain.MemoryStore
	llm      domain.LLMClient
	logger   *zap.Logger
}

func NewCategorizer(memories domain.MemoryStore, client domain.LLMClient, logger *zap.Logger) *Categorizer {
	return &Categorizer{memories: memories, llm: client, logger: logger}
}

// Categorize classifies content and attaches the resulting categories.
// Unknown labels returned by the model are dropped.
func (c *Categorizer) Categorize(ctx context.Context, userID, memoryID, content string) error {
	out, err := c.llm.Complete(ctx, domain.CompletionRequest{
		Prompt:      fmt.Sprintf(llm.CategorizePrompt, strings.Join(domain.Categories, ", "), content),
		Temperature: 0,
		MaxTokens:   100,
		JSONMode:    true,
	})
	if err != nil {
		return fmt.Errorf("categorize memory %s: %w", memoryID, err)
	}

	var labels []string
	if err := json.Unmarshal([]byte(llm.StripFences(out)), &labels); err != nil {
		// Some models wrap the array in an object.
		var wrapped struct {
			Categories []string `json:"categories"`
		}
		if err2 := json.Unmarshal([]byte(llm.StripFences(out)), &wrapped); err2 != nil {
			return fmt.Errorf("parse categories for memory %s: %w", memoryID, err)
		}
		labels = wrapped.Categories
	}

	valid := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if domain.ValidCategory(l) {
			valid = append(valid, l)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	return c.memories.AttachCategories(ctx, userID, memoryID, valid)
}
