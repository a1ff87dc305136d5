package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/llm"
)

// IntentClassifier maps free text to a memory intent. Command-verb phrasings
// match a regex fast path; everything else goes to the LLM. All failure modes
// fall back to STORE so a potential fact is never dropped.
type IntentClassifier struct {
	llm    domain.LLMClient
	logger *zap.Logger
}

func NewIntentClassifier(client domain.LLMClient, logger *zap.Logger) *IntentClassifier {
	return &IntentClassifier{llm: client, logger: logger}
}

// commandPatterns gate the LLM: only inputs that look like a memory command
// are worth a classification call.
var commandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(forget|remove|delete|erase|drop|purge|clear)\b.*\b(memor|about|that)`),
	regexp.MustCompile(`(?i)\bstop tracking\b`),
	regexp.MustCompile(`(?i)\bdon'?t remember\b`),
	regexp.MustCompile(`(?i)\bno longer (relevant|true|valid|needed)\b`),
	regexp.MustCompile(`(?i)\bmark\b.*\bas (outdated|irrelevant|deleted|removed)\b`),
	regexp.MustCompile(`(?i)\binvalidate\b`),
	regexp.MustCompile(`(?i)\bstill (relevant|unfixed|open|valid|pending|applies|true)\b`),
	regexp.MustCompile(`(?i)\b(confirmed|reconfirm)\b`),
	regexp.MustCompile(`(?i)\b(refresh|touch) memor`),
	regexp.MustCompile(`(?i)\bresolved\b`),
	regexp.MustCompile(`(?i)\bmark\b.*\bas (resolved|fixed|done|complete|closed)\b`),
	regexp.MustCompile(`(?i)\bhas been (fixed|resolved|addressed|completed)\b`),
	regexp.MustCompile(`(?i)\buntrack\b`),
	regexp.MustCompile(`(?i)\b(remove|delete) entity\b`),
}

func looksLikeCommand(text string) bool {
	for _, p := range commandPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

type intentResponse struct {
	Intent     string `json:"intent"`
	Target     string `json:"target"`
	EntityName string `json:"entity_name"`
}

// Classify returns the intent for text. Plain statements never touch the LLM.
func (c *IntentClassifier) Classify(ctx context.Context, text string) domain.Intent {
	if !looksLikeCommand(text) {
		return domain.StoreIntent()
	}

	out, err := c.llm.Complete(ctx, domain.CompletionRequest{
		Prompt:      fmt.Sprintf(llm.IntentPrompt, text),
		Temperature: 0,
		MaxTokens:   100,
		JSONMode:    true,
	})
	if err != nil {
		c.logger.Debug("intent classification failed, defaulting to STORE", zap.Error(err))
		return domain.StoreIntent()
	}

	var parsed intentResponse
	if err := json.Unmarshal([]byte(llm.StripFences(out)), &parsed); err != nil {
		c.logger.Debug("intent response not parseable, defaulting to STORE", zap.Error(err))
		return domain.StoreIntent()
	}
	return intentFromResponse(parsed)
}

func intentFromResponse(r intentResponse) domain.Intent {
	target := strings.TrimSpace(r.Target)
	entity := strings.TrimSpace(r.EntityName)

	switch strings.ToUpper(strings.TrimSpace(r.Intent)) {
	case string(domain.IntentInvalidate):
		if target != "" {
			return domain.Intent{Kind: domain.IntentInvalidate, Target: target}
		}
	case string(domain.IntentDeleteEntity):
		if entity != "" {
			return domain.Intent{Kind: domain.IntentDeleteEntity, EntityName: entity}
		}
	case string(domain.IntentTouch):
		if target != "" {
			return domain.Intent{Kind: domain.IntentTouch, Target: target}
		}
	case string(domain.IntentResolve):
		if target != "" {
			return domain.Intent{Kind: domain.IntentResolve, Target: target}
		}
	case string(domain.IntentStore):
		return domain.StoreIntent()
	}
	return domain.StoreIntent()
}
