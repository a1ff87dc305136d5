package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/llm"
)

func TestClassifyPlainStatementSkipsLLM(t *testing.T) {
	mock := llm.NewMockClient()
	c := NewIntentClassifier(mock, zap.NewNop())

	for _, text := range []string{
		"My blood type is O positive.",
		"I prefer window seats on long flights.",
		"The deploy pipeline uses blue-green rollouts.",
	} {
		intent := c.Classify(context.Background(), text)
		assert.Equal(t, domain.IntentStore, intent.Kind, text)
	}
	assert.Equal(t, 0, mock.CallCount())
}

func TestClassifyCommandPhrasesReachLLM(t *testing.T) {
	cases := []struct {
		text     string
		response string
		want     domain.Intent
	}{
		{
			text:     "forget about my old phone number",
			response: `{"intent":"INVALIDATE","target":"old phone number"}`,
			want:     domain.Intent{Kind: domain.IntentInvalidate, Target: "old phone number"},
		},
		{
			text:     "delete entity John Smith",
			response: `{"intent":"DELETE_ENTITY","entity_name":"John Smith"}`,
			want:     domain.Intent{Kind: domain.IntentDeleteEntity, EntityName: "John Smith"},
		},
		{
			text:     "the login bug is still open",
			response: `{"intent":"TOUCH","target":"login bug"}`,
			want:     domain.Intent{Kind: domain.IntentTouch, Target: "login bug"},
		},
		{
			text:     "the migration has been completed",
			response: `{"intent":"RESOLVE","target":"the migration"}`,
			want:     domain.Intent{Kind: domain.IntentResolve, Target: "the migration"},
		},
	}

	for _, tc := range cases {
		mock := llm.NewMockClient().Queue(tc.response)
		c := NewIntentClassifier(mock, zap.NewNop())
		got := c.Classify(context.Background(), tc.text)
		assert.Equal(t, tc.want, got, tc.text)
		assert.Equal(t, 1, mock.CallCount(), tc.text)
	}
}

func TestClassifyFailsOpenToStore(t *testing.T) {
	cases := []struct {
		name     string
		response string
		err      bool
	}{
		{name: "llm error", err: true},
		{name: "not json", response: "I think this is an invalidation"},
		{name: "unknown intent", response: `{"intent":"ARCHIVE","target":"x"}`},
		{name: "missing target", response: `{"intent":"INVALIDATE"}`},
		{name: "missing entity name", response: `{"intent":"DELETE_ENTITY","target":"x"}`},
		{name: "fenced but empty", response: "```json\n{}\n```"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock := llm.NewMockClient()
			if tc.err {
				mock.Err = assert.AnError
			} else {
				mock.Queue(tc.response)
			}
			c := NewIntentClassifier(mock, zap.NewNop())
			got := c.Classify(context.Background(), "forget about my old address")
			assert.Equal(t, domain.StoreIntent(), got)
		})
	}
}

func TestClassifyStripsFences(t *testing.T) {
	mock := llm.NewMockClient().Queue("```json\n{\"intent\":\"INVALIDATE\",\"target\":\"old job\"}\n```")
	c := NewIntentClassifier(mock, zap.NewNop())
	got := c.Classify(context.Background(), "forget about my old job")
	assert.Equal(t, domain.Intent{Kind: domain.IntentInvalidate, Target: "old job"}, got)
}
