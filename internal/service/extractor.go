package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/llm"
	"github.com/memforge-ai/memforge/internal/store"
)

const (
	extractionContextSize = 5
	summaryThreshold      = 3
	summaryMemoryLimit    = 10
)

// entityResolveThreshold is the minimum cosine similarity for treating a
// semantic ANN hit over description embeddings as the same entity.
const entityResolveThreshold = 0.80

// EntityExtractor turns a stored memory into graph structure: entities,
// MENTIONS edges and typed RELATED_TO edges. It runs asynchronously after
// writes; Process is idempotent on already-extracted memories.
type EntityExtractor struct {
	memories domain.MemoryStore
	entities domain.EntityStore
	embedder domain.EmbeddingClient
	llm      domain.LLMClient
	tasks    *TaskSupervisor
	logger   *zap.Logger
}

func NewEntityExtractor(
	memories domain.MemoryStore,
	entities domain.EntityStore,
	embedder domain.EmbeddingClient,
	client domain.LLMClient,
	tasks *TaskSupervisor,
	logger *zap.Logger,
) *EntityExtractor {
	return &EntityExtractor{
		memories: memories,
		entities: entities,
		embedder: embedder,
		llm:      client,
		tasks:    tasks,
		logger:   logger,
	}
}

// Process extracts entities for one memory. The owner is resolved from the
// graph; this is the one read not anchored on a caller-supplied user.
func (e *EntityExtractor) Process(ctx context.Context, memoryID string) error {
	userID, err := e.memories.Owner(ctx, memoryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("memory %s not found", memoryID)
		}
		return fmt.Errorf("resolve owner of memory %s: %w", memoryID, err)
	}
	if userID == "" {
		return fmt.Errorf("memory %s not found", memoryID)
	}

	status, content, err := e.memories.ExtractionState(ctx, userID, memoryID)
	if err != nil {
		return fmt.Errorf("read extraction state of memory %s: %w", memoryID, err)
	}
	if status == domain.ExtractionDone {
		return nil
	}
	if content == "" {
		return e.fail(ctx, userID, memoryID, fmt.Errorf("memory %s has no content", memoryID))
	}

	if err := e.extract(ctx, userID, memoryID, content); err != nil {
		return e.fail(ctx, userID, memoryID, err)
	}
	return e.memories.SetExtractionStatus(ctx, userID, memoryID, domain.ExtractionDone, "")
}

func (e *EntityExtractor) fail(ctx context.Context, userID, memoryID string, cause error) error {
	if err := e.memories.SetExtractionStatus(ctx, userID, memoryID, domain.ExtractionFailed, cause.Error()); err != nil {
		e.logger.Warn("failed to record extraction failure",
			zap.String("memory_id", memoryID),
			zap.Error(err))
	}
	return cause
}

func (e *EntityExtractor) extract(ctx context.Context, userID, memoryID, content string) error {
	result, err := e.callExtraction(ctx, userID, memoryID, content)
	if err != nil {
		return err
	}
	if len(result.Entities) == 0 {
		return nil
	}

	names := make([]string, 0, len(result.Entities))
	for _, ent := range result.Entities {
		names = append(names, domain.NormalizeEntityName(ent.Name))
	}
	known, err := e.entities.LookupByNormalizedNames(ctx, userID, names)
	if err != nil {
		return fmt.Errorf("batch entity lookup: %w", err)
	}

	resolved := make(map[string]string, len(result.Entities))
	for _, ent := range result.Entities {
		norm := domain.NormalizeEntityName(ent.Name)
		var id string
		if existingID, ok := known[norm]; ok {
			id = existingID
			if err := e.upgradeKnown(ctx, userID, norm, ent); err != nil {
				e.logger.Warn("entity upgrade failed",
					zap.String("entity", ent.Name),
					zap.Error(err))
			}
		} else {
			id, err = e.resolveEntity(ctx, userID, ent)
			if err != nil {
				return fmt.Errorf("resolve entity %q: %w", ent.Name, err)
			}
		}
		resolved[norm] = id

		if err := e.entities.LinkMention(ctx, userID, memoryID, id); err != nil {
			return fmt.Errorf("link mention of %q: %w", ent.Name, err)
		}
	}

	for _, rel := range result.Relationships {
		srcID, okSrc := resolved[domain.NormalizeEntityName(rel.Source)]
		tgtID, okTgt := resolved[domain.NormalizeEntityName(rel.Target)]
		if !okSrc || !okTgt {
			continue
		}
		if err := e.linkEntities(ctx, userID, srcID, tgtID, rel); err != nil {
			e.logger.Warn("relationship link failed",
				zap.String("source", rel.Source),
				zap.String("target", rel.Target),
				zap.Error(err))
		}
	}

	for norm, id := range resolved {
		e.maybeScheduleSummary(userID, norm, id)
	}
	return nil
}

func (e *EntityExtractor) callExtraction(ctx context.Context, userID, memoryID, content string) (*domain.ExtractionResult, error) {
	recent, err := e.memories.Recent(ctx, userID, extractionContextSize+1)
	if err != nil {
		return nil, fmt.Errorf("read coreference context: %w", err)
	}
	var ctxLines []string
	for _, m := range recent {
		if m.ID == memoryID {
			continue
		}
		ctxLines = append(ctxLines, "- "+m.Content)
		if len(ctxLines) == extractionContextSize {
			break
		}
	}
	contextBlock := "(none)"
	if len(ctxLines) > 0 {
		contextBlock = strings.Join(ctxLines, "\n")
	}

	out, err := e.llm.Complete(ctx, domain.CompletionRequest{
		Prompt:      fmt.Sprintf(llm.ExtractEntitiesPrompt, content, contextBlock),
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}
	return normalizeExtraction(llm.StripFences(out))
}

// normalizeExtraction parses the raw model output and drops malformed
// entries: names and types must be strings, metadata must be a JSON object.
func normalizeExtraction(raw string) (*domain.ExtractionResult, error) {
	var loose struct {
		Entities      []map[string]any `json:"entities"`
		Relationships []map[string]any `json:"relationships"`
	}
	if err := json.Unmarshal([]byte(raw), &loose); err != nil {
		return nil, fmt.Errorf("parse extraction result: %w", err)
	}

	result := &domain.ExtractionResult{}
	for _, raw := range loose.Entities {
		name, okName := raw["name"].(string)
		typ, okType := raw["type"].(string)
		if !okName || !okType || strings.TrimSpace(name) == "" {
			continue
		}
		ent := domain.ExtractedEntity{Name: name, Type: typ}
		if d, ok := raw["description"].(string); ok {
			ent.Description = d
		}
		if md, ok := raw["metadata"].(map[string]any); ok {
			ent.Metadata = md
		}
		result.Entities = append(result.Entities, ent)
	}
	for _, raw := range loose.Relationships {
		src, okSrc := raw["source"].(string)
		tgt, okTgt := raw["target"].(string)
		typ, okType := raw["type"].(string)
		if !okSrc || !okTgt || !okType {
			continue
		}
		rel := domain.ExtractedRelationship{Source: src, Target: tgt, Type: typ}
		if d, ok := raw["description"].(string); ok {
			rel.Description = d
		}
		if md, ok := raw["metadata"].(map[string]any); ok {
			rel.Metadata = md
		}
		result.Relationships = append(result.Relationships, rel)
	}
	return result, nil
}

// upgradeKnown reconciles a tier-1 hit with the incoming extraction:
// descriptions that differ are consolidated asynchronously, metadata is
// shallow-merged.
func (e *EntityExtractor) upgradeKnown(ctx context.Context, userID, norm string, ent domain.ExtractedEntity) error {
	stored, err := e.entities.GetByNormalizedName(ctx, userID, norm)
	if errors.Is(err, store.ErrNotFound) || (err == nil && stored == nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if ent.Description != "" && stored.Description != "" && ent.Description != stored.Description {
		e.scheduleConsolidation(userID, stored.ID, stored.Name, stored.Description, ent.Description)
	} else if ent.Description != "" && stored.Description == "" {
		vec, err := e.embedder.Embed(ctx, ent.Description)
		if err != nil {
			return fmt.Errorf("embed description: %w", err)
		}
		if err := e.entities.SetDescription(ctx, userID, stored.ID, ent.Description, vec); err != nil {
			return err
		}
	}
	if len(ent.Metadata) > 0 {
		return e.entities.MergeMetadata(ctx, userID, stored.ID, ent.Metadata)
	}
	return nil
}

// resolveEntity finds or creates the entity for one extraction: exact
// normalized-name match, then semantic ANN over description embeddings, then
// a fresh node. Matches get grow-only type/description upgrades.
func (e *EntityExtractor) resolveEntity(ctx context.Context, userID string, ent domain.ExtractedEntity) (string, error) {
	norm := domain.NormalizeEntityName(ent.Name)

	stored, err := e.entities.GetByNormalizedName(ctx, userID, norm)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	embedText := ent.Description
	if embedText == "" {
		embedText = ent.Name
	}
	vec, err := e.embedder.Embed(ctx, embedText)
	if err != nil {
		return "", fmt.Errorf("embed entity: %w", err)
	}

	if stored == nil {
		hits, err := e.entities.VectorSearch(ctx, userID, vec, 3)
		if err == nil && len(hits) > 0 && hits[0].Score >= entityResolveThreshold {
			stored = &hits[0].Entity
		}
	}

	if stored != nil {
		if err := e.entities.Update(ctx, userID, stored.ID, ent.Type, ent.Description, vec, ent.Metadata); err != nil {
			return "", err
		}
		return stored.ID, nil
	}

	created := &domain.Entity{
		Name:                 ent.Name,
		NormalizedName:       norm,
		Type:                 ent.Type,
		Description:          ent.Description,
		DescriptionEmbedding: vec,
		Metadata:             ent.Metadata,
		UserID:               userID,
	}
	if err := e.entities.Create(ctx, userID, created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// linkEntities creates or arbitrates one typed RELATED_TO edge.
func (e *EntityExtractor) linkEntities(ctx context.Context, userID, srcID, tgtID string, rel domain.ExtractedRelationship) error {
	existing, err := e.entities.GetRelationship(ctx, userID, srcID, tgtID, rel.Type)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	incoming := &domain.EntityRelationship{
		SourceID:    srcID,
		SourceName:  rel.Source,
		TargetID:    tgtID,
		TargetName:  rel.Target,
		Type:        rel.Type,
		Description: rel.Description,
		Metadata:    rel.Metadata,
	}

	if existing == nil {
		return e.entities.CreateRelationship(ctx, userID, incoming)
	}
	if existing.Description == rel.Description && !metadataDiffers(existing.Metadata, rel.Metadata) {
		return nil
	}

	verdict, err := e.arbitrateRelationship(ctx, rel, existing.Description)
	if err != nil {
		return err
	}
	if verdict != "UPDATE" {
		return nil
	}
	// Carry the old edge's metadata forward under the new description.
	merged := make(map[string]any, len(existing.Metadata)+len(rel.Metadata))
	for k, v := range existing.Metadata {
		merged[k] = v
	}
	for k, v := range rel.Metadata {
		merged[k] = v
	}
	incoming.Metadata = merged
	return e.entities.CreateRelationship(ctx, userID, incoming)
}

func (e *EntityExtractor) arbitrateRelationship(ctx context.Context, rel domain.ExtractedRelationship, existingDesc string) (string, error) {
	out, err := e.llm.Complete(ctx, domain.CompletionRequest{
		Prompt: fmt.Sprintf(llm.RelationshipArbitrationPrompt,
			rel.Source, rel.Type, rel.Target, existingDesc, rel.Description),
		Temperature: 0,
		MaxTokens:   10,
	})
	if err != nil {
		return "", fmt.Errorf("relationship arbitration: %w", err)
	}
	return strings.ToUpper(strings.TrimSpace(llm.StripFences(out))), nil
}

func metadataDiffers(a, b map[string]any) bool {
	if len(b) == 0 {
		return false
	}
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) != string(bj)
}

func (e *EntityExtractor) scheduleConsolidation(userID, entityID, name, oldDesc, newDesc string) {
	e.tasks.Submit("consolidate-description", func(ctx context.Context) error {
		merged, err := e.llm.Complete(ctx, domain.CompletionRequest{
			Prompt:      fmt.Sprintf(llm.ConsolidateDescriptionPrompt, name, oldDesc, newDesc),
			Temperature: 0,
			MaxTokens:   150,
		})
		if err != nil {
			return fmt.Errorf("consolidate description of %s: %w", name, err)
		}
		merged = strings.TrimSpace(merged)
		if merged == "" {
			return nil
		}
		vec, err := e.embedder.Embed(ctx, merged)
		if err != nil {
			return fmt.Errorf("embed consolidated description: %w", err)
		}
		return e.entities.SetDescription(ctx, userID, entityID, merged, vec)
	})
}

func (e *EntityExtractor) maybeScheduleSummary(userID, name, entityID string) {
	e.tasks.Submit("entity-summary", func(ctx context.Context) error {
		count, err := e.entities.MentionCount(ctx, userID, entityID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if count < summaryThreshold {
			return nil
		}
		return e.RegenerateSummary(ctx, userID, entityID)
	})
}

// RegenerateSummary rebuilds the rollup summary of one entity from the
// memories that mention it.
func (e *EntityExtractor) RegenerateSummary(ctx context.Context, userID, entityID string) error {
	ent, err := e.entities.GetByID(ctx, userID, entityID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && ent == nil) {
		return nil
	}
	if err != nil {
		return err
	}
	mems, err := e.entities.MentioningMemories(ctx, userID, entityID, summaryMemoryLimit)
	if err != nil {
		return err
	}
	if len(mems) == 0 {
		return nil
	}
	var lines []string
	for _, m := range mems {
		lines = append(lines, "- "+m.Content)
	}

	summary, err := e.llm.Complete(ctx, domain.CompletionRequest{
		Prompt: fmt.Sprintf(llm.EntitySummaryPrompt,
			ent.Name, ent.Type, ent.Description, strings.Join(lines, "\n")),
		Temperature: 0,
		MaxTokens:   200,
	})
	if err != nil {
		return fmt.Errorf("summarize entity %s: %w", ent.Name, err)
	}
	return e.entities.SetSummary(ctx, userID, entityID, strings.TrimSpace(summary))
}
