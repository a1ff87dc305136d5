package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memforge-ai/memforge/internal/domain"
)

// In-memory store fakes shared by the service tests. Search arms are scripted
// per test; write paths keep enough state for assertions.

type fakeMemoryStore struct {
	mu       sync.Mutex
	memories map[string]*domain.Memory
	owners   map[string]string
	cats     map[string][]string
	recent   []domain.Memory

	vectorHits []domain.MemoryWithScore
	vectorErr  error
	textHits   []domain.Memory
	textErr    error

	createCalls     int
	bulkCreateCalls int
	bulkCreated     [][]*domain.Memory
	supersedeCalls  int
	touched         []string
	archived        []string
	softDeleted     []string
}

func newFakeMemoryStore() *fakeMemoryStore {
	return &fakeMemoryStore{
		memories: make(map[string]*domain.Memory),
		owners:   make(map[string]string),
		cats:     make(map[string][]string),
	}
}

func (s *fakeMemoryStore) put(userID string, m *domain.Memory) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.memories[m.ID] = m
	s.owners[m.ID] = userID
}

func (s *fakeMemoryStore) Create(ctx context.Context, userID string, m *domain.Memory, appName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	m.AppName = appName
	s.put(userID, m)
	return nil
}

func (s *fakeMemoryStore) BulkCreate(ctx context.Context, userID, appName string, mems []*domain.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkCreateCalls++
	s.bulkCreated = append(s.bulkCreated, mems)
	for _, m := range mems {
		m.AppName = appName
		s.put(userID, m)
	}
	return nil
}

func (s *fakeMemoryStore) Supersede(ctx context.Context, userID, oldID string, m *domain.Memory, appName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supersedeCalls++
	old, ok := s.memories[oldID]
	if !ok || s.owners[oldID] != userID {
		return false, nil
	}
	now := time.Now().UTC()
	old.InvalidAt = &now
	if m.Tags == nil {
		m.Tags = old.Tags
	}
	s.put(userID, m)
	old.SupersededBy = m.ID
	return true, nil
}

func (s *fakeMemoryStore) SoftDelete(ctx context.Context, userID, memoryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok || s.owners[memoryID] != userID {
		return false, nil
	}
	now := time.Now().UTC()
	m.State = domain.StateDeleted
	m.InvalidAt = &now
	s.softDeleted = append(s.softDeleted, memoryID)
	return true, nil
}

func (s *fakeMemoryStore) BulkSoftDelete(ctx context.Context, userID string, memoryIDs []string) (int, error) {
	n := 0
	for _, id := range memoryIDs {
		ok, _ := s.SoftDelete(ctx, userID, id)
		if ok {
			n++
		}
	}
	return n, nil
}

func (s *fakeMemoryStore) Archive(ctx context.Context, userID, memoryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok || s.owners[memoryID] != userID || m.State != domain.StateActive {
		return false, nil
	}
	now := time.Now().UTC()
	m.State = domain.StateArchived
	m.InvalidAt = &now
	s.archived = append(s.archived, memoryID)
	return true, nil
}

func (s *fakeMemoryStore) Pause(ctx context.Context, userID, memoryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok || s.owners[memoryID] != userID || m.State != domain.StateActive {
		return false, nil
	}
	m.State = domain.StatePaused
	return true, nil
}

func (s *fakeMemoryStore) Touch(ctx context.Context, userID, memoryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok || s.owners[memoryID] != userID {
		return false, nil
	}
	m.UpdatedAt = time.Now().UTC()
	s.touched = append(s.touched, memoryID)
	return true, nil
}

func (s *fakeMemoryStore) UpdateContent(ctx context.Context, userID, memoryID, content string, embedding []float32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok || s.owners[memoryID] != userID {
		return false, nil
	}
	m.Content = content
	m.Embedding = embedding
	m.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *fakeMemoryStore) GetByID(ctx context.Context, userID, memoryID string) (*domain.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok || s.owners[memoryID] != userID {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *fakeMemoryStore) List(ctx context.Context, userID string, opts domain.ListOptions) ([]domain.Memory, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Memory
	for id, m := range s.memories {
		if s.owners[id] != userID {
			continue
		}
		if !opts.IncludeSuperseded && m.InvalidAt != nil {
			continue
		}
		out = append(out, *m)
	}
	return out, len(out), nil
}

func (s *fakeMemoryStore) Recent(ctx context.Context, userID string, n int) ([]domain.Memory, error) {
	if len(s.recent) > n {
		return s.recent[:n], nil
	}
	return s.recent, nil
}

func (s *fakeMemoryStore) ListIDs(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.memories {
		if s.owners[id] == userID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeMemoryStore) Owner(ctx context.Context, memoryID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owners[memoryID], nil
}

func (s *fakeMemoryStore) VectorSearch(ctx context.Context, userID string, vec []float32, k int) ([]domain.MemoryWithScore, error) {
	if s.vectorErr != nil {
		return nil, s.vectorErr
	}
	if len(s.vectorHits) > k {
		return s.vectorHits[:k], nil
	}
	return s.vectorHits, nil
}

func (s *fakeMemoryStore) TextSearch(ctx context.Context, userID, query string, limit int) ([]domain.Memory, error) {
	if s.textErr != nil {
		return nil, s.textErr
	}
	if len(s.textHits) > limit {
		return s.textHits[:limit], nil
	}
	return s.textHits, nil
}

func (s *fakeMemoryStore) AttachCategories(ctx context.Context, userID, memoryID string, categories []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cats[memoryID] = append(s.cats[memoryID], categories...)
	return nil
}

func (s *fakeMemoryStore) ListCategories(ctx context.Context, userID string) ([]domain.CategoryCount, error) {
	return nil, nil
}

func (s *fakeMemoryStore) ListTags(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}

func (s *fakeMemoryStore) ExtractionState(ctx context.Context, userID, memoryID string) (domain.ExtractionStatus, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok {
		return "", "", nil
	}
	return m.ExtractionStatus, m.Content, nil
}

func (s *fakeMemoryStore) SetExtractionStatus(ctx context.Context, userID, memoryID string, status domain.ExtractionStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.memories[memoryID]; ok {
		m.ExtractionStatus = status
		if status == domain.ExtractionFailed {
			m.ExtractionAttempts++
		}
	}
	return nil
}

type fakeEntityStore struct {
	mu       sync.Mutex
	entities map[string]*domain.Entity // id → entity
	byName   map[string]string         // userID+"/"+normalizedName → id
	mentions map[string][]string       // entityID → memoryIDs
	rels     []*domain.EntityRelationship
	summary  map[string]string

	vectorHits    []domain.EntityWithScore
	substringHits []domain.Entity
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{
		entities: make(map[string]*domain.Entity),
		byName:   make(map[string]string),
		mentions: make(map[string][]string),
		summary:  make(map[string]string),
	}
}

func (s *fakeEntityStore) key(userID, norm string) string { return userID + "/" + norm }

func (s *fakeEntityStore) Create(ctx context.Context, userID string, e *domain.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.UserID = userID
	if existing, ok := s.byName[s.key(userID, e.NormalizedName)]; ok {
		e.ID = existing
		return nil
	}
	s.entities[e.ID] = e
	s.byName[s.key(userID, e.NormalizedName)] = e.ID
	return nil
}

func (s *fakeEntityStore) GetByID(ctx context.Context, userID, entityID string) (*domain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[entityID]
	if !ok || e.UserID != userID {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *fakeEntityStore) GetByNormalizedName(ctx context.Context, userID, norm string) (*domain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[s.key(userID, norm)]
	if !ok {
		return nil, nil
	}
	cp := *s.entities[id]
	return &cp, nil
}

func (s *fakeEntityStore) LookupByNormalizedNames(ctx context.Context, userID string, names []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for _, n := range names {
		if id, ok := s.byName[s.key(userID, n)]; ok {
			out[n] = id
		}
	}
	return out, nil
}

func (s *fakeEntityStore) Update(ctx context.Context, userID, entityID string, typ, description string, descEmbedding []float32, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[entityID]
	if !ok {
		return nil
	}
	if len(typ) > len(e.Type) {
		e.Type = typ
	}
	if len(description) > len(e.Description) {
		e.Description = description
		e.DescriptionEmbedding = descEmbedding
	}
	if len(metadata) > 0 {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		for k, v := range metadata {
			e.Metadata[k] = v
		}
	}
	return nil
}

func (s *fakeEntityStore) SetDescription(ctx context.Context, userID, entityID, description string, descEmbedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entities[entityID]; ok {
		e.Description = description
		e.DescriptionEmbedding = descEmbedding
	}
	return nil
}

func (s *fakeEntityStore) MergeMetadata(ctx context.Context, userID, entityID string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[entityID]
	if !ok {
		return nil
	}
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	for k, v := range metadata {
		e.Metadata[k] = v
	}
	return nil
}

func (s *fakeEntityStore) SetSummary(ctx context.Context, userID, entityID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary[entityID] = summary
	return nil
}

func (s *fakeEntityStore) LinkMention(ctx context.Context, userID, memoryID, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.mentions[entityID] {
		if id == memoryID {
			return nil
		}
	}
	s.mentions[entityID] = append(s.mentions[entityID], memoryID)
	return nil
}

func (s *fakeEntityStore) MentionCount(ctx context.Context, userID, entityID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mentions[entityID]), nil
}

func (s *fakeEntityStore) MentioningMemories(ctx context.Context, userID, entityID string, limit int) ([]domain.Memory, error) {
	return nil, nil
}

func (s *fakeEntityStore) GetRelationship(ctx context.Context, userID, sourceID, targetID, relType string) (*domain.EntityRelationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.rels) - 1; i >= 0; i-- {
		r := s.rels[i]
		if r.SourceID == sourceID && r.TargetID == targetID && r.Type == relType {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeEntityStore) CreateRelationship(ctx context.Context, userID string, rel *domain.EntityRelationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rels = append(s.rels, rel)
	return nil
}

func (s *fakeEntityStore) VectorSearch(ctx context.Context, userID string, vec []float32, k int) ([]domain.EntityWithScore, error) {
	return s.vectorHits, nil
}

func (s *fakeEntityStore) SearchSubstring(ctx context.Context, userID, query string, limit int) ([]domain.Entity, error) {
	return s.substringHits, nil
}

func (s *fakeEntityStore) RelationshipsFor(ctx context.Context, userID string, entityIDs []string) (map[string][]domain.EntityRelationship, error) {
	return map[string][]domain.EntityRelationship{}, nil
}

func (s *fakeEntityStore) Delete(ctx context.Context, userID, idOrName string) (*domain.EntityDeletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entities {
		if id == idOrName || strings.EqualFold(e.Name, idOrName) {
			del := &domain.EntityDeletion{
				Name:     e.Name,
				Mentions: len(s.mentions[id]),
			}
			delete(s.entities, id)
			delete(s.byName, s.key(userID, e.NormalizedName))
			delete(s.mentions, id)
			return del, nil
		}
	}
	return nil, nil
}

type fakeHistoryStore struct {
	mu      sync.Mutex
	entries []*domain.MemoryHistory
}

func (s *fakeHistoryStore) Append(ctx context.Context, h *domain.MemoryHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, h)
	return nil
}

func (s *fakeHistoryStore) ListByMemory(ctx context.Context, memoryID string) ([]domain.MemoryHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MemoryHistory
	for _, h := range s.entries {
		if h.MemoryID == memoryID {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (s *fakeHistoryStore) actions(memoryID string) []domain.HistoryAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.HistoryAction
	for _, h := range s.entries {
		if h.MemoryID == memoryID {
			out = append(out, h.Action)
		}
	}
	return out
}

type fakeAppStore struct {
	mu         sync.Mutex
	paused     map[string]bool // appName → paused
	accessLogs [][]string
}

func newFakeAppStore() *fakeAppStore {
	return &fakeAppStore{paused: make(map[string]bool)}
}

func (s *fakeAppStore) List(ctx context.Context, userID, name string, active *bool) ([]domain.App, error) {
	return nil, nil
}

func (s *fakeAppStore) Get(ctx context.Context, userID, appID string) (*domain.App, error) {
	return nil, nil
}

func (s *fakeAppStore) SetActive(ctx context.Context, userID, appID string, active bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused[appID] = !active
	return true, nil
}

func (s *fakeAppStore) IsActive(ctx context.Context, userID, appName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.paused[appName], nil
}

func (s *fakeAppStore) LogAccess(ctx context.Context, userID, appName string, memoryIDs []string, query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessLogs = append(s.accessLogs, memoryIDs)
	return nil
}

type fakeConfigStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{values: make(map[string]string)}
}

func (s *fakeConfigStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *fakeConfigStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// fakeEmbedder returns constant vectors and records batch sizes.
type fakeEmbedder struct {
	mu         sync.Mutex
	dim        int
	embedCalls int
	batchSizes []int
	err        error
}

func newFakeEmbedder() *fakeEmbedder { return &fakeEmbedder{dim: 4} }

func (e *fakeEmbedder) vec() []float32 {
	v := make([]float32, e.dim)
	v[0] = 1
	return v
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.embedCalls++
	return e.vec(), nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.batchSizes = append(e.batchSizes, len(texts))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec()
	}
	return out, nil
}

func (e *fakeEmbedder) Dimension() int { return e.dim }

func (e *fakeEmbedder) HealthCheck(ctx context.Context) *domain.EmbeddingHealth {
	return &domain.EmbeddingHealth{OK: true, Model: "fake", Dim: e.dim}
}
