package domain

// IntentKind is the tagged verdict of the intent classifier.
type IntentKind string

const (
	IntentStore        IntentKind = "STORE"
	IntentInvalidate   IntentKind = "INVALIDATE"
	IntentDeleteEntity IntentKind = "DELETE_ENTITY"
	IntentTouch        IntentKind = "TOUCH"
	IntentResolve      IntentKind = "RESOLVE"
)

func ValidIntentKind(k string) bool {
	switch IntentKind(k) {
	case IntentStore, IntentInvalidate, IntentDeleteEntity, IntentTouch, IntentResolve:
		return true
	}
	return false
}

// Intent is the classified meaning of an incoming statement. Target carries
// the memory description for INVALIDATE/TOUCH/RESOLVE; EntityName carries the
// entity for DELETE_ENTITY. Both are empty for STORE.
type Intent struct {
	Kind       IntentKind `json:"intent"`
	Target     string     `json:"target,omitempty"`
	EntityName string     `json:"entity_name,omitempty"`
}

// StoreIntent is the fail-open default.
func StoreIntent() Intent {
	return Intent{Kind: IntentStore}
}

// DedupAction is the verdict of the pre-write deduplication engine.
type DedupAction string

const (
	DedupInsert    DedupAction = "INSERT"
	DedupSkip      DedupAction = "SKIP"
	DedupSupersede DedupAction = "SUPERSEDE"
)

// DedupDecision is the outcome of deduplicating one candidate text.
// ExistingID is set for SKIP and SUPERSEDE.
type DedupDecision struct {
	Action     DedupAction `json:"action"`
	ExistingID string      `json:"existing_id,omitempty"`
}
