package llm

// Prompts are format strings; callers fill the %s slots and run every
// classifier at temperature 0.

const IntentPrompt = `Classify the user's input into exactly one intent.

Input: %s

Intents:
- STORE: a statement, fact, preference, or piece of information to remember
- INVALIDATE: a request to forget, remove, or mark something as no longer true
- DELETE_ENTITY: a request to delete everything known about a named person, place, or thing
- TOUCH: a request to refresh or re-confirm an existing memory without changing it
- RESOLVE: a question or lookup about something already remembered

For INVALIDATE, TOUCH and RESOLVE, set "target" to the phrase describing what to act on.
For DELETE_ENTITY, set "entity_name" to the entity's name.

Respond ONLY with JSON, no markdown fences:
{"intent":"STORE","target":"","entity_name":""}`

const DedupPairPrompt = `Compare a new statement against an existing memory and classify the pair.

Labels:
- DUPLICATE: same fact, possibly rephrased
- SUPERSEDES: the new statement updates, corrects, or contradicts the existing memory
- DIFFERENT: unrelated or compatible facts

Examples:
Existing: "My favorite color is blue." New: "I like blue best." -> DUPLICATE
Existing: "I live in NYC." New: "I moved to London." -> SUPERSEDES
Existing: "I live in NYC." New: "My dog is named Rex." -> DIFFERENT
Existing: "My phone is 555-1234." New: "My new number is 555-9876." -> SUPERSEDES

Existing: %s
New: %s

Respond with ONLY the label. No explanation.`

const ExtractEntitiesPrompt = `Extract entities and relationships from this memory.

Memory: %s

Recent context (for resolving pronouns and references):
%s

For each entity:
1. name: the entity's name as stated
2. type: one of "person", "organization", "place", "tool", "concept", "event", "product", "other"
3. description: one sentence describing the entity based on this memory
4. metadata: optional JSON object of structured attributes

For each relationship between two extracted entities:
1. source: name of the source entity
2. target: name of the target entity
3. type: a short UPPER_SNAKE_CASE relation label (e.g. WORKS_AT, LIVES_IN, OWNS)
4. description: one sentence describing the relationship

Respond ONLY with JSON, no markdown fences:
{"entities":[{"name":"John","type":"person","description":"...","metadata":{}}],"relationships":[{"source":"John","target":"Acme","type":"WORKS_AT","description":"..."}]}

If nothing can be extracted, return {"entities":[],"relationships":[]}.`

const ConsolidateDescriptionPrompt = `Merge two descriptions of the same entity into one.

Entity: %s
Existing description: %s
New description: %s

Keep all distinct facts, drop repetition, and stay under two sentences.

Respond with ONLY the merged description. No explanation.`

const RelationshipArbitrationPrompt = `An existing relationship edge conflicts with newly extracted information.

Relationship: %s -[%s]-> %s
Existing description: %s
New description: %s

Decide:
- UPDATE: the new description reflects a real change; record it
- KEEP: the existing description is still accurate; discard the new one

Respond with ONLY "UPDATE" or "KEEP". No explanation.`

const CategorizePrompt = `Assign categories to this memory from the fixed list below. Choose only categories that clearly apply.

Categories: %s

Memory: %s

Respond ONLY with a JSON array of category names, no markdown fences:
["personal_details","preferences"]

If none apply, return an empty array: []`

const EntitySummaryPrompt = `Summarize what is known about an entity from the memories that mention it.

Entity: %s (%s)
Description: %s

Memories:
%s

Respond with ONLY a 2-3 sentence summary. No explanation, no formatting.`

const CommunitySummaryPrompt = `These memories form a cluster around a shared theme. Summarize the cluster.

Memories:
%s

Respond ONLY with JSON, no markdown fences:
{"title":"short cluster title","summary":"1-2 sentence summary"}`
