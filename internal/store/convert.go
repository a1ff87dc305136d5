package store

import (
	"encoding/json"
	"time"

	"github.com/memforge-ai/memforge/internal/domain"
)

// isoFormat is RFC3339 UTC with fixed millisecond precision, so stored
// timestamps are fixed-length and compare lexicographically.
const isoFormat = "2006-01-02T15:04:05.000Z"

func isoTime(t time.Time) string {
	return t.UTC().Format(isoFormat)
}

func isoNow() string {
	return isoTime(time.Now())
}

func parseISO(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{isoFormat, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// vecParam converts an embedding to the list type the driver serializes.
func vecParam(v []float32) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func vecFromRow(v any) []float32 {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(list))
	for _, e := range list {
		if f, ok := e.(float64); ok {
			out = append(out, float32(f))
		}
	}
	return out
}

// metadataParam serializes metadata to the JSON string stored on nodes.
// Nil maps become "{}".
func metadataParam(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func metadataFromRow(v any) map[string]any {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func rowString(row domain.Row, key string) string {
	s, _ := row[key].(string)
	return s
}

func rowInt(row domain.Row, key string) int {
	switch v := row[key].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func rowBool(row domain.Row, key string) bool {
	b, _ := row[key].(bool)
	return b
}

func rowFloat(row domain.Row, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func rowTime(row domain.Row, key string) time.Time {
	t, _ := parseISO(rowString(row, key))
	return t
}

func rowTimePtr(row domain.Row, key string) *time.Time {
	if t, ok := parseISO(rowString(row, key)); ok {
		return &t
	}
	return nil
}

func rowStrings(row domain.Row, key string) []string {
	list, ok := row[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// memoryFromRow builds a Memory from the conventional return aliases used by
// the memory store queries.
func memoryFromRow(row domain.Row) domain.Memory {
	m := domain.Memory{
		ID:                 rowString(row, "id"),
		Content:            rowString(row, "content"),
		State:              domain.MemoryState(rowString(row, "state")),
		Metadata:           metadataFromRow(row["metadata"]),
		Tags:               rowStrings(row, "tags"),
		ValidAt:            rowTime(row, "validAt"),
		InvalidAt:          rowTimePtr(row, "invalidAt"),
		CreatedAt:          rowTime(row, "createdAt"),
		UpdatedAt:          rowTime(row, "updatedAt"),
		ExtractionStatus:   domain.ExtractionStatus(rowString(row, "extractionStatus")),
		ExtractionAttempts: rowInt(row, "extractionAttempts"),
		AppName:            rowString(row, "appName"),
		SupersededBy:       rowString(row, "supersededBy"),
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if cats := rowStrings(row, "categories"); len(cats) > 0 {
		m.Categories = cats
	}
	return m
}
