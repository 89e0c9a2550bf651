package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"disot/internal/hash"
)

// canonicalEntry fixes the field order of the signed bytes. encoding/json
// writes map keys sorted, so metadata is stable too.
type canonicalEntry struct {
	ContentHash hash.ContentHash `json:"contentHash"`
	Type        EntryType        `json:"type"`
	Timestamp   string           `json:"timestamp"`
	Metadata    map[string]any   `json:"metadata"`
}

// CanonicalBytes is the serialization an entry's signature covers.
func CanonicalBytes(e *Entry) ([]byte, error) {
	return json.Marshal(canonicalEntry{
		ContentHash: e.ContentHash,
		Type:        e.Type,
		Timestamp:   e.Timestamp.UTC().Format(time.RFC3339Nano),
		Metadata:    e.Metadata,
	})
}

// normalizeMetadata reduces metadata to plain JSON values so the signed
// bytes are the same before and after the entry is persisted and reloaded.
func normalizeMetadata(in map[string]any) (map[string]any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return out, nil
}

// clone returns a copy of e that shares no mutable state with it. Metadata
// is already reduced to plain JSON values, so maps and slices are the only
// containers to copy.
func (e *Entry) clone() *Entry {
	c := *e
	if e.Metadata != nil {
		c.Metadata = cloneValue(e.Metadata).(map[string]any)
	}
	return &c
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
