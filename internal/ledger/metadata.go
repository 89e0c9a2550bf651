package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"disot/internal/errors"
)

// metadataKey is where a metadata entry carries its payload.
const metadataKey = "metadataContent"

// CreateMetadataEntry records content as a metadata entry. The entry's
// content hash is the digest of the payload's JSON encoding; the payload
// itself is not written to the content store.
func (l *Ledger) CreateMetadataEntry(ctx context.Context, content MetadataContent, privateKey string) (*Entry, error) {
	if err := ValidateMetadataContent(content); err != nil {
		return nil, err
	}
	if privateKey == "" {
		return nil, errors.ValidationError("private key is required", nil)
	}

	payload, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata content: %w", err)
	}
	h, err := l.hasher.Hash(payload)
	if err != nil {
		return nil, fmt.Errorf("hashing metadata content: %w", err)
	}

	var asMap map[string]any
	if err := json.Unmarshal(payload, &asMap); err != nil {
		return nil, fmt.Errorf("decoding metadata content: %w", err)
	}
	return l.create(ctx, h, TypeMetadata, privateKey, map[string]any{metadataKey: asMap})
}

// GetMetadataContent decodes the payload of a metadata entry.
func (l *Ledger) GetMetadataContent(entry *Entry) (*MetadataContent, error) {
	if entry == nil {
		return nil, errors.ValidationError("entry is required", nil)
	}
	if entry.Type != TypeMetadata {
		return nil, errors.ValidationError(fmt.Sprintf("entry %s is not a metadata entry", entry.ID), nil)
	}
	raw, ok := entry.Metadata[metadataKey]
	if !ok {
		return nil, errors.ValidationError(fmt.Sprintf("entry %s has no metadata content", entry.ID), nil)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata content: %w", err)
	}
	var mc MetadataContent
	if err := json.Unmarshal(data, &mc); err != nil {
		return nil, errors.ValidationError("malformed metadata content", err.Error())
	}
	return &mc, nil
}

// GetVersionHistory follows previousVersion pointers from id and returns the
// chain newest first. A pointer to a missing entry ends the chain.
func (l *Ledger) GetVersionHistory(ctx context.Context, id string) ([]string, error) {
	entry, err := l.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	history := []string{entry.ID}
	seen := map[string]bool{entry.ID: true}
	for {
		if entry.Type != TypeMetadata {
			break
		}
		mc, err := l.GetMetadataContent(entry)
		if err != nil {
			return nil, err
		}
		if mc.Version == nil || mc.Version.PreviousVersion == "" {
			break
		}

		prev := mc.Version.PreviousVersion
		if seen[prev] {
			return nil, errors.ValidationError("version history contains a cycle", map[string]string{"entry": prev})
		}
		entry, err = l.GetEntry(ctx, prev)
		if errors.IsNotFound(err) {
			l.logger.Warn("version chain points at a missing entry",
				zap.String("from", history[len(history)-1]),
				zap.String("missing", prev),
			)
			break
		}
		if err != nil {
			return nil, err
		}

		seen[prev] = true
		history = append(history, prev)
	}
	return history, nil
}
