// Package cas stores content addressed by the digest of its bytes on top of
// a storage.Provider.
package cas

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"disot/internal/errors"
	"disot/internal/hash"
	"disot/internal/storage"
)

const (
	contentPrefix  = "cas/"
	metadataPrefix = "cas-meta/"
)

type Store struct {
	provider storage.Provider
	hasher   hash.Hasher
	logger   *zap.Logger
	now      func() time.Time
}

func NewStore(provider storage.Provider, hasher hash.Hasher, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		provider: provider,
		hasher:   hasher,
		logger:   logger,
		now:      time.Now,
	}
}

func contentPath(h hash.ContentHash) string {
	return contentPrefix + h.Algorithm + "/" + h.Value
}

func metadataPath(h hash.ContentHash) string {
	return metadataPrefix + h.Algorithm + "/" + h.Value
}

// hashFromPath is the inverse of contentPath.
func hashFromPath(p string) (hash.ContentHash, bool) {
	rest, ok := strings.CutPrefix(p, contentPrefix)
	if !ok {
		return hash.ContentHash{}, false
	}
	algo, value, ok := strings.Cut(rest, "/")
	if !ok {
		return hash.ContentHash{}, false
	}
	h := hash.ContentHash{Algorithm: algo, Value: value}
	if h.Validate() != nil {
		return hash.ContentHash{}, false
	}
	return h, true
}

// Store writes content under its hash. Storing bytes that are already present
// writes nothing and returns the existing hash.
func (s *Store) Store(ctx context.Context, content *Content) (hash.ContentHash, error) {
	if content == nil {
		return hash.ContentHash{}, errors.ValidationError("content is required", nil)
	}
	data := content.Data
	if data == nil {
		data = []byte{} // empty content is valid
	}

	h, err := s.hasher.Hash(data)
	if err != nil {
		return hash.ContentHash{}, fmt.Errorf("hashing content: %w", err)
	}

	exists, err := s.provider.Exists(ctx, contentPath(h))
	if err != nil {
		return hash.ContentHash{}, fmt.Errorf("checking existence: %w", err)
	}
	if exists {
		s.logger.Debug("content already stored", zap.String("hash", h.String()))
		return h, nil
	}

	meta := s.buildMetadata(h, data, content.Metadata)

	if err := s.provider.Write(ctx, contentPath(h), data); err != nil {
		return hash.ContentHash{}, fmt.Errorf("writing content: %w", err)
	}
	if err := s.writeMetadata(ctx, h, meta); err != nil {
		if derr := s.provider.Delete(ctx, contentPath(h)); derr != nil {
			s.logger.Error("removing content after failed metadata write",
				zap.String("hash", h.String()),
				zap.Error(derr),
			)
		}
		return hash.ContentHash{}, fmt.Errorf("storing metadata: %w", err)
	}

	s.logger.Debug("content stored",
		zap.String("hash", h.String()),
		zap.Int64("size", meta.Size),
		zap.String("mime_type", meta.MimeType),
	)
	return h, nil
}

func (s *Store) buildMetadata(h hash.ContentHash, data []byte, declared *ContentMetadata) *ContentMetadata {
	meta := &ContentMetadata{}
	if declared != nil {
		*meta = *declared
	}
	meta.Size = int64(len(data))
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = s.now().UTC()
	}
	if meta.MimeType == "" {
		meta.MimeType = mimetype.Detect(data).String()
	}
	if c, err := h.CID(); err == nil {
		meta.CID = c.String()
	}
	return meta
}

func (s *Store) writeMetadata(ctx context.Context, h hash.ContentHash, meta *ContentMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	return s.provider.Write(ctx, metadataPath(h), data)
}

// Retrieve reads content by hash and checks the bytes still match it.
func (s *Store) Retrieve(ctx context.Context, h hash.ContentHash) (*Content, error) {
	h = h.Canonical()
	if err := h.Validate(); err != nil {
		return nil, err
	}

	data, err := s.provider.Read(ctx, contentPath(h))
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NotFoundf("content not found: %s", h)
		}
		return nil, fmt.Errorf("reading content: %w", err)
	}

	if !s.hasher.Verify(data, h) {
		return nil, errors.StorageError("content hash mismatch", fmt.Errorf("stored bytes for %s are corrupt", h))
	}

	meta, err := s.readMetadata(ctx, h, data)
	if err != nil {
		return nil, err
	}

	return &Content{Data: data, Metadata: meta}, nil
}

func (s *Store) Exists(ctx context.Context, h hash.ContentHash) (bool, error) {
	h = h.Canonical()
	if h.Validate() != nil {
		return false, nil
	}
	return s.provider.Exists(ctx, contentPath(h))
}

// GetMetadata returns the stored metadata record, rebuilding it from the
// bytes when only the content itself is present.
func (s *Store) GetMetadata(ctx context.Context, h hash.ContentHash) (*ContentMetadata, error) {
	h = h.Canonical()
	exists, err := s.Exists(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("checking existence: %w", err)
	}
	if !exists {
		return nil, errors.NotFoundf("content not found: %s", h)
	}
	return s.readMetadata(ctx, h, nil)
}

func (s *Store) readMetadata(ctx context.Context, h hash.ContentHash, data []byte) (*ContentMetadata, error) {
	raw, err := s.provider.Read(ctx, metadataPath(h))
	if err == nil {
		var meta ContentMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, errors.StorageError("decoding metadata for "+h.String(), err)
		}
		return &meta, nil
	}
	if !errors.IsNotFound(err) {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}

	if data == nil {
		data, err = s.provider.Read(ctx, contentPath(h))
		if err != nil {
			return nil, fmt.Errorf("reading content: %w", err)
		}
	}
	s.logger.Warn("metadata record missing, rebuilding", zap.String("hash", h.String()))
	meta := s.buildMetadata(h, data, nil)
	meta.CreatedAt = time.Time{}
	return meta, nil
}

// GetAllContent enumerates every stored item, newest first. Paths under the
// content prefix that do not parse as hashes are skipped.
func (s *Store) GetAllContent(ctx context.Context) ([]StoredContent, error) {
	paths, err := storage.ListPrefix(ctx, s.provider, contentPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing content: %w", err)
	}

	result := make([]StoredContent, 0, len(paths))
	for _, p := range paths {
		h, ok := hashFromPath(p)
		if !ok {
			s.logger.Warn("skipping unexpected path", zap.String("path", p))
			continue
		}
		content, err := s.Retrieve(ctx, h)
		if err != nil {
			if errors.IsNotFound(err) {
				continue // deleted while listing
			}
			return nil, fmt.Errorf("retrieving %s: %w", h, err)
		}
		result = append(result, StoredContent{Hash: h, Content: content})
	}

	sort.Slice(result, func(i, j int) bool {
		ti, tj := result[i].Content.Metadata.CreatedAt, result[j].Content.Metadata.CreatedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return result[i].Hash.Value < result[j].Hash.Value
	})
	return result, nil
}
