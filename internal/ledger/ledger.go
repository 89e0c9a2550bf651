package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"disot/internal/cas"
	"disot/internal/errors"
	"disot/internal/hash"
	"disot/internal/signature"
	"disot/internal/storage"
)

const entryPrefix = "entries/"

// Ledger persists entries through a storage.Provider under entries/<id> and
// keeps an in-memory index of them. Entries handed to callers are copies;
// changing one never changes the ledger.
type Ledger struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	provider storage.Provider
	store    cas.Box
	hasher   hash.Hasher
	signer   signature.Signer
	logger   *zap.Logger

	now   func() time.Time
	newID func() string
}

// Open loads every persisted entry from provider.
func Open(ctx context.Context, provider storage.Provider, store cas.Box, hasher hash.Hasher, signer signature.Signer, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		entries:  make(map[string]*Entry),
		provider: provider,
		store:    store,
		hasher:   hasher,
		signer:   signer,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}

	paths, err := storage.ListPrefix(ctx, provider, entryPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	for _, p := range paths {
		e, err := l.load(ctx, strings.TrimPrefix(p, entryPrefix))
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", p, err)
		}
		l.entries[e.ID] = e
	}

	logger.Info("ledger opened", zap.Int("entries", len(l.entries)))
	return l, nil
}

func (l *Ledger) load(ctx context.Context, id string) (*Entry, error) {
	data, err := l.provider.Read(ctx, entryPrefix+id)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.StorageError("decoding entry "+id, err)
	}
	return &e, nil
}

// CreateEntry stores raw content first when given, then signs and persists
// a new entry over its hash.
func (l *Ledger) CreateEntry(ctx context.Context, req CreateRequest) (*Entry, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	var h hash.ContentHash
	if req.Content != nil {
		stored, err := l.store.Store(ctx, req.Content)
		if err != nil {
			return nil, fmt.Errorf("storing content: %w", err)
		}
		h = stored
	} else {
		h = req.Hash.Canonical()
	}

	return l.create(ctx, h, req.Type, req.PrivateKey, req.Metadata)
}

func (l *Ledger) create(ctx context.Context, h hash.ContentHash, typ EntryType, privateKey string, metadata map[string]any) (*Entry, error) {
	meta, err := normalizeMetadata(metadata)
	if err != nil {
		return nil, errors.ValidationError("metadata is not JSON encodable", err.Error())
	}

	e := &Entry{
		ID:          l.newID(),
		ContentHash: h,
		Type:        typ,
		Timestamp:   l.now().UTC(),
		Metadata:    meta,
	}

	payload, err := CanonicalBytes(e)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing entry: %w", err)
	}
	sig, err := l.signer.Sign(payload, privateKey)
	if err != nil {
		return nil, fmt.Errorf("signing entry: %w", err)
	}
	e.Signature = sig

	if err := l.persist(ctx, e); err != nil {
		return nil, err
	}

	l.logger.Info("entry created",
		zap.String("id", e.ID),
		zap.String("type", string(e.Type)),
		zap.String("content_hash", e.ContentHash.String()),
	)
	return e.clone(), nil
}

func (l *Ledger) persist(ctx context.Context, e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[e.ID]; exists {
		return errors.ValidationError("entry already exists: "+e.ID, nil)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}
	if err := l.provider.Write(ctx, entryPrefix+e.ID, data); err != nil {
		return fmt.Errorf("writing entry: %w", err)
	}
	l.entries[e.ID] = e
	return nil
}

// GetEntry falls back to the provider for entries written by another
// process sharing the same storage.
func (l *Ledger) GetEntry(ctx context.Context, id string) (*Entry, error) {
	if id == "" {
		return nil, errors.ValidationError("entry id is required", nil)
	}

	l.mu.RLock()
	e, ok := l.entries[id]
	l.mu.RUnlock()
	if ok {
		return e.clone(), nil
	}

	if strings.Contains(id, "/") {
		return nil, errors.NotFoundf("entry not found: %s", id)
	}
	e, err := l.load(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NotFoundf("entry not found: %s", id)
		}
		return nil, fmt.Errorf("getting entry: %w", err)
	}

	l.mu.Lock()
	l.entries[id] = e
	l.mu.Unlock()
	return e.clone(), nil
}

// ListEntries returns matching entries, newest first.
func (l *Ledger) ListEntries(_ context.Context, filter Filter) ([]*Entry, error) {
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}

	l.mu.RLock()
	result := make([]*Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if filter.Match(e) {
			result = append(result, e.clone())
		}
	}
	l.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.After(result[j].Timestamp)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// VerifyEntry recomputes the canonical bytes and checks the signature over
// them. Any mismatch, including an unknown signature algorithm, is false.
func (l *Ledger) VerifyEntry(entry *Entry) bool {
	if entry == nil {
		return false
	}
	payload, err := CanonicalBytes(entry)
	if err != nil {
		return false
	}

	signer := l.signer
	if entry.Signature.Algorithm != signer.Algorithm() {
		s, err := signature.New(entry.Signature.Algorithm)
		if err != nil || entry.Signature.Algorithm == "" {
			return false
		}
		signer = s
	}
	return signer.Verify(payload, entry.Signature)
}
