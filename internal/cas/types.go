package cas

import (
	"context"
	"time"

	"disot/internal/hash"
)

// Content is an immutable byte payload plus optional descriptive metadata.
type Content struct {
	Data     []byte           `json:"data"`
	Metadata *ContentMetadata `json:"metadata,omitempty"`
}

type ContentMetadata struct {
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	MimeType  string    `json:"mimeType,omitempty"`
	Name      string    `json:"name,omitempty"`
	CID       string    `json:"cid,omitempty"`
}

// StoredContent pairs content with the hash it is stored under.
type StoredContent struct {
	Hash    hash.ContentHash `json:"hash"`
	Content *Content         `json:"content"`
}

// Box is the content-addressable storage contract the ledger depends on.
type Box interface {
	Store(ctx context.Context, content *Content) (hash.ContentHash, error)
	Retrieve(ctx context.Context, h hash.ContentHash) (*Content, error)
	Exists(ctx context.Context, h hash.ContentHash) (bool, error)
	GetMetadata(ctx context.Context, h hash.ContentHash) (*ContentMetadata, error)
	GetAllContent(ctx context.Context) ([]StoredContent, error)
}
