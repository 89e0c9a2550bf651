// Package ledger keeps DISOT entries: signed, timestamped records that point
// at content in the content-addressable store.
package ledger

import (
	"context"
	"time"

	"disot/internal/cas"
	"disot/internal/hash"
	"disot/internal/signature"
)

type EntryType string

const (
	TypeDocument  EntryType = "document"
	TypeImage     EntryType = "image"
	TypeBlogPost  EntryType = "blog_post"
	TypeSignature EntryType = "signature"
	TypeMetadata  EntryType = "metadata"
)

var entryTypes = map[EntryType]bool{
	TypeDocument:  true,
	TypeImage:     true,
	TypeBlogPost:  true,
	TypeSignature: true,
	TypeMetadata:  true,
}

func (t EntryType) Valid() bool {
	return entryTypes[t]
}

// Entry is immutable once created. A new version of something is a new
// entry whose metadata points back at the previous one.
type Entry struct {
	ID          string              `json:"id"`
	ContentHash hash.ContentHash    `json:"contentHash"`
	Type        EntryType           `json:"type"`
	Signature   signature.Signature `json:"signature"`
	Timestamp   time.Time           `json:"timestamp"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
}

// CreateRequest carries exactly one of Content or Hash.
type CreateRequest struct {
	Content    *cas.Content
	Hash       *hash.ContentHash
	Type       EntryType
	PrivateKey string
	Metadata   map[string]any
}

// Filter selects entries; zero fields match everything and set fields are ANDed.
type Filter struct {
	Type      EntryType
	PublicKey string
	From      time.Time
	To        time.Time
}

func (f Filter) Match(e *Entry) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.PublicKey != "" && e.Signature.PublicKey != f.PublicKey {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// ContentReference ties a metadata record to stored content.
type ContentReference struct {
	Hash         hash.ContentHash `json:"hash"`
	Relationship string           `json:"relationship"`
}

// AuthorReference points at the entry that identifies an author.
type AuthorReference struct {
	EntryID string `json:"entryId"`
	Role    string `json:"role"`
}

type VersionInfo struct {
	Version         string `json:"version"`
	PreviousVersion string `json:"previousVersion,omitempty"`
}

// MetadataContent is the payload of a metadata entry. It is carried inline
// in the entry rather than stored as separate content.
type MetadataContent struct {
	Title       string             `json:"title,omitempty"`
	Description string             `json:"description,omitempty"`
	Tags        []string           `json:"tags,omitempty"`
	References  []ContentReference `json:"references,omitempty"`
	Authors     []AuthorReference  `json:"authors,omitempty"`
	Version     *VersionInfo       `json:"version,omitempty"`
}

// Box is the ledger contract the HTTP layer depends on.
type Box interface {
	CreateEntry(ctx context.Context, req CreateRequest) (*Entry, error)
	GetEntry(ctx context.Context, id string) (*Entry, error)
	ListEntries(ctx context.Context, filter Filter) ([]*Entry, error)
	VerifyEntry(entry *Entry) bool

	CreateMetadataEntry(ctx context.Context, content MetadataContent, privateKey string) (*Entry, error)
	GetMetadataContent(entry *Entry) (*MetadataContent, error)
	GetVersionHistory(ctx context.Context, id string) ([]string, error)
}
