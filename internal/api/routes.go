package api

import (
	"net/http"

	"disot/internal/cas"
	"disot/internal/ledger"
	"disot/internal/logging"
	"disot/internal/signature"
	"disot/internal/storage"
)

type Services struct {
	Provider storage.Provider
	// DataDir is the local storage directory, empty for memory or remote storage.
	DataDir string
	Content cas.Box
	Ledger  ledger.Box
	Signer  signature.Signer
}

// NewMux registers every route on a fresh ServeMux.
func NewMux(s Services, logger *logging.Logger) *http.ServeMux {
	health := NewHealthHandler(s.Provider, s.DataDir)
	keys := NewKeyHandler(s.Signer, logger)
	content := NewContentHandler(s.Content, logger)
	entries := NewEntryHandler(s.Ledger, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", health.Check)

	// Content endpoints
	mux.HandleFunc("POST /api/content", content.Store)
	mux.HandleFunc("GET /api/content", content.List)
	mux.HandleFunc("GET /api/content/{hash}", content.Get)
	mux.HandleFunc("GET /api/content/{hash}/metadata", content.Metadata)

	mux.HandleFunc("POST /api/keys", keys.Generate)

	// Entry endpoints
	mux.HandleFunc("POST /api/entries", entries.Create)
	mux.HandleFunc("GET /api/entries", entries.List)
	mux.HandleFunc("GET /api/entries/{id}", entries.Get)
	mux.HandleFunc("POST /api/entries/{id}/verify", entries.Verify)
	mux.HandleFunc("GET /api/entries/{id}/history", entries.History)
	mux.HandleFunc("GET /api/entries/{id}/metadata-content", entries.MetadataContent)
	mux.HandleFunc("POST /api/metadata-entries", entries.CreateMetadata)
	mux.HandleFunc("POST /api/verify", entries.VerifyPosted)

	return mux
}
