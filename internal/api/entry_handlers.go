package api

import (
	"net/http"
	"time"

	"disot/internal/cas"
	"disot/internal/errors"
	"disot/internal/hash"
	"disot/internal/ledger"
	"disot/internal/logging"
)

type EntryHandler struct {
	box    ledger.Box
	logger *logging.Logger
}

func NewEntryHandler(box ledger.Box, logger *logging.Logger) *EntryHandler {
	return &EntryHandler{box: box, logger: logger}
}

// CreateEntryRequest carries either raw Content (base64 in JSON) or the
// ContentHash of something already stored.
type CreateEntryRequest struct {
	Content     []byte            `json:"content,omitempty"`
	Name        string            `json:"name,omitempty"`
	MimeType    string            `json:"mimeType,omitempty"`
	ContentHash *hash.ContentHash `json:"contentHash,omitempty"`
	Type        ledger.EntryType  `json:"type"`
	PrivateKey  string            `json:"privateKey"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

type CreateMetadataEntryRequest struct {
	Content    ledger.MetadataContent `json:"content"`
	PrivateKey string                 `json:"privateKey"`
}

type VerifyResponse struct {
	ID    string `json:"id"`
	Valid bool   `json:"valid"`
}

type HistoryResponse struct {
	ID      string   `json:"id"`
	History []string `json:"history"`
}

func (h *EntryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	create := ledger.CreateRequest{
		Hash:       req.ContentHash,
		Type:       req.Type,
		PrivateKey: req.PrivateKey,
		Metadata:   req.Metadata,
	}
	if req.Content != nil {
		create.Content = &cas.Content{
			Data:     req.Content,
			Metadata: &cas.ContentMetadata{Name: req.Name, MimeType: req.MimeType},
		}
	}

	e, err := h.box.CreateEntry(r.Context(), create)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *EntryHandler) CreateMetadata(w http.ResponseWriter, r *http.Request) {
	var req CreateMetadataEntryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	e, err := h.box.CreateMetadataEntry(r.Context(), req.Content, req.PrivateKey)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *EntryHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.box.GetEntry(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// List accepts type, public_key, from and to (RFC 3339) query parameters.
func (h *EntryHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.Filter{
		Type:      ledger.EntryType(q.Get("type")),
		PublicKey: q.Get("public_key"),
	}
	var err error
	if filter.From, err = parseTime(q.Get("from")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if filter.To, err = parseTime(q.Get("to")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	entries, err := h.box.ListEntries(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.ValidationError("invalid time "+s, err.Error())
	}
	return t, nil
}

// Verify checks the stored entry with the given id.
func (h *EntryHandler) Verify(w http.ResponseWriter, r *http.Request) {
	e, err := h.box.GetEntry(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{ID: e.ID, Valid: h.box.VerifyEntry(e)})
}

// VerifyPosted checks an entry supplied in the body, which need not be in
// this ledger.
func (h *EntryHandler) VerifyPosted(w http.ResponseWriter, r *http.Request) {
	var e ledger.Entry
	if err := decodeBody(r, &e); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{ID: e.ID, Valid: h.box.VerifyEntry(&e)})
}

func (h *EntryHandler) History(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	history, err := h.box.GetVersionHistory(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{ID: id, History: history})
}

func (h *EntryHandler) MetadataContent(w http.ResponseWriter, r *http.Request) {
	e, err := h.box.GetEntry(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	mc, err := h.box.GetMetadataContent(e)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, mc)
}
