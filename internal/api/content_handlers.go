package api

import (
	"io"
	"net/http"
	"strconv"

	"disot/internal/cas"
	"disot/internal/errors"
	"disot/internal/hash"
	"disot/internal/logging"
)

// MaxContentSize bounds a single upload.
const MaxContentSize = 32 << 20

type ContentHandler struct {
	box    cas.Box
	logger *logging.Logger
}

func NewContentHandler(box cas.Box, logger *logging.Logger) *ContentHandler {
	return &ContentHandler{box: box, logger: logger}
}

// ContentSummary is a listing row; it omits the bytes.
type ContentSummary struct {
	Hash     hash.ContentHash     `json:"hash"`
	Metadata *cas.ContentMetadata `json:"metadata"`
}

// Store takes the raw request body as content. X-Content-Name and a
// Content-Type other than application/octet-stream become metadata.
func (h *ContentHandler) Store(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxContentSize))
	if err != nil {
		writeError(w, r, h.logger, errors.ValidationError("reading body", err.Error()))
		return
	}

	meta := &cas.ContentMetadata{Name: r.Header.Get("X-Content-Name")}
	if ct := r.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		meta.MimeType = ct
	}

	ch, err := h.box.Store(r.Context(), &cas.Content{Data: data, Metadata: meta})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	stored, err := h.box.GetMetadata(r.Context(), ch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, ContentSummary{Hash: ch, Metadata: stored})
}

func (h *ContentHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.box.GetAllContent(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result := make([]ContentSummary, 0, len(all))
	for _, item := range all {
		result = append(result, ContentSummary{Hash: item.Hash, Metadata: item.Content.Metadata})
	}
	writeJSON(w, http.StatusOK, result)
}

// Get writes the raw bytes with the stored MIME type.
func (h *ContentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ch, err := hash.Parse(r.PathValue("hash"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	content, err := h.box.Retrieve(r.Context(), ch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	mimeType := "application/octet-stream"
	if content.Metadata != nil && content.Metadata.MimeType != "" {
		mimeType = content.Metadata.MimeType
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content.Data)))
	w.Header().Set("X-Content-Hash", ch.String())
	w.WriteHeader(http.StatusOK)
	w.Write(content.Data)
}

func (h *ContentHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	ch, err := hash.Parse(r.PathValue("hash"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	meta, err := h.box.GetMetadata(r.Context(), ch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}
