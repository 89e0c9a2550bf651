// internal/api/handlers.go
package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/shirou/gopsutil/disk"
	"go.uber.org/zap"

	"disot/internal/errors"
	"disot/internal/logging"
	"disot/internal/signature"
	"disot/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps typed errors to their status code. Untyped errors are
// reported as a generic 500 and logged.
func writeError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	var typed *errors.Error
	if !stderrors.As(err, &typed) {
		typed = errors.Internal("internal error", err)
	}
	status := errors.StatusCode(typed)
	if status >= http.StatusInternalServerError {
		logger.WithRequestID(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, typed)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.ValidationError("invalid request body", err.Error())
	}
	return nil
}

type HealthHandler struct {
	provider storage.Provider
	dataDir  string
}

// NewHealthHandler reports provider health, plus disk usage of dataDir when
// storage is local.
func NewHealthHandler(provider storage.Provider, dataDir string) *HealthHandler {
	return &HealthHandler{provider: provider, dataDir: dataDir}
}

type DiskUsage struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"usedPercent"`
}

type HealthResponse struct {
	Status  string     `json:"status"`
	Storage bool       `json:"storage"`
	Disk    *DiskUsage `json:"disk,omitempty"`
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Storage: storage.IsHealthy(r.Context(), h.provider)}
	code := http.StatusOK
	if !resp.Storage {
		resp.Status, code = "degraded", http.StatusServiceUnavailable
	}
	if h.dataDir != "" {
		if u, err := disk.UsageWithContext(r.Context(), h.dataDir); err == nil {
			resp.Disk = &DiskUsage{Path: u.Path, Total: u.Total, Free: u.Free, UsedPercent: u.UsedPercent}
		}
	}
	writeJSON(w, code, resp)
}

// KeyHandler hands out fresh key pairs. Nothing is retained server side.
type KeyHandler struct {
	signer signature.Signer
	logger *logging.Logger
}

func NewKeyHandler(signer signature.Signer, logger *logging.Logger) *KeyHandler {
	return &KeyHandler{signer: signer, logger: logger}
}

func (h *KeyHandler) Generate(w http.ResponseWriter, r *http.Request) {
	keys, err := h.signer.GenerateKeyPair()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"algorithm":  h.signer.Algorithm(),
		"publicKey":  keys.PublicKey,
		"privateKey": keys.PrivateKey,
	})
}
