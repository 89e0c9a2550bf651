package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"disot/internal/logging"
)

func TestChain(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := logging.Wrap(zap.New(core))

	var seenID string
	h := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenID = logging.RequestID(r.Context())
			if r.URL.Path == "/panic" {
				panic("boom")
			}
			w.WriteHeader(http.StatusTeapot)
			w.Write([]byte("short and stout"))
		}),
		Recover(logger),
		Logger(logger),
		RequestID,
	)

	t.Run("AssignsRequestID", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/tea", nil))

		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.NotEmpty(t, seenID)
		assert.Equal(t, seenID, rec.Header().Get("X-Request-ID"))

		entries := logs.FilterMessage("request completed").All()
		if assert.Len(t, entries, 1) {
			fields := entries[0].ContextMap()
			assert.Equal(t, int64(http.StatusTeapot), fields["status"])
			assert.Equal(t, int64(15), fields["bytes"])
			assert.Equal(t, seenID, fields["request_id"])
		}
	})

	t.Run("KeepsCallerRequestID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/tea", nil)
		req.Header.Set("X-Request-ID", "abc-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "abc-123", seenID)
		assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	})

	t.Run("RecoversPanics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/panic", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	})
}
