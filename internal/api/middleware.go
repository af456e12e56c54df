package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"matchbreak/internal/types"
)

// RequestLogger emits one structured log line per request.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// AdminAuth guards the queue admin endpoints with a static bearer token.
// The comparison is constant-time; the token never appears in logs.
func AdminAuth(token types.SecretString) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing Authorization header", nil))
				return
			}
			presented, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Authorization header must use Bearer scheme", nil))
				return
			}
			expected := token.Reveal()
			if expected == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
				Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid admin token", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
