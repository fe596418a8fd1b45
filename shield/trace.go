package shield

import (
	"net/http"

	"github.com/hazyhaar/satsview/idgen"
	"github.com/hazyhaar/satsview/kit"
)

// Logger is the subset of *slog.Logger used here.
type Logger interface {
	Debug(msg string, args ...any)
}

var requestIDs = idgen.Prefixed("req_", idgen.UUIDv7())

// RequestID tags each request with an ID, echoed in X-Request-ID and stored
// in the context with kit.WithRequestID. An incoming X-Request-ID is kept.
func RequestID(logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 128 {
				id = requestIDs()
			}
			w.Header().Set("X-Request-ID", id)
			if logger != nil {
				logger.Debug("shield: request", "request_id", id,
					"method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			}
			ctx := kit.WithTransport(kit.WithRequestID(r.Context(), id), "http")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
