package v1

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/tinwren/launchpit/internal/reqid"
)

const headerRequestID = "X-Request-ID"

// RequestID ensures every request carries a correlation ID: an incoming
// X-Request-ID is honored, otherwise one is generated. The ID is attached
// to the request context and echoed in the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		ctx := reqid.With(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
