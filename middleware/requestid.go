package middleware

import (
	"net/http"

	tokenpipe "github.com/MrEthical07/tokenpipe"
	"github.com/google/uuid"
)

// RequestID copies the inbound X-Request-ID, or a new one, into the request context so
// that pipeline calls made while serving it carry the same ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(tokenpipe.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(tokenpipe.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(tokenpipe.WithRequestID(r.Context(), id)))
	})
}
