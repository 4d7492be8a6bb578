package httpmiddleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/lewisedginton/nutrisync/pkg/logger"
)

// CorrelationID middleware ensures every request has a unique correlation ID.
// Client-provided correlation headers are ignored so the server controls its
// own IDs. The ID is also placed in the request context.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := uuid.New().String()
			r.Header.Set(logger.CorrelationIDHeader, correlationID)
			ctx := logger.WithCorrelationIDContext(r.Context(), correlationID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
