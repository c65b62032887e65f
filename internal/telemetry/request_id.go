package telemetry

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/italolelis/attachment_transfer/internal/logctx"
)

const RequestIDHeader = "X-Request-ID"

// RequestID tags every API request with an id, reusing an upstream X-Request-ID.
// Log records written with the request context carry it as request_id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(logctx.WithRequestID(r.Context(), requestID)))
	})
}
