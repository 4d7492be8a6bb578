package httpmiddleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/lewisedginton/nutrisync/pkg/logger"
)

// HTTPLogger provides HTTP request/response logging middleware.
type HTTPLogger struct {
	logger logger.Logger
}

func NewHTTPLogger(log logger.Logger) *HTTPLogger {
	return &HTTPLogger{logger: log}
}

// Middleware returns the HTTP logging middleware.
func (h *HTTPLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestLogger := h.logger.WithFields(
			logger.StringField("client_ip", r.RemoteAddr),
			logger.StringField("http_method", r.Method),
			logger.StringField("http_path", r.URL.Path),
			logger.CorrelationIDField(r.Header.Get(logger.CorrelationIDHeader)),
		)
		requestLogger.Info("HTTP request received")

		wrappedWriter := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrappedWriter, r)

		requestLogger.WithFields(
			logger.StringField("http_status", strconv.Itoa(wrappedWriter.Status())),
			logger.StringField("response_bytes", strconv.Itoa(wrappedWriter.BytesWritten())),
			logger.DurationField("duration", time.Since(start)),
		).Info("HTTP response sent")
	})
}
