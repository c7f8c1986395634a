package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-pubsub/internal/infrastructure/logging"
)

const (
	requestIDHeader = "X-Request-ID"

	// maxRequestBodySize caps request bodies at 1 MB.
	maxRequestBodySize = 1 << 20
)

type loggerKey struct{}

// requestScope gives each request an id and a logger carrying it, logs
// the outcome and turns a handler panic into a 500.
//
// A client-supplied X-Request-ID is kept; otherwise a UUID is generated.
// The id is echoed in the response header.
func (s *Server) requestScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		log := s.logger.With("request_id", id)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			if rec := recover(); rec != nil {
				log.Error("handler panic", "panic", fmt.Sprint(rec), "method", r.Method, "path", r.URL.Path)
				if ww.Status() == 0 {
					writeInternalError(ww, "internal server error")
				}
			}

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}()

		next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), loggerKey{}, log)))
	})
}

// requestLogger returns the request-scoped logger, or fallback outside a
// request.
func requestLogger(ctx context.Context, fallback *logging.Logger) *logging.Logger {
	if log, ok := ctx.Value(loggerKey{}).(*logging.Logger); ok {
		return log
	}
	return fallback
}

// promErrorLogger routes promhttp errors to the structured logger.
type promErrorLogger struct {
	logger *logging.Logger
}

func (l promErrorLogger) Println(v ...any) {
	l.logger.Error("metrics handler error", "error", fmt.Sprint(v...))
}
