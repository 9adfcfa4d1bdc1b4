package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/handlers"
)

const eventsPath = "/api/v1/events/ws"

// withMiddleware wraps the router with the middleware chain.
// Applied in reverse order: recovery runs outermost so it catches
// panics from everything below, request ids exist before logging.
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	handler = s.loggingMiddleware(handler)
	handler = s.requestIDMiddleware(handler)
	handler = s.corsMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	return handler
}

// withConditionalMiddleware bypasses logging for the websocket route.
// The event stream holds its connection open for the process lifetime;
// running it through the logging wrapper would log a response that
// never finishes.
func (s *Server) withConditionalMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == eventsPath {
			s.setCORSHeaders(w)
			handler.ServeHTTP(w, r)
			return
		}
		s.withMiddleware(handler).ServeHTTP(w, r)
	})
}

// requestIDMiddleware assigns each request an id carried through the
// context into envelopes and error logs.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(handlers.WithRequestID(r.Context(), requestID)))
	})
}

// loggingMiddleware logs HTTP requests and responses
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		logEvent := s.app.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", handlers.RequestIDFrom(r.Context())).
			Str("remote", r.RemoteAddr)
		if r.URL.RawQuery != "" {
			logEvent.Str("query", r.URL.RawQuery)
		}
		logEvent.Msg("HTTP request")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		s.app.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", handlers.RequestIDFrom(r.Context())).
			Int("status", rw.statusCode).
			Dur("duration", duration).
			Msg("HTTP response")
	})
}

// corsMiddleware sets CORS headers. The widget runs inside publisher
// pages, so any origin may call with its API key; the key is the
// access control, not the origin.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Admin-Key, X-Request-ID")
}

// recoveryMiddleware converts handler panics into a 500 envelope.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.app.Logger.Error().
					Str("error", fmt.Sprintf("%v", err)).
					Str("path", r.URL.Path).
					Str("request_id", handlers.RequestIDFrom(r.Context())).
					Str("stack", common.GetStackTrace()).
					Msg("Panic recovered in HTTP handler")

				handlers.WriteError(w, r, http.StatusInternalServerError, handlers.CodeInternal, "internal error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker for websocket upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("responseWriter does not implement http.Hijacker")
}
