// -----------------------------------------------------------------------
// Response envelope and error mapping shared by all handlers
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/models"
)

// Error code symbols carried in the envelope. Stable API contract.
const (
	CodeUnauthorized     = "unauthorized"
	CodeForbidden        = "forbidden"
	CodeDomainMismatch   = "domain_mismatch"
	CodeNotWhitelisted   = "not_whitelisted"
	CodeNotFound         = "not_found"
	CodeQuotaExceeded    = "quota_exceeded"
	CodeDailyLimit       = "daily_limit_exceeded"
	CodeDuplicate        = "duplicate"
	CodeValidation       = "validation_error"
	CodeEmbeddingMissing = "embedding_missing"
	CodeRateLimited      = "rate_limited"
	CodeInternal         = "internal"
)

// APIError is the machine-readable error half of the envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is the uniform response shape of every endpoint, success and
// error alike.
type Envelope struct {
	Status     string      `json:"status"` // "success" or "error"
	StatusCode int         `json:"status_code"`
	Message    string      `json:"message,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	Error      *APIError   `json:"error,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
	Timestamp  string      `json:"timestamp"`
}

type contextKey int

const requestIDKey contextKey = iota

// WithRequestID stores the request id for handlers and the envelope.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the request id set by the middleware, or "".
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WriteResult writes a success envelope.
func WriteResult(w http.ResponseWriter, r *http.Request, statusCode int, message string, result interface{}) {
	writeEnvelope(w, Envelope{
		Status:     "success",
		StatusCode: statusCode,
		Message:    message,
		Result:     result,
		RequestID:  RequestIDFrom(r.Context()),
	})
}

// WriteError writes an error envelope with an explicit code symbol.
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	writeEnvelope(w, Envelope{
		Status:     "error",
		StatusCode: statusCode,
		Message:    message,
		Error:      &APIError{Code: code, Message: message},
		RequestID:  RequestIDFrom(r.Context()),
	})
}

func writeEnvelope(w http.ResponseWriter, env Envelope) {
	env.Timestamp = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(env.StatusCode)
	_ = json.NewEncoder(w).Encode(env)
}

// WriteServiceError maps a service error to the envelope. Domain errors
// pass their message through; anything unclassified becomes an opaque
// internal error with the cause logged under the request id.
func WriteServiceError(w http.ResponseWriter, r *http.Request, logger arbor.ILogger, err error) {
	statusCode, code := classifyError(err)
	message := err.Error()

	if code == CodeInternal {
		logger.Error().Err(err).
			Str("request_id", RequestIDFrom(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
		message = "internal error"
	}

	WriteError(w, r, statusCode, code, message)
}

// classifyError maps sentinel errors onto HTTP status and code symbol.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, models.ErrDomainMismatch):
		return http.StatusForbidden, CodeDomainMismatch
	case errors.Is(err, models.ErrNotWhitelisted):
		return http.StatusForbidden, CodeNotWhitelisted
	case errors.Is(err, models.ErrQuotaExceeded):
		return http.StatusTooManyRequests, CodeQuotaExceeded
	case errors.Is(err, models.ErrDailyLimitExceeded):
		return http.StatusTooManyRequests, CodeDailyLimit
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, models.ErrDuplicate):
		return http.StatusConflict, CodeDuplicate
	case errors.Is(err, models.ErrNotCancellable),
		errors.Is(err, models.ErrNotRequeueable):
		return http.StatusConflict, CodeValidation
	case errors.Is(err, models.ErrEmbeddingMissing):
		return http.StatusBadRequest, CodeEmbeddingMissing
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// DecodeJSONBody parses the request body into dst with unknown fields
// rejected. Returns false after writing the validation error.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteError(w, r, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// PathTail returns the path segment after prefix, e.g. the job id in
// /api/v1/jobs/status/{job_id}. Empty when the path has no tail or the
// tail contains further segments.
func PathTail(path, prefix string) string {
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return ""
	}
	tail := path[len(prefix):]
	for i := 0; i < len(tail); i++ {
		if tail[i] == '/' {
			return ""
		}
	}
	return tail
}

// intQueryParam reads an integer query parameter, falling back to def
// when absent or unparseable.
func intQueryParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
