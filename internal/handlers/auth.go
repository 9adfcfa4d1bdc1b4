package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
)

// Auth authenticates the two caller families: publishers presenting
// X-API-Key and operators presenting X-Admin-Key.
type Auth struct {
	registry interfaces.PublisherRegistry
	adminKey string
	logger   arbor.ILogger
}

// NewAuth creates the request authenticator. adminKey comes from
// server.admin_api_key; when empty the whole admin surface is disabled.
func NewAuth(registry interfaces.PublisherRegistry, adminKey string, logger arbor.ILogger) *Auth {
	return &Auth{
		registry: registry,
		adminKey: adminKey,
		logger:   logger,
	}
}

// Publisher resolves the caller's X-API-Key to an active publisher. On
// failure it writes the 401 envelope and returns false. Key lookups are
// by SHA-256 digest, so timing reveals nothing about stored keys.
func (a *Auth) Publisher(w http.ResponseWriter, r *http.Request) (*models.Publisher, bool) {
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		WriteError(w, r, http.StatusUnauthorized, CodeUnauthorized, "missing X-API-Key header")
		return nil, false
	}

	pub, err := a.registry.ResolveByAPIKey(r.Context(), apiKey)
	if err != nil {
		a.logger.Debug().
			Str("request_id", RequestIDFrom(r.Context())).
			Str("path", r.URL.Path).
			Msg("API key rejected")
		WriteError(w, r, http.StatusUnauthorized, CodeUnauthorized, "invalid api key")
		return nil, false
	}

	a.registry.TouchLastActive(r.Context(), pub.ID)
	return pub, true
}

// Admin verifies the operator key in constant time. On failure it
// writes the error envelope and returns false.
func (a *Auth) Admin(w http.ResponseWriter, r *http.Request) bool {
	if a.adminKey == "" {
		WriteError(w, r, http.StatusForbidden, CodeForbidden, "admin api is not configured")
		return false
	}
	provided := a.adminHeader(r)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(a.adminKey)) != 1 {
		WriteError(w, r, http.StatusUnauthorized, CodeUnauthorized, "invalid admin key")
		return false
	}
	return true
}

// adminHeader reads the operator key. Browser websocket clients cannot
// set headers, so the key query parameter is accepted as a fallback.
func (a *Auth) adminHeader(r *http.Request) string {
	if key := r.Header.Get("X-Admin-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("key")
}
