package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
)

// PublishersHandler covers publisher onboarding (admin) and the
// unauthenticated widget metadata lookup.
type PublishersHandler struct {
	registry interfaces.PublisherRegistry
	auth     *Auth
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewPublishersHandler creates a new publishers handler.
func NewPublishersHandler(registry interfaces.PublisherRegistry, auth *Auth, logger arbor.ILogger) *PublishersHandler {
	return &PublishersHandler{
		registry: registry,
		auth:     auth,
		validate: validator.New(),
		logger:   logger,
	}
}

type onboardRequest struct {
	Domain           string                  `json:"domain" validate:"required,fqdn"`
	Email            string                  `json:"email" validate:"required,email"`
	SubscriptionTier string                  `json:"subscription_tier" validate:"omitempty,oneof=free starter pro enterprise"`
	Config           *models.PublisherConfig `json:"config"`
	WidgetConfig     models.WidgetConfig     `json:"widget_config"`
}

// OnboardHandler creates a publisher. The plain-text API key appears
// in this response and nowhere else; only its hash is stored.
// POST /api/v1/publishers/onboard
func (h *PublishersHandler) OnboardHandler(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Admin(w, r) {
		return
	}

	var req onboardRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, CodeValidation, "invalid onboarding request: "+err.Error())
		return
	}

	var cfg models.PublisherConfig
	if req.Config != nil {
		cfg = *req.Config
	}

	pub, apiKey, err := h.registry.CreatePublisher(r.Context(), req.Domain, req.Email, req.SubscriptionTier, cfg, req.WidgetConfig)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}

	h.logger.Info().
		Str("publisher_id", pub.ID).
		Str("domain", pub.Domain).
		Msg("Publisher onboarded")

	WriteResult(w, r, http.StatusCreated, "publisher created", map[string]interface{}{
		"publisher": pub,
		"api_key":   apiKey,
	})
}

// MetadataHandler returns the widget-safe publisher fields for a blog
// URL. Unauthenticated; subdomain lookups resolve to the parent
// publisher so blog.example.com finds example.com.
// GET /api/v1/publishers/metadata?blog_url=...
func (h *PublishersHandler) MetadataHandler(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("blog_url")
	if rawURL == "" {
		WriteError(w, r, http.StatusBadRequest, CodeValidation, "blog_url parameter is required")
		return
	}
	normalized, err := common.NormalizeURL(rawURL)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, CodeValidation, "invalid blog_url: "+err.Error())
		return
	}

	domain, err := common.DomainOf(normalized)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, CodeValidation, "invalid blog_url: "+err.Error())
		return
	}
	pub, err := h.registry.ResolveByDomain(r.Context(), domain, true)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}
	if !pub.IsActive() {
		WriteError(w, r, http.StatusNotFound, CodeNotFound, "no active publisher for domain")
		return
	}

	WriteResult(w, r, http.StatusOK, "publisher metadata", pub.Metadata())
}
