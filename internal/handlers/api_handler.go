package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
)

const healthCheckTimeout = 3 * time.Second

// APIHandler serves the unauthenticated operational endpoints.
type APIHandler struct {
	storage interfaces.StorageManager
	queue   interfaces.QueueManager
	pool    interfaces.WorkerPool
	llmCfg  *common.LLMConfig
	logger  arbor.ILogger
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(storage interfaces.StorageManager, queue interfaces.QueueManager, pool interfaces.WorkerPool, llmCfg *common.LLMConfig, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		storage: storage,
		queue:   queue,
		pool:    pool,
		llmCfg:  llmCfg,
		logger:  logger,
	}
}

// VersionHandler returns build information.
// GET /version
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	WriteResult(w, r, http.StatusOK, "version", map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HealthHandler reports per-component status. Overall status is
// healthy only when every required component is up; the HTTP status
// stays 200 either way so load balancers read the body.
// GET /health
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := map[string]interface{}{
		"badger":   h.badgerHealth(ctx),
		"postgres": h.postgresHealth(ctx),
		"llm":      h.llmHealth(),
		"queue":    h.queueHealth(ctx),
	}

	status := "healthy"
	for _, c := range components {
		m, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if up, ok := m["up"].(bool); ok && !up {
			status = "degraded"
			break
		}
	}

	WriteResult(w, r, http.StatusOK, status, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

func (h *APIHandler) badgerHealth(ctx context.Context) map[string]interface{} {
	count, err := h.storage.ContentStorage().CountContent(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Health check: badger count failed")
		return map[string]interface{}{"up": false, "error": err.Error()}
	}
	return map[string]interface{}{"up": true, "content_count": count}
}

func (h *APIHandler) postgresHealth(ctx context.Context) map[string]interface{} {
	if err := h.storage.PublisherStorage().Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Health check: postgres ping failed")
		return map[string]interface{}{"up": false, "error": err.Error()}
	}
	return map[string]interface{}{"up": true}
}

// llmHealth reports which providers have keys configured. No remote
// call; a missing key for the default provider marks the component
// down.
func (h *APIHandler) llmHealth() map[string]interface{} {
	providers := map[string]bool{
		"openai":    h.llmCfg.OpenAI.APIKey != "",
		"anthropic": h.llmCfg.Anthropic.APIKey != "",
		"gemini":    h.llmCfg.Gemini.APIKey != "",
	}
	up := providers[h.llmCfg.DefaultProvider]
	return map[string]interface{}{
		"up":               up,
		"default_provider": h.llmCfg.DefaultProvider,
		"providers":        providers,
	}
}

func (h *APIHandler) queueHealth(ctx context.Context) map[string]interface{} {
	result := map[string]interface{}{
		"up":           h.pool.IsRunning(),
		"worker_count": h.pool.WorkerCount(),
	}
	stats, err := h.queue.Stats(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Health check: queue stats failed")
		result["up"] = false
		result["error"] = err.Error()
		return result
	}
	result["stats"] = stats
	return result
}
