package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"karatrack-backend/internal/metrics"
	"karatrack-backend/internal/models"
	"karatrack-backend/internal/runpod"
	"karatrack-backend/internal/services"
)

const maxCallbackBytes = 1 << 20

type WebhookHandler struct {
	projects *services.ProjectService
	secret   string
}

func NewWebhookHandler(projects *services.ProjectService, callbackSecret string) *WebhookHandler {
	return &WebhookHandler{
		projects: projects,
		secret:   callbackSecret,
	}
}

// HandleWorkerCallback godoc
// @Summary     GPU worker callback
// @Description Receives job results from the GPU worker. Authenticated with the shared callback token.
// @Tags        webhooks
// @Accept      json
// @Produce     json
// @Param       token query string false "Callback token (or Authorization: Bearer)"
// @Success     200 {object} map[string]string "status"
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /api/v1/webhooks/worker [post]
func (h *WebhookHandler) HandleWorkerCallback(c *gin.Context) {
	start := time.Now()
	defer func() {
		metrics.WebhookDuration.WithLabelValues("worker").Observe(time.Since(start).Seconds())
	}()

	// Extract token (query parameter, "Bearer <token>" or bare header)
	token := c.Query("token")
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	}
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) != 1 {
		metrics.WebhookRequestsTotal.WithLabelValues("worker", "unknown", "unauthorized").Inc()
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "invalid callback token"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to read request body", Message: err.Error()})
		return
	}

	var payload runpod.CallbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("worker", "unknown", "invalid").Inc()
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to parse callback", Message: err.Error()})
		return
	}

	eventType := string(payload.Status)
	logger := log.With().
		Str("project_id", payload.ProjectID).
		Str("status", eventType).
		Logger()

	applied, err := h.projects.HandleCallback(c.Request.Context(), payload)
	if err != nil {
		var validationErr *services.ValidationError
		switch {
		case errors.As(err, &validationErr):
			metrics.WebhookRequestsTotal.WithLabelValues("worker", eventType, "invalid").Inc()
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid callback", Message: validationErr.Error()})
		case errors.Is(err, models.ErrProjectNotFound):
			metrics.WebhookRequestsTotal.WithLabelValues("worker", eventType, "not_found").Inc()
			logger.Warn().Msg("Callback for unknown project")
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "project not found"})
		default:
			metrics.WebhookRequestsTotal.WithLabelValues("worker", eventType, "error").Inc()
			logger.Error().Err(err).Msg("Failed to apply worker callback")
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to apply callback"})
		}
		return
	}

	if !applied {
		metrics.WebhookRequestsTotal.WithLabelValues("worker", eventType, "ignored").Inc()
		logger.Info().Msg("Worker callback ignored for current project status")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	metrics.WebhookRequestsTotal.WithLabelValues("worker", eventType, "applied").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
