package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"karatrack-backend/internal/middleware"
	"karatrack-backend/internal/models"
	"karatrack-backend/internal/runpod"
	"karatrack-backend/internal/services"
)

// responder turns service errors into the JSON error envelope. With
// hideDetail set, unexpected errors carry no message.
type responder struct {
	hideDetail bool
}

func (r responder) fail(c *gin.Context, err error) {
	var validationErr *services.ValidationError
	var creditsErr *services.InsufficientCreditsError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "validation failed", Message: validationErr.Error()})
	case errors.As(err, &creditsErr):
		c.JSON(http.StatusPaymentRequired, models.InsufficientCreditsResponse{
			Error:            "insufficient credits",
			Message:          creditsErr.Error(),
			CreditsNeeded:    creditsErr.Needed,
			CreditsAvailable: creditsErr.Available,
			Shortfall:        creditsErr.Shortfall,
		})
	case errors.Is(err, services.ErrFeatureNotAvailable):
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "feature not available", Message: err.Error()})
	case errors.Is(err, models.ErrProjectNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "project not found"})
	case errors.Is(err, models.ErrUserNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "account not found"})
	case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, services.ErrProjectNotReady):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "invalid project state", Message: err.Error()})
	case errors.Is(err, services.ErrNoBillingAccount):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "no billing account", Message: "purchase a plan or credits first"})
	case errors.Is(err, runpod.ErrDispatch):
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Worker dispatch failed")
		c.JSON(http.StatusBadGateway, r.internal("failed to start processing", err))
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, r.internal("internal server error", err))
	}
}

func (r responder) internal(msg string, err error) models.ErrorResponse {
	resp := models.ErrorResponse{Error: msg}
	if !r.hideDetail {
		resp.Message = err.Error()
	}
	return resp
}

func userID(c *gin.Context) (uuid.UUID, bool) {
	userIDStr, exists := c.Get(middleware.UserIDKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "user id not found"})
		return uuid.Nil, false
	}

	id, err := uuid.Parse(userIDStr.(string))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid user id"})
		return uuid.Nil, false
	}
	return id, true
}

func projectID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("project_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid project id"})
		return uuid.Nil, false
	}
	return id, true
}
