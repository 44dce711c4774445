package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"karatrack-backend/internal/models"
)

// AccountProvisioner creates a profile the first time a user is seen.
type AccountProvisioner interface {
	EnsureAccount(ctx context.Context, userID uuid.UUID, email string) (*models.User, error)
}

// EnsureAccount runs after AuthMiddleware. A user's first authenticated
// request is their signup: the profile is created with the starting grant.
func EnsureAccount(accounts AccountProvisioner) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(c.GetString(UserIDKey))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "invalid user id",
				Message: "token subject is not a valid user id",
			})
			return
		}

		if _, err := accounts.EnsureAccount(c.Request.Context(), userID, c.GetString(EmailKey)); err != nil {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to provision account")
			c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{
				Error: "failed to load account",
			})
			return
		}
		c.Next()
	}
}
