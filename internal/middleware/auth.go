package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"karatrack-backend/internal/config"
	"karatrack-backend/internal/models"
)

const (
	UserIDKey = "user_id"
	EmailKey  = "user_email"
)

// accessClaims is the subset of a Supabase access token the API reads.
type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies a Supabase access token (HS256, project JWT
// secret) and stores the subject and email in the gin context.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	keyFunc := func(*jwt.Token) (interface{}, error) {
		if cfg.SupabaseJWTSecret == "" {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.SupabaseJWTSecret), nil
	}

	return func(c *gin.Context) {
		raw, msg := bearerToken(c.GetHeader("Authorization"))
		if msg != "" {
			unauthorized(c, msg, "")
			return
		}

		var claims accessClaims
		if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
			unauthorized(c, "invalid token", describeTokenError(err))
			return
		}
		if claims.Subject == "" {
			unauthorized(c, "missing user id in token", "")
			return
		}

		c.Set(UserIDKey, claims.Subject)
		if claims.Email != "" {
			c.Set(EmailKey, claims.Email)
		}
		c.Next()
	}
}

// bearerToken pulls the token out of an Authorization header. A non-empty
// second result is the rejection message.
func bearerToken(header string) (string, string) {
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func describeTokenError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "token signature is invalid"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token has expired"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "token has no expiry"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "token is malformed, send a Supabase access token"
	}
	return "token could not be verified"
}

func unauthorized(c *gin.Context, msg, detail string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: msg, Message: detail})
}
