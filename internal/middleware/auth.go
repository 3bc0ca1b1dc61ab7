package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fleet-trip-api/internal/models"
	appErrors "github.com/noah-isme/fleet-trip-api/pkg/errors"
	"github.com/noah-isme/fleet-trip-api/pkg/response"
)

// ContextUserKey is where JWT stores the caller's claims.
const ContextUserKey = "currentUser"

// TokenValidator turns a bearer token into the request actor.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// Actor returns the claims stored by JWT, or nil on unauthenticated routes.
func Actor(c *gin.Context) *models.JWTClaims {
	value, _ := c.Get(ContextUserKey)
	claims, _ := value.(*models.JWTClaims)
	return claims
}

func abort(c *gin.Context, err error) {
	response.Error(c, err)
	c.Abort()
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	token = strings.TrimSpace(token)
	return token, ok && strings.EqualFold(scheme, "Bearer") && token != ""
}

// JWT authenticates the request from its Authorization header.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing bearer token"))
			return
		}
		token, ok := bearerToken(header)
		if !ok {
			abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			return
		}
		claims, err := validator.ValidateToken(token)
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// RequireRoles lets through only actors holding one of roles. Mount it after JWT.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := Actor(c)
		switch {
		case actor == nil:
			abort(c, appErrors.ErrUnauthorized)
		case !actor.HasRole(roles...):
			abort(c, appErrors.Clone(appErrors.ErrForbidden, "role "+string(actor.Role)+" cannot access this route"))
		default:
			c.Next()
		}
	}
}
