package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/gdsec-test/dcu-middleware/pkg/util/errorutil"
)

const serviceKey = "auth_service"

// AuthMiddleware validates bearer service tokens.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}
	if claims.Service == "" {
		return apperrors.NewUnauthorized("token carries no service")
	}

	c.Locals(serviceKey, claims.Service)
	return c.Next()
}

// ServiceFromContext returns the authenticated calling service.
func ServiceFromContext(c *fiber.Ctx) (string, bool) {
	service, ok := c.Locals(serviceKey).(string)
	return service, ok && service != ""
}
