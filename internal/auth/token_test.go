package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	tok, exp, err := tm.GenerateToken("abuse-api")
	require.NoError(t, err)
	assert.False(t, exp.IsZero())

	claims, err := tm.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "abuse-api", claims.Service)

	_, err = NewTokenManager("other", 5).ParseToken(tok)
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	app := fiber.New()
	app.Get("/v1/ping", NewAuthMiddleware(tm).Handle, func(c *fiber.Ctx) error {
		service, ok := ServiceFromContext(c)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(service)
	})

	tok, _, err := tm.GenerateToken("abuse-api")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/v1/ping", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Without the error-handling middleware fiber's default handler maps the
	// returned error to 500; the status mapping is covered in the http package.
	req = httptest.NewRequest("GET", "/v1/ping", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.NotEqual(t, fiber.StatusOK, resp.StatusCode)
}
