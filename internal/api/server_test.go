package api

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishiconnect/chat-service/pkg/apperrors"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		code apperrors.Code
		want int
	}{
		{apperrors.CodeInvalidArgument, fiber.StatusBadRequest},
		{apperrors.CodeUnauthenticated, fiber.StatusUnauthorized},
		{apperrors.CodePermissionDenied, fiber.StatusForbidden},
		{apperrors.CodeNotFound, fiber.StatusNotFound},
		{apperrors.CodeRateLimited, fiber.StatusTooManyRequests},
		{apperrors.CodeInternal, fiber.StatusInternalServerError},
		{apperrors.CodeDecryptionFailed, fiber.StatusInternalServerError},
		{apperrors.CodeUnknown, fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.code), "code %s", tc.code)
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	app := fiber.New()
	app.Get("/boom", func(c *fiber.Ctx) error {
		return respondError(c, apperrors.Wrap(apperrors.CodeInternal, "mongo exploded: credentials leaked", nil))
	})
	app.Get("/forbidden", func(c *fiber.Ctx) error {
		return respondError(c, apperrors.ErrNotParticipant)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/forbidden", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
