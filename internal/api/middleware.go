package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/krishiconnect/chat-service/internal/auth"
	"github.com/krishiconnect/chat-service/pkg/apperrors"
)

const localUserID = "user_id"

// RequireAuth resolves the bearer credential to a user id before any chat
// route runs. No credential, no request.
func RequireAuth(authn *auth.SessionAuthenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := auth.ParseBearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return respondError(c, apperrors.ErrAuthRequired)
		}
		userID, err := authn.Authenticate(c.Context(), token)
		if err != nil {
			return respondError(c, err)
		}
		c.Locals(localUserID, userID)
		return c.Next()
	}
}

func callerID(c *fiber.Ctx) string {
	uid, _ := c.Locals(localUserID).(string)
	return uid
}

func statusFor(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidArgument:
		return fiber.StatusBadRequest
	case apperrors.CodeUnauthenticated:
		return fiber.StatusUnauthorized
	case apperrors.CodePermissionDenied:
		return fiber.StatusForbidden
	case apperrors.CodeNotFound:
		return fiber.StatusNotFound
	case apperrors.CodeRateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, err error) error {
	code := apperrors.CodeOf(err)
	msg := "internal error"
	var ae *apperrors.AppError
	if errors.As(err, &ae) && code != apperrors.CodeUnknown && code != apperrors.CodeInternal {
		msg = ae.Message
	}
	return c.Status(statusFor(code)).JSON(fiber.Map{
		"status": "error",
		"code":   code,
		"error":  msg,
	})
}
