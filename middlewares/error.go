package middlewares

import (
	"errors"

	"bursar-backend/ledger"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ErrorHandler centralizes error responses and keeps messages sanitized.
func ErrorHandler(c *fiber.Ctx, err error) error {
	// 1) Ledger errors: the kind carries the status, the payload carries enough
	// structure (kind + entity ids) to render a precise message.
	var le *ledger.Error
	if errors.As(err, &le) {
		return c.Status(statusForKind(le.Kind)).JSON(fiber.Map{
			"message":   le.Message,
			"kind":      le.Kind,
			"entity":    le.Entity,
			"entity_id": le.EntityID,
		})
	}

	// 2) Fiber errors (use their status code + message)
	if fe, ok := err.(*fiber.Error); ok {
		return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
	}

	// 3) Validation errors (422 + per-field info)
	if ve, ok := err.(validator.ValidationErrors); ok {
		out := make(map[string]string, len(ve))
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"message": "validation failed",
			"errors":  out,
		})
	}

	// 4) Unknown errors (500)
	logrus.WithError(err).Error("internal error")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"message": "internal server error",
	})
}

func statusForKind(kind ledger.Kind) int {
	switch kind {
	case ledger.KindValidation:
		return fiber.StatusUnprocessableEntity
	case ledger.KindNotFound:
		return fiber.StatusNotFound
	case ledger.KindConflict:
		return fiber.StatusConflict
	case ledger.KindConfiguration:
		// Blocks the operation; surfaced to the operator queue, not retried.
		return fiber.StatusUnprocessableEntity
	default:
		// Invariant violations are defects.
		return fiber.StatusInternalServerError
	}
}
