package controllers

import (
	"bursar-backend/database"
	"bursar-backend/ledger"
	"bursar-backend/middlewares"
	"bursar-backend/models"

	"github.com/gofiber/fiber/v2"
)

// RecordPayment accepts an external payment and allocates it across the
// student's open invoices. Clients must send an Idempotency-Key header so
// retries replay the stored outcome instead of double-crediting.
func RecordPayment(c *fiber.Ctx) error {
	var input ledger.RecordPaymentInput
	if err := middlewares.BindAndValidate(c, &input); err != nil {
		return err
	}
	input.IdempotencyKey = c.Get("Idempotency-Key")
	if input.IdempotencyKey == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key header is required")
	}
	if len(input.IdempotencyKey) > 128 {
		return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key must be at most 128 characters")
	}

	payment, replayed, err := ledger.RecordPayment(c.Context(), database.DB, input)
	if err != nil {
		return err
	}

	status := fiber.StatusCreated
	if replayed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"payment":  payment,
		"replayed": replayed,
	})
}

type refundPaymentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// RefundPayment reverses a payment with a mirrored journal record and restores
// the account balance. The payment row stays, marked refunded.
func RefundPayment(c *fiber.Ctx) error {
	var req refundPaymentRequest
	if err := middlewares.BindAndValidate(c, &req); err != nil {
		return err
	}

	payment, err := ledger.RefundPayment(c.Context(), database.DB, c.Params("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(payment)
}

func GetPayment(c *fiber.Ctx) error {
	var payment models.Payment
	if err := database.DB.Preload("Allocations").
		Where("id = ?", c.Params("id")).First(&payment).Error; err != nil {
		return fiber.NewError(fiber.StatusNotFound, "payment not found")
	}
	return c.JSON(payment)
}
