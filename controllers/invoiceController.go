package controllers

import (
	"strconv"

	"bursar-backend/database"
	"bursar-backend/ledger"
	"bursar-backend/middlewares"
	"bursar-backend/models"

	"github.com/gofiber/fiber/v2"
)

// IssueInvoice prices the enrollment/fee charges, applies discount rules and
// issues the invoice. Idempotent per billing context: replays return the
// already-issued invoice.
func IssueInvoice(c *fiber.Ctx) error {
	var input ledger.IssueInvoiceInput
	if err := middlewares.BindAndValidate(c, &input); err != nil {
		return err
	}

	invoice, err := ledger.IssueInvoice(c.Context(), database.DB, input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(invoice)
}

func GetInvoices(c *fiber.Ctx) error {
	query := database.DB.Preload("Items").Order("id")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if studentID := c.Query("student_id"); studentID != "" {
		query = query.Joins("JOIN student_accounts ON student_accounts.id = invoices.student_account_id").
			Where("student_accounts.student_id = ?", studentID)
	}

	var invoices []models.Invoice
	if err := query.Find(&invoices).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"invoices": invoices,
		"message":  "success",
	})
}

func GetInvoice(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid invoice id")
	}

	var invoice models.Invoice
	if err := database.DB.Preload("Items").First(&invoice, id).Error; err != nil {
		return fiber.NewError(fiber.StatusNotFound, "invoice not found")
	}
	return c.JSON(invoice)
}

type voidInvoiceRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// VoidInvoice posts a reversing journal and marks the invoice VOID. The row
// and its sequence number are kept for audit.
func VoidInvoice(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid invoice id")
	}

	var req voidInvoiceRequest
	if err := middlewares.BindAndValidate(c, &req); err != nil {
		return err
	}

	invoice, err := ledger.VoidInvoice(database.DB, uint(id), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(invoice)
}
