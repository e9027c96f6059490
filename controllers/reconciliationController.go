package controllers

import (
	"strconv"

	"bursar-backend/database"
	"bursar-backend/ledger"
	"bursar-backend/middlewares"

	"github.com/gofiber/fiber/v2"
)

type feedIntakeRequest struct {
	Records []ledger.FeedRecordInput `json:"records" validate:"required,min=1,dive"`
}

// IngestReconciliationFeed stores a bank feed batch and immediately runs the
// matcher over all unresolved records.
func IngestReconciliationFeed(c *fiber.Ctx) error {
	var req feedIntakeRequest
	if err := middlewares.BindAndValidate(c, &req); err != nil {
		return err
	}

	records, err := ledger.IngestFeedRecords(database.DB, req.Records)
	if err != nil {
		return err
	}
	matched, err := ledger.RunMatcher(database.DB)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"ingested": len(records),
		"matched":  matched,
	})
}

func GetUnresolvedReconciliationRecords(c *fiber.Ctx) error {
	records, err := ledger.ListUnresolvedReconciliationRecords(database.DB)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"records": records,
		"message": "success",
	})
}

type resolveReconciliationRequest struct {
	PaymentID string `json:"payment_id" validate:"required,uuid4"`
}

// ResolveReconciliationRecord lets an operator pin an unresolved feed record
// to a payment. The resolver's user id is taken from the session.
func ResolveReconciliationRecord(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid record id")
	}

	var req resolveReconciliationRequest
	if err := middlewares.BindAndValidate(c, &req); err != nil {
		return err
	}

	resolvedBy, _ := c.Locals("userID").(string)
	record, err := ledger.ResolveManually(database.DB, uint(id), req.PaymentID, resolvedBy)
	if err != nil {
		return err
	}
	return c.JSON(record)
}
