package controllers

import (
	"bursar-backend/database"
	"bursar-backend/ledger"

	"github.com/gofiber/fiber/v2"
)

// GetAccountSummary reports the running balance and invoice/payment totals
// for a student account.
func GetAccountSummary(c *fiber.Ctx) error {
	summary, err := ledger.GetAccountSummary(database.DB, c.Params("studentId"))
	if err != nil {
		return err
	}
	return c.JSON(summary)
}
