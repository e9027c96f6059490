package controllers

import (
	"bursar-backend/database"
	"bursar-backend/models"
	"bursar-backend/utils"

	"github.com/gofiber/fiber/v2"
)

// GetJournalRecords queries the immutable journal by business reference
// (e.g. reference_type=invoice&reference_id=INV-00000042).
func GetJournalRecords(c *fiber.Ctx) error {
	limit := utils.ParseIntDefault(c.Query("limit"), 100)
	query := database.DB.Preload("Entries").Order("id").Limit(limit)
	if rt := c.Query("reference_type"); rt != "" {
		query = query.Where("reference_type = ?", rt)
	}
	if rid := c.Query("reference_id"); rid != "" {
		query = query.Where("reference_id = ?", rid)
	}
	if et := c.Query("event_type"); et != "" {
		query = query.Where("event_type = ?", et)
	}

	var records []models.GLJournalRecord
	if err := query.Find(&records).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"journal_records": records,
		"message":         "success",
	})
}
