package controllers

import (
	"time"

	"bursar-backend/cache"
	"bursar-backend/database"
	"bursar-backend/middlewares"
	"bursar-backend/models"
	"bursar-backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type createPricingTierRequest struct {
	BillableItemRef string          `json:"billable_item_ref" validate:"required,max=128"`
	Amount          decimal.Decimal `json:"amount" validate:"required"`
	EffectiveFrom   time.Time       `json:"effective_from" validate:"required"`
	EffectiveTo     *time.Time      `json:"effective_to"`
}

// CreatePricingTier adds a new effective-dated price for a billable item.
// Existing tiers are never edited; overlaps are resolved at pricing time by
// the latest EffectiveFrom.
func CreatePricingTier(c *fiber.Ctx) error {
	var req createPricingTierRequest
	if err := middlewares.BindAndValidate(c, &req); err != nil {
		return err
	}
	utils.NormalizeDTO(&req)

	if req.Amount.IsNegative() {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "amount must not be negative")
	}
	if req.EffectiveTo != nil && !req.EffectiveTo.After(req.EffectiveFrom) {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "effective_to must be after effective_from")
	}

	tier := models.PricingTier{
		BillableItemRef: req.BillableItemRef,
		Amount:          utils.RoundMoney(req.Amount),
		EffectiveFrom:   req.EffectiveFrom,
		EffectiveTo:     req.EffectiveTo,
	}
	if err := database.DB.Create(&tier).Error; err != nil {
		return err
	}
	cache.BustPricingTiers(c.Context(), tier.BillableItemRef)

	return c.Status(fiber.StatusCreated).JSON(tier)
}

func GetPricingTiers(c *fiber.Ctx) error {
	limit := utils.ParseIntDefault(c.Query("limit"), 100)
	query := database.DB.Order("billable_item_ref, effective_from DESC").Limit(limit)
	if ref := c.Query("billable_item_ref"); ref != "" {
		query = query.Where("billable_item_ref = ?", ref)
	}

	var tiers []models.PricingTier
	if err := query.Find(&tiers).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"pricing_tiers": tiers,
		"message":       "success",
	})
}
