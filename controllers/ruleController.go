package controllers

import (
	"strconv"
	"time"

	"bursar-backend/database"
	"bursar-backend/middlewares"
	"bursar-backend/models"
	"bursar-backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type createDiscountRuleRequest struct {
	Code           string                `json:"code" validate:"required,max=64"`
	Description    string                `json:"description" validate:"max=255"`
	Precedence     int                   `json:"precedence" validate:"required"`
	StackingPolicy models.StackingPolicy `json:"stacking_policy" validate:"required,oneof=EXCLUSIVE ADDITIVE PERCENT_OF_REMAINDER"`
	Percent        *decimal.Decimal      `json:"percent"`
	FlatAmount     *decimal.Decimal      `json:"flat_amount"`
	Program        string                `json:"program" validate:"max=64"`
	Term           string                `json:"term" validate:"max=32"`
	EffectiveFrom  time.Time             `json:"effective_from" validate:"required"`
	EffectiveTo    *time.Time            `json:"effective_to"`
}

func validateRuleAmounts(percent, flat *decimal.Decimal) error {
	if (percent == nil) == (flat == nil) {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "exactly one of percent or flat_amount must be set")
	}
	if percent != nil && (percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100))) {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "percent must be between 0 and 100")
	}
	if flat != nil && flat.IsNegative() {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "flat_amount must not be negative")
	}
	return nil
}

// CreateDiscountRule creates version 1 of a new rule code, or the next version
// if the code already exists.
func CreateDiscountRule(c *fiber.Ctx) error {
	var req createDiscountRuleRequest
	if err := middlewares.BindAndValidate(c, &req); err != nil {
		return err
	}
	utils.NormalizeDTO(&req)
	if err := validateRuleAmounts(req.Percent, req.FlatAmount); err != nil {
		return err
	}

	var rule models.DiscountRule
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		var lastVersion int
		if err := tx.Model(&models.DiscountRule{}).
			Where("code = ?", req.Code).
			Select("COALESCE(MAX(version), 0)").Scan(&lastVersion).Error; err != nil {
			return err
		}

		rule = models.DiscountRule{
			Code:           req.Code,
			Version:        lastVersion + 1,
			Description:    req.Description,
			Precedence:     req.Precedence,
			StackingPolicy: req.StackingPolicy,
			Percent:        req.Percent,
			FlatAmount:     req.FlatAmount,
			Program:        req.Program,
			Term:           req.Term,
			EffectiveFrom:  req.EffectiveFrom,
			EffectiveTo:    req.EffectiveTo,
		}
		return tx.Create(&rule).Error
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(rule)
}

func GetDiscountRules(c *fiber.Ctx) error {
	limit := utils.ParseIntDefault(c.Query("limit"), 100)
	query := database.DB.Order("code, version DESC").Limit(limit)
	if code := c.Query("code"); code != "" {
		query = query.Where("code = ?", code)
	}

	var rules []models.DiscountRule
	if err := query.Find(&rules).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"discount_rules": rules,
		"message":        "success",
	})
}

type patchDiscountRuleRequest struct {
	Description   *string          `json:"description"`
	Precedence    *int             `json:"precedence"`
	Percent       *decimal.Decimal `json:"percent"`
	FlatAmount    *decimal.Decimal `json:"flat_amount"`
	Program       *string          `json:"program"`
	Term          *string          `json:"term"`
	EffectiveFrom *time.Time       `json:"effective_from"`
	EffectiveTo   *time.Time       `json:"effective_to"`
}

// UpdateDiscountRule patches a rule version. A version already referenced by an
// issued invoice is never modified in place; the patch is materialized as a new
// version and the old one stays attached to history.
func UpdateDiscountRule(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid rule id")
	}

	var req patchDiscountRuleRequest
	if err := middlewares.BindAndValidate(c, &req); err != nil {
		return err
	}
	utils.NormalizePtrDTO(&req)

	var rule models.DiscountRule
	txErr := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&rule, id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "discount rule not found")
		}

		if !rule.Referenced {
			updates := utils.UpdatesFromPtrDTO(&req, nil)
			if len(updates) == 0 {
				return nil
			}
			if err := tx.Model(&rule).Updates(updates).Error; err != nil {
				return err
			}
			return tx.First(&rule, id).Error
		}

		// Referenced version: copy-forward into version+1 with the patch applied.
		next := rule
		next.ID = 0
		next.Version = rule.Version + 1
		next.Referenced = false
		next.CreatedAt = time.Time{}
		next.UpdatedAt = time.Time{}
		if req.Description != nil {
			next.Description = *req.Description
		}
		if req.Precedence != nil {
			next.Precedence = *req.Precedence
		}
		if req.Percent != nil {
			next.Percent = req.Percent
			next.FlatAmount = nil
		}
		if req.FlatAmount != nil {
			next.FlatAmount = req.FlatAmount
			next.Percent = nil
		}
		if req.Program != nil {
			next.Program = *req.Program
		}
		if req.Term != nil {
			next.Term = *req.Term
		}
		if req.EffectiveFrom != nil {
			next.EffectiveFrom = *req.EffectiveFrom
		}
		if req.EffectiveTo != nil {
			next.EffectiveTo = req.EffectiveTo
		}
		if err := validateRuleAmounts(next.Percent, next.FlatAmount); err != nil {
			return err
		}
		if err := tx.Create(&next).Error; err != nil {
			return err
		}
		rule = next
		return nil
	})
	if txErr != nil {
		return txErr
	}
	return c.JSON(rule)
}
