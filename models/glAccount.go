package models

import "time"

type GLAccountType string

const (
	GLAccountAsset         GLAccountType = "ASSET"
	GLAccountLiability     GLAccountType = "LIABILITY"
	GLAccountRevenue       GLAccountType = "REVENUE"
	GLAccountContraRevenue GLAccountType = "CONTRA_REVENUE"
	GLAccountEquity        GLAccountType = "EQUITY"
)

// GLAccount is one node of the chart of accounts. Read-mostly reference data;
// safe to cache.
type GLAccount struct {
	ID        uint          `json:"id" gorm:"primaryKey"`
	Code      string        `json:"code" gorm:"size:16;uniqueIndex;not null"`
	Name      string        `json:"name" gorm:"size:128;not null"`
	Type      GLAccountType `json:"type" gorm:"size:16;not null"`
	CreatedAt time.Time     `json:"created_at"`
}

// Well-known account codes seeded by the migrator. Posting templates look these
// up by code; a missing code is a configuration error, never a guessed account.
const (
	GLCodeAccountsReceivable = "1100"
	GLCodeCashClearing       = "1000"
	GLCodeTuitionRevenue     = "4000"
	GLCodeFeeRevenue         = "4100"
	GLCodeDiscountsGiven     = "4900"
	GLCodeStudentCredits     = "2100"
	GLCodeTaxPayable         = "2200"
)
