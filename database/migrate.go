package database

import (
	"fmt"

	"bursar-backend/models"

	"gorm.io/gorm"
)

// Migrate applies (idempotent) schema migrations:
// - AutoMigrate (tables/columns)
// - Money column types (NUMERIC(12,2))
// - Partial unique index on invoices.billing_key excluding VOID
// - Basic CHECK constraints on amounts
// - Seed chart of accounts and the invoice sequence row
func Migrate(sequencePrefix string) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&models.User{},
			&models.StudentAccount{},
			&models.PricingTier{},
			&models.DiscountRule{},
			&models.Invoice{},
			&models.LineItem{},
			&models.InvoiceSequence{},
			&models.Payment{},
			&models.PaymentAllocation{},
			&models.GLAccount{},
			&models.GLJournalRecord{},
			&models.GLEntry{},
			&models.ReconciliationRecord{},
			&models.IdempotencyKey{},
			&models.OutboxMessage{},
		); err != nil {
			return fmt.Errorf("automigrate failed: %w", err)
		}

		// --- Enforce money columns as NUMERIC(12,2) (idempotent ALTERs) ---
		alters := []string{
			`ALTER TABLE student_accounts       ALTER COLUMN balance     TYPE numeric(12,2)`,
			`ALTER TABLE pricing_tiers          ALTER COLUMN amount      TYPE numeric(12,2)`,
			`ALTER TABLE discount_rules         ALTER COLUMN flat_amount TYPE numeric(12,2)`,
			`ALTER TABLE invoices               ALTER COLUMN total       TYPE numeric(12,2)`,
			`ALTER TABLE invoices               ALTER COLUMN paid_total  TYPE numeric(12,2)`,
			`ALTER TABLE line_items             ALTER COLUMN amount      TYPE numeric(12,2)`,
			`ALTER TABLE payments               ALTER COLUMN amount      TYPE numeric(12,2)`,
			`ALTER TABLE payment_allocations    ALTER COLUMN amount      TYPE numeric(12,2)`,
			`ALTER TABLE gl_entries             ALTER COLUMN debit       TYPE numeric(12,2)`,
			`ALTER TABLE gl_entries             ALTER COLUMN credit      TYPE numeric(12,2)`,
			`ALTER TABLE reconciliation_records ALTER COLUMN amount      TYPE numeric(12,2)`,
		}
		for _, stmt := range alters {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("money type migration failed on: %s - %w", stmt, err)
			}
		}

		// --- Indexes (idempotent) ---
		indexes := []string{
			// Billing-context idempotency: unique among non-void invoices so a
			// voided context can be reissued.
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_billing_key_live ON invoices (billing_key) WHERE status <> 'VOID'`,
			`CREATE INDEX IF NOT EXISTS idx_payments_account_received ON payments (student_account_id, received_at)`,
			`CREATE INDEX IF NOT EXISTS idx_payment_allocations_invoice ON payment_allocations (invoice_id)`,
			`CREATE INDEX IF NOT EXISTS idx_gl_entries_record ON gl_entries (journal_record_id)`,
		}
		for _, stmt := range indexes {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("index migration failed on: %s - %w", stmt, err)
			}
		}

		// --- Basic CHECK constraints (idempotent) ---
		checks := []struct{ table, name, expr string }{
			{"payments", "chk_payments_amount_positive", "amount > 0"},
			{"payment_allocations", "chk_payment_allocations_amount_positive", "amount > 0"},
			{"gl_entries", "chk_gl_entries_debit_nonneg", "debit >= 0"},
			{"gl_entries", "chk_gl_entries_credit_nonneg", "credit >= 0"},
			{"pricing_tiers", "chk_pricing_tiers_amount_nonneg", "amount >= 0"},
		}
		for _, c := range checks {
			stmt := fmt.Sprintf(`
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_constraint
		WHERE conrelid = '%s'::regclass
		  AND conname  = '%s'
	) THEN
		ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s);
	END IF;
END $$;`, c.table, c.name, c.table, c.name, c.expr)
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("check constraint migration failed on %s: %w", c.name, err)
			}
		}

		if err := seedChartOfAccounts(tx); err != nil {
			return err
		}
		return seedSequence(tx, sequencePrefix)
	})
}

// seedChartOfAccounts installs the accounts the posting templates map to.
// Posting never guesses an account: a template referencing an unseeded code is
// a configuration error at runtime.
func seedChartOfAccounts(tx *gorm.DB) error {
	accounts := []models.GLAccount{
		{Code: models.GLCodeCashClearing, Name: "Cash / Payment Clearing", Type: models.GLAccountAsset},
		{Code: models.GLCodeAccountsReceivable, Name: "Accounts Receivable", Type: models.GLAccountAsset},
		{Code: models.GLCodeStudentCredits, Name: "Student Credit Balances", Type: models.GLAccountLiability},
		{Code: models.GLCodeTaxPayable, Name: "Tax Payable", Type: models.GLAccountLiability},
		{Code: "3000", Name: "Retained Earnings", Type: models.GLAccountEquity},
		{Code: models.GLCodeTuitionRevenue, Name: "Tuition Revenue", Type: models.GLAccountRevenue},
		{Code: models.GLCodeFeeRevenue, Name: "Fee Revenue", Type: models.GLAccountRevenue},
		{Code: models.GLCodeDiscountsGiven, Name: "Discounts & Scholarships Given", Type: models.GLAccountContraRevenue},
	}
	for _, account := range accounts {
		if err := tx.Where(models.GLAccount{Code: account.Code}).
			FirstOrCreate(&account).Error; err != nil {
			return fmt.Errorf("seeding gl account %s failed: %w", account.Code, err)
		}
	}
	return nil
}

func seedSequence(tx *gorm.DB, prefix string) error {
	seq := models.InvoiceSequence{Prefix: prefix}
	if err := tx.Where(models.InvoiceSequence{Prefix: prefix}).
		FirstOrCreate(&seq).Error; err != nil {
		return fmt.Errorf("seeding invoice sequence failed: %w", err)
	}
	return nil
}
