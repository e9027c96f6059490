package routes

import (
	"github.com/gofiber/fiber/v2"

	"bursar-backend/controllers"
	"bursar-backend/middlewares"
)

// Register wires all HTTP routes.
func Register(app *fiber.App) {
	api := app.Group("/api")

	// Public auth endpoints
	api.Post("/registration", controllers.Register)
	api.Post("/login", controllers.Login)
	api.Post("/logout", controllers.Logout)

	// Protected endpoints (JWT auth)
	protected := api.Group("")
	protected.Use(middlewares.IsAuthenticatedHeader())

	// Invoices (issue, query, void)
	protected.Post("/invoices", controllers.IssueInvoice)
	protected.Get("/invoices", controllers.GetInvoices)
	protected.Get("/invoices/:id", controllers.GetInvoice)
	protected.Post("/invoices/:id/void", controllers.VoidInvoice)

	// Payments (requires Idempotency-Key header)
	protected.Post("/payments", controllers.RecordPayment)
	protected.Get("/payments/:id", controllers.GetPayment)
	protected.Post("/payments/:id/refund", controllers.RefundPayment)

	// Account summaries
	protected.Get("/accounts/:studentId/summary", controllers.GetAccountSummary)

	// Journal queries
	protected.Get("/journal-records", controllers.GetJournalRecords)

	// Pricing tiers
	protected.Post("/pricing-tiers", controllers.CreatePricingTier)
	protected.Get("/pricing-tiers", controllers.GetPricingTiers)

	// Discount rules (versioned)
	protected.Post("/discount-rules", controllers.CreateDiscountRule)
	protected.Get("/discount-rules", controllers.GetDiscountRules)
	protected.Patch("/discount-rules/:id", controllers.UpdateDiscountRule)

	// Reconciliation
	protected.Post("/reconciliation/feed", controllers.IngestReconciliationFeed)
	protected.Get("/reconciliation/unresolved", controllers.GetUnresolvedReconciliationRecords)
	protected.Post("/reconciliation/:id/resolve", controllers.ResolveReconciliationRecord)
}
