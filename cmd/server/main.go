// @title           AssurTech Insurance API
// @version         1.0
// @description     API for an auto-insurance platform: visitors request priced quotes, admins approve them into policies, clients file claims with supporting documents, and premiums are charged and refunded per policy.
// @BasePath        /api
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
// @description     Format: Bearer <token>
package main

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"github.com/assurtech/insurance-backend/pkg/database"
	"github.com/assurtech/insurance-backend/pkg/models"

	"github.com/assurtech/insurance-backend/internal/auth"
	"github.com/assurtech/insurance-backend/internal/claims"
	"github.com/assurtech/insurance-backend/internal/notify"
	"github.com/assurtech/insurance-backend/internal/payments"
	"github.com/assurtech/insurance-backend/internal/policies"
	"github.com/assurtech/insurance-backend/internal/pricing"
	"github.com/assurtech/insurance-backend/internal/quotes"
	"github.com/assurtech/insurance-backend/internal/storage"
)

func main() {
	_ = godotenv.Load()

	db := database.Init()
	if err := db.AutoMigrate(
		&models.User{}, &models.Quote{}, &models.Policy{},
		&models.Claim{}, &models.ClaimFile{}, &models.Payment{},
		&models.Notification{}, &models.AuditLog{},
	); err != nil {
		log.Fatal("migration failed:", err)
	}
	auth.SeedAdmin(db) // uses ADMIN_EMAIL / ADMIN_PASSWORD

	app := fiber.New(fiber.Config{
		ErrorHandler: auth.ErrorHandler,
	})

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	api := app.Group("/api")

	// Auth
	authH := auth.NewHandler(db)
	api.Post("/signup", authH.Signup)
	api.Post("/login", authH.Login)
	api.Get("/me", auth.RequireAuth(), authH.Me)

	// Shared services
	notifier := notify.NewService(db) // uses SMTP_* env; no-op email when unset
	engine := pricing.NewEngine(pricing.DefaultTables())
	sb := storage.NewSupabase() // uses SUPABASE_URL / SUPABASE_SERVICE_KEY / SUPABASE_BUCKET

	// Quotes
	quoteH := quotes.NewHandler(db, engine, notifier)
	api.Post("/quotes/public", quoteH.CreatePublic) // anonymous pricing
	api.Post("/quotes", auth.RequireAuth(), quoteH.Create)
	api.Get("/quotes/mine", auth.RequireAuth(), quoteH.ListMine)
	api.Get("/quotes/admin", auth.RequireAuth(), auth.RequireRole("admin"), quoteH.ListAdmin)
	api.Get("/quotes/number/:number", auth.RequireAuth(), quoteH.GetByNumber)
	api.Get("/quotes/:id", auth.RequireAuth(), quoteH.Get)
	api.Put("/quotes/admin/:id", auth.RequireAuth(), auth.RequireRole("admin"), quoteH.UpdateStatus)
	api.Delete("/quotes/:id", auth.RequireAuth(), quoteH.Delete)

	// Policies
	polH := policies.NewHandler(db, notifier)
	api.Post("/policies", auth.RequireAuth(), auth.RequireRole("admin"), polH.Create)
	api.Get("/policies/mine", auth.RequireAuth(), polH.ListMine)
	api.Get("/policies/admin", auth.RequireAuth(), auth.RequireRole("admin"), polH.ListAdmin)
	api.Get("/policies/:id", auth.RequireAuth(), polH.Get)
	api.Post("/policies/:id/cancel", auth.RequireAuth(), polH.Cancel)
	api.Post("/policies/:id/renew", auth.RequireAuth(), polH.Renew)
	api.Patch("/policies/:id", auth.RequireAuth(), polH.Update)

	// Claims
	claimH := claims.NewHandler(db, sb, notifier)
	api.Post("/claims", auth.RequireAuth(), claimH.File)
	api.Get("/claims", auth.RequireAuth(), claimH.List)
	api.Get("/claims/:id", auth.RequireAuth(), claimH.Get)
	api.Patch("/claims/:id", auth.RequireAuth(), claimH.Edit)
	api.Post("/claims/admin/:id/review", auth.RequireAuth(), auth.RequireRole("admin"), claimH.Review)
	api.Post("/claims/admin/:id/approve", auth.RequireAuth(), auth.RequireRole("admin"), claimH.Approve)
	api.Post("/claims/admin/:id/reject", auth.RequireAuth(), auth.RequireRole("admin"), claimH.Reject)
	api.Post("/claims/admin/:id/settle", auth.RequireAuth(), auth.RequireRole("admin"), claimH.Settle)
	api.Post("/claims/:id/files", auth.RequireAuth(), claimH.UploadFile)
	api.Get("/claim-files/:fileID/signed-url", auth.RequireAuth(), claimH.SignedDownloadURL)
	api.Delete("/claim-files/:fileID", auth.RequireAuth(), claimH.DeleteFile)

	// Payments
	payH := payments.NewHandler(db, notifier)
	api.Post("/payments", auth.RequireAuth(), auth.RequireRole("admin"), payH.Create)
	api.Get("/payments/mine", auth.RequireAuth(), payH.ListMine)
	api.Get("/payments/admin", auth.RequireAuth(), auth.RequireRole("admin"), payH.ListAdmin)
	api.Post("/payments/:id/complete", auth.RequireAuth(), auth.RequireRole("admin"), payH.Complete)
	api.Post("/payments/:id/refund", auth.RequireAuth(), auth.RequireRole("admin"), payH.Refund)

	// Notifications
	notifH := notify.NewHandler(db)
	api.Get("/notifications", auth.RequireAuth(), notifH.List)
	api.Post("/notifications/:id/read", auth.RequireAuth(), notifH.MarkRead)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	log.Println("Server running on :" + port)
	log.Fatal(app.Listen(":" + port))
}
