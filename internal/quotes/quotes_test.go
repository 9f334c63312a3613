package quotes

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/assurtech/insurance-backend/internal/auth"
	"github.com/assurtech/insurance-backend/internal/notify"
	"github.com/assurtech/insurance-backend/internal/pricing"
	"github.com/assurtech/insurance-backend/pkg/models"
)

/* ===== helpers ===== */

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_ = godotenv.Load()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Quote{}, &models.Policy{},
		&models.Claim{}, &models.ClaimFile{}, &models.Payment{},
		&models.Notification{}, &models.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	audit_logs,
	notifications,
	payments,
	claim_files,
	claims,
	policies,
	quotes,
	users
RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

func seedUser(t *testing.T, db *gorm.DB, role models.Role) uuid.UUID {
	t.Helper()
	id := uuid.New()
	email := fmt.Sprintf("u+%s@test.local", uuid.NewString())
	if err := db.Create(&models.User{ID: id, Email: email, PasswordHash: "x", Role: role}).Error; err != nil {
		t.Fatal(err)
	}
	return id
}

func injectAuth(userID uuid.UUID, role string) fiber.Handler {
	id := userID.String()
	return func(c *fiber.Ctx) error {
		c.Locals("userID", id)
		c.Locals("role", role)
		return c.Next()
	}
}

func newTestApp(h *Handler, userID uuid.UUID, role string) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: auth.ErrorHandler})
	app.Post("/api/quotes/public", h.CreatePublic)
	app.Use(injectAuth(userID, role))
	app.Post("/api/quotes", h.Create)
	app.Get("/api/quotes/mine", h.ListMine)
	app.Put("/api/quotes/admin/:id", h.UpdateStatus)
	app.Delete("/api/quotes/:id", h.Delete)
	return app
}

func newQuoteHandler(db *gorm.DB) *Handler {
	return NewHandler(db, pricing.NewEngine(pricing.DefaultTables()), notify.NewService(db))
}

/* ================== TESTS ================== */

func Test_CreateQuote_PersistsPendingWithPricing(t *testing.T) {
	db := openTestDB(t)
	clientID := seedUser(t, db, models.RoleClient)

	h := newQuoteHandler(db)
	app := newTestApp(h, clientID, string(models.RoleClient))

	body := `{"vehicle_type":"car","coverage_tier":"standard","driver_age":22,"vehicle_age":3,"vehicle_value":180000,"city":"Casablanca","driving_experience":4,"vehicle_brand":"Dacia"}`
	req := httptest.NewRequest("POST", "/api/quotes", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 201 {
		t.Fatalf("create got %d", resp.StatusCode)
	}

	var out struct {
		Quote struct {
			ID            uuid.UUID `json:"ID"`
			QuoteNumber   string
			AnnualPremium string
			Status        string
		} `json:"quote"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	var q models.Quote
	if err := db.First(&q, "user_id = ?", clientID).Error; err != nil {
		t.Fatal(err)
	}
	if q.Status != models.QuotePending {
		t.Fatalf("want pending, got %s", q.Status)
	}
	if !strings.HasPrefix(q.QuoteNumber, "QUO-") {
		t.Fatalf("bad quote number %q", q.QuoteNumber)
	}
	if q.AnnualPremium.String() != "11167" {
		t.Fatalf("want annual 11167, got %s", q.AnnualPremium)
	}

	var audits int64
	_ = db.Model(&models.AuditLog{}).
		Where("entity = ? AND entity_id = ? AND action = ?", "quote", q.ID, "created").
		Count(&audits).Error
	if audits != 1 {
		t.Fatalf("want 1 audit row, got %d", audits)
	}
}

func Test_CreatePublicQuote_RequiresCustomerInfo(t *testing.T) {
	db := openTestDB(t)

	h := newQuoteHandler(db)
	app := newTestApp(h, uuid.New(), string(models.RoleClient))

	body := `{"vehicle_type":"moto","coverage_tier":"basic"}`
	req := httptest.NewRequest("POST", "/api/quotes/public", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("want 400 without customer info, got %d", resp.StatusCode)
	}

	body = `{"vehicle_type":"moto","coverage_tier":"basic","customer_name":"Yousra B","customer_email":"yousra@test.local"}`
	req = httptest.NewRequest("POST", "/api/quotes/public", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 201 {
		t.Fatalf("want 201 with customer info, got %d", resp.StatusCode)
	}

	var q models.Quote
	if err := db.First(&q, "customer_email = ?", "yousra@test.local").Error; err != nil {
		t.Fatal(err)
	}
	if q.UserID != nil {
		t.Fatalf("anonymous quote must have no user, got %v", q.UserID)
	}
}

func Test_CreateQuote_InvalidCoverageRejected(t *testing.T) {
	db := openTestDB(t)
	clientID := seedUser(t, db, models.RoleClient)

	h := newQuoteHandler(db)
	app := newTestApp(h, clientID, string(models.RoleClient))

	body := `{"vehicle_type":"truck","coverage_tier":"standard"}`
	req := httptest.NewRequest("POST", "/api/quotes", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("want 400 for unknown vehicle type, got %d", resp.StatusCode)
	}
}

func Test_ApproveQuote_OpensExactlyOnePolicy(t *testing.T) {
	db := openTestDB(t)
	clientID := seedUser(t, db, models.RoleClient)
	adminID := seedUser(t, db, models.RoleAdmin)

	h := newQuoteHandler(db)
	clientApp := newTestApp(h, clientID, string(models.RoleClient))

	body := `{"vehicle_type":"car","coverage_tier":"basic","driver_age":40,"driving_experience":15}`
	req := httptest.NewRequest("POST", "/api/quotes", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := clientApp.Test(req, -1)
	if resp.StatusCode != 201 {
		t.Fatalf("create got %d", resp.StatusCode)
	}

	var q models.Quote
	if err := db.First(&q, "user_id = ?", clientID).Error; err != nil {
		t.Fatal(err)
	}

	adminApp := newTestApp(h, adminID, string(models.RoleAdmin))
	approve := `{"status":"approved","admin_comment":"ok"}`
	for i := 0; i < 2; i++ { // second approval must not open a second policy
		req = httptest.NewRequest("PUT", "/api/quotes/admin/"+q.ID.String(), strings.NewReader(approve))
		req.Header.Set("Content-Type", "application/json")
		resp, _ = adminApp.Test(req, -1)
		if resp.StatusCode != 200 {
			t.Fatalf("approve-%d got %d", i+1, resp.StatusCode)
		}
	}

	var cnt int64
	if err := db.Model(&models.Policy{}).Where("quote_id = ?", q.ID).Count(&cnt).Error; err != nil {
		t.Fatal(err)
	}
	if cnt != 1 {
		t.Fatalf("want exactly 1 policy, got %d", cnt)
	}

	var pol models.Policy
	if err := db.First(&pol, "quote_id = ?", q.ID).Error; err != nil {
		t.Fatal(err)
	}
	if pol.Status != models.PolicyActive {
		t.Fatalf("want active policy, got %s", pol.Status)
	}
	if !pol.PremiumAmount.Equal(q.AnnualPremium) {
		t.Fatalf("premium mismatch: policy %s, quote %s", pol.PremiumAmount, q.AnnualPremium)
	}

	if err := db.First(&q, "id = ?", q.ID).Error; err != nil {
		t.Fatal(err)
	}
	if q.PolicyID == nil || *q.PolicyID != pol.ID {
		t.Fatalf("quote back-reference not set: %v", q.PolicyID)
	}
}

func Test_ApproveAnonymousQuote_ApprovedButUnprovisioned(t *testing.T) {
	db := openTestDB(t)
	adminID := seedUser(t, db, models.RoleAdmin)

	h := newQuoteHandler(db)
	app := newTestApp(h, adminID, string(models.RoleAdmin))

	body := `{"vehicle_type":"moto","coverage_tier":"basic","customer_name":"Anon Y","customer_email":"anon@test.local"}`
	req := httptest.NewRequest("POST", "/api/quotes/public", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 201 {
		t.Fatalf("create got %d", resp.StatusCode)
	}

	var q models.Quote
	if err := db.First(&q, "customer_email = ?", "anon@test.local").Error; err != nil {
		t.Fatal(err)
	}

	req = httptest.NewRequest("PUT", "/api/quotes/admin/"+q.ID.String(), strings.NewReader(`{"status":"approved"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("approve got %d", resp.StatusCode)
	}

	var out struct {
		Warning string `json:"warning"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out.Warning == "" {
		t.Fatal("expected a provisioning warning for an ownerless quote")
	}

	// The approval itself sticks
	if err := db.First(&q, "id = ?", q.ID).Error; err != nil {
		t.Fatal(err)
	}
	if q.Status != models.QuoteApproved {
		t.Fatalf("want approved, got %s", q.Status)
	}
	if q.PolicyID != nil {
		t.Fatal("no policy should exist for an ownerless quote")
	}

	var audits int64
	_ = db.Model(&models.AuditLog{}).
		Where("entity_id = ? AND action = ?", q.ID, "policy_provision_failed").
		Count(&audits).Error
	if audits != 1 {
		t.Fatalf("want 1 provision-failed audit row, got %d", audits)
	}
}

func Test_ListMine_ReturnsOnlyMyQuotes(t *testing.T) {
	db := openTestDB(t)
	alice := seedUser(t, db, models.RoleClient)
	bob := seedUser(t, db, models.RoleClient)

	h := newQuoteHandler(db)

	for owner, city := range map[uuid.UUID]string{alice: "Rabat", bob: "Oujda"} {
		app := newTestApp(h, owner, string(models.RoleClient))
		body := `{"vehicle_type":"car","coverage_tier":"basic","city":"` + city + `"}`
		req := httptest.NewRequest("POST", "/api/quotes", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req, -1)
		if resp.StatusCode != 201 {
			t.Fatalf("create got %d", resp.StatusCode)
		}
	}

	app := newTestApp(h, alice, string(models.RoleClient))
	req := httptest.NewRequest("GET", "/api/quotes/mine?page=1&pageSize=50", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("got %d", resp.StatusCode)
	}

	var out struct {
		Items []struct {
			QuoteNumber string `json:"quote_number"`
		} `json:"items"`
		Total int64 `json:"total"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out.Total != 1 || len(out.Items) != 1 {
		t.Fatalf("expected 1 own quote, got total=%d items=%d", out.Total, len(out.Items))
	}
}

func Test_DeleteQuote_ForbiddenForNonOwner(t *testing.T) {
	db := openTestDB(t)
	alice := seedUser(t, db, models.RoleClient)
	bob := seedUser(t, db, models.RoleClient)

	h := newQuoteHandler(db)
	aliceApp := newTestApp(h, alice, string(models.RoleClient))

	body := `{"vehicle_type":"car","coverage_tier":"basic"}`
	req := httptest.NewRequest("POST", "/api/quotes", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := aliceApp.Test(req, -1)
	if resp.StatusCode != 201 {
		t.Fatalf("create got %d", resp.StatusCode)
	}

	var q models.Quote
	if err := db.First(&q, "user_id = ?", alice).Error; err != nil {
		t.Fatal(err)
	}

	bobApp := newTestApp(h, bob, string(models.RoleClient))
	req = httptest.NewRequest("DELETE", "/api/quotes/"+q.ID.String(), nil)
	resp, _ = bobApp.Test(req, -1)
	if resp.StatusCode != 403 {
		t.Fatalf("want 403, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest("DELETE", "/api/quotes/"+q.ID.String(), nil)
	resp, _ = aliceApp.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("owner delete got %d", resp.StatusCode)
	}
}
