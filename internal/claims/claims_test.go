package claims

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/assurtech/insurance-backend/internal/auth"
	"github.com/assurtech/insurance-backend/internal/notify"
	"github.com/assurtech/insurance-backend/internal/storage"
	"github.com/assurtech/insurance-backend/pkg/models"
	"github.com/assurtech/insurance-backend/pkg/utils"
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

func seedPolicy(t *testing.T, db *gorm.DB, userID uuid.UUID) models.Policy {
	t.Helper()
	start := time.Now()
	pol := models.Policy{
		PolicyNumber:     utils.PolicyNumber(),
		UserID:           userID,
		VehicleType:      models.VehicleCar,
		CoverageTier:     models.TierStandard,
		PremiumAmount:    decimal.RequireFromString("11167"),
		StartDate:        start,
		EndDate:          start.AddDate(1, 0, 0),
		Status:           models.PolicyActive,
		PaymentFrequency: models.FrequencyAnnually,
		NextPaymentDate:  start.AddDate(1, 0, 0),
	}
	if err := db.Create(&pol).Error; err != nil {
		t.Fatal(err)
	}
	return pol
}

func seedClaim(t *testing.T, db *gorm.DB, userID, policyID uuid.UUID, status models.ClaimStatus) models.Claim {
	t.Helper()
	cl := models.Claim{
		ClaimNumber:     utils.ClaimNumber(),
		UserID:          userID,
		PolicyID:        policyID,
		Type:            "collision",
		IncidentDate:    time.Now().AddDate(0, 0, -3),
		Description:     "Rear-ended at a red light on Bd Zerktouni.",
		EstimatedAmount: decimal.RequireFromString("8000"),
		Status:          status,
	}
	if err := db.Create(&cl).Error; err != nil {
		t.Fatal(err)
	}
	return cl
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
	app.Use(injectAuth(userID, role))
	app.Post("/api/claims", h.File)
	app.Get("/api/claims", h.List)
	app.Get("/api/claims/:id", h.Get)
	app.Patch("/api/claims/:id", h.Edit)
	app.Post("/api/claims/admin/:id/review", h.Review)
	app.Post("/api/claims/admin/:id/approve", h.Approve)
	app.Post("/api/claims/admin/:id/reject", h.Reject)
	app.Post("/api/claims/admin/:id/settle", h.Settle)
	return app
}

func newClaimHandler(db *gorm.DB) *Handler {
	return NewHandler(db, storage.NewSupabase(), notify.NewService(db))
}

/* ================== TESTS ================== */

func Test_FileClaim_OnlyAgainstOwnPolicy(t *testing.T) {
	db := openTestDB(t)
	alice := seedUser(t, db, models.RoleClient)
	bob := seedUser(t, db, models.RoleClient)
	pol := seedPolicy(t, db, alice)

	h := newClaimHandler(db)
	body := `{"policy_id":"` + pol.ID.String() + `","claim_type":"collision","incident_date":"2026-08-20","estimated_amount":8000}`

	// Unknown policy is 404
	bobApp := newTestApp(h, bob, string(models.RoleClient))
	ghost := `{"policy_id":"` + uuid.NewString() + `","claim_type":"collision","incident_date":"2026-08-20"}`
	req := httptest.NewRequest("POST", "/api/claims", strings.NewReader(ghost))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := bobApp.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("want 404 for unknown policy, got %d", resp.StatusCode)
	}

	// Someone else's policy is 403
	req = httptest.NewRequest("POST", "/api/claims", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = bobApp.Test(req, -1)
	if resp.StatusCode != 403 {
		t.Fatalf("want 403 for foreign policy, got %d", resp.StatusCode)
	}

	aliceApp := newTestApp(h, alice, string(models.RoleClient))
	req = httptest.NewRequest("POST", "/api/claims", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = aliceApp.Test(req, -1)
	if resp.StatusCode != 201 {
		t.Fatalf("file got %d", resp.StatusCode)
	}

	var cl models.Claim
	if err := db.First(&cl, "policy_id = ?", pol.ID).Error; err != nil {
		t.Fatal(err)
	}
	if cl.Status != models.ClaimPending {
		t.Fatalf("want pending, got %s", cl.Status)
	}
	if !strings.HasPrefix(cl.ClaimNumber, "CLM-") {
		t.Fatalf("bad claim number %q", cl.ClaimNumber)
	}
}

func Test_EditClaim_OnlyWhilePending(t *testing.T) {
	db := openTestDB(t)
	alice := seedUser(t, db, models.RoleClient)
	bob := seedUser(t, db, models.RoleClient)
	pol := seedPolicy(t, db, alice)
	cl := seedClaim(t, db, alice, pol.ID, models.ClaimPending)

	h := newClaimHandler(db)
	body := `{"description":"Updated description","estimated_amount":9500}`

	// A foreign claim looks absent, not forbidden
	bobApp := newTestApp(h, bob, string(models.RoleClient))
	req := httptest.NewRequest("PATCH", "/api/claims/"+cl.ID.String(), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := bobApp.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("want 404 for foreign claim, got %d", resp.StatusCode)
	}

	aliceApp := newTestApp(h, alice, string(models.RoleClient))
	req = httptest.NewRequest("PATCH", "/api/claims/"+cl.ID.String(), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = aliceApp.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("edit got %d", resp.StatusCode)
	}

	var got models.Claim
	if err := db.First(&got, "id = ?", cl.ID).Error; err != nil {
		t.Fatal(err)
	}
	if got.Description != "Updated description" || !got.EstimatedAmount.Equal(decimal.RequireFromString("9500")) {
		t.Fatalf("edit not applied: %+v", got)
	}
	if got.Type != "collision" {
		t.Fatalf("omitted field must keep its value, got %q", got.Type)
	}

	// Once in review, edits are rejected
	if err := db.Model(&got).Update("status", models.ClaimInReview).Error; err != nil {
		t.Fatal(err)
	}
	req = httptest.NewRequest("PATCH", "/api/claims/"+cl.ID.String(), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = aliceApp.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("want 400 for non-pending edit, got %d", resp.StatusCode)
	}
}

func Test_AdvanceClaim_RecordsCommentAndAudit(t *testing.T) {
	db := openTestDB(t)
	alice := seedUser(t, db, models.RoleClient)
	admin := seedUser(t, db, models.RoleAdmin)
	pol := seedPolicy(t, db, alice)
	cl := seedClaim(t, db, alice, pol.ID, models.ClaimPending)

	h := newClaimHandler(db)
	app := newTestApp(h, admin, string(models.RoleAdmin))

	req := httptest.NewRequest("POST", "/api/claims/admin/"+cl.ID.String()+"/review", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("review got %d", resp.StatusCode)
	}

	body := `{"admin_comment":"expert report received"}`
	req = httptest.NewRequest("POST", "/api/claims/admin/"+cl.ID.String()+"/approve", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("approve got %d", resp.StatusCode)
	}

	var got models.Claim
	if err := db.First(&got, "id = ?", cl.ID).Error; err != nil {
		t.Fatal(err)
	}
	if got.Status != models.ClaimApproved || got.AdminComment != "expert report received" {
		t.Fatalf("unexpected claim: %+v", got)
	}

	var audits int64
	_ = db.Model(&models.AuditLog{}).
		Where("entity = ? AND entity_id = ?", "claim", cl.ID).
		Count(&audits).Error
	if audits != 2 {
		t.Fatalf("want 2 audit rows, got %d", audits)
	}
}

func Test_SettleClaim_KeepsEstimate(t *testing.T) {
	db := openTestDB(t)
	alice := seedUser(t, db, models.RoleClient)
	admin := seedUser(t, db, models.RoleAdmin)
	pol := seedPolicy(t, db, alice)
	// Settlement is reachable from any status, pending included
	cl := seedClaim(t, db, alice, pol.ID, models.ClaimPending)

	h := newClaimHandler(db)
	app := newTestApp(h, admin, string(models.RoleAdmin))

	req := httptest.NewRequest("POST", "/api/claims/admin/"+cl.ID.String()+"/settle",
		strings.NewReader(`{"settled_amount":6500.50}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("settle got %d", resp.StatusCode)
	}

	var got models.Claim
	if err := db.First(&got, "id = ?", cl.ID).Error; err != nil {
		t.Fatal(err)
	}
	if got.Status != models.ClaimSettled {
		t.Fatalf("want settled, got %s", got.Status)
	}
	if got.SettledAmount == nil || !got.SettledAmount.Equal(decimal.RequireFromString("6500.5")) {
		t.Fatalf("settled amount not recorded: %v", got.SettledAmount)
	}
	if !got.EstimatedAmount.Equal(cl.EstimatedAmount) {
		t.Fatalf("estimate must stay untouched: %s vs %s", got.EstimatedAmount, cl.EstimatedAmount)
	}
}

func Test_ListClaims_ScopedByRole(t *testing.T) {
	db := openTestDB(t)
	alice := seedUser(t, db, models.RoleClient)
	bob := seedUser(t, db, models.RoleClient)
	admin := seedUser(t, db, models.RoleAdmin)
	polA := seedPolicy(t, db, alice)
	polB := seedPolicy(t, db, bob)
	seedClaim(t, db, alice, polA.ID, models.ClaimPending)
	seedClaim(t, db, bob, polB.ID, models.ClaimPending)

	h := newClaimHandler(db)

	aliceApp := newTestApp(h, alice, string(models.RoleClient))
	req := httptest.NewRequest("GET", "/api/claims?page=1&pageSize=50", nil)
	resp, _ := aliceApp.Test(req, -1)
	var mine struct {
		Total int64 `json:"total"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&mine)
	if mine.Total != 1 {
		t.Fatalf("client must see only own claims, got %d", mine.Total)
	}

	adminApp := newTestApp(h, admin, string(models.RoleAdmin))
	req = httptest.NewRequest("GET", "/api/claims?page=1&pageSize=50", nil)
	resp, _ = adminApp.Test(req, -1)
	var all struct {
		Total int64 `json:"total"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&all)
	if all.Total != 2 {
		t.Fatalf("admin must see every claim, got %d", all.Total)
	}
}
