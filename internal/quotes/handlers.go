package quotes

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/assurtech/insurance-backend/internal/auth"
	"github.com/assurtech/insurance-backend/internal/notify"
	"github.com/assurtech/insurance-backend/internal/policies"
	"github.com/assurtech/insurance-backend/internal/pricing"
	"github.com/assurtech/insurance-backend/pkg/models"
	"github.com/assurtech/insurance-backend/pkg/utils"
	"github.com/assurtech/insurance-backend/pkg/validation"
)

// Quotes stay open for acceptance this long after creation.
const validityDays = 30

type Handler struct {
	db       *gorm.DB
	engine   *pricing.Engine
	notifier notify.Notifier
}

func NewHandler(db *gorm.DB, engine *pricing.Engine, notifier notify.Notifier) *Handler {
	return &Handler{db: db, engine: engine, notifier: notifier}
}

func parsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", "10"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 50 {
		size = 10
	}
	return
}

/* =============================== Create ================================= */

type CreateQuoteRequest struct {
	VehicleType  string `json:"vehicle_type" validate:"required,oneof=car moto"`
	CoverageTier string `json:"coverage_tier" validate:"required,oneof=basic standard premium"`

	DriverAge         *int     `json:"driver_age" validate:"omitempty,gte=18,lte=100"`
	VehicleAge        *int     `json:"vehicle_age" validate:"omitempty,gte=0,lte=50"`
	VehicleValue      *float64 `json:"vehicle_value" validate:"omitempty,gt=0"`
	City              string   `json:"city" validate:"omitempty,max=60"`
	DrivingExperience *int     `json:"driving_experience" validate:"omitempty,gte=0,lte=80"`
	VehicleBrand      string   `json:"vehicle_brand" validate:"omitempty,max=40"`
	VehicleModel      string   `json:"vehicle_model" validate:"omitempty,max=40"`

	// Required for anonymous quotes only.
	CustomerName  string `json:"customer_name" validate:"omitempty,min=2,max=80"`
	CustomerEmail string `json:"customer_email" validate:"omitempty,email,max=120"`
}

// Create godoc
// @Summary      Request a quote
// @Tags         quotes
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateQuoteRequest  true  "Risk profile"
// @Success      201  {object}  models.Quote
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /quotes [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	userID, _ := uuid.Parse(auth.MustUserID(c))
	return h.create(c, &userID)
}

// CreatePublic godoc
// @Summary      Request a quote anonymously
// @Description  No account needed; customer name and email are required instead
// @Tags         quotes
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateQuoteRequest  true  "Risk profile with customer info"
// @Success      201  {object}  models.Quote
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /quotes/public [post]
func (h *Handler) CreatePublic(c *fiber.Ctx) error {
	return h.create(c, nil)
}

func (h *Handler) create(c *fiber.Ctx, ownerID *uuid.UUID) error {
	var in CreateQuoteRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	if ownerID == nil {
		if strings.TrimSpace(in.CustomerName) == "" || strings.TrimSpace(in.CustomerEmail) == "" {
			return fiber.NewError(fiber.StatusBadRequest, "customer name and email are required for anonymous quotes")
		}
	}

	profile := pricing.Profile{
		VehicleType:       models.VehicleType(in.VehicleType),
		CoverageTier:      models.CoverageTier(in.CoverageTier),
		DriverAge:         in.DriverAge,
		VehicleAge:        in.VehicleAge,
		City:              in.City,
		DrivingExperience: in.DrivingExperience,
		Brand:             in.VehicleBrand,
	}
	if in.VehicleValue != nil {
		v := decimal.NewFromFloat(*in.VehicleValue)
		profile.VehicleValue = &v
	}

	res, err := h.engine.CalculatePremium(profile)
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidCoverage) || errors.Is(err, pricing.ErrInvalidProfile) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return fiber.ErrInternalServerError
	}

	itemsJSON, _ := json.Marshal(res.Items)
	detailsJSON, _ := json.Marshal(in)

	q := models.Quote{
		QuoteNumber:        utils.QuoteNumber(),
		UserID:             ownerID,
		CustomerName:       strings.TrimSpace(in.CustomerName),
		CustomerEmail:      strings.ToLower(strings.TrimSpace(in.CustomerEmail)),
		VehicleType:        models.VehicleType(in.VehicleType),
		CoverageTier:       models.CoverageTier(in.CoverageTier),
		VehicleBrand:       strings.TrimSpace(in.VehicleBrand),
		VehicleModel:       strings.TrimSpace(in.VehicleModel),
		BaseRate:           res.BaseRate,
		CoverageCost:       res.CoverageCost,
		AgeFactor:          res.Factors.Age,
		VehicleAgeFactor:   res.Factors.VehicleAge,
		ValueFactor:        res.Factors.Value,
		CityFactor:         res.Factors.City,
		ExperienceFactor:   res.Factors.Experience,
		BrandFactor:        res.Factors.Brand,
		RiskMultiplier:     res.RiskMultiplier,
		AnnualPremium:      res.AnnualPremium,
		MonthlyPremium:     res.MonthlyPremium,
		QuarterlyPremium:   res.QuarterlyPremium,
		CoverageItems:      string(itemsJSON),
		CalculationDetails: string(detailsJSON),
		ValidUntil:         time.Now().AddDate(0, 0, validityDays),
		Status:             models.QuotePending,
	}
	if err := h.db.Create(&q).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	utils.LogAudit(c.Context(), h.db, "quote", q.ID, ownerID, "created",
		"", string(models.QuotePending), "")

	if ownerID != nil {
		notify.Best("quote-created notification", h.notifier.Notify(c.Context(), *ownerID,
			"Quote ready",
			fmt.Sprintf("Your quote %s is ready: %s MAD/year, valid until %s.",
				q.QuoteNumber, q.AnnualPremium.StringFixed(0), q.ValidUntil.Format("2006-01-02")),
			"quote_created"))
	}
	if q.CustomerEmail != "" {
		notify.Best("quote-created email", h.notifier.Email(q.CustomerEmail,
			"Your insurance quote "+q.QuoteNumber,
			fmt.Sprintf("Annual premium: %s MAD. This offer is valid until %s.",
				q.AnnualPremium.StringFixed(0), q.ValidUntil.Format("2006-01-02"))))
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"quote":   q,
		"pricing": res,
	})
}

/* ============================ Status update ============================= */

type UpdateStatusRequest struct {
	Status       string `json:"status" validate:"required,oneof=pending approved rejected expired"`
	AdminComment string `json:"admin_comment" validate:"omitempty,max=1000"`
}

// UpdateStatus godoc
// @Summary      Update quote status (admin)
// @Description  Approving a quote automatically opens a policy billed annually
// @Tags         quotes
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string               true  "quote id (uuid)"
// @Param        payload  body  UpdateStatusRequest  true  "New status"
// @Success      200  {object}  map[string]any  "quote, policy, warning"
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /quotes/admin/{id} [put]
func (h *Handler) UpdateStatus(c *fiber.Ctx) error {
	adminID, _ := uuid.Parse(auth.MustUserID(c))
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid quote id")
	}

	var in UpdateStatusRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	newStatus := models.QuoteStatus(in.Status)

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var q models.Quote
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&q, "id = ?", id).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	oldStatus := q.Status

	if err := tx.Model(&q).Updates(map[string]any{
		"status":        newStatus,
		"admin_comment": strings.TrimSpace(in.AdminComment),
	}).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}
	q.Status = newStatus
	q.AdminComment = strings.TrimSpace(in.AdminComment)

	utils.LogAudit(c.Context(), h.db, "quote", q.ID, &adminID, "status_updated",
		string(oldStatus), string(newStatus), q.AdminComment)

	// Approval opens a policy. The approval above has already been committed:
	// a provisioning failure leaves the quote approved-but-unprovisioned,
	// visible through the audit log and the warning below, so operators can
	// reconcile. The unique quote_id index keeps this idempotent.
	var pol *models.Policy
	var warning string
	if newStatus == models.QuoteApproved && q.PolicyID == nil {
		created, err := policies.CreateFromQuote(h.db, &q, models.FrequencyAnnually, &adminID)
		if err != nil {
			warning = "quote approved but policy creation failed"
			log.Printf("policy provisioning for quote %s failed: %v", q.QuoteNumber, err)
			utils.LogAudit(c.Context(), h.db, "quote", q.ID, &adminID,
				"policy_provision_failed", string(newStatus), string(newStatus), err.Error())
		} else {
			pol = created
			q.PolicyID = &created.ID
		}
	}

	if q.UserID != nil {
		notify.Best("quote-status notification", h.notifier.Notify(c.Context(), *q.UserID,
			"Quote "+string(newStatus),
			fmt.Sprintf("Your quote %s is now %s.", q.QuoteNumber, newStatus),
			"quote_status"))
	}
	if q.CustomerEmail != "" {
		notify.Best("quote-status email", h.notifier.Email(q.CustomerEmail,
			fmt.Sprintf("Quote %s %s", q.QuoteNumber, newStatus),
			fmt.Sprintf("The status of your quote %s changed to %s.", q.QuoteNumber, newStatus)))
	}

	resp := fiber.Map{"quote": q, "policy": pol}
	if warning != "" {
		resp["warning"] = warning
	}
	return c.JSON(resp)
}

/* =============================== Delete ================================= */

// Delete godoc
// @Summary      Delete a quote
// @Description  Allowed for the owning user or an admin, regardless of status
// @Tags         quotes
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "quote id (uuid)"
// @Success      200  {object}  map[string]any
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /quotes/{id} [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	callerID := auth.MustUserID(c)
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid quote id")
	}

	var q models.Quote
	if err := h.db.First(&q, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if !auth.IsAdmin(c) && (q.UserID == nil || q.UserID.String() != callerID) {
		return fiber.ErrForbidden
	}

	if err := h.db.Delete(&q).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	actorID, _ := uuid.Parse(callerID)
	utils.LogAudit(c.Context(), h.db, "quote", q.ID, &actorID, "deleted",
		string(q.Status), "", "")
	return c.JSON(fiber.Map{"ok": true})
}

/* ================================ Reads ================================= */

func (h *Handler) requireReadable(c *fiber.Ctx, q *models.Quote) error {
	if auth.IsAdmin(c) {
		return nil
	}
	if q.UserID == nil || q.UserID.String() != auth.MustUserID(c) {
		return fiber.ErrForbidden
	}
	return nil
}

// Get godoc
// @Summary      Quote detail
// @Tags         quotes
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "quote id (uuid)"
// @Success      200  {object}  models.Quote
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /quotes/{id} [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	var q models.Quote
	if err := h.db.First(&q, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if err := h.requireReadable(c, &q); err != nil {
		return err
	}
	return c.JSON(q)
}

// GetByNumber godoc
// @Summary      Quote detail by reference number
// @Tags         quotes
// @Security     BearerAuth
// @Produce      json
// @Param        number  path  string  true  "quote number (QUO-...)"
// @Success      200  {object}  models.Quote
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /quotes/number/{number} [get]
func (h *Handler) GetByNumber(c *fiber.Ctx) error {
	number := strings.ToUpper(strings.TrimSpace(c.Params("number")))

	var q models.Quote
	if err := h.db.First(&q, "quote_number = ?", number).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if err := h.requireReadable(c, &q); err != nil {
		return err
	}
	return c.JSON(q)
}

type quoteListItem struct {
	ID            uuid.UUID           `json:"id"`
	QuoteNumber   string              `json:"quote_number"`
	VehicleType   models.VehicleType  `json:"vehicle_type"`
	CoverageTier  models.CoverageTier `json:"coverage_tier"`
	AnnualPremium decimal.Decimal     `json:"annual_premium"`
	ValidUntil    time.Time           `json:"valid_until"`
	Status        models.QuoteStatus  `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
}

// ListMine godoc
// @Summary      List my quotes
// @Tags         quotes
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  map[string]any
// @Router       /quotes/mine [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	callerID := auth.MustUserID(c)
	page, size := parsePage(c)

	q := h.db.Model(&models.Quote{}).Where("user_id = ?", callerID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	rows := make([]quoteListItem, 0, size)
	if err := q.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Scan(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}

// ListAdmin godoc
// @Summary      List all quotes (admin)
// @Tags         quotes
// @Security     BearerAuth
// @Produce      json
// @Param        page          query int    false "page"
// @Param        pageSize      query int    false "pageSize"
// @Param        status        query string false "status filter"
// @Param        vehicle_type  query string false "vehicle type filter"
// @Success      200  {object}  map[string]any
// @Router       /quotes/admin [get]
func (h *Handler) ListAdmin(c *fiber.Ctx) error {
	page, size := parsePage(c)
	status := strings.TrimSpace(c.Query("status"))
	vehicleType := strings.TrimSpace(c.Query("vehicle_type"))

	q := h.db.Model(&models.Quote{})
	if status != "" {
		switch status {
		case string(models.QuotePending), string(models.QuoteApproved),
			string(models.QuoteRejected), string(models.QuoteExpired):
			q = q.Where("status = ?", status)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "invalid status filter")
		}
	}
	if vehicleType != "" {
		switch vehicleType {
		case string(models.VehicleCar), string(models.VehicleMoto):
			q = q.Where("vehicle_type = ?", vehicleType)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "invalid vehicle type filter")
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var rows []models.Quote
	if err := q.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if rows == nil {
		rows = []models.Quote{}
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}
