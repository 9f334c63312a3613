package policies

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/assurtech/insurance-backend/pkg/models"
	"github.com/assurtech/insurance-backend/pkg/utils"
	"github.com/assurtech/insurance-backend/pkg/validation"
)

// Sentinel errors for quote-to-policy conversion, used with errors.Is.
var (
	ErrQuoteNotApproved = errors.New("quote is not approved")
	ErrQuoteUnowned     = errors.New("quote has no owning user")
)

type Handler struct {
	db       *gorm.DB
	notifier notify.Notifier
}

func NewHandler(db *gorm.DB, notifier notify.Notifier) *Handler {
	return &Handler{db: db, notifier: notifier}
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

// NextPaymentDate computes when the next premium charge is due, counted
// from a billing anchor date.
func NextPaymentDate(from time.Time, freq models.PaymentFrequency) time.Time {
	switch freq {
	case models.FrequencyMonthly:
		return from.AddDate(0, 1, 0)
	case models.FrequencyQuarterly:
		return from.AddDate(0, 3, 0)
	default:
		return from.AddDate(1, 0, 0)
	}
}

/* ========================= Quote conversion ============================= */

// CreateFromQuote converts an approved quote into an active policy. The
// policy row and the quote's back-reference are written in one transaction;
// the filled-only unique index on policies.quote_id guarantees a quote is
// converted at most once even under concurrent approvals.
func CreateFromQuote(db *gorm.DB, q *models.Quote, freq models.PaymentFrequency, actorID *uuid.UUID) (*models.Policy, error) {
	if q.Status != models.QuoteApproved {
		return nil, ErrQuoteNotApproved
	}
	if q.UserID == nil {
		return nil, ErrQuoteUnowned
	}
	if freq == "" {
		freq = models.FrequencyAnnually
	}

	start := time.Now()
	pol := models.Policy{
		PolicyNumber:     utils.PolicyNumber(),
		UserID:           *q.UserID,
		QuoteID:          &q.ID,
		VehicleType:      q.VehicleType,
		CoverageTier:     q.CoverageTier,
		VehicleBrand:     q.VehicleBrand,
		VehicleModel:     q.VehicleModel,
		CoverageDetail:   q.CoverageItems,
		PremiumAmount:    q.AnnualPremium,
		StartDate:        start,
		EndDate:          start.AddDate(1, 0, 0),
		Status:           models.PolicyActive,
		PaymentFrequency: freq,
		NextPaymentDate:  NextPaymentDate(start, freq),
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&pol).Error; err != nil {
			return err
		}
		return tx.Model(&models.Quote{}).Where("id = ?", q.ID).
			Update("policy_id", pol.ID).Error
	})
	if err != nil {
		return nil, err
	}

	utils.LogAudit(context.Background(), db, "policy", pol.ID, actorID,
		"created_from_quote", "", string(models.PolicyActive), "quote "+q.QuoteNumber)
	return &pol, nil
}

/* ============================== Create ================================== */

type CreatePolicyRequest struct {
	QuoteID          string `json:"quote_id" validate:"required,uuid4"`
	PaymentFrequency string `json:"payment_frequency" validate:"omitempty,oneof=monthly quarterly annually"`
}

// Create godoc
// @Summary      Create policy from an approved quote
// @Tags         policies
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreatePolicyRequest  true  "Policy payload"
// @Success      201  {object}  models.Policy
// @Failure      400  {object}  models.ErrorResponse  "quote is not approved"
// @Failure      404  {object}  models.ErrorResponse
// @Router       /policies [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	adminID, _ := uuid.Parse(auth.MustUserID(c))

	var in CreatePolicyRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var q models.Quote
	if err := h.db.First(&q, "id = ?", in.QuoteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if q.PolicyID != nil {
		return fiber.NewError(fiber.StatusBadRequest, "quote already has a policy")
	}

	pol, err := CreateFromQuote(h.db, &q, models.PaymentFrequency(in.PaymentFrequency), &adminID)
	if err != nil {
		if errors.Is(err, ErrQuoteNotApproved) || errors.Is(err, ErrQuoteUnowned) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return fiber.ErrInternalServerError
	}

	notify.Best("policy-created notification", h.notifier.Notify(c.Context(), pol.UserID,
		"Policy created",
		fmt.Sprintf("Your policy %s is now active until %s.", pol.PolicyNumber, pol.EndDate.Format("2006-01-02")),
		"policy_created"))

	return c.Status(fiber.StatusCreated).JSON(pol)
}

/* ============================== Cancel ================================== */

type CancelPolicyRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Cancel godoc
// @Summary      Cancel an active policy
// @Tags         policies
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string               true  "policy id (uuid)"
// @Param        payload  body  CancelPolicyRequest  true  "Cancellation reason"
// @Success      200  {object}  models.Policy
// @Failure      400  {object}  models.ErrorResponse  "policy is not active"
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /policies/{id}/cancel [post]
func (h *Handler) Cancel(c *fiber.Ctx) error {
	callerID := auth.MustUserID(c)
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid policy id")
	}

	var in CancelPolicyRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var pol models.Policy
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&pol, "id = ?", id).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if !auth.IsAdmin(c) && pol.UserID.String() != callerID {
		tx.Rollback()
		return fiber.ErrForbidden
	}
	if pol.Status != models.PolicyActive {
		tx.Rollback()
		return fiber.NewError(fiber.StatusBadRequest, "policy is not active")
	}

	if err := tx.Model(&pol).Update("status", models.PolicyCancelled).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	actorID, _ := uuid.Parse(callerID)
	utils.LogAudit(c.Context(), h.db, "policy", pol.ID, &actorID, "cancelled",
		string(models.PolicyActive), string(models.PolicyCancelled), strings.TrimSpace(in.Reason))

	notify.Best("policy-cancelled notification", h.notifier.Notify(c.Context(), pol.UserID,
		"Policy cancelled",
		fmt.Sprintf("Your policy %s has been cancelled.", pol.PolicyNumber),
		"policy_cancelled"))

	pol.Status = models.PolicyCancelled
	return c.JSON(pol)
}

/* =============================== Renew ================================== */

type RenewPolicyRequest struct {
	PremiumAmount *float64 `json:"premium_amount" validate:"omitempty,gt=0"`
}

// Renew godoc
// @Summary      Renew an active policy
// @Description  Expires the current policy and opens a new one starting the day after it ends
// @Tags         policies
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string              true   "policy id (uuid)"
// @Param        payload  body  RenewPolicyRequest  false  "Optional new premium"
// @Success      201  {object}  models.Policy  "the renewal policy"
// @Failure      400  {object}  models.ErrorResponse  "policy is not active"
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /policies/{id}/renew [post]
func (h *Handler) Renew(c *fiber.Ctx) error {
	callerID := auth.MustUserID(c)
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid policy id")
	}

	var in RenewPolicyRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var old models.Policy
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&old, "id = ?", id).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if !auth.IsAdmin(c) && old.UserID.String() != callerID {
		tx.Rollback()
		return fiber.ErrForbidden
	}
	if old.Status != models.PolicyActive {
		tx.Rollback()
		return fiber.NewError(fiber.StatusBadRequest, "policy is not active")
	}

	premium := old.PremiumAmount
	if in.PremiumAmount != nil {
		premium = decimal.NewFromFloat(*in.PremiumAmount)
	}

	// Renewal is additive: a fresh row starting the day after the old term
	// ends, never an in-place mutation.
	newStart := old.EndDate.AddDate(0, 0, 1)
	renewed := models.Policy{
		PolicyNumber:     utils.PolicyNumber(),
		UserID:           old.UserID,
		VehicleType:      old.VehicleType,
		CoverageTier:     old.CoverageTier,
		VehicleBrand:     old.VehicleBrand,
		VehicleModel:     old.VehicleModel,
		CoverageDetail:   old.CoverageDetail,
		PremiumAmount:    premium,
		StartDate:        newStart,
		EndDate:          newStart.AddDate(1, 0, 0),
		Status:           models.PolicyActive,
		PaymentFrequency: old.PaymentFrequency,
		NextPaymentDate:  NextPaymentDate(newStart, old.PaymentFrequency),
		AutoRenewal:      old.AutoRenewal,
	}
	if err := tx.Create(&renewed).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Model(&old).Update("status", models.PolicyExpired).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	actorID, _ := uuid.Parse(callerID)
	utils.LogAudit(c.Context(), h.db, "policy", old.ID, &actorID, "renewed",
		string(models.PolicyActive), string(models.PolicyExpired), "renewed as "+renewed.PolicyNumber)

	notify.Best("policy-renewed notification", h.notifier.Notify(c.Context(), old.UserID,
		"Policy renewed",
		fmt.Sprintf("Your policy %s has been renewed as %s, starting %s.",
			old.PolicyNumber, renewed.PolicyNumber, renewed.StartDate.Format("2006-01-02")),
		"policy_renewed"))

	return c.Status(fiber.StatusCreated).JSON(renewed)
}

/* =============================== Update ================================= */

type UpdatePolicyRequest struct {
	PaymentFrequency *string `json:"payment_frequency" validate:"omitempty,oneof=monthly quarterly annually"`
	AutoRenewal      *bool   `json:"auto_renewal"`
	NextPaymentDate  *string `json:"next_payment_date" validate:"omitempty,dateonly"`
}

// Update godoc
// @Summary      Update policy billing fields
// @Description  Only payment_frequency, auto_renewal and next_payment_date are mutable
// @Tags         policies
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string               true  "policy id (uuid)"
// @Param        payload  body  UpdatePolicyRequest  true  "Patch"
// @Success      200  {object}  models.Policy
// @Failure      400  {object}  models.ErrorResponse  "no valid fields to update"
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /policies/{id} [patch]
func (h *Handler) Update(c *fiber.Ctx) error {
	callerID := auth.MustUserID(c)
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid policy id")
	}

	var in UpdatePolicyRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	updates := map[string]any{}
	if in.PaymentFrequency != nil {
		updates["payment_frequency"] = *in.PaymentFrequency
	}
	if in.AutoRenewal != nil {
		updates["auto_renewal"] = *in.AutoRenewal
	}
	if in.NextPaymentDate != nil {
		t, _ := time.Parse("2006-01-02", *in.NextPaymentDate)
		updates["next_payment_date"] = t
	}
	if len(updates) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "no valid fields to update")
	}

	var pol models.Policy
	if err := h.db.First(&pol, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if !auth.IsAdmin(c) && pol.UserID.String() != callerID {
		return fiber.ErrForbidden
	}

	if err := h.db.Model(&pol).Updates(updates).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(pol)
}

/* ================================ Reads ================================= */

// Get godoc
// @Summary      Policy detail
// @Tags         policies
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "policy id (uuid)"
// @Success      200  {object}  models.Policy
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /policies/{id} [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	callerID := auth.MustUserID(c)
	id := c.Params("id")

	var pol models.Policy
	if err := h.db.First(&pol, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if !auth.IsAdmin(c) && pol.UserID.String() != callerID {
		return fiber.ErrForbidden
	}
	return c.JSON(pol)
}

type policyListItem struct {
	ID              uuid.UUID               `json:"id"`
	PolicyNumber    string                  `json:"policy_number"`
	VehicleType     models.VehicleType      `json:"vehicle_type"`
	CoverageTier    models.CoverageTier     `json:"coverage_tier"`
	PremiumAmount   decimal.Decimal         `json:"premium_amount"`
	StartDate       time.Time               `json:"start_date"`
	EndDate         time.Time               `json:"end_date"`
	Status          models.PolicyStatus     `json:"status"`
	NextPaymentDate time.Time               `json:"next_payment_date"`
	Frequency       models.PaymentFrequency `json:"payment_frequency"`
}

// ListMine godoc
// @Summary      List my policies
// @Tags         policies
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  map[string]any
// @Router       /policies/mine [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	callerID := auth.MustUserID(c)
	page, size := parsePage(c)

	q := h.db.Model(&models.Policy{}).Where("user_id = ?", callerID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	rows := make([]policyListItem, 0, size)
	if err := q.Select("id, policy_number, vehicle_type, coverage_tier, premium_amount, start_date, end_date, status, next_payment_date, payment_frequency AS frequency").
		Order("created_at DESC").
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
// @Summary      List all policies (admin)
// @Tags         policies
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int    false "page"
// @Param        pageSize  query int    false "pageSize"
// @Param        status    query string false "status filter"
// @Success      200  {object}  map[string]any
// @Router       /policies/admin [get]
func (h *Handler) ListAdmin(c *fiber.Ctx) error {
	page, size := parsePage(c)
	status := strings.TrimSpace(c.Query("status"))

	q := h.db.Model(&models.Policy{})
	if status != "" {
		switch status {
		case string(models.PolicyPending), string(models.PolicyActive),
			string(models.PolicyCancelled), string(models.PolicyExpired):
			q = q.Where("status = ?", status)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "invalid status filter")
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var rows []models.Policy
	if err := q.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if rows == nil {
		rows = []models.Policy{}
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}
