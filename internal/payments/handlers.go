package payments

import (
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
	"github.com/assurtech/insurance-backend/internal/policies"
	"github.com/assurtech/insurance-backend/pkg/models"
	"github.com/assurtech/insurance-backend/pkg/utils"
	"github.com/assurtech/insurance-backend/pkg/validation"
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

// installmentAmount is the premium portion charged per billing period.
func installmentAmount(pol *models.Policy) decimal.Decimal {
	switch pol.PaymentFrequency {
	case models.FrequencyMonthly:
		return pol.PremiumAmount.Div(decimal.NewFromInt(12)).Round(2)
	case models.FrequencyQuarterly:
		return pol.PremiumAmount.Div(decimal.NewFromInt(4)).Round(2)
	default:
		return pol.PremiumAmount
	}
}

/* =============================== Create ================================= */

type CreatePaymentRequest struct {
	PolicyID string   `json:"policy_id" validate:"required,uuid4"`
	Amount   *float64 `json:"amount" validate:"omitempty,gt=0"`
	Method   string   `json:"method" validate:"omitempty,oneof=card bank_transfer cash check"`
	DueDate  string   `json:"due_date" validate:"omitempty,dateonly"`
}

// Create godoc
// @Summary      Record a premium charge (admin)
// @Description  Amount defaults to the policy's per-period installment
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreatePaymentRequest  true  "Payment payload"
// @Success      201  {object}  models.Payment
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /payments [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	var in CreatePaymentRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var pol models.Policy
	if err := h.db.First(&pol, "id = ?", in.PolicyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	amount := installmentAmount(&pol)
	if in.Amount != nil {
		amount = decimal.NewFromFloat(*in.Amount)
	}
	due := pol.NextPaymentDate
	if in.DueDate != "" {
		due, _ = time.Parse("2006-01-02", in.DueDate)
	}

	pay := models.Payment{
		UserID:        pol.UserID,
		PolicyID:      pol.ID,
		Amount:        amount,
		Type:          models.PaymentPremium,
		Method:        in.Method,
		TransactionID: utils.TransactionID(),
		DueDate:       due,
		Status:        models.PaymentPending,
	}
	if err := h.db.Create(&pay).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(pay)
}

/* ============================== Complete ================================ */

// Complete godoc
// @Summary      Mark a payment as paid (admin / gateway callback)
// @Description  Idempotent; also advances the policy's next payment date
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "payment id (uuid)"
// @Success      200  {object}  models.Payment
// @Failure      404  {object}  models.ErrorResponse
// @Router       /payments/{id}/complete [post]
func (h *Handler) Complete(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payment id")
	}

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var pay models.Payment
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&pay, "id = ?", id).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if pay.Status == models.PaymentPaid {
		tx.Rollback()
		return c.JSON(fiber.Map{"ok": true, "message": "already paid (idempotent)"})
	}
	if pay.Type != models.PaymentPremium {
		tx.Rollback()
		return fiber.NewError(fiber.StatusBadRequest, "only premium charges can be completed")
	}

	now := time.Now()
	if err := tx.Model(&pay).Updates(map[string]any{
		"status":  models.PaymentPaid,
		"paid_at": now,
	}).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	// Roll the billing anchor forward one period
	var pol models.Policy
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&pol, "id = ?", pay.PolicyID).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	next := policies.NextPaymentDate(pol.NextPaymentDate, pol.PaymentFrequency)
	if err := tx.Model(&pol).Update("next_payment_date", next).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}
	pay.Status = models.PaymentPaid
	pay.PaidAt = &now

	notify.Best("payment-received notification", h.notifier.Notify(c.Context(), pay.UserID,
		"Payment received",
		fmt.Sprintf("We received %s MAD for policy %s. Next payment is due %s.",
			pay.Amount.StringFixed(2), pol.PolicyNumber, next.Format("2006-01-02")),
		"payment_received"))

	return c.JSON(pay)
}

/* =============================== Refund ================================= */

type RefundRequest struct {
	Amount *float64 `json:"amount" validate:"omitempty,gt=0"`
	Reason string   `json:"reason" validate:"omitempty,max=500"`
}

// Refund godoc
// @Summary      Refund a paid premium charge (admin)
// @Description  Creates a new negative payment row linked as REF-<original>;
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string         true   "payment id (uuid)"
// @Param        payload  body  RefundRequest  false  "Amount (defaults to full) and reason"
// @Success      201  {object}  models.Payment  "the refund row"
// @Failure      400  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /payments/{id}/refund [post]
func (h *Handler) Refund(c *fiber.Ctx) error {
	adminID, _ := uuid.Parse(auth.MustUserID(c))
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payment id")
	}

	var in RefundRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid json")
		}
		if errs, _ := validation.Validate(in); errs != nil {
			return validation.Respond(c, errs)
		}
	}

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var orig models.Payment
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&orig, "id = ?", id).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if orig.Type != models.PaymentPremium {
		tx.Rollback()
		return fiber.NewError(fiber.StatusBadRequest, "cannot refund a refund")
	}
	if orig.Status != models.PaymentPaid {
		tx.Rollback()
		return fiber.NewError(fiber.StatusBadRequest, "only paid payments can be refunded")
	}

	amount := orig.Amount
	if in.Amount != nil {
		amount = decimal.NewFromFloat(*in.Amount)
	}
	if amount.GreaterThan(orig.Amount) {
		tx.Rollback()
		return fiber.NewError(fiber.StatusBadRequest, "refund amount exceeds original payment")
	}

	now := time.Now()
	refund := models.Payment{
		UserID:        orig.UserID,
		PolicyID:      orig.PolicyID,
		Amount:        amount.Neg(),
		Type:          models.PaymentRefund,
		Method:        orig.Method,
		TransactionID: "REF-" + orig.TransactionID,
		DueDate:       now,
		PaidAt:        &now,
		Status:        models.PaymentPaid,
	}
	if err := tx.Create(&refund).Error; err != nil {
		tx.Rollback()
		// The unique transaction id means a payment can be refunded once
		return fiber.NewError(fiber.StatusBadRequest, "payment is already refunded")
	}
	if err := tx.Model(&orig).Update("status", models.PaymentRefunded).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	utils.LogAudit(c.Context(), h.db, "payment", orig.ID, &adminID, "refunded",
		string(models.PaymentPaid), string(models.PaymentRefunded), strings.TrimSpace(in.Reason))

	notify.Best("refund notification", h.notifier.Notify(c.Context(), orig.UserID,
		"Refund issued",
		fmt.Sprintf("A refund of %s MAD has been issued for transaction %s.",
			amount.StringFixed(2), orig.TransactionID),
		"payment_refunded"))

	return c.Status(fiber.StatusCreated).JSON(refund)
}

/* ================================ Reads ================================= */

type paymentListItem struct {
	ID            uuid.UUID            `json:"id"`
	PolicyID      uuid.UUID            `json:"policy_id"`
	Amount        decimal.Decimal      `json:"amount"`
	Type          models.PaymentType   `json:"type"`
	Method        string               `json:"method"`
	TransactionID string               `json:"transaction_id"`
	DueDate       time.Time            `json:"due_date"`
	PaidAt        *time.Time           `json:"paid_at"`
	Status        models.PaymentStatus `json:"status"`
	CreatedAt     time.Time            `json:"created_at"`
}

// ListMine godoc
// @Summary      List my payments
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  map[string]any
// @Router       /payments/mine [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	callerID := auth.MustUserID(c)
	page, size := parsePage(c)

	q := h.db.Model(&models.Payment{}).Where("user_id = ?", callerID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	rows := make([]paymentListItem, 0, size)
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
// @Summary      List all payments (admin)
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int    false "page"
// @Param        pageSize  query int    false "pageSize"
// @Param        status    query string false "status filter"
// @Success      200  {object}  map[string]any
// @Router       /payments/admin [get]
func (h *Handler) ListAdmin(c *fiber.Ctx) error {
	page, size := parsePage(c)
	status := strings.TrimSpace(c.Query("status"))

	q := h.db.Model(&models.Payment{})
	if status != "" {
		switch status {
		case string(models.PaymentPending), string(models.PaymentPaid),
			string(models.PaymentFailed), string(models.PaymentRefunded):
			q = q.Where("status = ?", status)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "invalid status filter")
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var rows []models.Payment
	if err := q.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if rows == nil {
		rows = []models.Payment{}
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}
