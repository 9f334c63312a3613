package claims

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

	"github.com/assurtech/insurance-backend/internal/auth"
	"github.com/assurtech/insurance-backend/internal/notify"
	"github.com/assurtech/insurance-backend/internal/storage"
	"github.com/assurtech/insurance-backend/pkg/models"
	"github.com/assurtech/insurance-backend/pkg/sanitize"
	"github.com/assurtech/insurance-backend/pkg/utils"
	"github.com/assurtech/insurance-backend/pkg/validation"
)

type Handler struct {
	db       *gorm.DB
	sb       *storage.Supabase
	notifier notify.Notifier
}

func NewHandler(db *gorm.DB, sb *storage.Supabase, notifier notify.Notifier) *Handler {
	return &Handler{db: db, sb: sb, notifier: notifier}
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

/* ================================ File ================================== */

type FileClaimRequest struct {
	PolicyID         string   `json:"policy_id" validate:"required,uuid4"`
	Type             string   `json:"claim_type" validate:"required,max=40"`
	IncidentDate     string   `json:"incident_date" validate:"required,dateonly"`
	Description      string   `json:"description" validate:"omitempty,max=2000"`
	IncidentLocation string   `json:"incident_location" validate:"omitempty,max=120"`
	EstimatedAmount  *float64 `json:"estimated_amount" validate:"omitempty,gt=0"`
}

// File godoc
// @Summary      File a claim
// @Tags         claims
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  FileClaimRequest  true  "Claim payload"
// @Success      201  {object}  models.Claim
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /claims [post]
func (h *Handler) File(c *fiber.Ctx) error {
	ownerID, _ := uuid.Parse(auth.MustUserID(c))

	var in FileClaimRequest
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
	if pol.UserID != ownerID {
		return fiber.ErrForbidden
	}

	incident, _ := time.Parse("2006-01-02", in.IncidentDate)
	estimated := decimal.Zero
	if in.EstimatedAmount != nil {
		estimated = decimal.NewFromFloat(*in.EstimatedAmount)
	}

	cl := models.Claim{
		ClaimNumber:      utils.ClaimNumber(),
		UserID:           ownerID,
		PolicyID:         pol.ID,
		Type:             strings.TrimSpace(in.Type),
		IncidentDate:     incident,
		Description:      strings.TrimSpace(in.Description),
		IncidentLocation: strings.TrimSpace(in.IncidentLocation),
		EstimatedAmount:  estimated,
		Status:           models.ClaimPending,
	}
	if err := h.db.Create(&cl).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	utils.LogAudit(c.Context(), h.db, "claim", cl.ID, &ownerID, "filed",
		"", string(models.ClaimPending), "")
	return c.Status(fiber.StatusCreated).JSON(cl)
}

/* ================================ Edit ================================== */

type EditClaimRequest struct {
	Type             *string  `json:"claim_type" validate:"omitempty,max=40"`
	IncidentDate     *string  `json:"incident_date" validate:"omitempty,dateonly"`
	Description      *string  `json:"description" validate:"omitempty,max=2000"`
	IncidentLocation *string  `json:"incident_location" validate:"omitempty,max=120"`
	EstimatedAmount  *float64 `json:"estimated_amount" validate:"omitempty,gt=0"`
}

// Edit godoc
// @Summary      Edit a pending claim
// @Description  Only the owner may edit, and only while the claim is pending.
//               Omitted fields keep their previous value.
// @Tags         claims
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string            true  "claim id (uuid)"
// @Param        payload  body  EditClaimRequest  true  "Partial update"
// @Success      200  {object}  models.Claim
// @Failure      400  {object}  models.ErrorResponse  "claim is not pending"
// @Failure      404  {object}  models.ErrorResponse
// @Router       /claims/{id} [patch]
func (h *Handler) Edit(c *fiber.Ctx) error {
	ownerID := auth.MustUserID(c)
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid claim id")
	}

	var in EditClaimRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	// A claim someone else owns looks absent, not forbidden.
	var cl models.Claim
	if err := h.db.Where("id = ? AND user_id = ?", id, ownerID).First(&cl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if cl.Status != models.ClaimPending {
		return fiber.NewError(fiber.StatusBadRequest, "claim is not pending")
	}

	updates := map[string]any{}
	if in.Type != nil {
		updates["type"] = strings.TrimSpace(*in.Type)
	}
	if in.IncidentDate != nil {
		t, _ := time.Parse("2006-01-02", *in.IncidentDate)
		updates["incident_date"] = t
	}
	if in.Description != nil {
		updates["description"] = strings.TrimSpace(*in.Description)
	}
	if in.IncidentLocation != nil {
		updates["incident_location"] = strings.TrimSpace(*in.IncidentLocation)
	}
	if in.EstimatedAmount != nil {
		updates["estimated_amount"] = decimal.NewFromFloat(*in.EstimatedAmount)
	}
	if len(updates) == 0 {
		return c.JSON(cl)
	}

	if err := h.db.Model(&cl).Updates(updates).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(cl)
}

/* =============================== Advance ================================ */

type AdvanceClaimRequest struct {
	AdminComment string `json:"admin_comment" validate:"omitempty,max=1000"`
}

// Review moves a claim to in_review.
func (h *Handler) Review(c *fiber.Ctx) error { return h.advance(c, models.ClaimInReview) }

// Approve moves a claim to approved.
func (h *Handler) Approve(c *fiber.Ctx) error { return h.advance(c, models.ClaimApproved) }

// Reject moves a claim to rejected.
func (h *Handler) Reject(c *fiber.Ctx) error { return h.advance(c, models.ClaimRejected) }

func (h *Handler) advance(c *fiber.Ctx, newStatus models.ClaimStatus) error {
	adminID, _ := uuid.Parse(auth.MustUserID(c))
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid claim id")
	}

	var in AdvanceClaimRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid json")
		}
		if errs, _ := validation.Validate(in); errs != nil {
			return validation.Respond(c, errs)
		}
	}

	var cl models.Claim
	if err := h.db.First(&cl, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	oldStatus := cl.Status

	if err := h.db.Model(&cl).Updates(map[string]any{
		"status":        newStatus,
		"admin_comment": strings.TrimSpace(in.AdminComment),
	}).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	cl.Status = newStatus
	cl.AdminComment = strings.TrimSpace(in.AdminComment)

	utils.LogAudit(c.Context(), h.db, "claim", cl.ID, &adminID, "status_updated",
		string(oldStatus), string(newStatus), cl.AdminComment)

	notify.Best("claim-status notification", h.notifier.Notify(c.Context(), cl.UserID,
		"Claim "+strings.ReplaceAll(string(newStatus), "_", " "),
		fmt.Sprintf("Your claim %s is now %s.", cl.ClaimNumber, newStatus),
		"claim_status"))

	return c.JSON(cl)
}

/* =============================== Settle ================================= */

type SettleClaimRequest struct {
	SettledAmount float64 `json:"settled_amount" validate:"required,gt=0"`
}

// Settle godoc
// @Summary      Settle a claim (admin)
// @Description  Records the payout amount; the original estimate is kept as-is
// @Tags         claims
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string              true  "claim id (uuid)"
// @Param        payload  body  SettleClaimRequest  true  "Payout amount"
// @Success      200  {object}  models.Claim
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /claims/admin/{id}/settle [post]
func (h *Handler) Settle(c *fiber.Ctx) error {
	adminID, _ := uuid.Parse(auth.MustUserID(c))
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid claim id")
	}

	var in SettleClaimRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var cl models.Claim
	if err := h.db.First(&cl, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	oldStatus := cl.Status

	amount := decimal.NewFromFloat(in.SettledAmount)
	if err := h.db.Model(&cl).Updates(map[string]any{
		"status":         models.ClaimSettled,
		"settled_amount": amount,
	}).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	cl.Status = models.ClaimSettled
	cl.SettledAmount = &amount

	utils.LogAudit(c.Context(), h.db, "claim", cl.ID, &adminID, "settled",
		string(oldStatus), string(models.ClaimSettled), "payout "+amount.StringFixed(2))

	notify.Best("claim-settled notification", h.notifier.Notify(c.Context(), cl.UserID,
		"Claim settled",
		fmt.Sprintf("Your claim %s has been settled for %s MAD.", cl.ClaimNumber, amount.StringFixed(2)),
		"claim_settled"))

	return c.JSON(cl)
}

/* ================================ Reads ================================= */

type claimListItem struct {
	ID           uuid.UUID          `json:"id"`
	ClaimNumber  string             `json:"claim_number"`
	PolicyID     uuid.UUID          `json:"policy_id"`
	Type         string             `json:"claim_type"`
	IncidentDate time.Time          `json:"incident_date"`
	Preview      string             `json:"preview"`
	Status       models.ClaimStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
}

// List godoc
// @Summary      List claims
// @Description  Admins see every claim; clients see only their own
// @Tags         claims
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int    false "page"
// @Param        pageSize  query int    false "pageSize"
// @Param        status    query string false "status filter"
// @Success      200  {object}  map[string]any
// @Router       /claims [get]
func (h *Handler) List(c *fiber.Ctx) error {
	page, size := parsePage(c)
	status := strings.TrimSpace(c.Query("status"))

	q := h.db.Model(&models.Claim{})
	if !auth.IsAdmin(c) {
		q = q.Where("user_id = ?", auth.MustUserID(c))
	}
	if status != "" {
		switch status {
		case string(models.ClaimPending), string(models.ClaimInReview),
			string(models.ClaimApproved), string(models.ClaimRejected), string(models.ClaimSettled):
			q = q.Where("status = ?", status)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "invalid status filter")
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var list []models.Claim
	if err := q.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&list).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	items := make([]claimListItem, 0, len(list))
	for _, cl := range list {
		items = append(items, claimListItem{
			ID:           cl.ID,
			ClaimNumber:  cl.ClaimNumber,
			PolicyID:     cl.PolicyID,
			Type:         cl.Type,
			IncidentDate: cl.IncidentDate,
			Preview:      sanitize.Summary(cl.Description, 240),
			Status:       cl.Status,
			CreatedAt:    cl.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": items,
	})
}

// Get godoc
// @Summary      Claim detail (with files)
// @Tags         claims
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "claim id (uuid)"
// @Success      200  {object}  models.Claim
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /claims/{id} [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	var cl models.Claim
	err := h.db.
		Preload("Files", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&cl, "id = ?", c.Params("id")).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if !auth.IsAdmin(c) && cl.UserID.String() != auth.MustUserID(c) {
		return fiber.ErrForbidden
	}
	if cl.Files == nil {
		cl.Files = []models.ClaimFile{}
	}
	return c.JSON(cl)
}
