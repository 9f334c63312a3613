package claims

import (
	"errors"
	"mime"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/assurtech/insurance-backend/internal/auth"
	"github.com/assurtech/insurance-backend/pkg/models"
)

// Upload Claim Files godoc
// @Summary      Upload supporting documents (PDF/PNG/JPEG)
// @Description  Claim owner uploads up to 10 files (photos, police report, invoices)
// @Tags         files
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        id     path      string   true  "claim id (uuid)"
// @Param        files  formData  []file   true  "PDF/PNG/JPEG (max 10)"
// @Success      201    {array}   map[string]any  "id, key, name, size"
// @Failure      400    {object}  models.ErrorResponse
// @Failure      403    {object}  models.ErrorResponse
// @Failure      500    {object}  models.ErrorResponse
// @Router       /claims/{id}/files [post]
func (h *Handler) UploadFile(c *fiber.Ctx) error {
	ownerID := auth.MustUserID(c)
	claimID := c.Params("id")

	// Only the claim owner may attach documents
	var cl models.Claim
	if err := h.db.Where("id = ? AND user_id = ?", claimID, ownerID).First(&cl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrForbidden
		}
		return fiber.ErrInternalServerError
	}

	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart form required; use files[]")
	}
	files := form.File["files[]"]
	if len(files) == 0 {
		files = form.File["files"]
	}
	if len(files) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "files are required (use key: files[])")
	}
	if len(files) > 10 {
		return fiber.NewError(fiber.StatusBadRequest, "max 10 files allowed")
	}

	results := make([]fiber.Map, 0, len(files))

	for _, fh := range files {
		res := fiber.Map{
			"name": fh.Filename,
			"size": fh.Size,
		}

		if fh.Size <= 0 {
			res["error"] = "empty file"
			results = append(results, res)
			continue
		}
		if fh.Size > 10*1024*1024 {
			res["error"] = "max 10MB per file"
			results = append(results, res)
			continue
		}

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = mime.TypeByExtension(filepath.Ext(fh.Filename))
		}
		switch ct {
		case "application/pdf", "image/png", "image/jpeg":
			// ok
		default:
			res["error"] = "only PDF, PNG or JPEG are allowed"
			results = append(results, res)
			continue
		}

		f, err := fh.Open()
		if err != nil {
			res["error"] = "open failed"
			results = append(results, res)
			continue
		}
		defer f.Close()

		key := h.sb.MakeObjectKey(claimID, fh.Filename)

		if err := h.sb.Upload(key, f, ct, fh.Size); err != nil {
			res["error"] = "upload failed"
			results = append(results, res)
			continue
		}

		rec := models.ClaimFile{
			ClaimID:      cl.ID,
			Key:          key,
			Mime:         ct,
			Size:         int(fh.Size),
			OriginalName: fh.Filename,
		}
		if err := h.db.Create(&rec).Error; err != nil {
			res["error"] = "database error"
			results = append(results, res)
			continue
		}

		res["id"] = rec.ID
		res["key"] = rec.Key
		results = append(results, res)
	}

	// 201 even when some items failed; callers check the per-item "error" field
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"results": results})
}

// Signed Download URL godoc
// @Summary      Get signed URL
// @Description  Claim owner or an admin obtains a short-lived signed URL
// @Tags         files
// @Security     BearerAuth
// @Produce      json
// @Param        fileID  path string true "file id (uuid)"
// @Success      200  {object}  map[string]any  "url, expires_in, now"
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Failure      500  {object}  models.ErrorResponse
// @Router       /claim-files/{fileID}/signed-url [get]
func (h *Handler) SignedDownloadURL(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	fileID := c.Params("fileID")

	var cf models.ClaimFile
	if err := h.db.Preload("Claim").First(&cf, "id = ?", fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	if !auth.IsAdmin(c) && cf.Claim.UserID.String() != userID {
		return fiber.ErrForbidden
	}

	url, err := h.sb.SignedURL(cf.Key, 60) // seconds
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"url": url, "expires_in": 60, "now": time.Now().UTC()})
}

// Delete File godoc
// @Summary      Delete a claim file
// @Description  Claim owner removes a document while the claim is still pending
// @Tags         files
// @Security     BearerAuth
// @Produce      json
// @Param        fileID  path string true "file id (uuid)"
// @Success      200  {object}  map[string]any
// @Failure      400  {object}  models.ErrorResponse  "claim is not pending"
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /claim-files/{fileID} [delete]
func (h *Handler) DeleteFile(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	fileID := c.Params("fileID")

	var cf models.ClaimFile
	if err := h.db.Preload("Claim").First(&cf, "id = ?", fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if cf.Claim.UserID.String() != userID {
		return fiber.ErrForbidden
	}
	if cf.Claim.Status != models.ClaimPending {
		return fiber.NewError(fiber.StatusBadRequest, "claim is not pending")
	}

	if err := h.sb.Delete(cf.Key); err != nil {
		return fiber.ErrInternalServerError
	}
	if err := h.db.Delete(&cf).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}
