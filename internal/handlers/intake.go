package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/docuflow/backend/internal/config"
	"github.com/docuflow/backend/internal/database"
	"github.com/docuflow/backend/internal/filepolicy"
	"github.com/docuflow/backend/internal/intake"
	"github.com/docuflow/backend/internal/middleware"
	"github.com/docuflow/backend/internal/models"
)

// IntakeHandler serves the public, token-authenticated upload surface.
// Every route behind it runs after middleware.LinkAuth, so the link is
// already known to be active and unexpired.
type IntakeHandler struct {
	cfg         *config.Config
	coordinator *intake.Coordinator
}

func NewIntakeHandler(cfg *config.Config, broker StorageBroker) *IntakeHandler {
	return &IntakeHandler{
		cfg:         cfg,
		coordinator: intake.NewCoordinator(database.DB, broker),
	}
}

func linkContext(c *fiber.Ctx) intake.LinkContext {
	return intake.LinkContext{
		LinkID:   middleware.GetLinkID(c),
		ClientID: middleware.GetLinkClientID(c),
	}
}

// Verify confirms the link and returns what the client is expected to
// upload. expires_in is advisory: the link is re-checked on every request.
func (h *IntakeHandler) Verify(c *fiber.Ctx) error {
	link := linkContext(c)

	var request models.DocumentRequest
	err := database.Execute(func() error {
		return database.DB.
			Preload("RequestedDocuments").
			Preload("RequestedDocuments.DocumentType").
			Where("upload_link_id = ?", link.LinkID).
			First(&request).Error
	})
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		// A link without a document request is still usable for free-form
		// uploads, so only real failures bubble up
		return serviceError(c, err, "Failed to verify upload link")
	}

	var uploads []models.Upload
	err = database.Execute(func() error {
		return database.DB.Where("upload_link_id = ?", link.LinkID).
			Order("created_at asc").Find(&uploads).Error
	})
	if err != nil {
		return serviceError(c, err, "Failed to verify upload link")
	}

	expiresAt := middleware.GetLinkExpiresAt(c)
	expiresIn := int(time.Until(expiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	return c.JSON(fiber.Map{
		"success":          true,
		"client_id":        link.ClientID,
		"expires_at":       expiresAt,
		"expires_in":       expiresIn,
		"document_request": request,
		"uploads":          uploads,
	})
}

// presignedURLRequest accepts either a single file object or a files array
type presignedURLRequest struct {
	intake.FileRequest
	Files []intake.FileRequest `json:"files"`
}

// PresignedURL validates the requested files and hands back one presigned
// PUT URL per file. Multiple files form a batch that persists all-or-nothing.
func (h *IntakeHandler) PresignedURL(c *fiber.Ctx) error {
	var req presignedURLRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	files := req.Files
	if len(files) == 0 && req.FileName != "" {
		files = []intake.FileRequest{req.FileRequest}
	}

	if err := filepolicy.CheckBatchSize(len(files)); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}
	for _, f := range files {
		if err := filepolicy.ValidateMetadata(f.FileName, f.ContentType); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}
		if err := filepolicy.CheckFileSize(f.ContentLength); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}
	}

	result, err := h.coordinator.CreateUploads(c.Context(), linkContext(c), files)
	if err != nil {
		return serviceError(c, err, "Failed to create upload session")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":  true,
		"batch_id": result.BatchID,
		"files":    result.Files,
	})
}

// UpdateMetadata patches the free-form metadata of one upload. The row is
// looked up scoped to the authenticated link, so an id belonging to another
// link reads as not found.
func (h *IntakeHandler) UpdateMetadata(c *fiber.Ctx) error {
	var patch intake.MetadataPatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	upload, err := h.coordinator.UpdateMetadata(linkContext(c), c.Params("id"), patch)
	if err != nil {
		if errors.Is(err, intake.ErrUploadNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Upload not found",
			})
		}
		return serviceError(c, err, "Failed to update upload metadata")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"upload":  upload,
	})
}

// Complete marks the link's document request fulfilled and reconciles
// batch counters against the uploads that actually landed.
func (h *IntakeHandler) Complete(c *fiber.Ctx) error {
	request, err := h.coordinator.Complete(linkContext(c))
	if err != nil {
		if errors.Is(err, intake.ErrNothingUploaded) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "No files have been uploaded for this link",
			})
		}
		return serviceError(c, err, "Failed to complete upload session")
	}

	return c.JSON(fiber.Map{
		"success":          true,
		"message":          "Upload session completed",
		"document_request": request,
	})
}
