package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docuflow/backend/internal/config"
	"github.com/docuflow/backend/internal/database"
	"github.com/docuflow/backend/internal/filepolicy"
	"github.com/docuflow/backend/internal/intake"
	"github.com/docuflow/backend/internal/middleware"
	"github.com/docuflow/backend/internal/models"
	"github.com/docuflow/backend/internal/storage"
	"github.com/docuflow/backend/internal/token"
)

// StorageBroker is the slice of the object storage broker the handlers use
type StorageBroker interface {
	Bucket() string
	PresignUpload(ctx context.Context, key, contentType string, contentLength int64) (string, error)
	PresignDownload(ctx context.Context, key, bucket string, ttl time.Duration) (string, error)
}

type UploadLinkHandler struct {
	cfg    *config.Config
	broker StorageBroker
}

func NewUploadLinkHandler(cfg *config.Config, broker StorageBroker) *UploadLinkHandler {
	return &UploadLinkHandler{cfg: cfg, broker: broker}
}

// RequestedDocumentInput is one document the admin asks the client for
type RequestedDocumentInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateUploadLinkRequest represents the link creation body
type CreateUploadLinkRequest struct {
	ClientID           uint                     `json:"client_id"`
	ExpiresAt          string                   `json:"expires_at"`
	Instructions       string                   `json:"instructions"`
	RequestedDocuments []RequestedDocumentInput `json:"requested_documents"`
}

// Create issues a new tokenized upload link for a client
func (h *UploadLinkHandler) Create(c *fiber.Ctx) error {
	var req CreateUploadLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	if req.ClientID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "client_id is required",
		})
	}

	expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "expires_at must be an ISO 8601 datetime",
		})
	}
	if !expiresAt.After(time.Now()) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "expires_at must be in the future",
		})
	}

	if err := filepolicy.CheckRequestedDocumentCount(len(req.RequestedDocuments)); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}
	for _, doc := range req.RequestedDocuments {
		if doc.Name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "requested document name is required",
			})
		}
	}

	var client models.Client
	if err := database.Execute(func() error {
		return database.DB.First(&client, req.ClientID).Error
	}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Client not found",
			})
		}
		return serviceError(c, err, "Failed to create upload link")
	}

	linkID := uuid.New().String()
	signedToken, err := token.Issue(linkID, req.ClientID, h.cfg.JWTSecret)
	if err != nil {
		log.Printf("ERROR: Failed to sign upload link token: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to create upload link",
		})
	}

	var createdByID *uint
	if userID := middleware.GetCurrentUserID(c); userID > 0 {
		createdByID = &userID
	}

	link := models.UploadLink{
		ID:          linkID,
		Token:       signedToken,
		ClientID:    req.ClientID,
		ExpiresAt:   expiresAt,
		IsActive:    true,
		CreatedByID: createdByID,
	}

	err = database.Execute(func() error {
		return database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&link).Error; err != nil {
				return err
			}

			request := models.DocumentRequest{
				UploadLinkID: linkID,
				Instructions: req.Instructions,
				Status:       models.DocumentRequestStatusIncomplete,
			}
			if err := tx.Create(&request).Error; err != nil {
				return err
			}

			for _, doc := range req.RequestedDocuments {
				docType, err := intake.ResolveDocumentType(tx, doc.Name, doc.Description)
				if err != nil {
					return err
				}
				requested := models.RequestedDocument{
					DocumentRequestID: request.ID,
					DocumentTypeID:    docType.ID,
					Description:       doc.Description,
				}
				if err := tx.Create(&requested).Error; err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return serviceError(c, err, "Failed to create upload link")
	}

	// New document types may have been created for this request
	if len(req.RequestedDocuments) > 0 {
		database.InvalidateDocumentTypesCache()
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":     true,
		"url":         fmt.Sprintf("%s/upload?token=%s", h.cfg.BaseURL, signedToken),
		"upload_link": link,
	})
}

// ListDocumentTypes returns the document-type reference table for the link
// creation form. The table changes rarely, so reads go through the cache.
func (h *UploadLinkHandler) ListDocumentTypes(c *fiber.Ctx) error {
	var types []models.DocumentType
	if err := database.CacheGet(database.CacheKeyDocumentTypes, &types); err == nil {
		return c.JSON(fiber.Map{
			"success": true,
			"data":    types,
		})
	}

	err := database.Execute(func() error {
		return database.DB.Order("name asc").Find(&types).Error
	})
	if err != nil {
		return serviceError(c, err, "Failed to fetch document types")
	}

	database.CacheSet(database.CacheKeyDocumentTypes, types, database.CacheTTLDocumentTypes)

	return c.JSON(fiber.Map{
		"success": true,
		"data":    types,
	})
}

// List returns upload links with cursor-based pagination.
// Filters: client_id, status in {active, expired, inactive}.
func (h *UploadLinkHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 25)
	if limit < 1 || limit > 100 {
		limit = 25
	}

	sortBy := c.Query("sort_by", "created_at")
	sortDir := c.Query("sort_dir", "desc")
	allowedSortFields := map[string]bool{"created_at": true, "expires_at": true}
	if !allowedSortFields[sortBy] {
		sortBy = "created_at"
	}
	if sortDir != "asc" && sortDir != "desc" {
		sortDir = "desc"
	}

	query := database.DB.Model(&models.UploadLink{})

	if clientID := c.QueryInt("client_id", 0); clientID > 0 {
		query = query.Where("client_id = ?", clientID)
	}

	switch c.Query("status", "") {
	case "active":
		query = query.Where("is_active = ? AND expires_at > ?", true, time.Now())
	case "expired":
		query = query.Where("expires_at <= ?", time.Now())
	case "inactive":
		query = query.Where("is_active = ?", false)
	}

	// Compound cursor over (sort field, id) so rows sharing the boundary
	// row's timestamp are not skipped across pages
	if cursor := c.Query("cursor", ""); cursor != "" {
		tsPart, cursorID, ok := strings.Cut(cursor, ",")
		cursorTime, err := time.Parse(time.RFC3339Nano, tsPart)
		if err != nil || !ok || cursorID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Invalid cursor",
			})
		}
		if sortDir == "desc" {
			query = query.Where(sortBy+" < ? OR ("+sortBy+" = ? AND id < ?)",
				cursorTime, cursorTime, cursorID)
		} else {
			query = query.Where(sortBy+" > ? OR ("+sortBy+" = ? AND id > ?)",
				cursorTime, cursorTime, cursorID)
		}
	}

	var links []models.UploadLink
	err := database.Execute(func() error {
		return query.Order(fmt.Sprintf("%s %s, id %s", sortBy, sortDir, sortDir)).
			Limit(limit + 1).
			Preload("Client").
			Find(&links).Error
	})
	if err != nil {
		return serviceError(c, err, "Failed to fetch upload links")
	}

	var nextCursor string
	if len(links) > limit {
		links = links[:limit]
		last := links[len(links)-1]
		switch sortBy {
		case "expires_at":
			nextCursor = last.ExpiresAt.Format(time.RFC3339Nano) + "," + last.ID
		default:
			nextCursor = last.CreatedAt.Format(time.RFC3339Nano) + "," + last.ID
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    links,
		"meta": fiber.Map{
			"limit":       limit,
			"next_cursor": nextCursor,
		},
	})
}

// Get returns one upload link with its document request and upload stats
func (h *UploadLinkHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")

	var link models.UploadLink
	err := database.Execute(func() error {
		return database.DB.
			Preload("Client").
			Preload("DocumentRequest").
			Preload("DocumentRequest.RequestedDocuments").
			Preload("DocumentRequest.RequestedDocuments.DocumentType").
			Where("id = ?", id).
			First(&link).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Upload link not found",
			})
		}
		return serviceError(c, err, "Failed to fetch upload link")
	}

	stats := linkStatsFor(id)

	var uploads []models.Upload
	err = database.Execute(func() error {
		return database.DB.Where("upload_link_id = ?", id).
			Order("created_at desc").Find(&uploads).Error
	})
	if err != nil {
		return serviceError(c, err, "Failed to fetch uploads")
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"upload_link": link,
		"uploads":     uploads,
		"stats":       stats,
	})
}

// LinkStats aggregates upload activity for one link
type LinkStats struct {
	TotalUploads   int64 `json:"total_uploads"`
	TotalBytes     int64 `json:"total_bytes"`
	TotalBatches   int64 `json:"total_batches"`
	TotalDownloads int64 `json:"total_downloads"`
}

// linkStatsFor computes upload stats for a link, cached for a minute to
// keep the admin detail view cheap to refresh
func linkStatsFor(id string) LinkStats {
	var stats LinkStats
	cacheKey := database.CacheKeyLinkStats + id
	if err := database.CacheGet(cacheKey, &stats); err == nil {
		return stats
	}

	err := database.Execute(func() error {
		if err := database.DB.Model(&models.Upload{}).Where("upload_link_id = ?", id).
			Count(&stats.TotalUploads).Error; err != nil {
			return err
		}
		if err := database.DB.Model(&models.Upload{}).Where("upload_link_id = ?", id).
			Select("COALESCE(SUM(file_size), 0)").Scan(&stats.TotalBytes).Error; err != nil {
			return err
		}
		if err := database.DB.Model(&models.UploadBatch{}).Where("upload_link_id = ?", id).
			Count(&stats.TotalBatches).Error; err != nil {
			return err
		}
		return database.DB.Model(&models.Upload{}).Where("upload_link_id = ?", id).
			Select("COALESCE(SUM(download_count), 0)").Scan(&stats.TotalDownloads).Error
	})
	if err != nil {
		// Stats are advisory on the detail view; serve zeroes uncached
		log.Printf("Warning: Failed to compute link stats for %s: %v", id, err)
		return LinkStats{}
	}

	database.CacheSet(cacheKey, stats, database.CacheTTLLinkStats)
	return stats
}

// Deactivate flips the manual kill switch on a link
func (h *UploadLinkHandler) Deactivate(c *fiber.Ctx) error {
	id := c.Params("id")

	var link models.UploadLink
	err := database.Execute(func() error {
		return database.DB.Where("id = ?", id).First(&link).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Upload link not found",
			})
		}
		return serviceError(c, err, "Failed to deactivate upload link")
	}

	if !link.IsActive {
		return c.JSON(fiber.Map{
			"success": true,
			"message": "Upload link is already deactivated",
		})
	}

	now := time.Now()
	err = database.Execute(func() error {
		return database.DB.Model(&link).Updates(map[string]interface{}{
			"is_active":      false,
			"deactivated_at": now,
		}).Error
	})
	if err != nil {
		return serviceError(c, err, "Failed to deactivate upload link")
	}

	// Best effort; the TTL ceiling bounds staleness for other processes
	database.InvalidateUploadLinkCache(link.Token)

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Upload link deactivated",
	})
}

// Download issues a presigned GET URL for an uploaded file and records the
// access. The download counter only moves when URL issuance succeeds.
func (h *UploadLinkHandler) Download(c *fiber.Ctx) error {
	id := c.Params("id")

	var upload models.Upload
	err := database.Execute(func() error {
		return database.DB.Where("id = ?", id).First(&upload).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Upload not found",
			})
		}
		return serviceError(c, err, "Failed to fetch upload")
	}

	url, err := h.broker.PresignDownload(c.Context(), upload.S3Key, upload.S3Bucket, storage.DefaultDownloadTTL)
	if err != nil {
		log.Printf("ERROR: Failed to presign download for upload %s: %v", upload.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to generate download URL",
		})
	}

	err = database.Execute(func() error {
		return database.DB.Model(&upload).
			UpdateColumn("download_count", gorm.Expr("download_count + 1")).Error
	})
	if err != nil {
		log.Printf("Warning: Failed to increment download count for upload %s: %v", upload.ID, err)
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"url":        url,
		"expires_in": int(storage.DefaultDownloadTTL.Seconds()),
	})
}

// serviceError maps resilience-layer failures to 503 and everything else to 500
func serviceError(c *fiber.Ctx, err error, fallback string) error {
	if errors.Is(err, database.ErrServiceUnavailable) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"message": "Service temporarily unavailable. Please try again.",
		})
	}
	log.Printf("ERROR: %s: %v", fallback, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"message": fallback,
	})
}
