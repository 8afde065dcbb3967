package intake

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docuflow/backend/internal/database"
	"github.com/docuflow/backend/internal/filepolicy"
	"github.com/docuflow/backend/internal/models"
	"github.com/docuflow/backend/internal/storage"
)

// ErrUploadNotFound is returned when an upload id does not exist or belongs
// to a different link. Cross-link references deliberately look identical to
// missing rows so existence never leaks.
var ErrUploadNotFound = errors.New("upload not found")

// ErrNothingUploaded is returned by Complete when the link has no uploads yet
var ErrNothingUploaded = errors.New("no files have been uploaded for this link")

// Presigner is the slice of the storage broker the coordinator needs.
// Narrowed to an interface so batch failure paths can be exercised in tests.
type Presigner interface {
	Bucket() string
	PresignUpload(ctx context.Context, key, contentType string, contentLength int64) (string, error)
}

// LinkContext is the authorized upload-link identity attached by the gate
type LinkContext struct {
	LinkID   string
	ClientID uint
}

// FileRequest describes one file a client wants to upload
type FileRequest struct {
	FileName          string `json:"fileName"`
	ContentType       string `json:"contentType"`
	ContentLength     int64  `json:"contentLength"`
	DocumentRequestID *uint  `json:"documentRequestId,omitempty"`
	Description       string `json:"description,omitempty"`
}

// PresignedFile is the per-file result handed back to the client
type PresignedFile struct {
	UploadID string `json:"upload_id"`
	FileName string `json:"file_name"`
	Key      string `json:"key"`
	URL      string `json:"url"`
}

// Result covers both the single-file and batch paths
type Result struct {
	BatchID *string         `json:"batch_id,omitempty"`
	Files   []PresignedFile `json:"files"`
}

// MetadataPatch mutates only the free-form metadata of an existing upload
type MetadataPatch struct {
	Description *string `json:"description,omitempty"`
	Tags        *string `json:"tags,omitempty"`
	Category    *string `json:"category,omitempty"`
}

// Coordinator orchestrates upload sessions against the persistent store
type Coordinator struct {
	db        *gorm.DB
	presigner Presigner
}

func NewCoordinator(db *gorm.DB, presigner Presigner) *Coordinator {
	return &Coordinator{db: db, presigner: presigner}
}

// CreateUploads validates the requested files and issues one presigned PUT
// URL per file. A single file creates a bare Upload row; multiple files
// additionally create an UploadBatch, and the batch commits all-or-nothing:
// if any key generation or presign call fails, no rows persist.
func (c *Coordinator) CreateUploads(ctx context.Context, link LinkContext, files []FileRequest) (*Result, error) {
	if err := filepolicy.CheckBatchSize(len(files)); err != nil {
		return nil, err
	}
	for _, f := range files {
		if err := filepolicy.ValidateMetadata(f.FileName, f.ContentType); err != nil {
			return nil, err
		}
		if err := filepolicy.CheckFileSize(f.ContentLength); err != nil {
			return nil, fmt.Errorf("file %q: %w", f.FileName, err)
		}
	}

	var result *Result
	err := database.Execute(func() error {
		var err error
		if len(files) == 1 {
			result, err = c.createSingle(ctx, link, files[0])
		} else {
			result, err = c.createBatch(ctx, link, files)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Coordinator) createSingle(ctx context.Context, link LinkContext, file FileRequest) (*Result, error) {
	var presigned PresignedFile
	err := c.db.Transaction(func(tx *gorm.DB) error {
		var err error
		presigned, err = c.createUpload(ctx, tx, link, file, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Result{Files: []PresignedFile{presigned}}, nil
}

func (c *Coordinator) createBatch(ctx context.Context, link LinkContext, files []FileRequest) (*Result, error) {
	batchID := uuid.New().String()
	result := &Result{BatchID: &batchID}

	err := c.db.Transaction(func(tx *gorm.DB) error {
		batch := models.UploadBatch{
			ID:           batchID,
			UploadLinkID: link.LinkID,
			Status:       models.UploadBatchStatusPending,
			TotalFiles:   len(files),
		}
		if err := tx.Create(&batch).Error; err != nil {
			return err
		}

		for _, f := range files {
			presigned, err := c.createUpload(ctx, tx, link, f, &batchID)
			if err != nil {
				return err
			}
			result.Files = append(result.Files, presigned)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// createUpload records one Upload row and presigns its PUT URL inside the
// caller's transaction. The row exists before the client's actual PUT
// succeeds; that optimism is by contract.
func (c *Coordinator) createUpload(ctx context.Context, tx *gorm.DB, link LinkContext, file FileRequest, batchID *string) (PresignedFile, error) {
	key := storage.GenerateKey(link.ClientID, link.LinkID, file.FileName)

	url, err := c.presigner.PresignUpload(ctx, key, file.ContentType, file.ContentLength)
	if err != nil {
		return PresignedFile{}, fmt.Errorf("failed to generate upload URL for %q: %w", file.FileName, err)
	}

	upload := models.Upload{
		ID:                uuid.New().String(),
		UploadLinkID:      link.LinkID,
		DocumentRequestID: file.DocumentRequestID,
		UploadBatchID:     batchID,
		FileName:          file.FileName,
		FileSize:          file.ContentLength,
		MimeType:          file.ContentType,
		S3Key:             key,
		S3Bucket:          c.presigner.Bucket(),
		Description:       file.Description,
	}
	if err := tx.Create(&upload).Error; err != nil {
		return PresignedFile{}, err
	}

	return PresignedFile{
		UploadID: upload.ID,
		FileName: file.FileName,
		Key:      key,
		URL:      url,
	}, nil
}

// UpdateMetadata patches description/tags/category on an upload owned by
// the calling link
func (c *Coordinator) UpdateMetadata(link LinkContext, uploadID string, patch MetadataPatch) (*models.Upload, error) {
	var upload models.Upload
	err := database.Execute(func() error {
		return c.db.Where("id = ? AND upload_link_id = ?", uploadID, link.LinkID).First(&upload).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUploadNotFound
		}
		return nil, err
	}

	updates := map[string]interface{}{}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Tags != nil {
		updates["tags"] = *patch.Tags
	}
	if patch.Category != nil {
		updates["category"] = *patch.Category
	}
	if len(updates) == 0 {
		return &upload, nil
	}

	err = database.Execute(func() error {
		return c.db.Model(&upload).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return &upload, nil
}

// Complete finalizes a link's submission: it requires at least one upload,
// refreshes each batch's uploaded-file counter from the Upload rows, and
// flips the DocumentRequest to COMPLETE.
func (c *Coordinator) Complete(link LinkContext) (*models.DocumentRequest, error) {
	var request models.DocumentRequest

	err := database.Execute(func() error {
		return c.db.Transaction(func(tx *gorm.DB) error {
			var uploadCount int64
			if err := tx.Model(&models.Upload{}).Where("upload_link_id = ?", link.LinkID).Count(&uploadCount).Error; err != nil {
				return err
			}
			if uploadCount == 0 {
				return ErrNothingUploaded
			}

			// Reconcile batch counters; Upload rows are the source of truth
			var batches []models.UploadBatch
			if err := tx.Where("upload_link_id = ?", link.LinkID).Find(&batches).Error; err != nil {
				return err
			}
			for i := range batches {
				var count int64
				if err := tx.Model(&models.Upload{}).Where("upload_batch_id = ?", batches[i].ID).Count(&count).Error; err != nil {
					return err
				}
				updates := map[string]interface{}{"uploaded_files": count}
				if int(count) >= batches[i].TotalFiles {
					updates["status"] = models.UploadBatchStatusComplete
				}
				if err := tx.Model(&batches[i]).Updates(updates).Error; err != nil {
					return err
				}
			}

			if err := tx.Where("upload_link_id = ?", link.LinkID).First(&request).Error; err != nil {
				return err
			}
			if request.Status == models.DocumentRequestStatusComplete {
				return nil
			}
			request.Status = models.DocumentRequestStatusComplete
			return tx.Model(&request).Update("status", models.DocumentRequestStatusComplete).Error
		})
	})
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// ResolveDocumentType looks up a DocumentType by name, creating it if the
// admin typed a name not yet known. The unique index on name makes the
// create race benign: a duplicate insert fails and the loser re-reads.
func ResolveDocumentType(db *gorm.DB, name, description string) (*models.DocumentType, error) {
	var docType models.DocumentType
	err := db.Where("name = ?", name).First(&docType).Error
	if err == nil {
		return &docType, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	docType = models.DocumentType{Name: name, Description: description}
	if err := db.Create(&docType).Error; err != nil {
		// Lost a concurrent create; the row exists now
		log.Printf("DocumentType create raced for %q, re-reading: %v", name, err)
		if readErr := db.Where("name = ?", name).First(&docType).Error; readErr != nil {
			return nil, err
		}
	}
	return &docType, nil
}
