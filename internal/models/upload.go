package models

import (
	"time"
)

// UploadBatchStatus tracks the progress of a multi-file submission
type UploadBatchStatus string

const (
	UploadBatchStatusPending  UploadBatchStatus = "PENDING"
	UploadBatchStatusComplete UploadBatchStatus = "COMPLETE"
)

// UploadBatch groups files submitted together in one presigned-URL request.
// UploadedFiles is a running counter; the source of truth is the count of
// associated Upload rows.
type UploadBatch struct {
	ID            string            `gorm:"primaryKey;size:36" json:"id"`
	UploadLinkID  string            `gorm:"size:36;not null;index" json:"upload_link_id"`
	Status        UploadBatchStatus `gorm:"size:20;default:PENDING" json:"status"`
	TotalFiles    int               `gorm:"not null" json:"total_files"`
	UploadedFiles int               `gorm:"default:0" json:"uploaded_files"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func (UploadBatch) TableName() string {
	return "upload_batches"
}

// VirusScanStatus is advisory only; the intake core does not enforce it
type VirusScanStatus string

const (
	VirusScanPending VirusScanStatus = "PENDING"
	VirusScanClean   VirusScanStatus = "CLEAN"
	VirusScanFlagged VirusScanStatus = "FLAGGED"
)

// Upload is one row per physical file. The row is created when the
// presigned PUT URL is issued, before the client's actual upload succeeds.
// Only the metadata fields and DownloadCount mutate after creation.
type Upload struct {
	ID                string          `gorm:"primaryKey;size:36" json:"id"`
	UploadLinkID      string          `gorm:"size:36;not null;index" json:"upload_link_id"`
	DocumentRequestID *uint           `gorm:"index" json:"document_request_id"`
	UploadBatchID     *string         `gorm:"size:36;index" json:"upload_batch_id"`
	FileName          string          `gorm:"size:512;not null" json:"file_name"`
	FileSize          int64           `gorm:"not null" json:"file_size"`
	MimeType          string          `gorm:"size:255;not null" json:"mime_type"`
	S3Key             string          `gorm:"size:1024;not null" json:"s3_key"`
	S3Bucket          string          `gorm:"size:255;not null" json:"s3_bucket"`
	Description       string          `gorm:"type:text" json:"description"`
	Tags              string          `gorm:"size:512" json:"tags"`
	Category          string          `gorm:"size:255" json:"category"`
	DownloadCount     int64           `gorm:"default:0" json:"download_count"`
	VirusScanStatus   VirusScanStatus `gorm:"size:20;default:PENDING" json:"virus_scan_status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Upload) TableName() string {
	return "uploads"
}
