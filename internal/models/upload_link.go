package models

import (
	"time"
)

// DocumentRequestStatus reflects whether all requested documents were satisfied
type DocumentRequestStatus string

const (
	DocumentRequestStatusIncomplete DocumentRequestStatus = "INCOMPLETE"
	DocumentRequestStatusComplete   DocumentRequestStatus = "COMPLETE"
)

// UploadLink is a time-boxed, token-gated permission for one client to
// submit files. The token is a signed credential with no expiry of its
// own; validity is governed entirely by IsActive and ExpiresAt.
type UploadLink struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	Token           string     `gorm:"uniqueIndex;size:512;not null" json:"-"`
	ClientID        uint       `gorm:"not null;index" json:"client_id"`
	Client          *Client    `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	ExpiresAt       time.Time  `gorm:"not null;index" json:"expires_at"`
	IsActive        bool       `gorm:"default:true;index" json:"is_active"`
	CreatedByID     *uint      `json:"created_by_id"`
	CreatedBy       *User      `gorm:"foreignKey:CreatedByID" json:"created_by,omitempty"`
	WarningSentAt   *time.Time `json:"warning_sent_at"`
	DeactivatedAt   *time.Time `json:"deactivated_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	DocumentRequest *DocumentRequest `gorm:"foreignKey:UploadLinkID" json:"document_request,omitempty"`
}

func (UploadLink) TableName() string {
	return "upload_links"
}

// DocumentRequest carries the instructions and requested documents for one link
type DocumentRequest struct {
	ID           uint                  `gorm:"primaryKey" json:"id"`
	UploadLinkID string                `gorm:"size:36;not null;uniqueIndex" json:"upload_link_id"`
	Instructions string                `gorm:"type:text" json:"instructions"`
	Status       DocumentRequestStatus `gorm:"size:20;default:INCOMPLETE" json:"status"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`

	RequestedDocuments []RequestedDocument `gorm:"foreignKey:DocumentRequestID" json:"requested_documents,omitempty"`
}

func (DocumentRequest) TableName() string {
	return "document_requests"
}

// DocumentType is a reference table of known document names, deduplicated by name
type DocumentType struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"uniqueIndex;size:255;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (DocumentType) TableName() string {
	return "document_types"
}

// RequestedDocument asks for one document of a given type within a request
type RequestedDocument struct {
	ID                uint          `gorm:"primaryKey" json:"id"`
	DocumentRequestID uint          `gorm:"not null;index" json:"document_request_id"`
	DocumentTypeID    uint          `gorm:"not null" json:"document_type_id"`
	DocumentType      *DocumentType `gorm:"foreignKey:DocumentTypeID" json:"document_type,omitempty"`
	Description       string        `gorm:"type:text" json:"description"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func (RequestedDocument) TableName() string {
	return "requested_documents"
}
