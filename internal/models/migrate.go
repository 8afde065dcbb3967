package models

import (
	"log"

	"gorm.io/gorm"
)

// AutoMigrate runs database migrations for all intake entities
func AutoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	if err := db.AutoMigrate(
		&User{},
		&Client{},
		&UploadLink{},
		&DocumentRequest{},
		&DocumentType{},
		&RequestedDocument{},
		&UploadBatch{},
		&Upload{},
	); err != nil {
		return err
	}

	log.Println("Database migrations completed successfully")
	return nil
}
