package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	DocumentStatusUploaded   = "uploaded"
	DocumentStatusProcessing = "processing"
	DocumentStatusReady      = "ready"
	DocumentStatusFailed     = "failed"
)

type Document struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       *uuid.UUID     `gorm:"type:uuid;index" json:"user_id,omitempty"`
	FileName     string         `gorm:"column:file_name;not null" json:"file_name"`
	FileType     string         `gorm:"column:file_type" json:"file_type"`
	FileSize     int64          `gorm:"column:file_size" json:"file_size"`
	FileHash     string         `gorm:"column:file_hash;index" json:"file_hash"`
	StoragePath  string         `gorm:"column:storage_path;not null" json:"storage_path"`
	OpenAIFileID string         `gorm:"column:openai_file_id;index" json:"openai_file_id"`
	Status       string         `gorm:"column:status;not null;default:'uploaded'" json:"status"`
	Metadata     datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
}

func (Document) TableName() string { return "documents" }
