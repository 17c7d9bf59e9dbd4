package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type UsageLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID      `gorm:"type:uuid;index;not null" json:"user_id"`
	SessionID  *uuid.UUID     `gorm:"type:uuid;index" json:"session_id,omitempty"`
	Operation  string         `gorm:"column:operation;not null" json:"operation"`
	Model      string         `gorm:"column:model" json:"model"`
	TokensUsed int            `gorm:"column:tokens_used;not null;default:0" json:"tokens_used"`
	Metadata   datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`
	CreatedAt  time.Time      `gorm:"not null;index" json:"created_at"`
}

func (UsageLog) TableName() string { return "usage_logs" }
