package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ChatMessage struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID  uuid.UUID      `gorm:"type:uuid;index;not null" json:"session_id"`
	Session    *ChatSession   `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:ID" json:"session,omitempty"`
	Role       string         `gorm:"column:role;not null" json:"role"`
	Content    string         `gorm:"column:content;not null" json:"content"`
	TokensUsed int            `gorm:"column:tokens_used;not null;default:0" json:"tokens_used"`
	Metadata   datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_messages" }
