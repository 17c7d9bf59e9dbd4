package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cheongam/chatbot-backend/internal/platform/logger"
	"github.com/cheongam/chatbot-backend/internal/types"
)

type ChatMessageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, messages []*types.ChatMessage) ([]*types.ChatMessage, error)
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.ChatMessage, error)
	CountBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (int64, error)
	SumTokensBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (int64, error)
	DeleteBySessionIDs(ctx context.Context, tx *gorm.DB, sessionIDs []uuid.UUID) error
	Count(ctx context.Context, tx *gorm.DB) (int64, error)
}

type chatMessageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatMessageRepo(db *gorm.DB, baseLog *logger.Logger) ChatMessageRepo {
	return &chatMessageRepo{db: db, log: baseLog.With("repo", "ChatMessageRepo")}
}

func (mr *chatMessageRepo) Create(ctx context.Context, tx *gorm.DB, messages []*types.ChatMessage) ([]*types.ChatMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	if len(messages) == 0 {
		return []*types.ChatMessage{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (mr *chatMessageRepo) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	var results []*types.ChatMessage
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (mr *chatMessageRepo) CountBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.ChatMessage{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (mr *chatMessageRepo) SumTokensBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	var total int64
	if err := transaction.WithContext(ctx).
		Model(&types.ChatMessage{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(SUM(tokens_used), 0)").
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (mr *chatMessageRepo) DeleteBySessionIDs(ctx context.Context, tx *gorm.DB, sessionIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	if len(sessionIDs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("session_id IN ?", sessionIDs).
		Delete(&types.ChatMessage{}).Error
}

func (mr *chatMessageRepo) Count(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.ChatMessage{}).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
