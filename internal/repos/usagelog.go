package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cheongam/chatbot-backend/internal/platform/logger"
	"github.com/cheongam/chatbot-backend/internal/types"
)

type UsageLogRepo interface {
	Create(ctx context.Context, tx *gorm.DB, logs []*types.UsageLog) ([]*types.UsageLog, error)
	ListInRange(ctx context.Context, tx *gorm.DB, userID *uuid.UUID, start, end time.Time) ([]*types.UsageLog, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit, offset int) ([]*types.UsageLog, error)
	SumTokens(ctx context.Context, tx *gorm.DB) (int64, error)
}

type usageLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUsageLogRepo(db *gorm.DB, baseLog *logger.Logger) UsageLogRepo {
	return &usageLogRepo{db: db, log: baseLog.With("repo", "UsageLogRepo")}
}

func (ur *usageLogRepo) Create(ctx context.Context, tx *gorm.DB, logs []*types.UsageLog) ([]*types.UsageLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	if len(logs) == 0 {
		return []*types.UsageLog{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (ur *usageLogRepo) ListInRange(ctx context.Context, tx *gorm.DB, userID *uuid.UUID, start, end time.Time) ([]*types.UsageLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	query := transaction.WithContext(ctx).
		Model(&types.UsageLog{}).
		Where("created_at >= ? AND created_at <= ?", start, end)
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	var results []*types.UsageLog
	if err := query.Order("created_at ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (ur *usageLogRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit, offset int) ([]*types.UsageLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	var results []*types.UsageLog
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (ur *usageLogRepo) SumTokens(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	var total int64
	if err := transaction.WithContext(ctx).
		Model(&types.UsageLog{}).
		Select("COALESCE(SUM(tokens_used), 0)").
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
