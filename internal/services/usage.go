package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cheongam/chatbot-backend/internal/config"
	"github.com/cheongam/chatbot-backend/internal/platform/apierr"
	"github.com/cheongam/chatbot-backend/internal/platform/logger"
	"github.com/cheongam/chatbot-backend/internal/repos"
	"github.com/cheongam/chatbot-backend/internal/requestdata"
	"github.com/cheongam/chatbot-backend/internal/types"
)

type TrackInput struct {
	UserID     uuid.UUID
	SessionID  *uuid.UUID
	Operation  string
	Model      string
	TokensUsed int
}

type DailyUsage struct {
	Date     string `json:"date"`
	Tokens   int64  `json:"tokens"`
	Requests int64  `json:"requests"`
}

type UsageSummary struct {
	Days          int              `json:"days"`
	TotalTokens   int64            `json:"total_tokens"`
	TotalRequests int64            `json:"total_requests"`
	TotalSessions int64            `json:"total_sessions"`
	ByDay         []DailyUsage     `json:"by_day"`
	ByOperation   map[string]int64 `json:"by_operation"`
	ByModel       map[string]int64 `json:"by_model"`
}

type QuotaStatus struct {
	DailyTokenLimit   int   `json:"daily_token_limit"`
	DailyRequestLimit int   `json:"daily_request_limit"`
	TokensUsed        int64 `json:"tokens_used"`
	RequestsUsed      int64 `json:"requests_used"`
	TokensRemaining   int64 `json:"tokens_remaining"`
	RequestsRemaining int64 `json:"requests_remaining"`
	Exceeded          bool  `json:"exceeded"`
}

type SystemMetrics struct {
	TotalUsers     int64 `json:"total_users"`
	TotalDocuments int64 `json:"total_documents"`
	TotalSessions  int64 `json:"total_sessions"`
	TotalMessages  int64 `json:"total_messages"`
	TotalTokens    int64 `json:"total_tokens"`
}

type UsageService interface {
	Track(ctx context.Context, input TrackInput) error
	CheckQuota(ctx context.Context, userID uuid.UUID) error
	Quota(ctx context.Context, userID uuid.UUID) (*QuotaStatus, error)
	Summary(ctx context.Context, userID uuid.UUID, days int) (*UsageSummary, error)
	Metrics(ctx context.Context) (*SystemMetrics, error)
	History(ctx context.Context, limit, offset int) ([]*types.UsageLog, error)
}

type usageService struct {
	db           *gorm.DB
	log          *logger.Logger
	cfg          *config.Config
	usageLogRepo repos.UsageLogRepo
	userRepo     repos.UserRepo
	documentRepo repos.DocumentRepo
	sessionRepo  repos.ChatSessionRepo
	messageRepo  repos.ChatMessageRepo
}

func NewUsageService(
	db *gorm.DB,
	log *logger.Logger,
	cfg *config.Config,
	usageLogRepo repos.UsageLogRepo,
	userRepo repos.UserRepo,
	documentRepo repos.DocumentRepo,
	sessionRepo repos.ChatSessionRepo,
	messageRepo repos.ChatMessageRepo,
) UsageService {
	return &usageService{
		db:           db,
		log:          log.With("service", "UsageService"),
		cfg:          cfg,
		usageLogRepo: usageLogRepo,
		userRepo:     userRepo,
		documentRepo: documentRepo,
		sessionRepo:  sessionRepo,
		messageRepo:  messageRepo,
	}
}

func (us *usageService) Track(ctx context.Context, input TrackInput) error {
	if input.UserID == uuid.Nil {
		return fmt.Errorf("user id is required")
	}
	if input.Operation == "" {
		return fmt.Errorf("operation is required")
	}
	if input.TokensUsed < 0 {
		return fmt.Errorf("tokens_used must be non-negative")
	}
	entry := &types.UsageLog{
		ID:         uuid.New(),
		UserID:     input.UserID,
		SessionID:  input.SessionID,
		Operation:  input.Operation,
		Model:      input.Model,
		TokensUsed: input.TokensUsed,
	}
	if _, err := us.usageLogRepo.Create(ctx, nil, []*types.UsageLog{entry}); err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// CheckQuota fails a request before any tokens are spent when the user has
// exhausted the daily allowance. Admins are exempt.
func (us *usageService) CheckQuota(ctx context.Context, userID uuid.UUID) error {
	rd := requestdata.GetRequestData(ctx)
	if rd != nil && rd.IsAdmin {
		return nil
	}
	status, err := us.Quota(ctx, userID)
	if err != nil {
		return err
	}
	if status.Exceeded {
		return apierr.New(http.StatusTooManyRequests, "quota_exceeded",
			fmt.Errorf("daily quota exceeded: %d/%d tokens, %d/%d requests",
				status.TokensUsed, status.DailyTokenLimit,
				status.RequestsUsed, status.DailyRequestLimit))
	}
	return nil
}

func (us *usageService) Quota(ctx context.Context, userID uuid.UUID) (*QuotaStatus, error) {
	start, end := todayRange()
	logs, err := us.usageLogRepo.ListInRange(ctx, nil, &userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage logs: %w", err)
	}
	var tokens, requests int64
	for _, l := range logs {
		tokens += int64(l.TokensUsed)
		requests++
	}
	status := &QuotaStatus{
		DailyTokenLimit:   us.cfg.QuotaDailyTokens,
		DailyRequestLimit: us.cfg.QuotaDailyRequests,
		TokensUsed:        tokens,
		RequestsUsed:      requests,
		TokensRemaining:   max64(int64(us.cfg.QuotaDailyTokens)-tokens, 0),
		RequestsRemaining: max64(int64(us.cfg.QuotaDailyRequests)-requests, 0),
	}
	status.Exceeded = tokens >= int64(us.cfg.QuotaDailyTokens) || requests >= int64(us.cfg.QuotaDailyRequests)
	return status, nil
}

func (us *usageService) Summary(ctx context.Context, userID uuid.UUID, days int) (*UsageSummary, error) {
	if days <= 0 || days > 90 {
		days = 7
	}
	end := time.Now().UTC()
	// The window runs from midnight days-1 days ago through now, so today
	// is always the last by-day bucket.
	start := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))

	logs, err := us.usageLogRepo.ListInRange(ctx, nil, &userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage logs: %w", err)
	}

	summary := &UsageSummary{
		Days:        days,
		ByOperation: map[string]int64{},
		ByModel:     map[string]int64{},
	}
	byDay := map[string]*DailyUsage{}
	sessionSet := map[uuid.UUID]struct{}{}
	for _, l := range logs {
		summary.TotalTokens += int64(l.TokensUsed)
		summary.TotalRequests++
		summary.ByOperation[l.Operation] += int64(l.TokensUsed)
		if l.Model != "" {
			summary.ByModel[l.Model] += int64(l.TokensUsed)
		}
		if l.SessionID != nil {
			sessionSet[*l.SessionID] = struct{}{}
		}

		day := l.CreatedAt.UTC().Format("2006-01-02")
		entry, ok := byDay[day]
		if !ok {
			entry = &DailyUsage{Date: day}
			byDay[day] = entry
		}
		entry.Tokens += int64(l.TokensUsed)
		entry.Requests++
	}

	summary.TotalSessions = int64(len(sessionSet))

	// Emit every day in the window, zero-filled, oldest first.
	for d := 0; d < days; d++ {
		day := start.AddDate(0, 0, d).Format("2006-01-02")
		if entry, ok := byDay[day]; ok {
			summary.ByDay = append(summary.ByDay, *entry)
		} else {
			summary.ByDay = append(summary.ByDay, DailyUsage{Date: day})
		}
	}
	return summary, nil
}

func (us *usageService) Metrics(ctx context.Context) (*SystemMetrics, error) {
	users, err := us.userRepo.Count(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	documents, err := us.documentRepo.Count(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	sessions, err := us.sessionRepo.Count(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	messages, err := us.messageRepo.Count(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	tokens, err := us.usageLogRepo.SumTokens(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to sum tokens: %w", err)
	}
	return &SystemMetrics{
		TotalUsers:     users,
		TotalDocuments: documents,
		TotalSessions:  sessions,
		TotalMessages:  messages,
		TotalTokens:    tokens,
	}, nil
}

func (us *usageService) History(ctx context.Context, limit, offset int) ([]*types.UsageLog, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", fmt.Errorf("no user in context"))
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	logs, err := us.usageLogRepo.ListByUser(ctx, nil, rd.UserID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage history: %w", err)
	}
	return logs, nil
}

func todayRange() (time.Time, time.Time) {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
