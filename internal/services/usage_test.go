package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cheongam/chatbot-backend/internal/config"
	"github.com/cheongam/chatbot-backend/internal/platform/logger"
	"github.com/cheongam/chatbot-backend/internal/repos"
	"github.com/cheongam/chatbot-backend/internal/requestdata"
	"github.com/cheongam/chatbot-backend/internal/types"
)

func newUsageFixture(t *testing.T) (UsageService, uuid.UUID) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&types.User{},
		&types.Document{},
		&types.ChatSession{},
		&types.ChatMessage{},
		&types.UsageLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	cfg := &config.Config{
		QuotaDailyTokens:   1000,
		QuotaDailyRequests: 5,
	}

	svc := NewUsageService(
		db,
		log,
		cfg,
		repos.NewUsageLogRepo(db, log),
		repos.NewUserRepo(db, log),
		repos.NewDocumentRepo(db, log),
		repos.NewChatSessionRepo(db, log),
		repos.NewChatMessageRepo(db, log),
	)
	return svc, uuid.New()
}

func TestTrackAndSummary(t *testing.T) {
	svc, userID := newUsageFixture(t)
	ctx := context.Background()

	for _, tokens := range []int{100, 200, 50} {
		if err := svc.Track(ctx, TrackInput{
			UserID:     userID,
			Operation:  "chat_thread",
			Model:      "gpt-4-turbo-preview",
			TokensUsed: tokens,
		}); err != nil {
			t.Fatalf("Track: %v", err)
		}
	}
	if err := svc.Track(ctx, TrackInput{UserID: userID, Operation: "chat_direct", TokensUsed: 30}); err != nil {
		t.Fatalf("Track: %v", err)
	}

	summary, err := svc.Summary(ctx, userID, 7)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.TotalTokens != 380 {
		t.Fatalf("total tokens = %d, want 380", summary.TotalTokens)
	}
	if summary.TotalRequests != 4 {
		t.Fatalf("total requests = %d, want 4", summary.TotalRequests)
	}
	if summary.ByOperation["chat_thread"] != 350 {
		t.Fatalf("chat_thread tokens = %d, want 350", summary.ByOperation["chat_thread"])
	}
	if summary.ByOperation["chat_direct"] != 30 {
		t.Fatalf("chat_direct tokens = %d, want 30", summary.ByOperation["chat_direct"])
	}
	if summary.ByModel["gpt-4-turbo-preview"] != 350 {
		t.Fatalf("model tokens = %d, want 350", summary.ByModel["gpt-4-turbo-preview"])
	}
	if summary.TotalSessions != 0 {
		t.Fatalf("total sessions = %d, want 0 (no session ids tracked)", summary.TotalSessions)
	}
	if len(summary.ByDay) != 7 {
		t.Fatalf("expected 7 zero-filled days, got %d", len(summary.ByDay))
	}
}

func TestTrackRejectsInvalidInput(t *testing.T) {
	svc, userID := newUsageFixture(t)
	ctx := context.Background()

	if err := svc.Track(ctx, TrackInput{Operation: "x", TokensUsed: 1}); err == nil {
		t.Fatal("expected error for missing user id")
	}
	if err := svc.Track(ctx, TrackInput{UserID: userID, TokensUsed: 1}); err == nil {
		t.Fatal("expected error for missing operation")
	}
	if err := svc.Track(ctx, TrackInput{UserID: userID, Operation: "x", TokensUsed: -1}); err == nil {
		t.Fatal("expected error for negative tokens")
	}
}

func TestQuotaEnforcement(t *testing.T) {
	svc, userID := newUsageFixture(t)
	ctx := context.Background()

	if err := svc.CheckQuota(ctx, userID); err != nil {
		t.Fatalf("CheckQuota with no usage: %v", err)
	}

	if err := svc.Track(ctx, TrackInput{UserID: userID, Operation: "chat_thread", TokensUsed: 1000}); err != nil {
		t.Fatalf("Track: %v", err)
	}

	quota, err := svc.Quota(ctx, userID)
	if err != nil {
		t.Fatalf("Quota: %v", err)
	}
	if !quota.Exceeded {
		t.Fatalf("expected quota exceeded: %+v", quota)
	}
	if quota.TokensRemaining != 0 {
		t.Fatalf("tokens remaining = %d, want 0", quota.TokensRemaining)
	}

	if err := svc.CheckQuota(ctx, userID); err == nil {
		t.Fatal("expected quota error")
	}

	// Admins bypass the quota.
	adminCtx := requestdata.WithRequestData(ctx, &requestdata.RequestData{UserID: userID, IsAdmin: true})
	if err := svc.CheckQuota(adminCtx, userID); err != nil {
		t.Fatalf("admin should bypass quota: %v", err)
	}
}

func TestQuotaRequestLimit(t *testing.T) {
	svc, userID := newUsageFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := svc.Track(ctx, TrackInput{UserID: userID, Operation: "chat_thread", TokensUsed: 1}); err != nil {
			t.Fatalf("Track: %v", err)
		}
	}
	quota, err := svc.Quota(ctx, userID)
	if err != nil {
		t.Fatalf("Quota: %v", err)
	}
	if !quota.Exceeded {
		t.Fatalf("expected request quota exceeded: %+v", quota)
	}
}

func TestMetricsCounts(t *testing.T) {
	svc, userID := newUsageFixture(t)
	ctx := context.Background()

	if err := svc.Track(ctx, TrackInput{UserID: userID, Operation: "chat_thread", TokensUsed: 42}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	metrics, err := svc.Metrics(ctx)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if metrics.TotalTokens != 42 {
		t.Fatalf("total tokens = %d, want 42", metrics.TotalTokens)
	}
	if metrics.TotalUsers != 0 || metrics.TotalDocuments != 0 {
		t.Fatalf("unexpected counts: %+v", metrics)
	}
}
