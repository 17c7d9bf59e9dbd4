package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cheongam/chatbot-backend/internal/clients/redis"
	"github.com/cheongam/chatbot-backend/internal/config"
	"github.com/cheongam/chatbot-backend/internal/platform/apierr"
	"github.com/cheongam/chatbot-backend/internal/platform/logger"
	"github.com/cheongam/chatbot-backend/internal/repos"
	"github.com/cheongam/chatbot-backend/internal/requestdata"
	"github.com/cheongam/chatbot-backend/internal/types"
)

type chatFixture struct {
	svc         ChatService
	sessionRepo repos.ChatSessionRepo
	messageRepo repos.ChatMessageRepo
	usage       UsageService
	assistant   *fakeAssistant
	cache       *fakeSessionCache
	userID      uuid.UUID
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&types.User{},
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
		DefaultChatStrategy: StrategyThread,
		QuotaDailyTokens:    1_000_000,
		QuotaDailyRequests:  1_000,
	}

	sessionRepo := repos.NewChatSessionRepo(db, log)
	messageRepo := repos.NewChatMessageRepo(db, log)
	usage := NewUsageService(
		db,
		log,
		cfg,
		repos.NewUsageLogRepo(db, log),
		repos.NewUserRepo(db, log),
		repos.NewDocumentRepo(db, log),
		sessionRepo,
		messageRepo,
	)
	fa := newFakeAssistant()
	cache := newFakeSessionCache()

	return &chatFixture{
		svc:         NewChatService(db, log, cfg, sessionRepo, messageRepo, usage, fa, cache),
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		usage:       usage,
		assistant:   fa,
		cache:       cache,
		userID:      uuid.New(),
	}
}

func (f *chatFixture) ctx() context.Context {
	return requestdata.WithRequestData(context.Background(), &requestdata.RequestData{
		UserID: f.userID,
		Email:  "student@cheongam.ac.kr",
	})
}

func TestSendMessageStartsSessionAndPersistsTurn(t *testing.T) {
	f := newChatFixture(t)
	ctx := f.ctx()

	reply, err := f.svc.SendMessage(ctx, "  개강일이 언제야?  ", nil, "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply.SessionID == uuid.Nil {
		t.Fatal("expected a session id")
	}
	if reply.Strategy != StrategyThread {
		t.Fatalf("strategy = %q, want thread", reply.Strategy)
	}
	if reply.ThreadID != "thread_1" {
		t.Fatalf("thread id = %q, want thread_1", reply.ThreadID)
	}
	if reply.Response != f.assistant.reply {
		t.Fatalf("response = %q", reply.Response)
	}
	if reply.TokensUsed != f.assistant.tokens {
		t.Fatalf("tokens = %d, want %d", reply.TokensUsed, f.assistant.tokens)
	}

	sessions, err := f.sessionRepo.GetByIDs(ctx, nil, []uuid.UUID{reply.SessionID})
	if err != nil || len(sessions) != 1 {
		t.Fatalf("load session: %v (%d rows)", err, len(sessions))
	}
	session := sessions[0]
	if session.UserID != f.userID {
		t.Fatalf("session owner = %s, want %s", session.UserID, f.userID)
	}
	if session.Title != "개강일이 언제야?" {
		t.Fatalf("session title = %q", session.Title)
	}
	if session.ThreadID != "thread_1" {
		t.Fatalf("persisted thread id = %q", session.ThreadID)
	}

	msgs, err := f.messageRepo.ListBySession(ctx, nil, reply.SessionID, 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected both turns persisted, got %d messages", len(msgs))
	}
	byRole := map[string]*types.ChatMessage{}
	for _, m := range msgs {
		byRole[m.Role] = m
	}
	if byRole["user"] == nil || byRole["user"].Content != "개강일이 언제야?" {
		t.Fatalf("user turn missing or wrong: %+v", byRole["user"])
	}
	if byRole["assistant"] == nil || byRole["assistant"].Content != f.assistant.reply {
		t.Fatalf("assistant turn missing or wrong: %+v", byRole["assistant"])
	}
	if byRole["assistant"].TokensUsed != f.assistant.tokens {
		t.Fatalf("assistant tokens = %d", byRole["assistant"].TokensUsed)
	}

	if got := f.assistant.threadMsgs["thread_1"]; len(got) != 1 || got[0] != "개강일이 언제야?" {
		t.Fatalf("remote thread messages = %v", got)
	}

	summary, err := f.usage.Summary(ctx, f.userID, 1)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.TotalTokens != int64(f.assistant.tokens) {
		t.Fatalf("tracked tokens = %d, want %d", summary.TotalTokens, f.assistant.tokens)
	}
	if summary.ByOperation["chat_thread"] != int64(f.assistant.tokens) {
		t.Fatalf("chat_thread tokens = %d", summary.ByOperation["chat_thread"])
	}

	if cached, _ := f.cache.Get(ctx, reply.SessionID); cached == nil || cached.ThreadID != "thread_1" {
		t.Fatalf("session not cached after send: %+v", cached)
	}
}

func TestSendMessageRecreatesStaleThread(t *testing.T) {
	f := newChatFixture(t)
	ctx := f.ctx()

	session := &types.ChatSession{
		ID:       uuid.New(),
		UserID:   f.userID,
		Title:    "지난 학기 질문",
		ThreadID: "thread_expired",
	}
	if _, err := f.sessionRepo.Create(ctx, nil, []*types.ChatSession{session}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	reply, err := f.svc.SendMessage(ctx, "이어서 질문할게", &session.ID, StrategyThread)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply.SessionID != session.ID {
		t.Fatalf("session id = %s, want %s", reply.SessionID, session.ID)
	}
	if reply.ThreadID == "thread_expired" || reply.ThreadID == "" {
		t.Fatalf("expected a fresh thread, got %q", reply.ThreadID)
	}

	sessions, err := f.sessionRepo.GetByIDs(ctx, nil, []uuid.UUID{session.ID})
	if err != nil || len(sessions) != 1 {
		t.Fatalf("reload session: %v", err)
	}
	if sessions[0].ThreadID != reply.ThreadID {
		t.Fatalf("persisted thread id = %q, want %q", sessions[0].ThreadID, reply.ThreadID)
	}
}

func TestSendMessageRejectsForeignSession(t *testing.T) {
	f := newChatFixture(t)
	ctx := f.ctx()

	foreign := &types.ChatSession{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Title:  "남의 대화",
	}
	if _, err := f.sessionRepo.Create(ctx, nil, []*types.ChatSession{foreign}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	_, err := f.svc.SendMessage(ctx, "몰래 끼어들기", &foreign.ID, StrategyThread)
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apierr.Error, got %v", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Code != "forbidden" {
		t.Fatalf("status=%d code=%q, want 403 forbidden", apiErr.Status, apiErr.Code)
	}

	// Same check must hold when the foreign session comes out of the cache.
	if err := f.cache.Set(ctx, redis.CachedSession{
		SessionID: foreign.ID,
		UserID:    foreign.UserID,
		ThreadID:  "thread_other",
		Title:     foreign.Title,
	}); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	_, err = f.svc.SendMessage(ctx, "다시 시도", &foreign.ID, StrategyThread)
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("cached path: expected 403, got %v", err)
	}
}

func TestSendMessageReusesCachedSession(t *testing.T) {
	f := newChatFixture(t)
	ctx := f.ctx()

	sessionID := uuid.New()
	f.assistant.liveThreads["thread_live"] = true
	if err := f.cache.Set(ctx, redis.CachedSession{
		SessionID: sessionID,
		UserID:    f.userID,
		ThreadID:  "thread_live",
		Title:     "캐시된 대화",
	}); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	reply, err := f.svc.SendMessage(ctx, "캐시 경로 확인", &sessionID, StrategyThread)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply.ThreadID != "thread_live" {
		t.Fatalf("thread id = %q, want cached thread_live", reply.ThreadID)
	}
	if f.assistant.threadSeq != 0 {
		t.Fatalf("expected no new thread, %d created", f.assistant.threadSeq)
	}
	if got := f.assistant.threadMsgs["thread_live"]; len(got) != 1 {
		t.Fatalf("remote messages on cached thread = %v", got)
	}
}

func TestAutoTitle(t *testing.T) {
	t.Parallel()

	if got := autoTitle("학사 일정 알려줘"); got != "학사 일정 알려줘" {
		t.Fatalf("unexpected title: %q", got)
	}

	long := strings.Repeat("질문 ", 40)
	got := autoTitle(long)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected truncated title to end with ellipsis, got %q", got)
	}
	if len([]rune(got)) != autoTitleLength+3 {
		t.Fatalf("unexpected truncated length: %d", len([]rune(got)))
	}

	if got := autoTitle("   "); got != "New Chat" {
		t.Fatalf("expected fallback title, got %q", got)
	}

	if got := autoTitle("line\none\ttwo"); got != "line one two" {
		t.Fatalf("expected collapsed whitespace, got %q", got)
	}
}

func TestSetStrategy(t *testing.T) {
	t.Parallel()

	cs := &chatService{defaultStrategy: StrategyThread}

	if err := cs.SetStrategy(StrategyDirect); err != nil {
		t.Fatalf("SetStrategy(direct): %v", err)
	}
	if got := cs.ActiveStrategy(); got != StrategyDirect {
		t.Fatalf("active strategy = %q, want direct", got)
	}

	if err := cs.SetStrategy("oracle"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
	if got := cs.ActiveStrategy(); got != StrategyDirect {
		t.Fatalf("strategy changed on invalid input: %q", got)
	}
}
