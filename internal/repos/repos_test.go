package repos

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cheongam/chatbot-backend/internal/platform/logger"
	"github.com/cheongam/chatbot-backend/internal/types"
)

func newTestDB(t *testing.T) (*gorm.DB, *logger.Logger) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&types.User{},
		&types.UserToken{},
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
	return db, log
}

func TestDocumentRepoGetByHash(t *testing.T) {
	db, log := newTestDB(t)
	repo := NewDocumentRepo(db, log)
	ctx := context.Background()

	missing, err := repo.GetByHash(ctx, nil, "deadbeef")
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for unknown hash")
	}

	doc := &types.Document{
		ID:          uuid.New(),
		FileName:    "a.pdf",
		FileHash:    "deadbeef",
		StoragePath: "documents/deadbeef/a.pdf",
		Status:      types.DocumentStatusUploaded,
	}
	if _, err := repo.Create(ctx, nil, []*types.Document{doc}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	found, err := repo.GetByHash(ctx, nil, "deadbeef")
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if found == nil || found.ID != doc.ID {
		t.Fatalf("unexpected result: %+v", found)
	}
}

func TestDocumentRepoListFiltersByUser(t *testing.T) {
	db, log := newTestDB(t)
	repo := NewDocumentRepo(db, log)
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()
	docs := []*types.Document{
		{ID: uuid.New(), UserID: &alice, FileName: "a.pdf", FileHash: "h1", StoragePath: "p1", Status: "ready"},
		{ID: uuid.New(), UserID: &alice, FileName: "b.pdf", FileHash: "h2", StoragePath: "p2", Status: "ready"},
		{ID: uuid.New(), UserID: &bob, FileName: "c.pdf", FileHash: "h3", StoragePath: "p3", Status: "ready"},
	}
	if _, err := repo.Create(ctx, nil, docs); err != nil {
		t.Fatalf("Create: %v", err)
	}

	all, err := repo.List(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(all))
	}

	mine, err := repo.List(ctx, nil, &alice, 10, 0)
	if err != nil {
		t.Fatalf("List(alice): %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 documents for alice, got %d", len(mine))
	}
}

func TestChatMessageRepoSumTokens(t *testing.T) {
	db, log := newTestDB(t)
	sessionRepo := NewChatSessionRepo(db, log)
	messageRepo := NewChatMessageRepo(db, log)
	ctx := context.Background()

	session := &types.ChatSession{ID: uuid.New(), UserID: uuid.New(), Title: "t"}
	if _, err := sessionRepo.Create(ctx, nil, []*types.ChatSession{session}); err != nil {
		t.Fatalf("Create session: %v", err)
	}

	empty, err := messageRepo.SumTokensBySession(ctx, nil, session.ID)
	if err != nil {
		t.Fatalf("SumTokensBySession: %v", err)
	}
	if empty != 0 {
		t.Fatalf("expected 0 tokens for empty session, got %d", empty)
	}

	messages := []*types.ChatMessage{
		{ID: uuid.New(), SessionID: session.ID, Role: "user", Content: "q"},
		{ID: uuid.New(), SessionID: session.ID, Role: "assistant", Content: "a", TokensUsed: 120},
		{ID: uuid.New(), SessionID: session.ID, Role: "assistant", Content: "b", TokensUsed: 80},
	}
	if _, err := messageRepo.Create(ctx, nil, messages); err != nil {
		t.Fatalf("Create messages: %v", err)
	}

	total, err := messageRepo.SumTokensBySession(ctx, nil, session.ID)
	if err != nil {
		t.Fatalf("SumTokensBySession: %v", err)
	}
	if total != 200 {
		t.Fatalf("expected 200 tokens, got %d", total)
	}

	count, err := messageRepo.CountBySession(ctx, nil, session.ID)
	if err != nil {
		t.Fatalf("CountBySession: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 messages, got %d", count)
	}

	if err := messageRepo.DeleteBySessionIDs(ctx, nil, []uuid.UUID{session.ID}); err != nil {
		t.Fatalf("DeleteBySessionIDs: %v", err)
	}
	count, err = messageRepo.CountBySession(ctx, nil, session.ID)
	if err != nil {
		t.Fatalf("CountBySession: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 messages after delete, got %d", count)
	}
}

func TestUserTokenRepoLookups(t *testing.T) {
	db, log := newTestDB(t)
	userRepo := NewUserRepo(db, log)
	tokenRepo := NewUserTokenRepo(db, log)
	ctx := context.Background()

	user := &types.User{ID: uuid.New(), Email: "a@b.c", Password: "hash"}
	if _, err := userRepo.Create(ctx, nil, []*types.User{user}); err != nil {
		t.Fatalf("Create user: %v", err)
	}

	token := &types.UserToken{
		ID:           uuid.New(),
		UserID:       user.ID,
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	}
	if _, err := tokenRepo.Create(ctx, nil, []*types.UserToken{token}); err != nil {
		t.Fatalf("Create token: %v", err)
	}

	byAccess, err := tokenRepo.GetByAccessTokens(ctx, nil, []string{"access-1"})
	if err != nil {
		t.Fatalf("GetByAccessTokens: %v", err)
	}
	if len(byAccess) != 1 || byAccess[0].RefreshToken != "refresh-1" {
		t.Fatalf("unexpected access lookup: %+v", byAccess)
	}

	if err := tokenRepo.DeleteByIDs(ctx, nil, []uuid.UUID{token.ID}); err != nil {
		t.Fatalf("DeleteByIDs: %v", err)
	}
	byAccess, err = tokenRepo.GetByAccessTokens(ctx, nil, []string{"access-1"})
	if err != nil {
		t.Fatalf("GetByAccessTokens: %v", err)
	}
	if len(byAccess) != 0 {
		t.Fatalf("expected token gone, got %+v", byAccess)
	}
}
