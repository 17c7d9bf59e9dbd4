package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cheongam/chatbot-backend/internal/clients/redis"
	"github.com/cheongam/chatbot-backend/internal/config"
	"github.com/cheongam/chatbot-backend/internal/platform/apierr"
	"github.com/cheongam/chatbot-backend/internal/platform/assistant"
	"github.com/cheongam/chatbot-backend/internal/platform/logger"
	"github.com/cheongam/chatbot-backend/internal/repos"
	"github.com/cheongam/chatbot-backend/internal/requestdata"
	"github.com/cheongam/chatbot-backend/internal/types"
)

const (
	StrategyThread = "thread"
	StrategyDirect = "direct"

	maxMessageLength = 4000
	autoTitleLength  = 50
)

type ChatReply struct {
	Response   string    `json:"response"`
	SessionID  uuid.UUID `json:"session_id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Strategy   string    `json:"strategy"`
	Model      string    `json:"model,omitempty"`
	TokensUsed int       `json:"tokens_used"`
	FilesUsed  []string  `json:"files_used,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

type ChatService interface {
	SendMessage(ctx context.Context, message string, sessionID *uuid.UUID, strategy string) (*ChatReply, error)
	Strategies() []string
	ActiveStrategy() string
	SetStrategy(strategy string) error
}

type chatService struct {
	db              *gorm.DB
	log             *logger.Logger
	cfg             *config.Config
	sessionRepo     repos.ChatSessionRepo
	messageRepo     repos.ChatMessageRepo
	usageService    UsageService
	assistantClient assistant.Client
	sessionCache    redis.SessionCache

	mu              sync.RWMutex
	defaultStrategy string
}

func NewChatService(
	db *gorm.DB,
	log *logger.Logger,
	cfg *config.Config,
	sessionRepo repos.ChatSessionRepo,
	messageRepo repos.ChatMessageRepo,
	usageService UsageService,
	assistantClient assistant.Client,
	sessionCache redis.SessionCache,
) ChatService {
	strategy := cfg.DefaultChatStrategy
	if strategy != StrategyThread && strategy != StrategyDirect {
		strategy = StrategyThread
	}
	return &chatService{
		db:              db,
		log:             log.With("service", "ChatService"),
		cfg:             cfg,
		sessionRepo:     sessionRepo,
		messageRepo:     messageRepo,
		usageService:    usageService,
		assistantClient: assistantClient,
		sessionCache:    sessionCache,
		defaultStrategy: strategy,
	}
}

func (cs *chatService) Strategies() []string {
	return []string{StrategyThread, StrategyDirect}
}

func (cs *chatService) ActiveStrategy() string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.defaultStrategy
}

func (cs *chatService) SetStrategy(strategy string) error {
	if strategy != StrategyThread && strategy != StrategyDirect {
		return apierr.New(http.StatusBadRequest, "invalid_strategy",
			fmt.Errorf("unknown strategy %q; valid: %s", strategy, strings.Join(cs.Strategies(), ", ")))
	}
	cs.mu.Lock()
	cs.defaultStrategy = strategy
	cs.mu.Unlock()
	cs.log.Info("Chat strategy changed", "strategy", strategy)
	return nil
}

func (cs *chatService) SendMessage(ctx context.Context, message string, sessionID *uuid.UUID, strategy string) (*ChatReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apierr.New(http.StatusBadRequest, "empty_message", fmt.Errorf("message is required"))
	}
	if utf8.RuneCountInString(message) > maxMessageLength {
		return nil, apierr.New(http.StatusBadRequest, "message_too_long",
			fmt.Errorf("message exceeds %d characters", maxMessageLength))
	}

	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", fmt.Errorf("no user in context"))
	}

	if err := cs.usageService.CheckQuota(ctx, rd.UserID); err != nil {
		return nil, err
	}

	if strategy == "" {
		strategy = cs.ActiveStrategy()
	}

	var reply *ChatReply
	var err error
	switch strategy {
	case StrategyDirect:
		reply, err = cs.sendDirect(ctx, rd.UserID, message, sessionID)
	case StrategyThread:
		reply, err = cs.sendThreaded(ctx, rd.UserID, message, sessionID)
	default:
		return nil, apierr.New(http.StatusBadRequest, "invalid_strategy",
			fmt.Errorf("unknown strategy %q; valid: %s", strategy, strings.Join(cs.Strategies(), ", ")))
	}
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (cs *chatService) sendThreaded(ctx context.Context, userID uuid.UUID, message string, sessionID *uuid.UUID) (*ChatReply, error) {
	started := time.Now()
	session, err := cs.resolveSession(ctx, userID, sessionID, message)
	if err != nil {
		return nil, err
	}

	threadID, err := cs.ensureThread(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare thread: %w", err)
	}

	if err := cs.assistantClient.AddUserMessage(ctx, threadID, message); err != nil {
		return nil, fmt.Errorf("failed to post message: %w", err)
	}
	run, err := cs.assistantClient.RunAndWait(ctx, threadID)
	if err != nil {
		cs.log.Error("Assistant run failed", "session_id", session.ID.String(), "error", err)
		return nil, apierr.New(http.StatusBadGateway, "assistant_error", fmt.Errorf("assistant run failed: %w", err))
	}

	tokens := run.Usage.Total()
	cs.persistTurn(ctx, session, message, run.Response, tokens)
	cs.trackUsage(ctx, userID, session.ID, "chat_thread", run.Model, tokens)

	return &ChatReply{
		Response:   run.Response,
		SessionID:  session.ID,
		ThreadID:   session.ThreadID,
		Strategy:   StrategyThread,
		Model:      run.Model,
		TokensUsed: tokens,
		FilesUsed:  run.FileIDs,
		DurationMS: time.Since(started).Milliseconds(),
	}, nil
}

func (cs *chatService) sendDirect(ctx context.Context, userID uuid.UUID, message string, sessionID *uuid.UUID) (*ChatReply, error) {
	started := time.Now()
	session, err := cs.resolveSession(ctx, userID, sessionID, message)
	if err != nil {
		return nil, err
	}

	run, err := cs.assistantClient.CompleteDirect(ctx, message)
	if err != nil {
		cs.log.Error("Direct completion failed", "session_id", session.ID.String(), "error", err)
		return nil, apierr.New(http.StatusBadGateway, "assistant_error", fmt.Errorf("completion failed: %w", err))
	}

	tokens := run.Usage.Total()
	cs.persistTurn(ctx, session, message, run.Response, tokens)
	cs.trackUsage(ctx, userID, session.ID, "chat_direct", run.Model, tokens)

	return &ChatReply{
		Response:   run.Response,
		SessionID:  session.ID,
		Strategy:   StrategyDirect,
		Model:      run.Model,
		TokensUsed: tokens,
		DurationMS: time.Since(started).Milliseconds(),
	}, nil
}

// resolveSession loads an existing session (cache first) or creates one,
// titling it from the opening message.
func (cs *chatService) resolveSession(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID, message string) (*types.ChatSession, error) {
	if sessionID != nil {
		if cached, err := cs.sessionCache.Get(ctx, *sessionID); err == nil && cached != nil {
			if cached.UserID != userID {
				return nil, apierr.New(http.StatusForbidden, "forbidden", fmt.Errorf("session belongs to another user"))
			}
			return &types.ChatSession{
				ID:       cached.SessionID,
				UserID:   cached.UserID,
				ThreadID: cached.ThreadID,
				Title:    cached.Title,
			}, nil
		}

		sessions, err := cs.sessionRepo.GetByIDs(ctx, nil, []uuid.UUID{*sessionID})
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		if len(sessions) == 0 {
			return nil, apierr.New(http.StatusNotFound, "session_not_found", fmt.Errorf("session not found"))
		}
		session := sessions[0]
		if session.UserID != userID {
			return nil, apierr.New(http.StatusForbidden, "forbidden", fmt.Errorf("session belongs to another user"))
		}
		cs.cacheSession(ctx, session)
		return session, nil
	}

	session := &types.ChatSession{
		ID:     uuid.New(),
		UserID: userID,
		Title:  autoTitle(message),
	}
	if _, err := cs.sessionRepo.Create(ctx, nil, []*types.ChatSession{session}); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	cs.cacheSession(ctx, session)
	return session, nil
}

// ensureThread returns a live provider thread for the session, recreating
// stale ones. Threads expire provider-side; a vanished thread is not an
// error, the conversation just loses remote context.
func (cs *chatService) ensureThread(ctx context.Context, session *types.ChatSession) (string, error) {
	if session.ThreadID != "" && cs.assistantClient.ThreadExists(ctx, session.ThreadID) {
		return session.ThreadID, nil
	}
	if session.ThreadID != "" {
		cs.log.Warn("Stale thread replaced", "session_id", session.ID.String())
	}
	threadID, err := cs.assistantClient.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	if err := cs.sessionRepo.UpdateFields(ctx, nil, session.ID, map[string]interface{}{"thread_id": threadID}); err != nil {
		return "", fmt.Errorf("failed to persist thread id: %w", err)
	}
	session.ThreadID = threadID
	cs.cacheSession(ctx, session)
	return threadID, nil
}

func (cs *chatService) persistTurn(ctx context.Context, session *types.ChatSession, userMessage, assistantMessage string, tokens int) {
	messages := []*types.ChatMessage{
		{
			ID:        uuid.New(),
			SessionID: session.ID,
			Role:      "user",
			Content:   userMessage,
		},
		{
			ID:         uuid.New(),
			SessionID:  session.ID,
			Role:       "assistant",
			Content:    assistantMessage,
			TokensUsed: tokens,
		},
	}
	if _, err := cs.messageRepo.Create(ctx, nil, messages); err != nil {
		// The reply already happened remotely; losing the transcript row is
		// logged, not surfaced.
		cs.log.Error("Failed to persist chat turn", "session_id", session.ID.String(), "error", err)
	}
	if err := cs.sessionRepo.UpdateFields(ctx, nil, session.ID, map[string]interface{}{"updated_at": gorm.Expr("NOW()")}); err != nil {
		cs.log.Warn("Failed to bump session timestamp", "session_id", session.ID.String(), "error", err)
	}
}

func (cs *chatService) trackUsage(ctx context.Context, userID, sessionID uuid.UUID, operation, model string, tokens int) {
	if err := cs.usageService.Track(ctx, TrackInput{
		UserID:     userID,
		SessionID:  &sessionID,
		Operation:  operation,
		Model:      model,
		TokensUsed: tokens,
	}); err != nil {
		cs.log.Warn("Failed to track usage", "operation", operation, "error", err)
	}
}

func (cs *chatService) cacheSession(ctx context.Context, session *types.ChatSession) {
	if err := cs.sessionCache.Set(ctx, redis.CachedSession{
		SessionID: session.ID,
		UserID:    session.UserID,
		ThreadID:  session.ThreadID,
		Title:     session.Title,
	}); err != nil {
		cs.log.Warn("Failed to cache session", "session_id", session.ID.String(), "error", err)
	}
}

func autoTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	runes := []rune(title)
	if len(runes) > autoTitleLength {
		title = string(runes[:autoTitleLength]) + "..."
	}
	if title == "" {
		title = "New Chat"
	}
	return title
}
