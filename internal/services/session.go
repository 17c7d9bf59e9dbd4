package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cheongam/chatbot-backend/internal/clients/redis"
	"github.com/cheongam/chatbot-backend/internal/platform/apierr"
	"github.com/cheongam/chatbot-backend/internal/platform/logger"
	"github.com/cheongam/chatbot-backend/internal/repos"
	"github.com/cheongam/chatbot-backend/internal/requestdata"
	"github.com/cheongam/chatbot-backend/internal/types"
)

type SessionSummary struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	MessageCount int64     `json:"message_count"`
	TokensUsed   int64     `json:"tokens_used"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type SessionDetail struct {
	SessionSummary
	Messages []*types.ChatMessage `json:"messages"`
}

type ExportedSession struct {
	ContentType string
	Filename    string
	Body        []byte
}

type SessionService interface {
	List(ctx context.Context, limit, offset int) ([]SessionSummary, error)
	Get(ctx context.Context, id uuid.UUID) (*SessionDetail, error)
	Rename(ctx context.Context, id uuid.UUID, title string) error
	Delete(ctx context.Context, id uuid.UUID) error
	Export(ctx context.Context, id uuid.UUID, format string) (*ExportedSession, error)
}

type sessionService struct {
	db           *gorm.DB
	log          *logger.Logger
	sessionRepo  repos.ChatSessionRepo
	messageRepo  repos.ChatMessageRepo
	sessionCache redis.SessionCache
}

func NewSessionService(
	db *gorm.DB,
	log *logger.Logger,
	sessionRepo repos.ChatSessionRepo,
	messageRepo repos.ChatMessageRepo,
	sessionCache redis.SessionCache,
) SessionService {
	return &sessionService{
		db:           db,
		log:          log.With("service", "SessionService"),
		sessionRepo:  sessionRepo,
		messageRepo:  messageRepo,
		sessionCache: sessionCache,
	}
}

func (ss *sessionService) List(ctx context.Context, limit, offset int) ([]SessionSummary, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", fmt.Errorf("no user in context"))
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	sessions, err := ss.sessionRepo.ListByUser(ctx, nil, rd.UserID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	summaries := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summary, err := ss.summarize(ctx, s)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (ss *sessionService) Get(ctx context.Context, id uuid.UUID) (*SessionDetail, error) {
	session, err := ss.ownedSession(ctx, id)
	if err != nil {
		return nil, err
	}
	messages, err := ss.messageRepo.ListBySession(ctx, nil, id, 500)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	summary, err := ss.summarize(ctx, session)
	if err != nil {
		return nil, err
	}
	return &SessionDetail{
		SessionSummary: summary,
		Messages:       messages,
	}, nil
}

func (ss *sessionService) Rename(ctx context.Context, id uuid.UUID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return apierr.New(http.StatusBadRequest, "empty_title", fmt.Errorf("title is required"))
	}
	if len([]rune(title)) > 200 {
		return apierr.New(http.StatusBadRequest, "title_too_long", fmt.Errorf("title exceeds 200 characters"))
	}
	if _, err := ss.ownedSession(ctx, id); err != nil {
		return err
	}
	if err := ss.sessionRepo.UpdateFields(ctx, nil, id, map[string]interface{}{"title": title}); err != nil {
		return fmt.Errorf("failed to rename session: %w", err)
	}
	_ = ss.sessionCache.Invalidate(ctx, id)
	return nil
}

func (ss *sessionService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := ss.ownedSession(ctx, id); err != nil {
		return err
	}
	if err := ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ss.messageRepo.DeleteBySessionIDs(ctx, tx, []uuid.UUID{id}); err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		return ss.sessionRepo.DeleteByIDs(ctx, tx, []uuid.UUID{id})
	}); err != nil {
		return err
	}
	_ = ss.sessionCache.Invalidate(ctx, id)
	ss.log.Info("Session deleted", "session_id", id.String())
	return nil
}

func (ss *sessionService) Export(ctx context.Context, id uuid.UUID, format string) (*ExportedSession, error) {
	session, err := ss.ownedSession(ctx, id)
	if err != nil {
		return nil, err
	}
	messages, err := ss.messageRepo.ListBySession(ctx, nil, id, 1000)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	base := "chat-" + session.ID.String()[:8]
	switch strings.ToLower(format) {
	case "", "json":
		body, mErr := json.MarshalIndent(map[string]any{
			"id":       session.ID,
			"title":    session.Title,
			"messages": messages,
		}, "", "  ")
		if mErr != nil {
			return nil, mErr
		}
		return &ExportedSession{
			ContentType: "application/json",
			Filename:    base + ".json",
			Body:        body,
		}, nil
	case "txt":
		return &ExportedSession{
			ContentType: "text/plain; charset=utf-8",
			Filename:    base + ".txt",
			Body:        []byte(renderTranscript(session, messages, false)),
		}, nil
	case "md":
		return &ExportedSession{
			ContentType: "text/markdown; charset=utf-8",
			Filename:    base + ".md",
			Body:        []byte(renderTranscript(session, messages, true)),
		}, nil
	default:
		return nil, apierr.New(http.StatusBadRequest, "invalid_format",
			fmt.Errorf("unknown export format %q; valid: json, txt, md", format))
	}
}

func (ss *sessionService) ownedSession(ctx context.Context, id uuid.UUID) (*types.ChatSession, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", fmt.Errorf("no user in context"))
	}
	sessions, err := ss.sessionRepo.GetByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(sessions) == 0 {
		return nil, apierr.New(http.StatusNotFound, "session_not_found", fmt.Errorf("session not found"))
	}
	session := sessions[0]
	if session.UserID != rd.UserID && !rd.IsAdmin {
		return nil, apierr.New(http.StatusForbidden, "forbidden", fmt.Errorf("session belongs to another user"))
	}
	return session, nil
}

func (ss *sessionService) summarize(ctx context.Context, session *types.ChatSession) (SessionSummary, error) {
	count, err := ss.messageRepo.CountBySession(ctx, nil, session.ID)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("failed to count messages: %w", err)
	}
	tokens, err := ss.messageRepo.SumTokensBySession(ctx, nil, session.ID)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("failed to sum tokens: %w", err)
	}
	return SessionSummary{
		ID:           session.ID,
		Title:        session.Title,
		MessageCount: count,
		TokensUsed:   tokens,
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
	}, nil
}

func renderTranscript(session *types.ChatSession, messages []*types.ChatMessage, markdown bool) string {
	var b strings.Builder
	if markdown {
		b.WriteString("# " + session.Title + "\n\n")
	} else {
		b.WriteString(session.Title + "\n")
		b.WriteString(strings.Repeat("=", len(session.Title)) + "\n\n")
	}
	for _, m := range messages {
		label := "User"
		if m.Role == "assistant" {
			label = "Assistant"
		}
		ts := m.CreatedAt.UTC().Format("2006-01-02 15:04")
		if markdown {
			b.WriteString("**" + label + "** (" + ts + "):\n\n")
			b.WriteString(m.Content + "\n\n")
		} else {
			b.WriteString("[" + ts + "] " + label + ":\n")
			b.WriteString(m.Content + "\n\n")
		}
	}
	return b.String()
}
