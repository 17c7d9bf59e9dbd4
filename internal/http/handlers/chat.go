package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cheongam/chatbot-backend/internal/http/response"
	"github.com/cheongam/chatbot-backend/internal/services"
)

type ChatHandler struct {
	chatService services.ChatService
}

func NewChatHandler(chatService services.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Send accepts both JSON and multipart/urlencoded form bodies; the frontend
// posts forms, API clients tend to post JSON.
func (ch *ChatHandler) Send(c *gin.Context) {
	var req struct {
		Message   string `json:"message" form:"message"`
		SessionID string `json:"session_id" form:"session_id"`
		Strategy  string `json:"strategy" form:"strategy"`
	}
	contentType := c.ContentType()
	var bindErr error
	if strings.Contains(contentType, "json") {
		bindErr = c.ShouldBindJSON(&req)
	} else {
		bindErr = c.ShouldBind(&req)
	}
	if bindErr != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", bindErr)
		return
	}

	var sessionID *uuid.UUID
	if strings.TrimSpace(req.SessionID) != "" {
		parsed, err := uuid.Parse(strings.TrimSpace(req.SessionID))
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
			return
		}
		sessionID = &parsed
	}

	reply, err := ch.chatService.SendMessage(c.Request.Context(), req.Message, sessionID, req.Strategy)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"success":     true,
		"response":    reply.Response,
		"session_id":  reply.SessionID.String(),
		"thread_id":   reply.ThreadID,
		"strategy":    reply.Strategy,
		"model":       reply.Model,
		"tokens_used": reply.TokensUsed,
		"files_used":  reply.FilesUsed,
		"duration_ms": reply.DurationMS,
	})
}

func (ch *ChatHandler) Strategies(c *gin.Context) {
	response.RespondOK(c, gin.H{
		"success":    true,
		"strategies": ch.chatService.Strategies(),
		"active":     ch.chatService.ActiveStrategy(),
	})
}

func (ch *ChatHandler) SetStrategy(c *gin.Context) {
	var req struct {
		Strategy string `json:"strategy" form:"strategy"`
	}
	if err := c.ShouldBind(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := ch.chatService.SetStrategy(req.Strategy); err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"success": true, "active": ch.chatService.ActiveStrategy()})
}
