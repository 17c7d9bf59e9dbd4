package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cheongam/chatbot-backend/internal/http/response"
	"github.com/cheongam/chatbot-backend/internal/requestdata"
	"github.com/cheongam/chatbot-backend/internal/services"
)

type UsageHandler struct {
	usageService services.UsageService
}

func NewUsageHandler(usageService services.UsageService) *UsageHandler {
	return &UsageHandler{usageService: usageService}
}

func (uh *UsageHandler) Summary(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))
	summary, err := uh.usageService.Summary(c.Request.Context(), rd.UserID, days)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"success": true, "summary": summary})
}

func (uh *UsageHandler) Quota(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	quota, err := uh.usageService.Quota(c.Request.Context(), rd.UserID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"success": true, "quota": quota})
}

func (uh *UsageHandler) Metrics(c *gin.Context) {
	metrics, err := uh.usageService.Metrics(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"success": true, "metrics": metrics})
}

func (uh *UsageHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	logs, err := uh.usageService.History(c.Request.Context(), limit, offset)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"success": true, "history": logs, "count": len(logs)})
}

// Track lets trusted frontends report client-side operations (e.g. exports)
// into the same usage ledger.
func (uh *UsageHandler) Track(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	var req struct {
		Operation  string `json:"operation" form:"operation"`
		Model      string `json:"model" form:"model"`
		TokensUsed int    `json:"tokens_used" form:"tokens_used"`
		SessionID  string `json:"session_id" form:"session_id"`
	}
	if err := c.ShouldBind(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	input := services.TrackInput{
		UserID:     rd.UserID,
		Operation:  req.Operation,
		Model:      req.Model,
		TokensUsed: req.TokensUsed,
	}
	if req.SessionID != "" {
		sessionID, err := uuid.Parse(req.SessionID)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
			return
		}
		input.SessionID = &sessionID
	}
	if err := uh.usageService.Track(c.Request.Context(), input); err != nil {
		response.RespondError(c, http.StatusBadRequest, "track_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"success": true})
}
