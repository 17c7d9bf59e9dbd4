package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cheongam/chatbot-backend/internal/http/response"
	"github.com/cheongam/chatbot-backend/internal/platform/apierr"
)

// respondServiceError maps service-layer errors to HTTP, honoring the status
// and code carried by apierr.Error and falling back to a generic 500.
func respondServiceError(c *gin.Context, err error) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		status := apiErr.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := apiErr.Code
		if code == "" {
			code = "internal_error"
		}
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondError(c, http.StatusInternalServerError, "internal_error", err)
}
