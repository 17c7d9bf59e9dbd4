package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cheongam/chatbot-backend/internal/http/response"
	"github.com/cheongam/chatbot-backend/internal/services"
)

type DocumentHandler struct {
	documentService services.DocumentService
}

func NewDocumentHandler(documentService services.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

func (dh *DocumentHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		fileHeaders = form.File["file"]
	}
	if len(fileHeaders) == 0 {
		response.RespondError(c, http.StatusBadRequest, "no_files", fmt.Errorf("no files in request"))
		return
	}

	inputs := make([]services.UploadInput, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		f, oErr := fh.Open()
		if oErr != nil {
			response.RespondError(c, http.StatusBadRequest, "unreadable_file", oErr)
			return
		}
		content, rErr := io.ReadAll(f)
		_ = f.Close()
		if rErr != nil {
			response.RespondError(c, http.StatusBadRequest, "unreadable_file", rErr)
			return
		}
		inputs = append(inputs, services.UploadInput{Filename: fh.Filename, Content: content})
	}

	results, err := dh.documentService.Upload(c.Request.Context(), inputs)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	failed := 0
	for _, r := range results {
		if r.Status == "failed" {
			failed++
		}
	}
	response.RespondOK(c, gin.H{
		"success": true,
		"results": results,
		"message": fmt.Sprintf("%d processed, %d failed", len(results)-failed, failed),
	})
}

func (dh *DocumentHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	userOnly := c.Query("user_only") == "true"
	docs, err := dh.documentService.List(c.Request.Context(), limit, offset, userOnly)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"success": true, "documents": docs, "count": len(docs)})
}

func (dh *DocumentHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	doc, err := dh.documentService.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"success": true, "document": doc})
}

// Download streams the original blob; pairs with the `?token=` auth path so
// plain anchor tags can trigger it.
func (dh *DocumentHandler) Download(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	dl, err := dh.documentService.Download(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	defer dl.Content.Close()
	c.Header("Content-Disposition", `attachment; filename="`+dl.Filename+`"`)
	c.DataFromReader(http.StatusOK, dl.Size, dl.ContentType, dl.Content, nil)
}

func (dh *DocumentHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	if err := dh.documentService.Delete(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"success": true})
}

func (dh *DocumentHandler) Sync(c *gin.Context) {
	result, err := dh.documentService.Sync(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"success": true, "sync": result})
}
