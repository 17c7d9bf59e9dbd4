package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/cheongam/chatbot-backend/internal/config"
	"github.com/cheongam/chatbot-backend/internal/platform/apierr"
	"github.com/cheongam/chatbot-backend/internal/platform/assistant"
	"github.com/cheongam/chatbot-backend/internal/platform/bucket"
	"github.com/cheongam/chatbot-backend/internal/platform/logger"
	"github.com/cheongam/chatbot-backend/internal/repos"
	"github.com/cheongam/chatbot-backend/internal/requestdata"
	"github.com/cheongam/chatbot-backend/internal/types"
)

// DocumentView is the shape the frontend consumes: readable size, uploader
// info and the assistant-side file id alongside the database row.
type DocumentView struct {
	ID              uuid.UUID `json:"id"`
	OpenAIFileID    string    `json:"openai_file_id,omitempty"`
	DisplayName     string    `json:"display_name"`
	FileSize        string    `json:"file_size"`
	FileSizeBytes   int64     `json:"file_size_bytes"`
	FileType        string    `json:"file_type"`
	Status          string    `json:"status"`
	StorageURL      string    `json:"storage_url,omitempty"`
	UploadedAt      string    `json:"uploaded_at"`
	UploadedByID    string    `json:"uploaded_by_id,omitempty"`
	UploadedByEmail string    `json:"uploaded_by_email,omitempty"`
}

type UploadInput struct {
	Filename string
	Content  []byte
}

type UploadResult struct {
	Filename string        `json:"filename"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Document *DocumentView `json:"document,omitempty"`
}

type SyncResult struct {
	Attached int `json:"attached"`
	Detached int `json:"detached"`
	Total    int `json:"total"`
}

// DocumentDownload streams the original blob back out of object storage.
// The caller owns Content and must close it.
type DocumentDownload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.ReadCloser
}

type DocumentService interface {
	Upload(ctx context.Context, files []UploadInput) ([]UploadResult, error)
	List(ctx context.Context, limit, offset int, userOnly bool) ([]DocumentView, error)
	Get(ctx context.Context, id uuid.UUID) (*DocumentView, error)
	Download(ctx context.Context, id uuid.UUID) (*DocumentDownload, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Sync(ctx context.Context) (*SyncResult, error)
}

type documentService struct {
	db              *gorm.DB
	log             *logger.Logger
	cfg             *config.Config
	documentRepo    repos.DocumentRepo
	userRepo        repos.UserRepo
	bucketService   bucket.Service
	assistantClient assistant.Client
}

func NewDocumentService(
	db *gorm.DB,
	log *logger.Logger,
	cfg *config.Config,
	documentRepo repos.DocumentRepo,
	userRepo repos.UserRepo,
	bucketService bucket.Service,
	assistantClient assistant.Client,
) DocumentService {
	return &documentService{
		db:              db,
		log:             log.With("service", "DocumentService"),
		cfg:             cfg,
		documentRepo:    documentRepo,
		userRepo:        userRepo,
		bucketService:   bucketService,
		assistantClient: assistantClient,
	}
}

// uploadConcurrency bounds parallel uploads so a single request with many
// files cannot saturate the assistant API rate limit.
const uploadConcurrency = 3

func (ds *documentService) Upload(ctx context.Context, files []UploadInput) ([]UploadResult, error) {
	if len(files) == 0 {
		return nil, apierr.New(http.StatusBadRequest, "no_files", fmt.Errorf("no files provided"))
	}

	results := make([]UploadResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for i := range files {
		i := i
		g.Go(func() error {
			results[i] = ds.uploadOne(gctx, files[i])
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (ds *documentService) uploadOne(ctx context.Context, file UploadInput) UploadResult {
	result := UploadResult{Filename: file.Filename}

	if err := ds.validate(file); err != nil {
		result.Status = types.DocumentStatusFailed
		result.Error = err.Error()
		return result
	}

	hash := sha256.Sum256(file.Content)
	fileHash := hex.EncodeToString(hash[:])

	existing, err := ds.documentRepo.GetByHash(ctx, nil, fileHash)
	if err != nil {
		result.Status = types.DocumentStatusFailed
		result.Error = err.Error()
		return result
	}
	if existing != nil {
		result.Status = existing.Status
		result.Error = "duplicate: identical file already uploaded"
		view := ds.toView(ctx, existing)
		result.Document = &view
		return result
	}

	rd := requestdata.GetRequestData(ctx)
	var userID *uuid.UUID
	meta := map[string]string{"original_filename": file.Filename}
	if rd != nil && rd.UserID != uuid.Nil {
		id := rd.UserID
		userID = &id
		meta["uploaded_by_email"] = rd.Email
	}
	metaJSON, _ := json.Marshal(meta)

	storagePath := "documents/" + fileHash + "/" + sanitizeFilename(file.Filename)
	if err := ds.bucketService.Upload(ctx, storagePath, bytes.NewReader(file.Content), contentTypeFor(file.Filename)); err != nil {
		ds.log.Error("Blob upload failed", "filename", file.Filename, "error", err)
		result.Status = types.DocumentStatusFailed
		result.Error = "storage upload failed"
		return result
	}

	doc := &types.Document{
		ID:          uuid.New(),
		UserID:      userID,
		FileName:    file.Filename,
		FileType:    strings.TrimPrefix(strings.ToLower(path.Ext(file.Filename)), "."),
		FileSize:    int64(len(file.Content)),
		FileHash:    fileHash,
		StoragePath: storagePath,
		Status:      types.DocumentStatusUploaded,
		Metadata:    datatypes.JSON(metaJSON),
	}
	if _, err := ds.documentRepo.Create(ctx, nil, []*types.Document{doc}); err != nil {
		ds.log.Error("Document row create failed", "filename", file.Filename, "error", err)
		result.Status = types.DocumentStatusFailed
		result.Error = "metadata save failed"
		return result
	}

	_ = ds.documentRepo.UpdateFields(ctx, nil, doc.ID, map[string]interface{}{"status": types.DocumentStatusProcessing})
	doc.Status = types.DocumentStatusProcessing

	info, err := ds.assistantClient.UploadFile(ctx, file.Filename, file.Content)
	if err != nil {
		ds.log.Error("Assistant file upload failed", "filename", file.Filename, "error", err)
		_ = ds.documentRepo.UpdateFields(ctx, nil, doc.ID, map[string]interface{}{"status": types.DocumentStatusFailed})
		doc.Status = types.DocumentStatusFailed
		result.Status = doc.Status
		result.Error = "assistant upload failed"
		view := ds.toView(ctx, doc)
		result.Document = &view
		return result
	}

	if err := ds.assistantClient.AttachToVectorStore(ctx, info.ID); err != nil {
		ds.log.Error("Vector store attach failed", "filename", file.Filename, "error", err)
		_ = ds.documentRepo.UpdateFields(ctx, nil, doc.ID, map[string]interface{}{
			"openai_file_id": info.ID,
			"status":         types.DocumentStatusFailed,
		})
		doc.OpenAIFileID = info.ID
		doc.Status = types.DocumentStatusFailed
		result.Status = doc.Status
		result.Error = "vector store attach failed"
		view := ds.toView(ctx, doc)
		result.Document = &view
		return result
	}

	if err := ds.documentRepo.UpdateFields(ctx, nil, doc.ID, map[string]interface{}{
		"openai_file_id": info.ID,
		"status":         types.DocumentStatusReady,
	}); err != nil {
		ds.log.Error("Document status update failed", "filename", file.Filename, "error", err)
	}
	doc.OpenAIFileID = info.ID
	doc.Status = types.DocumentStatusReady

	ds.log.Info("Document uploaded", "filename", file.Filename, "size", doc.FileSize)
	result.Status = doc.Status
	view := ds.toView(ctx, doc)
	result.Document = &view
	return result
}

func (ds *documentService) validate(file UploadInput) error {
	if strings.TrimSpace(file.Filename) == "" {
		return fmt.Errorf("filename is required")
	}
	if len(file.Content) == 0 {
		return fmt.Errorf("file is empty")
	}
	if int64(len(file.Content)) > ds.cfg.MaxFileSize {
		return fmt.Errorf("file exceeds maximum size of %s", humanSize(ds.cfg.MaxFileSize))
	}
	if !ds.cfg.AllowsExtension(file.Filename) {
		return fmt.Errorf("unsupported file type; allowed: %s", strings.Join(ds.cfg.SupportedExtensions, ", "))
	}
	return nil
}

func (ds *documentService) List(ctx context.Context, limit, offset int, userOnly bool) ([]DocumentView, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var filterUserID *uuid.UUID
	if userOnly {
		rd := requestdata.GetRequestData(ctx)
		if rd == nil || rd.UserID == uuid.Nil {
			return nil, apierr.New(http.StatusUnauthorized, "unauthorized", fmt.Errorf("no user in context"))
		}
		id := rd.UserID
		filterUserID = &id
	}
	docs, err := ds.documentRepo.List(ctx, nil, filterUserID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	// Resolve uploader emails in one query instead of per row.
	userIDSet := map[uuid.UUID]struct{}{}
	for _, d := range docs {
		if d.UserID != nil {
			userIDSet[*d.UserID] = struct{}{}
		}
	}
	emails := map[uuid.UUID]string{}
	if len(userIDSet) > 0 {
		ids := make([]uuid.UUID, 0, len(userIDSet))
		for id := range userIDSet {
			ids = append(ids, id)
		}
		users, uErr := ds.userRepo.GetByIDs(ctx, nil, ids)
		if uErr != nil {
			ds.log.Warn("Failed to resolve uploader emails", "error", uErr)
		}
		for _, u := range users {
			emails[u.ID] = u.Email
		}
	}

	views := make([]DocumentView, 0, len(docs))
	for _, d := range docs {
		v := documentView(d)
		v.StorageURL = ds.bucketService.GetPublicURL(d.StoragePath)
		if d.UserID != nil {
			v.UploadedByEmail = emails[*d.UserID]
		}
		views = append(views, v)
	}
	return views, nil
}

func (ds *documentService) Get(ctx context.Context, id uuid.UUID) (*DocumentView, error) {
	docs, err := ds.documentRepo.GetByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if len(docs) == 0 {
		return nil, apierr.New(http.StatusNotFound, "not_found", fmt.Errorf("document not found"))
	}
	view := ds.toView(ctx, docs[0])
	return &view, nil
}

func (ds *documentService) Download(ctx context.Context, id uuid.UUID) (*DocumentDownload, error) {
	docs, err := ds.documentRepo.GetByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if len(docs) == 0 {
		return nil, apierr.New(http.StatusNotFound, "not_found", fmt.Errorf("document not found"))
	}
	doc := docs[0]

	reader, err := ds.bucketService.Download(ctx, doc.StoragePath)
	if err != nil {
		return nil, apierr.New(http.StatusBadGateway, "storage_error", fmt.Errorf("failed to open blob: %w", err))
	}
	contentType := contentTypeFor(doc.FileName)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &DocumentDownload{
		Filename:    doc.FileName,
		ContentType: contentType,
		Size:        doc.FileSize,
		Content:     reader,
	}, nil
}

// Delete removes a document everywhere, tolerating partial remote state so
// a previous half-failed delete can be retried. Remote detach/delete runs
// first; the metadata row goes last.
func (ds *documentService) Delete(ctx context.Context, id uuid.UUID) error {
	docs, err := ds.documentRepo.GetByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	if len(docs) == 0 {
		return apierr.New(http.StatusNotFound, "not_found", fmt.Errorf("document not found"))
	}
	doc := docs[0]

	rd := requestdata.GetRequestData(ctx)
	if rd != nil && !rd.IsAdmin {
		if doc.UserID == nil || *doc.UserID != rd.UserID {
			return apierr.New(http.StatusForbidden, "forbidden", fmt.Errorf("only the uploader or an admin can delete this document"))
		}
	}

	if doc.OpenAIFileID != "" {
		if err := ds.assistantClient.DetachFromVectorStore(ctx, doc.OpenAIFileID); err != nil {
			ds.log.Warn("Vector store detach failed during delete", "openai_file_id", doc.OpenAIFileID, "error", err)
		}
		if err := ds.assistantClient.DeleteFile(ctx, doc.OpenAIFileID); err != nil {
			ds.log.Warn("Assistant file delete failed during delete", "openai_file_id", doc.OpenAIFileID, "error", err)
		}
	}
	if doc.StoragePath != "" {
		if err := ds.bucketService.Delete(ctx, doc.StoragePath); err != nil {
			ds.log.Warn("Blob delete failed during delete", "storage_path", doc.StoragePath, "error", err)
		}
	}
	if err := ds.documentRepo.DeleteByIDs(ctx, nil, []uuid.UUID{id}); err != nil {
		return fmt.Errorf("failed to delete document row: %w", err)
	}
	ds.log.Info("Document deleted", "document_id", id.String())
	return nil
}

// Sync reconciles the vector store against the documents table: ready rows
// missing from the store are re-attached, store entries with no row are
// detached. Runs after restores or manual provider-side edits.
func (ds *documentService) Sync(ctx context.Context) (*SyncResult, error) {
	storeIDs, err := ds.assistantClient.ListVectorStoreFileIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vector store files: %w", err)
	}
	inStore := make(map[string]bool, len(storeIDs))
	for _, id := range storeIDs {
		inStore[id] = true
	}

	docs, err := ds.documentRepo.List(ctx, nil, nil, 1000, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	result := &SyncResult{}
	known := map[string]bool{}
	for _, d := range docs {
		if d.OpenAIFileID == "" {
			continue
		}
		known[d.OpenAIFileID] = true
		if d.Status == types.DocumentStatusReady && !inStore[d.OpenAIFileID] {
			if err := ds.assistantClient.AttachToVectorStore(ctx, d.OpenAIFileID); err != nil {
				ds.log.Warn("Sync attach failed", "openai_file_id", d.OpenAIFileID, "error", err)
				continue
			}
			result.Attached++
		}
	}
	for _, fileID := range storeIDs {
		if !known[fileID] {
			if err := ds.assistantClient.DetachFromVectorStore(ctx, fileID); err != nil {
				ds.log.Warn("Sync detach failed", "openai_file_id", fileID, "error", err)
				continue
			}
			result.Detached++
		}
	}
	result.Total = len(docs)
	ds.log.Info("Document sync complete", "attached", result.Attached, "detached", result.Detached, "total", result.Total)
	return result, nil
}

func (ds *documentService) toView(ctx context.Context, doc *types.Document) DocumentView {
	v := documentView(doc)
	v.StorageURL = ds.bucketService.GetPublicURL(doc.StoragePath)
	if doc.UserID != nil {
		users, err := ds.userRepo.GetByIDs(ctx, nil, []uuid.UUID{*doc.UserID})
		if err == nil && len(users) > 0 {
			v.UploadedByEmail = users[0].Email
		}
	}
	return v
}

func documentView(doc *types.Document) DocumentView {
	v := DocumentView{
		ID:            doc.ID,
		OpenAIFileID:  doc.OpenAIFileID,
		DisplayName:   doc.FileName,
		FileSize:      humanSize(doc.FileSize),
		FileSizeBytes: doc.FileSize,
		FileType:      doc.FileType,
		Status:        doc.Status,
		UploadedAt:    doc.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if doc.UserID != nil {
		v.UploadedByID = doc.UserID.String()
	}
	return v
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case r > 127:
			// Keep non-ASCII (Korean filenames are common here).
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return ""
	}
}
