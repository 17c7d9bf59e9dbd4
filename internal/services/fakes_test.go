package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/cheongam/chatbot-backend/internal/clients/redis"
	"github.com/cheongam/chatbot-backend/internal/platform/assistant"
)

// fakeAssistant is an in-memory stand-in for the hosted assistant API so
// service orchestration can be exercised without network calls.
type fakeAssistant struct {
	mu sync.Mutex

	threadSeq   int
	liveThreads map[string]bool
	threadMsgs  map[string][]string

	uploadErr error
	attachErr error

	uploadedFiles []string
	attached      []string
	detached      []string
	deletedFiles  []string
	storeIDs      []string

	reply  string
	tokens int
}

func newFakeAssistant() *fakeAssistant {
	return &fakeAssistant{
		liveThreads: map[string]bool{},
		threadMsgs:  map[string][]string{},
		reply:       "2026년 3월 2일입니다.",
		tokens:      42,
	}
}

func (fa *fakeAssistant) EnsureAssistant(ctx context.Context) error { return nil }
func (fa *fakeAssistant) AssistantID() string                       { return "asst_fake" }
func (fa *fakeAssistant) VectorStoreID() string                     { return "vs_fake" }

func (fa *fakeAssistant) UploadFile(ctx context.Context, filename string, content []byte) (assistant.FileInfo, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.uploadErr != nil {
		return assistant.FileInfo{}, fa.uploadErr
	}
	id := fmt.Sprintf("file_%d", len(fa.uploadedFiles)+1)
	fa.uploadedFiles = append(fa.uploadedFiles, id)
	return assistant.FileInfo{ID: id, Filename: filename, Bytes: int64(len(content))}, nil
}

func (fa *fakeAssistant) DeleteFile(ctx context.Context, fileID string) error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.deletedFiles = append(fa.deletedFiles, fileID)
	return nil
}

func (fa *fakeAssistant) ListFiles(ctx context.Context) ([]assistant.FileInfo, error) {
	return nil, nil
}

func (fa *fakeAssistant) AttachToVectorStore(ctx context.Context, fileID string) error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.attachErr != nil {
		return fa.attachErr
	}
	fa.attached = append(fa.attached, fileID)
	fa.storeIDs = append(fa.storeIDs, fileID)
	return nil
}

func (fa *fakeAssistant) DetachFromVectorStore(ctx context.Context, fileID string) error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.detached = append(fa.detached, fileID)
	return nil
}

func (fa *fakeAssistant) ListVectorStoreFileIDs(ctx context.Context) ([]string, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return append([]string(nil), fa.storeIDs...), nil
}

func (fa *fakeAssistant) CreateThread(ctx context.Context) (string, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.threadSeq++
	id := fmt.Sprintf("thread_%d", fa.threadSeq)
	fa.liveThreads[id] = true
	return id, nil
}

func (fa *fakeAssistant) ThreadExists(ctx context.Context, threadID string) bool {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.liveThreads[threadID]
}

func (fa *fakeAssistant) AddUserMessage(ctx context.Context, threadID, content string) error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.threadMsgs[threadID] = append(fa.threadMsgs[threadID], content)
	return nil
}

func (fa *fakeAssistant) RunAndWait(ctx context.Context, threadID string) (assistant.RunResult, error) {
	return assistant.RunResult{
		Response: fa.reply,
		Usage:    assistant.Usage{TotalTokens: fa.tokens},
		Model:    "gpt-test",
	}, nil
}

func (fa *fakeAssistant) ListThreadMessages(ctx context.Context, threadID string, limit int) ([]assistant.ThreadMessage, error) {
	return nil, nil
}

func (fa *fakeAssistant) CompleteDirect(ctx context.Context, message string) (assistant.RunResult, error) {
	return assistant.RunResult{
		Response: fa.reply,
		Usage:    assistant.Usage{TotalTokens: fa.tokens},
		Model:    "gpt-test",
	}, nil
}

type fakeSessionCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]redis.CachedSession
}

func newFakeSessionCache() *fakeSessionCache {
	return &fakeSessionCache{entries: map[uuid.UUID]redis.CachedSession{}}
}

func (fc *fakeSessionCache) Get(ctx context.Context, sessionID uuid.UUID) (*redis.CachedSession, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if cached, ok := fc.entries[sessionID]; ok {
		c := cached
		return &c, nil
	}
	return nil, nil
}

func (fc *fakeSessionCache) Set(ctx context.Context, session redis.CachedSession) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.entries[session.SessionID] = session
	return nil
}

func (fc *fakeSessionCache) Invalidate(ctx context.Context, sessionID uuid.UUID) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	delete(fc.entries, sessionID)
	return nil
}

func (fc *fakeSessionCache) Ping(ctx context.Context) error { return nil }
func (fc *fakeSessionCache) Close() error                   { return nil }

type fakeBucket struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
	deleted   []string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func (fb *fakeBucket) Upload(ctx context.Context, key string, file io.Reader, contentType string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.uploadErr != nil {
		return fb.uploadErr
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	fb.objects[key] = data
	return nil
}

func (fb *fakeBucket) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	data, ok := fb.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (fb *fakeBucket) Delete(ctx context.Context, key string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	delete(fb.objects, key)
	fb.deleted = append(fb.deleted, key)
	return nil
}

func (fb *fakeBucket) GetPublicURL(key string) string {
	return "https://storage.test/" + key
}
