package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cheongam/chatbot-backend/internal/config"
	"github.com/cheongam/chatbot-backend/internal/platform/envutil"
	"github.com/cheongam/chatbot-backend/internal/platform/httpx"
	"github.com/cheongam/chatbot-backend/internal/platform/logger"
)

// FileInfo describes a file stored with the hosted assistant service.
type FileInfo struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
	Purpose   string `json:"purpose"`
}

type ThreadMessage struct {
	Role      string
	Content   string
	CreatedAt int64
	// FileIDs are the files cited by this message (file_search annotations).
	FileIDs []string
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u Usage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

// RunResult is the outcome of one assistant turn.
type RunResult struct {
	Response string
	Usage    Usage
	Model    string
	FileIDs  []string
}

// Client wraps the hosted assistant service (OpenAI Assistants v2): file
// storage, the vector store backing file_search, threads and runs. Retrieval
// and generation happen entirely on the remote side; this client only relays.
type Client interface {
	EnsureAssistant(ctx context.Context) error
	AssistantID() string
	VectorStoreID() string

	UploadFile(ctx context.Context, filename string, content []byte) (FileInfo, error)
	DeleteFile(ctx context.Context, fileID string) error
	ListFiles(ctx context.Context) ([]FileInfo, error)

	AttachToVectorStore(ctx context.Context, fileID string) error
	DetachFromVectorStore(ctx context.Context, fileID string) error
	ListVectorStoreFileIDs(ctx context.Context) ([]string, error)

	CreateThread(ctx context.Context) (string, error)
	ThreadExists(ctx context.Context, threadID string) bool
	AddUserMessage(ctx context.Context, threadID, content string) error
	RunAndWait(ctx context.Context, threadID string) (RunResult, error)
	ListThreadMessages(ctx context.Context, threadID string, limit int) ([]ThreadMessage, error)

	// CompleteDirect answers a single message without thread state (the
	// "direct" chat strategy).
	CompleteDirect(ctx context.Context, message string) (RunResult, error)
}

type client struct {
	log     *logger.Logger
	baseURL string
	apiKey  string
	profile config.AssistantProfile

	assistantID   string
	vectorStoreID string

	httpClient   *http.Client
	maxRetries   int
	pollInterval time.Duration
	runTimeout   time.Duration
}

func NewClient(log *logger.Logger, cfg *config.Config) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	baseURL := envutil.Str("OPENAI_BASE_URL", "https://api.openai.com")
	baseURL = strings.TrimRight(baseURL, "/")

	return &client{
		log:           log.With("client", "AssistantClient"),
		baseURL:       baseURL,
		apiKey:        apiKey,
		profile:       cfg.Assistant,
		assistantID:   cfg.AssistantID,
		vectorStoreID: cfg.VectorStoreID,
		httpClient: &http.Client{
			Timeout: envutil.Duration("OPENAI_HTTP_TIMEOUT", 120*time.Second),
		},
		maxRetries:   envutil.Int("OPENAI_MAX_RETRIES", 3),
		pollInterval: envutil.Duration("OPENAI_RUN_POLL_INTERVAL", time.Second),
		runTimeout:   envutil.Duration("OPENAI_RUN_TIMEOUT", 120*time.Second),
	}, nil
}

func (c *client) AssistantID() string   { return c.assistantID }
func (c *client) VectorStoreID() string { return c.vectorStoreID }

type assistantHTTPError struct {
	StatusCode int
	Body       string
}

func (e *assistantHTTPError) Error() string {
	return fmt.Sprintf("assistant api http %d: %s", e.StatusCode, e.Body)
}

func (e *assistantHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	// Threads, runs and assistants live behind the v2 beta surface.
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &assistantHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("assistant api decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("Assistant API request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

func (c *client) doMultipart(ctx context.Context, path string, fields map[string]string, fileField, filename string, content []byte, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile(fileField, filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &assistantHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
