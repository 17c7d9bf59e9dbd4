package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cheongam/chatbot-backend/internal/config"
	"github.com/cheongam/chatbot-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, serverURL string) Client {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_BASE_URL", serverURL)
	t.Setenv("OPENAI_RUN_POLL_INTERVAL", "10ms")
	t.Setenv("OPENAI_RUN_TIMEOUT", "5s")
	t.Setenv("OPENAI_MAX_RETRIES", "2")

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger init: %v", err)
	}
	cfg := &config.Config{
		AssistantID:   "asst_test",
		VectorStoreID: "vs_test",
		Assistant: config.AssistantProfile{
			Name:        "청암 챗봇",
			Model:       "gpt-4-turbo-preview",
			Temperature: 0.7,
			MaxTokens:   800,
		},
	}
	c, err := NewClient(log, cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestDoRetriesOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "thread_abc"})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	threadID, err := c.CreateThread(context.Background())
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if threadID != "thread_abc" {
		t.Fatalf("unexpected thread id: %s", threadID)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestDoGivesUpOnClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad"}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if _, err := c.CreateThread(context.Background()); err == nil {
		t.Fatal("expected error on 400")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected no retry on 400, got %d attempts", got)
	}
}

func TestRunAndWaitPollsUntilCompleted(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/threads/thread_1/runs":
			if got := r.Header.Get("OpenAI-Beta"); got != "assistants=v2" {
				t.Errorf("missing assistants beta header, got %q", got)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "run_1", "status": "queued"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/threads/thread_1/runs/run_1":
			status := "in_progress"
			var usage map[string]int
			if atomic.AddInt32(&polls, 1) >= 2 {
				status = "completed"
				usage = map[string]int{"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "run_1", "status": status, "model": "gpt-4-turbo-preview", "usage": usage,
			})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/threads/thread_1/messages":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{
						"role":       "assistant",
						"created_at": 1700000000,
						"content": []map[string]any{
							{"type": "text", "text": map[string]string{"value": "문서에서 찾았습니다."}},
						},
					},
				},
			})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	result, err := c.RunAndWait(context.Background(), "thread_1")
	if err != nil {
		t.Fatalf("RunAndWait: %v", err)
	}
	if result.Response != "문서에서 찾았습니다." {
		t.Fatalf("unexpected response: %q", result.Response)
	}
	if result.Usage.Total() != 150 {
		t.Fatalf("unexpected usage total: %d", result.Usage.Total())
	}
	if result.Model != "gpt-4-turbo-preview" {
		t.Fatalf("unexpected model: %s", result.Model)
	}
}

func TestRunAndWaitFailedRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "run_1", "status": "failed",
			"last_error": map[string]string{"code": "rate_limit_exceeded", "message": "slow down"},
		})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if _, err := c.RunAndWait(context.Background(), "thread_1"); err == nil {
		t.Fatal("expected error for failed run")
	}
}

func TestCompleteDirect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) != 2 || body.Messages[0].Role != "system" {
			t.Errorf("expected system+user messages, got %+v", body.Messages)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": body.Model,
			"choices": []map[string]any{
				{"message": map[string]string{"content": "direct answer"}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	result, err := c.CompleteDirect(context.Background(), "hello")
	if err != nil {
		t.Fatalf("CompleteDirect: %v", err)
	}
	if result.Response != "direct answer" {
		t.Fatalf("unexpected response: %q", result.Response)
	}
	if result.Usage.Total() != 15 {
		t.Fatalf("unexpected usage: %d", result.Usage.Total())
	}
}

func TestThreadExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/threads/thread_live" {
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "thread_live"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"not found"}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if !c.ThreadExists(context.Background(), "thread_live") {
		t.Fatal("expected live thread to exist")
	}
	if c.ThreadExists(context.Background(), "thread_gone") {
		t.Fatal("expected missing thread to not exist")
	}
	if c.ThreadExists(context.Background(), "") {
		t.Fatal("expected empty id to not exist")
	}
}
