package assistant

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type assistantObject struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Model         string `json:"model"`
	ToolResources struct {
		FileSearch struct {
			VectorStoreIDs []string `json:"vector_store_ids"`
		} `json:"file_search"`
	} `json:"tool_resources"`
}

// EnsureAssistant retrieves the configured assistant, or creates one with
// file_search when no id is configured, and makes sure a vector store is
// attached. The created ids are logged so they can be pinned via env.
func (c *client) EnsureAssistant(ctx context.Context) error {
	if c.assistantID != "" {
		var a assistantObject
		if err := c.do(ctx, http.MethodGet, "/v1/assistants/"+c.assistantID, nil, &a); err != nil {
			return fmt.Errorf("retrieve assistant %s: %w", c.assistantID, err)
		}
		if c.vectorStoreID == "" && len(a.ToolResources.FileSearch.VectorStoreIDs) > 0 {
			c.vectorStoreID = a.ToolResources.FileSearch.VectorStoreIDs[0]
		}
	} else {
		body := map[string]any{
			"name":         c.profile.Name,
			"instructions": c.profile.Instructions,
			"model":        c.profile.Model,
			"temperature":  c.profile.Temperature,
			"tools":        []map[string]string{{"type": "file_search"}},
		}
		var a assistantObject
		if err := c.do(ctx, http.MethodPost, "/v1/assistants", body, &a); err != nil {
			return fmt.Errorf("create assistant: %w", err)
		}
		c.assistantID = a.ID
		c.log.Info("Assistant created; pin OPENAI_ASSISTANT_ID to reuse it", "assistant_id", a.ID)
	}

	if c.vectorStoreID == "" {
		var vs struct {
			ID string `json:"id"`
		}
		body := map[string]any{"name": "Vector Store for " + c.profile.Name}
		if err := c.do(ctx, http.MethodPost, "/v1/vector_stores", body, &vs); err != nil {
			return fmt.Errorf("create vector store: %w", err)
		}
		c.vectorStoreID = vs.ID

		update := map[string]any{
			"tool_resources": map[string]any{
				"file_search": map[string]any{
					"vector_store_ids": []string{c.vectorStoreID},
				},
			},
		}
		if err := c.do(ctx, http.MethodPost, "/v1/assistants/"+c.assistantID, update, nil); err != nil {
			return fmt.Errorf("attach vector store: %w", err)
		}
		c.log.Info("Vector store created; pin OPENAI_VECTOR_STORE_ID to reuse it", "vector_store_id", vs.ID)
	}
	return nil
}

// -------------------- Files --------------------

func (c *client) UploadFile(ctx context.Context, filename string, content []byte) (FileInfo, error) {
	var out FileInfo
	err := c.doMultipart(ctx, "/v1/files", map[string]string{"purpose": "assistants"}, "file", filename, content, &out)
	if err != nil {
		return FileInfo{}, fmt.Errorf("upload file %s: %w", filename, err)
	}
	return out, nil
}

func (c *client) DeleteFile(ctx context.Context, fileID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/files/"+url.PathEscape(fileID), nil, nil)
}

func (c *client) ListFiles(ctx context.Context) ([]FileInfo, error) {
	var out struct {
		Data []FileInfo `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/files?purpose=assistants", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// -------------------- Vector store --------------------

func (c *client) AttachToVectorStore(ctx context.Context, fileID string) error {
	if c.vectorStoreID == "" {
		return fmt.Errorf("no vector store configured")
	}
	body := map[string]string{"file_id": fileID}
	return c.do(ctx, http.MethodPost, "/v1/vector_stores/"+c.vectorStoreID+"/files", body, nil)
}

func (c *client) DetachFromVectorStore(ctx context.Context, fileID string) error {
	if c.vectorStoreID == "" {
		return fmt.Errorf("no vector store configured")
	}
	return c.do(ctx, http.MethodDelete, "/v1/vector_stores/"+c.vectorStoreID+"/files/"+url.PathEscape(fileID), nil, nil)
}

func (c *client) ListVectorStoreFileIDs(ctx context.Context) ([]string, error) {
	if c.vectorStoreID == "" {
		return nil, fmt.Errorf("no vector store configured")
	}
	var ids []string
	after := ""
	for {
		path := "/v1/vector_stores/" + c.vectorStoreID + "/files?limit=100"
		if after != "" {
			path += "&after=" + url.QueryEscape(after)
		}
		var out struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
			HasMore bool   `json:"has_more"`
			LastID  string `json:"last_id"`
		}
		if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		for _, f := range out.Data {
			ids = append(ids, f.ID)
		}
		if !out.HasMore || out.LastID == "" {
			break
		}
		after = out.LastID
	}
	return ids, nil
}

// -------------------- Threads & runs --------------------

func (c *client) CreateThread(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/threads", map[string]any{}, &out); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return out.ID, nil
}

func (c *client) ThreadExists(ctx context.Context, threadID string) bool {
	if threadID == "" {
		return false
	}
	err := c.do(ctx, http.MethodGet, "/v1/threads/"+url.PathEscape(threadID), nil, nil)
	return err == nil
}

func (c *client) AddUserMessage(ctx context.Context, threadID, content string) error {
	// Files are deliberately not attached per-message; they are reachable
	// through the assistant's vector store. Per-message attachments spawn
	// duplicate throwaway vector stores on the provider side.
	body := map[string]any{
		"role":    "user",
		"content": content,
	}
	return c.do(ctx, http.MethodPost, "/v1/threads/"+url.PathEscape(threadID)+"/messages", body, nil)
}

type runObject struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Model     string `json:"model"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
	Usage *Usage `json:"usage"`
}

func runIsTerminal(status string) bool {
	switch status {
	case "completed", "failed", "cancelled", "expired", "incomplete":
		return true
	default:
		return false
	}
}

func (c *client) RunAndWait(ctx context.Context, threadID string) (RunResult, error) {
	if c.assistantID == "" {
		return RunResult{}, fmt.Errorf("assistant not initialized")
	}

	body := map[string]any{
		"assistant_id":          c.assistantID,
		"temperature":           c.profile.Temperature,
		"max_prompt_tokens":     25000,
		"max_completion_tokens": c.profile.MaxTokens,
	}
	var run runObject
	if err := c.do(ctx, http.MethodPost, "/v1/threads/"+url.PathEscape(threadID)+"/runs", body, &run); err != nil {
		return RunResult{}, fmt.Errorf("create run: %w", err)
	}

	deadline := time.Now().Add(c.runTimeout)
	for !runIsTerminal(run.Status) {
		if time.Now().After(deadline) {
			return RunResult{}, fmt.Errorf("run %s timed out in status %s", run.ID, run.Status)
		}
		select {
		case <-ctx.Done():
			return RunResult{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		if err := c.do(ctx, http.MethodGet, "/v1/threads/"+url.PathEscape(threadID)+"/runs/"+url.PathEscape(run.ID), nil, &run); err != nil {
			return RunResult{}, fmt.Errorf("poll run: %w", err)
		}
	}

	if run.Status != "completed" {
		detail := run.Status
		if run.LastError != nil {
			detail = fmt.Sprintf("%s (%s: %s)", run.Status, run.LastError.Code, run.LastError.Message)
		}
		return RunResult{}, fmt.Errorf("run finished with status %s", detail)
	}

	messages, err := c.ListThreadMessages(ctx, threadID, 1)
	if err != nil {
		return RunResult{}, err
	}
	result := RunResult{Model: run.Model}
	if run.Usage != nil {
		result.Usage = *run.Usage
	}
	if len(messages) > 0 && messages[0].Role == "assistant" {
		result.Response = messages[0].Content
		result.FileIDs = messages[0].FileIDs
	}
	if result.Response == "" {
		result.Response = "No response generated"
	}
	return result, nil
}

func (c *client) ListThreadMessages(ctx context.Context, threadID string, limit int) ([]ThreadMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	path := "/v1/threads/" + url.PathEscape(threadID) + "/messages?order=desc&limit=" + strconv.Itoa(limit)
	var out struct {
		Data []struct {
			Role      string `json:"role"`
			CreatedAt int64  `json:"created_at"`
			Content   []struct {
				Type string `json:"type"`
				Text struct {
					Value       string `json:"value"`
					Annotations []struct {
						FileCitation struct {
							FileID string `json:"file_id"`
						} `json:"file_citation"`
					} `json:"annotations"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	messages := make([]ThreadMessage, 0, len(out.Data))
	for _, m := range out.Data {
		text := ""
		var fileIDs []string
		seen := map[string]bool{}
		for _, part := range m.Content {
			if part.Type != "text" {
				continue
			}
			if text == "" {
				text = part.Text.Value
			}
			for _, a := range part.Text.Annotations {
				if id := a.FileCitation.FileID; id != "" && !seen[id] {
					seen[id] = true
					fileIDs = append(fileIDs, id)
				}
			}
		}
		messages = append(messages, ThreadMessage{
			Role:      m.Role,
			Content:   text,
			CreatedAt: m.CreatedAt,
			FileIDs:   fileIDs,
		})
	}
	return messages, nil
}

// -------------------- Direct strategy --------------------

func (c *client) CompleteDirect(ctx context.Context, message string) (RunResult, error) {
	body := map[string]any{
		"model": c.profile.Model,
		"messages": []map[string]string{
			{"role": "system", "content": c.profile.Instructions},
			{"role": "user", "content": message},
		},
		"temperature": c.profile.Temperature,
		"max_tokens":  c.profile.MaxTokens,
	}
	var out struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/chat/completions", body, &out); err != nil {
		return RunResult{}, fmt.Errorf("direct completion: %w", err)
	}
	result := RunResult{Model: out.Model, Usage: out.Usage}
	if len(out.Choices) > 0 {
		result.Response = out.Choices[0].Message.Content
	}
	if result.Response == "" {
		result.Response = "No response generated"
	}
	return result, nil
}
