// Package filesearch implements the file_search tool over a
// conversation's document index. Retrieval runs through the provider's
// assistants surface, the API that binds a vector store to a model
// query; the ephemeral assistant and thread are deleted after each
// call.
package filesearch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	pollInterval = 500 * time.Millisecond
	pollTimeout  = 60 * time.Second
)

const retrieveInstructions = "Responda à pergunta usando apenas o conteúdo dos documentos anexados. Cite os trechos relevantes. Se os documentos não contiverem a resposta, diga isso explicitamente."

// assistantAPI is the slice of the OpenAI SDK retrieval depends on.
type assistantAPI interface {
	CreateAssistant(ctx context.Context, request openai.AssistantRequest) (openai.Assistant, error)
	DeleteAssistant(ctx context.Context, assistantID string) (openai.AssistantDeleteResponse, error)
	CreateThreadAndRun(ctx context.Context, request openai.CreateThreadAndRunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (openai.Run, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (openai.MessagesList, error)
	DeleteThread(ctx context.Context, threadID string) (openai.ThreadDeleteResponse, error)
}

// Tool answers file_search calls against one vector store.
type Tool struct {
	client  assistantAPI
	model   string
	storeID string
	logger  *slog.Logger
}

// New creates a file search tool bound to the vector store.
func New(client *openai.Client, model, storeID string, logger *slog.Logger) *Tool {
	return &Tool{client: client, model: model, storeID: storeID, logger: logger}
}

func (t *Tool) Name() string { return "file_search" }

func (t *Tool) Description() string {
	return "Busca trechos relevantes nos documentos enviados nesta conversa. Use sempre que a pergunta se referir ao conteúdo dos arquivos."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "O que procurar nos documentos"}
		},
		"required": ["query"]
	}`)
}

// Execute runs one retrieval: an ephemeral assistant with the native
// file_search tool over the store answers the query, then both the
// assistant and the thread are cleaned up.
func (t *Tool) Execute(ctx context.Context, arguments string) (string, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(arguments), &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if params.Query == "" {
		return "", fmt.Errorf("query is required")
	}

	instructions := retrieveInstructions
	assistant, err := t.client.CreateAssistant(ctx, openai.AssistantRequest{
		Model:        t.model,
		Instructions: &instructions,
		Tools:        []openai.AssistantTool{{Type: openai.AssistantToolTypeFileSearch}},
		ToolResources: &openai.AssistantToolResource{
			FileSearch: &openai.AssistantToolFileSearch{VectorStoreIDs: []string{t.storeID}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create retrieval assistant: %w", err)
	}
	defer t.cleanupAssistant(assistant.ID)

	run, err := t.client.CreateThreadAndRun(ctx, openai.CreateThreadAndRunRequest{
		RunRequest: openai.RunRequest{AssistantID: assistant.ID},
		Thread: openai.ThreadRequest{
			Messages: []openai.ThreadMessage{{Role: openai.ThreadMessageRoleUser, Content: params.Query}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("start retrieval run: %w", err)
	}
	defer t.cleanupThread(run.ThreadID)

	if err := t.waitForRun(ctx, run.ThreadID, run.ID); err != nil {
		return "", err
	}

	return t.lastAssistantText(ctx, run.ThreadID)
}

func (t *Tool) waitForRun(ctx context.Context, threadID, runID string) error {
	deadline := time.Now().Add(pollTimeout)
	for {
		run, err := t.client.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			return fmt.Errorf("poll retrieval run: %w", err)
		}
		switch run.Status {
		case openai.RunStatusCompleted:
			return nil
		case openai.RunStatusFailed, openai.RunStatusExpired, openai.RunStatusCancelled, openai.RunStatusIncomplete:
			if run.LastError != nil {
				return fmt.Errorf("retrieval run %s: %s", run.Status, run.LastError.Message)
			}
			return fmt.Errorf("retrieval run ended with status %s", run.Status)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("retrieval run timed out after %s", pollTimeout)
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *Tool) lastAssistantText(ctx context.Context, threadID string) (string, error) {
	limit := 1
	order := "desc"
	msgs, err := t.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("read retrieval answer: %w", err)
	}
	for _, msg := range msgs.Messages {
		if msg.Role != "assistant" {
			continue
		}
		for _, content := range msg.Content {
			if content.Text != nil && content.Text.Value != "" {
				return content.Text.Value, nil
			}
		}
	}
	return "", fmt.Errorf("retrieval produced no answer")
}

func (t *Tool) cleanupAssistant(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := t.client.DeleteAssistant(ctx, id); err != nil {
		t.logger.Debug("retrieval assistant cleanup failed", "assistant", id, "error", err)
	}
}

func (t *Tool) cleanupThread(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := t.client.DeleteThread(ctx, id); err != nil {
		t.logger.Debug("retrieval thread cleanup failed", "thread", id, "error", err)
	}
}
