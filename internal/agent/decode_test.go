package agent

import (
	"errors"
	"testing"

	"github.com/aidalabs/aida/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

func textChunk(content string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{Content: content}},
		},
	}
}

func reasoningChunk(content string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{ReasoningContent: content}},
		},
	}
}

func toolChunk(idx int, id, name, args string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{
				ToolCalls: []openai.ToolCall{
					{Index: &idx, ID: id, Function: openai.FunctionCall{Name: name, Arguments: args}},
				},
			}},
		},
	}
}

func TestDecodeTextDeltas(t *testing.T) {
	state := newDecodeState()

	events := state.decode(textChunk("Olá"))
	events = append(events, state.decode(textChunk(", mundo"))...)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Type != models.StreamTextDelta {
			t.Errorf("event type = %q, want %q", ev.Type, models.StreamTextDelta)
		}
	}
	if got := state.result().Text; got != "Olá, mundo" {
		t.Errorf("accumulated text = %q, want %q", got, "Olá, mundo")
	}
}

func TestDecodeReasoningContentFallback(t *testing.T) {
	state := newDecodeState()

	events := state.decode(reasoningChunk("pensando..."))
	if len(events) != 1 || events[0].Type != models.StreamTextDelta {
		t.Fatalf("reasoning chunk did not decode to a text delta: %+v", events)
	}
	if events[0].Text.Delta != "pensando..." {
		t.Errorf("delta = %q, want %q", events[0].Text.Delta, "pensando...")
	}
}

func TestDecodeContentWinsOverReasoning(t *testing.T) {
	state := newDecodeState()

	chunk := openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{Content: "a", ReasoningContent: "b"}},
		},
	}
	events := state.decode(chunk)
	if len(events) != 1 || events[0].Text.Delta != "a" {
		t.Fatalf("expected content field to win, got %+v", events)
	}
}

func TestDecodeToolCallAnnouncedOnce(t *testing.T) {
	state := newDecodeState()

	started := 0
	for _, chunk := range []openai.ChatCompletionStreamResponse{
		toolChunk(0, "call_1", "web_search", ""),
		toolChunk(0, "", "", `{"query":`),
		toolChunk(0, "", "", `"clima"}`),
	} {
		for _, ev := range state.decode(chunk) {
			if ev.Type == models.StreamToolStarted {
				started++
			}
		}
	}
	if started != 1 {
		t.Errorf("tool started events = %d, want 1", started)
	}

	result := state.result()
	if len(result.Calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(result.Calls))
	}
	call := result.Calls[0]
	if call.ID != "call_1" || call.Name != "web_search" {
		t.Errorf("call = %+v", call)
	}
	if call.Arguments != `{"query":"clima"}` {
		t.Errorf("arguments = %q", call.Arguments)
	}
}

func TestDecodeMultipleToolCallsKeepOrder(t *testing.T) {
	state := newDecodeState()
	state.decode(toolChunk(0, "call_a", "file_search", "{}"))
	state.decode(toolChunk(1, "call_b", "web_search", "{}"))

	result := state.result()
	if len(result.Calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(result.Calls))
	}
	if result.Calls[0].Name != "file_search" || result.Calls[1].Name != "web_search" {
		t.Errorf("call order = %q, %q", result.Calls[0].Name, result.Calls[1].Name)
	}
}

func TestDecodeUsageChunk(t *testing.T) {
	state := newDecodeState()
	state.decode(openai.ChatCompletionStreamResponse{
		Usage: &openai.Usage{PromptTokens: 12, CompletionTokens: 30, TotalTokens: 42},
	})

	usage := state.result().Usage
	if usage.Input != 12 || usage.Output != 30 || usage.Total != 42 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestClassifyErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"rate limit status", &openai.APIError{HTTPStatusCode: 429}, KindRateLimit},
		{"gateway timeout status", &openai.APIError{HTTPStatusCode: 504}, KindTimeout},
		{"server error status", &openai.APIError{HTTPStatusCode: 503}, KindConnection},
		{"bad request status", &openai.APIError{HTTPStatusCode: 400}, KindGeneric},
		{"rate limit text", errors.New("Rate limit reached for gpt-4o"), KindRateLimit},
		{"timeout text", errors.New("request timeout"), KindTimeout},
		{"connection text", errors.New("connection refused"), KindConnection},
		{"other", errors.New("boom"), KindGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := WrapProvider("test", tt.err)
			if got := KindOf(wrapped); got != tt.want {
				t.Errorf("KindOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRetryableKinds(t *testing.T) {
	if !IsRetryable(WrapProvider("t", &openai.APIError{HTTPStatusCode: 429})) {
		t.Error("rate limit should be retryable")
	}
	if IsRetryable(WrapProvider("t", errors.New("invalid request"))) {
		t.Error("generic error should not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}
