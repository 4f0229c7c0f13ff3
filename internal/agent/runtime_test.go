package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aidalabs/aida/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// sseProvider scripts a chat-completion stream endpoint: one SSE body
// per request, recorded request bodies for assertions.
type sseProvider struct {
	mu       sync.Mutex
	requests []string
	bodies   []string
}

func (p *sseProvider) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.requests = append(p.requests, string(body))
		n := len(p.requests)
		p.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		if n > len(p.bodies) {
			n = len(p.bodies)
		}
		fmt.Fprint(w, p.bodies[n-1])
	}
}

func (p *sseProvider) request(i int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.requests) {
		return ""
	}
	return p.requests[i]
}

func sse(chunks ...string) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString("data: " + c + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

const toolCallBody = `{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call-1","type":"function","function":{"name":"web_search","arguments":"{\"query\":\"capital do brasil\"}"}}]},"finish_reason":null}]}`

const textBody = `{"id":"c2","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Brasília é a capital."},"finish_reason":null}]}`

const usageBody = `{"id":"c3","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":8,"total_tokens":20}}`

func newSSERuntime(t *testing.T, provider *sseProvider) *Runtime {
	t.Helper()
	server := httptest.NewServer(provider.handler())
	t.Cleanup(server.Close)

	config := openai.DefaultConfig("test-key")
	config.BaseURL = server.URL + "/v1"
	return NewRuntime(openai.NewClientWithConfig(config), slog.Default(), nil)
}

type searchStub struct {
	mu     sync.Mutex
	args   []string
	output string
	err    error
}

func (s *searchStub) Name() string            { return "web_search" }
func (s *searchStub) Description() string     { return "busca na web" }
func (s *searchStub) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (s *searchStub) Execute(ctx context.Context, arguments string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.args = append(s.args, arguments)
	if s.err != nil {
		return "", s.err
	}
	return s.output, nil
}

func drain(t *testing.T, events <-chan models.StreamEvent) []models.StreamEvent {
	t.Helper()
	var out []models.StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestInvokeExecutesLocalTools(t *testing.T) {
	provider := &sseProvider{bodies: []string{
		sse(toolCallBody),
		sse(textBody, usageBody),
	}}
	rt := newSSERuntime(t, provider)
	tool := &searchStub{output: `{"results":[{"title":"Brasília"}]}`}

	events, err := rt.Invoke(context.Background(),
		Descriptor{Name: "Aida", Model: "gpt-4o", Instructions: "responda em português"},
		Input{Text: "qual a capital do brasil?"},
		[]Tool{tool})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	got := drain(t, events)

	// The tool definition must reach the provider request.
	first := provider.request(0)
	if !strings.Contains(first, `"web_search"`) || !strings.Contains(first, `"tools"`) {
		t.Errorf("first provider request carries no tool surface: %s", first)
	}

	if len(tool.args) != 1 || tool.args[0] != `{"query":"capital do brasil"}` {
		t.Errorf("tool executions = %v", tool.args)
	}

	// The tool output must feed the follow-up turn's transcript.
	second := provider.request(1)
	if !strings.Contains(second, `"tool_call_id":"call-1"`) {
		t.Errorf("second request missing tool answer: %s", second)
	}
	if !strings.Contains(second, "Brasília") {
		t.Errorf("second request missing tool output: %s", second)
	}

	var sawStart, sawOutput, sawText, sawDone bool
	for _, ev := range got {
		switch ev.Type {
		case models.StreamToolStarted:
			sawStart = ev.Tool.Name == "web_search"
		case models.StreamToolOutput:
			sawOutput = true
		case models.StreamTextDelta:
			sawText = strings.Contains(ev.Text.Delta, "Brasília")
		case models.StreamDone:
			sawDone = true
			if ev.Usage == nil || ev.Usage.Total != 20 {
				t.Errorf("done usage = %+v", ev.Usage)
			}
		}
	}
	if !sawStart || !sawOutput || !sawText || !sawDone {
		t.Errorf("event coverage: start=%v output=%v text=%v done=%v", sawStart, sawOutput, sawText, sawDone)
	}
}

func TestInvokeToolFailureDegradesInline(t *testing.T) {
	provider := &sseProvider{bodies: []string{
		sse(toolCallBody),
		sse(textBody, usageBody),
	}}
	rt := newSSERuntime(t, provider)
	tool := &searchStub{err: errors.New("backend indisponível")}

	events, err := rt.Invoke(context.Background(),
		Descriptor{Name: "Aida", Model: "gpt-4o"},
		Input{Text: "busca algo"},
		[]Tool{tool})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	got := drain(t, events)

	for _, ev := range got {
		if ev.Type == models.StreamError {
			t.Fatalf("tool failure must not kill the invocation: %v", ev.Err)
		}
	}
	second := provider.request(1)
	if !strings.Contains(second, "erro na ferramenta web_search") {
		t.Errorf("second request missing inline error marker: %s", second)
	}
}

func TestInvokeUnknownToolCall(t *testing.T) {
	provider := &sseProvider{bodies: []string{
		sse(toolCallBody),
		sse(textBody, usageBody),
	}}
	rt := newSSERuntime(t, provider)

	events, err := rt.Invoke(context.Background(),
		Descriptor{Name: "Aida", Model: "gpt-4o"},
		Input{Text: "busca algo"},
		nil)
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	drain(t, events)

	second := provider.request(1)
	if !strings.Contains(second, "ferramenta desconhecida") {
		t.Errorf("unknown call must answer with an inline marker: %s", second)
	}
}

func TestInvokeToolLoopBounded(t *testing.T) {
	// Every turn requests another tool call; the loop must terminate
	// with an error instead of spinning forever.
	provider := &sseProvider{bodies: []string{sse(toolCallBody)}}
	rt := newSSERuntime(t, provider)
	tool := &searchStub{output: "ok"}

	events, err := rt.Invoke(context.Background(),
		Descriptor{Name: "Aida", Model: "gpt-4o"},
		Input{Text: "loop"},
		[]Tool{tool})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}

	var failed bool
	for _, ev := range drain(t, events) {
		if ev.Type == models.StreamError {
			failed = true
		}
	}
	if !failed {
		t.Fatal("unbounded tool loop did not surface an error")
	}
	if len(tool.args) != invokeTurnCap {
		t.Errorf("tool executions = %d, want %d", len(tool.args), invokeTurnCap)
	}
}
