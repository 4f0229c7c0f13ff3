// Package agent is the boundary to the language-model runtime. It
// exposes streaming invocations decoded into the closed StreamEvent set
// and non-streaming single-turn completions, with structured error
// classification for the retry policy.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aidalabs/aida/internal/observability"
	"github.com/aidalabs/aida/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// Descriptor configures one agent persona: which model it runs on and
// the instructions that shape its behavior.
type Descriptor struct {
	Name         string
	Model        string
	Instructions string
}

// Tool is a locally executed capability surfaced to the model during an
// invocation. Schema returns the JSON Schema of the arguments object.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, arguments string) (string, error)
}

// invokeTurnCap bounds the tool loop of one invocation. Local tools
// answer in one round; a few extra turns cover follow-up lookups.
const invokeTurnCap = 6

// Input is the user-facing payload of one invocation: plain text plus
// optional image URLs for vision.
type Input struct {
	Text      string
	ImageURLs []string
}

// ToolDef describes a callable tool surfaced to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// PendingCall is a tool call the model requested during a turn.
type PendingCall struct {
	ID        string
	Name      string
	Arguments string
}

// ChatMessage is one turn of a multi-turn conversation request.
type ChatMessage struct {
	Role       string // "user", "assistant" or "tool"
	Content    string
	ImageURLs  []string
	ToolCalls  []PendingCall // assistant turns that requested tools
	ToolCallID string        // tool turns answering a specific call
}

// ChatRequest is one model turn over an explicit conversation.
type ChatRequest struct {
	Model    string
	System   string
	Messages []ChatMessage
	Tools    []ToolDef
}

// TurnResult is the assembled outcome of one streamed model turn.
type TurnResult struct {
	Text  string
	Calls []PendingCall
	Usage models.TokenUsage
}

// completionAPI is the slice of the OpenAI SDK the runtime depends on.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Runtime drives the model provider. Safe for concurrent use.
type Runtime struct {
	client  completionAPI
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRuntime creates a runtime on top of an OpenAI client. metrics may
// be nil.
func NewRuntime(client *openai.Client, logger *slog.Logger, metrics *observability.Metrics) *Runtime {
	return &Runtime{client: client, logger: logger, metrics: metrics}
}

// Complete runs a non-streaming single turn and returns the final text.
// Used by the guardrail classifier and the deep-analysis stages.
func (r *Runtime) Complete(ctx context.Context, model, system, user string) (string, models.TokenUsage, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}

	start := time.Now()
	resp, err := r.client.CreateChatCompletion(ctx, req)
	r.observe(model, start)
	if err != nil {
		return "", models.TokenUsage{}, WrapProvider("complete", err)
	}
	if len(resp.Choices) == 0 {
		return "", models.TokenUsage{}, WrapProvider("complete", errors.New("empty completion response"))
	}

	usage := models.TokenUsage{
		Input:  resp.Usage.PromptTokens,
		Output: resp.Usage.CompletionTokens,
		Total:  resp.Usage.TotalTokens,
	}
	r.countTokens(model, usage)
	return resp.Choices[0].Message.Content, usage, nil
}

// Invoke runs one streaming invocation of the descriptor's agent and
// returns the decoded event stream. Tools are executed locally inside a
// bounded loop; their outputs feed back into the transcript until the
// model answers without calling one. The returned channel is closed
// after a terminal Done or error event.
func (r *Runtime) Invoke(ctx context.Context, desc Descriptor, input Input, tools []Tool) (<-chan models.StreamEvent, error) {
	req := ChatRequest{
		Model:    desc.Model,
		System:   desc.Instructions,
		Messages: []ChatMessage{{Role: openai.ChatMessageRoleUser, Content: input.Text, ImageURLs: input.ImageURLs}},
		Tools:    toolDefs(tools),
	}

	stream, err := r.openStream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan models.StreamEvent, 16)
	go func() {
		defer close(out)
		usage, err := r.runInvocation(ctx, req, stream, tools, out)
		if err != nil {
			out <- models.StreamFailure(err)
			return
		}
		out <- models.Done(usage)
	}()
	return out, nil
}

// runInvocation drives the tool loop. The first stream is already open
// so Invoke fails fast on request errors; later turns open their own.
func (r *Runtime) runInvocation(ctx context.Context, req ChatRequest, first *openai.ChatCompletionStream, tools []Tool, out chan<- models.StreamEvent) (models.TokenUsage, error) {
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}

	var usage models.TokenUsage
	stream := first
	for turn := 0; turn < invokeTurnCap; turn++ {
		if stream == nil {
			var err error
			stream, err = r.openStream(ctx, req)
			if err != nil {
				return usage, err
			}
		}
		result, err := r.pump(ctx, req.Model, stream, out)
		stream = nil
		if err != nil {
			return usage, err
		}
		usage.Add(result.Usage)

		if len(result.Calls) == 0 {
			return usage, nil
		}

		req.Messages = append(req.Messages, ChatMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   result.Text,
			ToolCalls: result.Calls,
		})
		for _, call := range result.Calls {
			output := r.executeTool(ctx, byName, call)
			select {
			case out <- models.ToolOutput(output):
			case <-ctx.Done():
				return usage, WrapProvider("invoke", ctx.Err())
			}
			req.Messages = append(req.Messages, ChatMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}
	return usage, WrapProvider("invoke", fmt.Errorf("tool loop exceeded %d turns", invokeTurnCap))
}

// executeTool runs one requested call. Failures degrade to an inline
// error marker so the model can recover or apologize instead of the
// whole invocation dying.
func (r *Runtime) executeTool(ctx context.Context, byName map[string]Tool, call PendingCall) string {
	tool, ok := byName[call.Name]
	if !ok {
		return fmt.Sprintf("erro na ferramenta %s: ferramenta desconhecida", call.Name)
	}
	output, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		r.logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		return fmt.Sprintf("erro na ferramenta %s: %v", call.Name, err)
	}
	return output
}

func toolDefs(tools []Tool) []ToolDef {
	if len(tools) == 0 {
		return nil
	}
	out := make([]ToolDef, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolDef{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()})
	}
	return out
}

// StreamTurn runs one streaming model turn over an explicit
// conversation, forwarding decoded events to out, and returns the
// assembled turn. The caller owns the lifecycle of out; no terminal
// event is emitted. Used by the tool router's multi-turn loop.
func (r *Runtime) StreamTurn(ctx context.Context, req ChatRequest, out chan<- models.StreamEvent) (*TurnResult, error) {
	stream, err := r.openStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.pump(ctx, req.Model, stream, out)
}

func (r *Runtime) openStream(ctx context.Context, req ChatRequest) (*openai.ChatCompletionStream, error) {
	apiReq := openai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      convertMessages(req.System, req.Messages),
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if len(req.Tools) > 0 {
		apiReq.Tools = convertTools(req.Tools)
	}

	stream, err := r.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return nil, WrapProvider("stream", err)
	}
	return stream, nil
}

// pump consumes the SDK stream, decodes every chunk into StreamEvents
// and accumulates the turn result. Events are forwarded in arrival
// order.
func (r *Runtime) pump(ctx context.Context, model string, stream *openai.ChatCompletionStream, out chan<- models.StreamEvent) (*TurnResult, error) {
	defer stream.Close()

	start := time.Now()
	defer r.observe(model, start)

	state := newDecodeState()
	for {
		select {
		case <-ctx.Done():
			return nil, WrapProvider("stream", ctx.Err())
		default:
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, WrapProvider("stream", err)
		}

		for _, ev := range state.decode(chunk) {
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil, WrapProvider("stream", ctx.Err())
			}
		}
	}

	result := state.result()
	r.countTokens(model, result.Usage)
	return result, nil
}

func (r *Runtime) observe(model string, start time.Time) {
	if r.metrics != nil {
		r.metrics.LLMRequestDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	}
}

func (r *Runtime) countTokens(model string, usage models.TokenUsage) {
	if r.metrics == nil || usage.Total == 0 {
		return
	}
	r.metrics.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(usage.Input))
	r.metrics.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(usage.Output))
}

// convertMessages maps conversation turns to the SDK format. Image
// inputs become multimodal content parts with low detail to keep token
// cost down.
func convertMessages(system string, msgs []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, m := range msgs {
		converted := openai.ChatCompletionMessage{Role: m.Role, ToolCallID: m.ToolCallID}

		if len(m.ImageURLs) > 0 {
			parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: m.Content}}
			for _, url := range m.ImageURLs {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailLow},
				})
			}
			converted.MultiContent = parts
		} else {
			converted.Content = m.Content
		}

		for _, call := range m.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
				ID:       call.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: call.Name, Arguments: call.Arguments},
			})
		}

		out = append(out, converted)
	}
	return out
}

func convertTools(defs []ToolDef) []openai.Tool {
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		params := def.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
