package integrations

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aidalabs/aida/internal/agent"
	"github.com/aidalabs/aida/internal/observability"
	"github.com/aidalabs/aida/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// multiTurnCap bounds the enhanced tool loop. Integration workflows
// chain lookups (workspace, project, task) before the final mutation;
// eight turns covers the longest observed chain.
const multiTurnCap = 8

// singlePassCap allows one tool round plus the closing answer.
const singlePassCap = 2

// TurnRunner is the streaming model call the router drives.
type TurnRunner interface {
	StreamTurn(ctx context.Context, req agent.ChatRequest, out chan<- models.StreamEvent) (*agent.TurnResult, error)
}

// Router detects which integration a message needs and executes it
// through a strict three-tier degradation: enhanced multi-turn loop,
// then single-pass, then the general agent with no integration tools.
type Router struct {
	registry *Registry
	runner   TurnRunner
	model    string
	logger   *slog.Logger
	metrics  *observability.Metrics

	// newClient is swappable for tests.
	newClient func(Integration) MCPClient
}

// NewRouter creates a router over the registry. metrics may be nil.
func NewRouter(registry *Registry, runner TurnRunner, model string, logger *slog.Logger, metrics *observability.Metrics) *Router {
	return &Router{
		registry:  registry,
		runner:    runner,
		model:     model,
		logger:    logger,
		metrics:   metrics,
		newClient: func(i Integration) MCPClient { return NewClient(i) },
	}
}

// Detect returns the key of the integration the message needs, if any.
func (r *Router) Detect(text string) (string, bool) {
	entry, ok := r.registry.Detect(text)
	if !ok {
		return "", false
	}
	return entry.Key, true
}

// strategy is one tier of the degradation ladder.
type strategy struct {
	name string
	run  func(ctx context.Context, integration Integration, message string, imageURLs []string, out chan<- models.StreamEvent) (*models.AgentResponse, error)
}

// Execute runs the integration workflow for the message, emitting
// stream events to out. Tiers are tried in order; each failure is
// logged with its tier name before falling through. Only if every tier
// fails does the error surface.
func (r *Router) Execute(ctx context.Context, key, message string, imageURLs []string, out chan<- models.StreamEvent) (*models.AgentResponse, error) {
	integration, ok := r.registry.Get(key)
	if !ok {
		return nil, fmt.Errorf("unknown integration %q", key)
	}

	strategies := []strategy{
		{name: "enhanced_multiturn", run: r.runMultiTurn},
		{name: "single_pass", run: r.runSinglePass},
		{name: "general_agent", run: r.runGeneral},
	}

	var lastErr error
	for _, s := range strategies {
		resp, err := s.run(ctx, integration, message, imageURLs, out)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		r.logger.Warn("integration strategy failed",
			"integration", integration.Key,
			"strategy", s.name,
			"error", err)
		if r.metrics != nil {
			r.metrics.ToolExecutionCounter.WithLabelValues("mcp_"+integration.Key, "failed").Inc()
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("integration %s: all strategies failed: %w", integration.Key, lastErr)
}

func (r *Router) runMultiTurn(ctx context.Context, integration Integration, message string, imageURLs []string, out chan<- models.StreamEvent) (*models.AgentResponse, error) {
	return r.runToolLoop(ctx, integration, message, imageURLs, out, multiTurnCap)
}

func (r *Router) runSinglePass(ctx context.Context, integration Integration, message string, imageURLs []string, out chan<- models.StreamEvent) (*models.AgentResponse, error) {
	return r.runToolLoop(ctx, integration, message, imageURLs, out, singlePassCap)
}

// runGeneral answers without any integration tool. Last resort so the
// user still gets a response when the provider is down.
func (r *Router) runGeneral(ctx context.Context, integration Integration, message string, imageURLs []string, out chan<- models.StreamEvent) (*models.AgentResponse, error) {
	req := agent.ChatRequest{
		Model:    r.model,
		System:   generalInstructions,
		Messages: []agent.ChatMessage{{Role: openai.ChatMessageRoleUser, Content: message, ImageURLs: imageURLs}},
	}
	result, err := r.runner.StreamTurn(ctx, req, out)
	if err != nil {
		return nil, err
	}
	return &models.AgentResponse{Text: result.Text, Usage: result.Usage}, nil
}

// runToolLoop drives the bounded multi-turn tool workflow. Every tool
// result is appended to the transcript so later turns can reference
// identifiers returned by earlier calls.
func (r *Router) runToolLoop(ctx context.Context, integration Integration, message string, imageURLs []string, out chan<- models.StreamEvent, maxTurns int) (*models.AgentResponse, error) {
	client := r.newClient(integration)

	tools, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	if len(tools) == 0 {
		return nil, fmt.Errorf("integration %s exposes no tools", integration.Key)
	}

	req := agent.ChatRequest{
		Model:    r.model,
		System:   integrationInstructions(integration),
		Messages: []agent.ChatMessage{{Role: openai.ChatMessageRoleUser, Content: message, ImageURLs: imageURLs}},
		Tools:    convertToolInfos(tools),
	}

	response := &models.AgentResponse{}
	for turn := 0; turn < maxTurns; turn++ {
		result, err := r.runner.StreamTurn(ctx, req, out)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", turn+1, err)
		}
		response.Usage.Add(result.Usage)

		if len(result.Calls) == 0 {
			response.Text = result.Text
			return response, nil
		}

		req.Messages = append(req.Messages, agent.ChatMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   result.Text,
			ToolCalls: result.Calls,
		})

		for _, call := range result.Calls {
			response.Tools = append(response.Tools, models.ToolInvocation{
				Name:      "mcp_" + integration.Key,
				Arguments: call.Arguments,
				Status:    models.ToolStatusStarted,
			})

			output, err := client.CallTool(ctx, call.Name, call.Arguments)
			last := &response.Tools[len(response.Tools)-1]
			if err != nil {
				last.Status = models.ToolStatusFailed
				output = fmt.Sprintf("erro na ferramenta %s: %v", call.Name, err)
			} else {
				last.Status = models.ToolStatusCompleted
				last.Output = output
			}
			r.countTool(integration.Key, last.Status)

			select {
			case out <- models.ToolOutput(output):
			case <-ctx.Done():
				return nil, ctx.Err()
			}

			req.Messages = append(req.Messages, agent.ChatMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}
	return nil, fmt.Errorf("tool loop exceeded %d turns", maxTurns)
}

func (r *Router) countTool(key string, status models.ToolStatus) {
	if r.metrics != nil {
		r.metrics.ToolExecutionCounter.WithLabelValues("mcp_"+key, string(status)).Inc()
	}
}

func convertToolInfos(infos []ToolInfo) []agent.ToolDef {
	out := make([]agent.ToolDef, 0, len(infos))
	for _, info := range infos {
		out = append(out, agent.ToolDef{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  info.InputSchema,
		})
	}
	return out
}

const generalInstructions = "Você é a Aida, assistente corporativa. Responda em português brasileiro, de forma clara e profissional."

func integrationInstructions(integration Integration) string {
	return fmt.Sprintf(`Você é a Aida, assistente corporativa com acesso às ferramentas de %s.

%s

Use as ferramentas disponíveis para atender o pedido do usuário. Workflows podem exigir várias chamadas em sequência (por exemplo: localizar o workspace, depois o projeto, depois a tarefa). Reaproveite os identificadores retornados pelas chamadas anteriores. Responda sempre em português brasileiro.`, integration.Name, integration.Description)
}
