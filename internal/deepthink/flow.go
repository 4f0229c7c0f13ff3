package deepthink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aidalabs/aida/pkg/models"
)

// defaultMaxMessageLength is the platform ceiling for one posted
// message, used when no limit is configured.
const defaultMaxMessageLength = 3000

// historyLinesForRewrite caps how much conversation context feeds the
// prompt-rewrite stage.
const historyLinesForRewrite = 10

const improveInstructions = `Você é um especialista em reformular prompts para análise profunda.

Sua tarefa:
1. Reformule o prompt original deixando-o mais claro, organizado e direto
2. Use o contexto da conversa para entender melhor o que o usuário quer analisar
3. Mantenha o idioma original do prompt
4. Responda APENAS com o prompt reformulado, sem explicações adicionais
5. Torne o prompt mais específico e direcionado para análise profunda`

const analysisInstructions = `Você é um assistente especializado em análise profunda. Forneça análises abrangentes, detalhadas e bem estruturadas.

Diretrizes:
- Seja detalhado e completo na análise
- Use estrutura clara com tópicos e subtópicos
- Forneça insights acionáveis
- Responda sempre no mesmo idioma da pergunta
- Seja objetivo mas abrangente`

// guardrailAbortMessage is the fixed reply when either stage trips the
// content guardrail. No partial output leaks.
const guardrailAbortMessage = "⚠️ Desculpe, mas não posso analisar esse tipo de conteúdo em um ambiente profissional."

// Completer is the single-turn model call both stages use.
type Completer interface {
	Complete(ctx context.Context, model, system, user string) (string, models.TokenUsage, error)
}

// Guard gates both stages.
type Guard interface {
	Check(ctx context.Context, text string) (bool, string)
}

// Result is the outcome of one deep-analysis run: the response already
// split into postable parts, plus accumulated usage. Blocked runs carry
// the abort message as their only part.
type Result struct {
	Parts   []string
	Usage   models.TokenUsage
	Blocked bool
}

// Flow is the two-stage deep-analysis orchestration.
type Flow struct {
	completer    Completer
	guard        Guard
	rewriteModel string
	deepModel    string
	maxLen       int
	logger       *slog.Logger
}

// NewFlow creates the deep-analysis flow. rewriteModel powers the
// prompt-improvement stage, deepModel the analysis itself. maxLen caps
// each posted message part; zero or negative applies the platform
// default.
func NewFlow(completer Completer, guard Guard, rewriteModel, deepModel string, maxLen int, logger *slog.Logger) *Flow {
	if maxLen <= 0 {
		maxLen = defaultMaxMessageLength
	}
	return &Flow{
		completer:    completer,
		guard:        guard,
		rewriteModel: rewriteModel,
		deepModel:    deepModel,
		maxLen:       maxLen,
		logger:       logger,
	}
}

// Run executes the flow. history, when non-empty, triggers the rewrite
// stage over its last lines; the analysis stage always runs. Both
// stages are guardrail-checked independently and either one tripping
// aborts with the fixed message.
func (f *Flow) Run(ctx context.Context, prompt string, history []string) (*Result, error) {
	result := &Result{}
	finalPrompt := prompt

	if len(history) > 0 {
		if blocked, _ := f.guard.Check(ctx, prompt); blocked {
			f.logger.Warn("deep analysis blocked at rewrite stage")
			return &Result{Parts: []string{guardrailAbortMessage}, Blocked: true}, nil
		}

		improved, usage, err := f.rewritePrompt(ctx, prompt, history)
		result.Usage.Add(usage)
		if err != nil {
			// Rewrite is best effort; analysis proceeds on the raw prompt.
			f.logger.Warn("prompt rewrite failed, using original", "error", err)
		} else if improved != "" {
			finalPrompt = improved
		}
	}

	if blocked, _ := f.guard.Check(ctx, finalPrompt); blocked {
		f.logger.Warn("deep analysis blocked at analysis stage")
		return &Result{Parts: []string{guardrailAbortMessage}, Blocked: true, Usage: result.Usage}, nil
	}

	analysis, usage, err := f.completer.Complete(ctx, f.deepModel, analysisInstructions, finalPrompt)
	result.Usage.Add(usage)
	if err != nil {
		return nil, fmt.Errorf("deep analysis: %w", err)
	}

	result.Parts = Split(analysis, f.maxLen)
	return result, nil
}

func (f *Flow) rewritePrompt(ctx context.Context, prompt string, history []string) (string, models.TokenUsage, error) {
	lines := history
	if len(lines) > historyLinesForRewrite {
		lines = lines[len(lines)-historyLinesForRewrite:]
	}

	input := fmt.Sprintf("Contexto da conversa:\n%s\n\nPrompt original para reformular:\n%s",
		strings.Join(lines, "\n"), prompt)

	improved, usage, err := f.completer.Complete(ctx, f.rewriteModel, improveInstructions, input)
	if err != nil {
		return "", usage, err
	}
	return strings.TrimSpace(improved), usage, nil
}
