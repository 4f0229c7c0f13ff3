// Package guardrail gates inputs through a content-safety classifier
// before they reach the main agent.
package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/aidalabs/aida/internal/observability"
	"github.com/aidalabs/aida/pkg/models"
	"github.com/kaptinlin/jsonrepair"
)

// tripwireThreshold is the confidence a flagged verdict must exceed to
// block. Strictly greater than; a verdict at exactly the threshold
// passes.
const tripwireThreshold = 0.7

// shortInputLimit is the length below which inputs skip classification
// entirely, unless they contain a blocklisted term.
const shortInputLimit = 20

// instructions is the fixed rubric of the classifier agent. It must
// return the verdict as a single JSON object.
const instructions = `Você é um filtro de segurança para um ambiente corporativo profissional brasileiro.

Analise se a mensagem contém conteúdo INADEQUADO para o ambiente de trabalho.

BLOQUEAR:
- Conteúdo sexual, erótico ou pornográfico
- Violência, ameaças ou discurso de ódio
- Assédio, bullying ou discriminação
- Assuntos muito pessoais (relacionamentos íntimos, problemas familiares)
- Tópicos completamente fora do contexto profissional (receitas, fofocas, entretenimento)
- Linguagem ofensiva ou palavrões
- Referências a drogas, álcool ou substâncias
- Discussões políticas ou religiosas controversas

PERMITIR:
- Perguntas sobre trabalho, projetos, tarefas
- Discussões técnicas e profissionais
- Solicitações de ferramentas (Asana, Gmail, Calendar, etc.)
- Conversas cordiais e respeitosas, incluindo saudações simples
- Dúvidas sobre processos e procedimentos
- Mensagens curtas ou vazias (trate como seguras se não houver conteúdo inadequado)

Para mensagens curtas, saudações ou vazias: is_inappropriate false, category "safe", confidence_score 0.0.
Somente marque is_inappropriate como true se houver conteúdo EXPLICITAMENTE inadequado.

Responda APENAS com um objeto JSON:
{"is_inappropriate": bool, "category": "sexual"|"violence"|"harassment"|"personal"|"off_topic"|"safe", "reasoning": string, "confidence_score": float}`

// blockedTerms force classification even for short inputs.
var blockedTerms = []string{
	"porra", "merda", "idiota", "imbecil",
	"matar", "morte", "ódio", "odeio",
	"nude", "pelada", "pelado",
}

// Completer is the model call the guardrail depends on.
type Completer interface {
	Complete(ctx context.Context, model, system, user string) (string, models.TokenUsage, error)
}

// Guard classifies inputs and decides blocking. Safe for concurrent use.
type Guard struct {
	completer Completer
	model     string
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a guardrail backed by the given classifier model.
// metrics may be nil.
func New(completer Completer, model string, logger *slog.Logger, metrics *observability.Metrics) *Guard {
	return &Guard{completer: completer, model: model, logger: logger, metrics: metrics}
}

// Classify runs the safety classifier over text. Short inputs without
// blocklisted terms are safe by construction and never reach the model.
func (g *Guard) Classify(ctx context.Context, text string) (models.GuardrailVerdict, error) {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < shortInputLimit && !containsBlockedTerm(trimmed) {
		return models.GuardrailVerdict{
			Inappropriate: false,
			Category:      models.CategorySafe,
			Reasoning:     "Mensagem curta ou saudação neutra - considerada segura",
			Confidence:    0.0,
		}, nil
	}

	prompt := "Analise esta mensagem para ambiente profissional: " + trimmed
	raw, _, err := g.completer.Complete(ctx, g.model, instructions, prompt)
	if err != nil {
		return models.GuardrailVerdict{}, fmt.Errorf("guardrail classify: %w", err)
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		return models.GuardrailVerdict{}, fmt.Errorf("guardrail classify: %w", err)
	}
	return verdict, nil
}

// ShouldBlock applies the tripwire policy: flagged and confidence
// strictly above the threshold. Low-confidence flags never block.
func ShouldBlock(v models.GuardrailVerdict) bool {
	return v.Inappropriate && v.Confidence > tripwireThreshold
}

// Check classifies text and returns whether it is blocked together with
// the user-facing message to post instead of an agent response.
// Classifier failures block with a generic message: the guardrail fails
// closed.
func (g *Guard) Check(ctx context.Context, text string) (bool, string) {
	verdict, err := g.Classify(ctx, text)
	if err != nil {
		g.logWarn("guardrail classifier failed, blocking", "error", err)
		g.count(string(models.CategorySafe), true)
		return true, ResponseForCategory("")
	}

	blocked := ShouldBlock(verdict)
	g.count(string(verdict.Category), blocked)
	if blocked {
		g.logWarn("guardrail blocked message",
			"category", verdict.Category,
			"confidence", verdict.Confidence,
			"reasoning", verdict.Reasoning)
		return true, ResponseForCategory(string(verdict.Category))
	}
	return false, ""
}

// ResponseForCategory returns the educational message shown to the user
// when content of the given category is blocked. Unknown categories get
// the generic message.
func ResponseForCategory(category string) string {
	switch models.GuardrailCategory(category) {
	case models.CategorySexual:
		return "⚠️ Esta mensagem contém conteúdo inadequado para o ambiente profissional. Por favor, mantenha as conversas focadas em tópicos de trabalho."
	case models.CategoryViolence:
		return "⚠️ Não posso processar mensagens com conteúdo violento ou ameaçador. Vamos manter um ambiente respeitoso."
	case models.CategoryHarassment:
		return "⚠️ Este tipo de linguagem não é apropriada para o ambiente de trabalho. Por favor, seja respeitoso."
	case models.CategoryPersonal:
		return "⚠️ Este assunto parece muito pessoal para o contexto profissional. Como posso ajudar com questões de trabalho?"
	case models.CategoryOffTopic:
		return "⚠️ Vamos focar em tópicos relacionados ao trabalho. Como posso ajudar com suas tarefas profissionais?"
	default:
		return "⚠️ Esta mensagem não é apropriada para o ambiente profissional. Por favor, reformule sua pergunta focando em tópicos de trabalho."
	}
}

func containsBlockedTerm(text string) bool {
	lower := strings.ToLower(text)
	for _, term := range blockedTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// parseVerdict decodes the classifier output. Models occasionally wrap
// JSON in prose or fences, or emit slightly broken JSON; extract the
// object and repair before giving up.
func parseVerdict(raw string) (models.GuardrailVerdict, error) {
	payload := extractObject(raw)

	var verdict models.GuardrailVerdict
	if err := json.Unmarshal([]byte(payload), &verdict); err == nil {
		return normalize(verdict), nil
	}

	repaired, err := jsonrepair.JSONRepair(payload)
	if err != nil {
		return models.GuardrailVerdict{}, fmt.Errorf("unparseable verdict: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &verdict); err != nil {
		return models.GuardrailVerdict{}, fmt.Errorf("unparseable verdict after repair: %w", err)
	}
	return normalize(verdict), nil
}

// extractObject returns the outermost {...} span of s, or s unchanged
// when no braces are present.
func extractObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func normalize(v models.GuardrailVerdict) models.GuardrailVerdict {
	if v.Category == "" {
		v.Category = models.CategorySafe
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	return v
}

func (g *Guard) logWarn(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, args...)
	}
}

func (g *Guard) count(category string, blocked bool) {
	if g.metrics != nil {
		g.metrics.GuardrailCounter.WithLabelValues(category, fmt.Sprintf("%t", blocked)).Inc()
	}
}
