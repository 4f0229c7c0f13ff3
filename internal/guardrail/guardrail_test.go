package guardrail

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aidalabs/aida/pkg/models"
)

type fakeCompleter struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompleter) Complete(ctx context.Context, model, system, user string) (string, models.TokenUsage, error) {
	f.calls++
	return f.response, models.TokenUsage{}, f.err
}

func TestShortInputsAreSafeWithoutModelCall(t *testing.T) {
	completer := &fakeCompleter{response: `{"is_inappropriate": true, "category": "off_topic", "reasoning": "x", "confidence_score": 0.9}`}
	guard := New(completer, "gpt-4o-mini", nil, nil)

	for _, text := range []string{"", "oi", "bom dia", "olá, tudo bem?"} {
		verdict, err := guard.Classify(context.Background(), text)
		if err != nil {
			t.Fatalf("Classify(%q) error: %v", text, err)
		}
		if verdict.Inappropriate || verdict.Category != models.CategorySafe || verdict.Confidence != 0.0 {
			t.Errorf("Classify(%q) = %+v, want safe with confidence 0.0", text, verdict)
		}
	}
	if completer.calls != 0 {
		t.Errorf("short inputs triggered %d model calls, want 0", completer.calls)
	}
}

func TestShortInputWithBlockedTermReachesClassifier(t *testing.T) {
	completer := &fakeCompleter{response: `{"is_inappropriate": true, "category": "harassment", "reasoning": "x", "confidence_score": 0.95}`}
	guard := New(completer, "gpt-4o-mini", nil, nil)

	verdict, err := guard.Classify(context.Background(), "seu idiota")
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if completer.calls != 1 {
		t.Fatalf("model calls = %d, want 1", completer.calls)
	}
	if !verdict.Inappropriate {
		t.Error("expected flagged verdict from classifier")
	}
}

func TestLongInputReachesClassifier(t *testing.T) {
	completer := &fakeCompleter{response: `{"is_inappropriate": false, "category": "safe", "reasoning": "trabalho", "confidence_score": 0.1}`}
	guard := New(completer, "gpt-4o-mini", nil, nil)

	_, err := guard.Classify(context.Background(), strings.Repeat("preciso de ajuda com o relatório ", 3))
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if completer.calls != 1 {
		t.Errorf("model calls = %d, want 1", completer.calls)
	}
}

func TestTripwireRequiresHighConfidence(t *testing.T) {
	tests := []struct {
		name    string
		verdict models.GuardrailVerdict
		want    bool
	}{
		{"flagged high confidence", models.GuardrailVerdict{Inappropriate: true, Confidence: 0.9}, true},
		{"flagged at threshold", models.GuardrailVerdict{Inappropriate: true, Confidence: 0.7}, false},
		{"flagged low confidence", models.GuardrailVerdict{Inappropriate: true, Confidence: 0.3}, false},
		{"not flagged high confidence", models.GuardrailVerdict{Inappropriate: false, Confidence: 0.99}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldBlock(tt.verdict); got != tt.want {
				t.Errorf("ShouldBlock(%+v) = %v, want %v", tt.verdict, got, tt.want)
			}
		})
	}
}

func TestCheckFailsClosedOnClassifierError(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("provider down")}
	guard := New(completer, "gpt-4o-mini", nil, nil)

	blocked, msg := guard.Check(context.Background(), strings.Repeat("mensagem longa o suficiente ", 2))
	if !blocked {
		t.Fatal("classifier failure must block")
	}
	if msg == "" {
		t.Error("blocked check returned empty user message")
	}
	if strings.Contains(msg, "provider down") {
		t.Error("user message leaked internal error text")
	}
}

func TestCheckBlockedCategoryMessage(t *testing.T) {
	completer := &fakeCompleter{response: `{"is_inappropriate": true, "category": "violence", "reasoning": "x", "confidence_score": 0.95}`}
	guard := New(completer, "gpt-4o-mini", nil, nil)

	blocked, msg := guard.Check(context.Background(), strings.Repeat("conteúdo a classificar ", 2))
	if !blocked {
		t.Fatal("expected block")
	}
	if msg != ResponseForCategory("violence") {
		t.Errorf("message = %q", msg)
	}
}

func TestParseVerdictHandlesFencedAndBrokenJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"plain", `{"is_inappropriate": false, "category": "safe", "reasoning": "ok", "confidence_score": 0.2}`},
		{"fenced", "```json\n{\"is_inappropriate\": false, \"category\": \"safe\", \"reasoning\": \"ok\", \"confidence_score\": 0.2}\n```"},
		{"prose wrapped", `Aqui está a análise: {"is_inappropriate": false, "category": "safe", "reasoning": "ok", "confidence_score": 0.2} espero que ajude`},
		{"trailing comma", `{"is_inappropriate": false, "category": "safe", "reasoning": "ok", "confidence_score": 0.2,}`},
		{"single quotes", `{'is_inappropriate': false, 'category': 'safe', 'reasoning': 'ok', 'confidence_score': 0.2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := parseVerdict(tt.raw)
			if err != nil {
				t.Fatalf("parseVerdict error: %v", err)
			}
			if verdict.Category != models.CategorySafe || verdict.Confidence != 0.2 {
				t.Errorf("verdict = %+v", verdict)
			}
		})
	}
}

func TestParseVerdictNormalizesMissingCategory(t *testing.T) {
	verdict, err := parseVerdict(`{"is_inappropriate": false, "confidence_score": 2.5}`)
	if err != nil {
		t.Fatalf("parseVerdict error: %v", err)
	}
	if verdict.Category != models.CategorySafe {
		t.Errorf("category = %q, want safe default", verdict.Category)
	}
	if verdict.Confidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", verdict.Confidence)
	}
}

func TestResponseForCategoryFallback(t *testing.T) {
	if ResponseForCategory("unknown") != ResponseForCategory("") {
		t.Error("unknown category should use the generic message")
	}
}
