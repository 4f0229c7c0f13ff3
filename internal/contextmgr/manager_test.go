package contextmgr

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

type fakeHistory struct {
	messages []ThreadMessage
	err      error
	gotLimit int
}

func (f *fakeHistory) ThreadReplies(ctx context.Context, channel, threadTS string, limit int) ([]ThreadMessage, error) {
	f.gotLimit = limit
	return f.messages, f.err
}

type fixedBudget int

func (b fixedBudget) ContextBudget(model string) int { return int(b) }

func TestFetchThreadHistoryFormatsSpeakers(t *testing.T) {
	history := &fakeHistory{messages: []ThreadMessage{
		{User: "U123", Text: "qual o status do projeto?"},
		{BotID: "B999", Text: "O projeto está no prazo."},
		{User: "U123", Text: "  "},
		{User: "U456", Text: "ótimo"},
	}}
	m := NewManager(history, fixedBudget(1000), slog.Default())

	got := m.FetchThreadHistory(context.Background(), "C1", "171.001")
	want := "Histórico da conversa:\nUsuário: qual o status do projeto?\nAida: O projeto está no prazo.\nUsuário: ótimo\n"
	if got != want {
		t.Errorf("history = %q, want %q", got, want)
	}
	if history.gotLimit != historyLimit {
		t.Errorf("limit = %d, want %d", history.gotLimit, historyLimit)
	}
}

func TestFetchThreadHistoryDegradesOnError(t *testing.T) {
	history := &fakeHistory{err: errors.New("platform down")}
	m := NewManager(history, fixedBudget(1000), slog.Default())

	if got := m.FetchThreadHistory(context.Background(), "C1", "171.001"); got != "" {
		t.Errorf("history on error = %q, want empty", got)
	}
}

func TestFetchThreadHistoryEmptyThreadTS(t *testing.T) {
	history := &fakeHistory{messages: []ThreadMessage{{User: "U1", Text: "oi"}}}
	m := NewManager(history, fixedBudget(1000), slog.Default())

	if got := m.FetchThreadHistory(context.Background(), "C1", ""); got != "" {
		t.Errorf("history without thread = %q, want empty", got)
	}
}

func TestCheckContextLimitBoundary(t *testing.T) {
	m := NewManager(nil, fixedBudget(100), slog.Default())

	atLimit, warning := m.CheckContextLimit("C1_171", 99, "gpt-4o")
	if atLimit || warning != "" {
		t.Errorf("under budget: atLimit=%v warning=%q", atLimit, warning)
	}

	// 99 + 1 = 100 meets the budget exactly.
	atLimit, warning = m.CheckContextLimit("C1_171", 1, "gpt-4o")
	if !atLimit || warning == "" {
		t.Errorf("at budget: atLimit=%v warning=%q", atLimit, warning)
	}
	if !strings.Contains(warning, "100") {
		t.Errorf("warning should mention the total, got %q", warning)
	}
}

func TestCheckContextLimitIsolatesThreads(t *testing.T) {
	m := NewManager(nil, fixedBudget(100), slog.Default())

	m.CheckContextLimit("thread_a", 90, "gpt-4o")
	if atLimit, _ := m.CheckContextLimit("thread_b", 50, "gpt-4o"); atLimit {
		t.Error("threads must account independently")
	}
	if m.ThreadTotal("thread_a") != 90 {
		t.Errorf("thread_a total = %d", m.ThreadTotal("thread_a"))
	}
}
