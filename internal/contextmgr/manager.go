// Package contextmgr tracks per-thread conversation context: history
// retrieval for prompt assembly and cumulative token accounting against
// model budgets.
package contextmgr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// historyLimit bounds how many prior messages are pulled into context.
const historyLimit = 20

// ThreadMessage is one prior message of a conversation thread.
type ThreadMessage struct {
	User  string
	BotID string // non-empty when the bot itself posted it
	Text  string
}

// HistoryClient fetches prior thread messages from the platform.
type HistoryClient interface {
	ThreadReplies(ctx context.Context, channel, threadTS string, limit int) ([]ThreadMessage, error)
}

// Budgeter resolves the context token budget for a model.
type Budgeter interface {
	ContextBudget(model string) int
}

// Manager holds per-thread accounting. Totals live in process memory
// only; a restart loses them, and history is re-derivable from the
// platform on demand.
type Manager struct {
	history HistoryClient
	budgets Budgeter
	logger  *slog.Logger

	mu     sync.Mutex
	totals map[string]int
}

// NewManager creates a context manager.
func NewManager(history HistoryClient, budgets Budgeter, logger *slog.Logger) *Manager {
	return &Manager{
		history: history,
		budgets: budgets,
		logger:  logger,
		totals:  make(map[string]int),
	}
}

// FetchThreadHistory retrieves the last messages of a thread and
// formats them into one context block, each line annotated with the
// speaker. Returns "" for empty threads or when history is unavailable;
// a missing history block degrades the answer but never fails the
// message.
func (m *Manager) FetchThreadHistory(ctx context.Context, channel, threadTS string) string {
	if m.history == nil || threadTS == "" {
		return ""
	}

	messages, err := m.history.ThreadReplies(ctx, channel, threadTS, historyLimit)
	if err != nil {
		m.logger.Warn("thread history unavailable", "channel", channel, "thread_ts", threadTS, "error", err)
		return ""
	}
	if len(messages) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Histórico da conversa:\n")
	for _, msg := range messages {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		if msg.BotID != "" {
			b.WriteString("Aida: ")
		} else {
			b.WriteString("Usuário: ")
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}

// CheckContextLimit adds tokens to the thread's running total and
// reports whether the model's budget has been reached, with a warning
// string to append to the outgoing message. The warning never blocks
// sending. Empty string while under budget.
func (m *Manager) CheckContextLimit(threadKey string, tokens int, model string) (bool, string) {
	budget := m.budgets.ContextBudget(model)

	m.mu.Lock()
	m.totals[threadKey] += tokens
	total := m.totals[threadKey]
	m.mu.Unlock()

	if total < budget {
		return false, ""
	}

	m.logger.Info("thread context budget reached",
		"thread", threadKey, "total_tokens", total, "budget", budget, "model", model)
	warning := fmt.Sprintf(
		"\n\n_⚠️ Esta conversa atingiu %d tokens (limite de contexto: %d). Considere iniciar uma nova thread para melhores respostas._",
		total, budget)
	return true, warning
}

// ThreadTotal returns the accumulated token count for a thread.
func (m *Manager) ThreadTotal(threadKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[threadKey]
}
