package gateway

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/aidalabs/aida/internal/contextmgr"
	"github.com/aidalabs/aida/internal/deepthink"
	"github.com/aidalabs/aida/pkg/models"
)

const analyzingPlaceholder = ":brain: Analisando cuidadosamente..."

// DeepFlow is the deep-analysis orchestration the router dispatches
// "+think" commands to.
type DeepFlow interface {
	Run(ctx context.Context, prompt string, history []string) (*deepthink.Result, error)
}

// EventRouter dispatches normalized inbound events: deep-analysis
// commands go to the DeepFlow, everything else to the MessageProcessor.
// Each event runs on its own goroutine; Drain waits for in-flight work
// during shutdown.
type EventRouter struct {
	processor *MessageProcessor
	deep      DeepFlow
	contexts  *contextmgr.Manager
	platform  Platform
	logger    *slog.Logger

	wg sync.WaitGroup
}

// NewEventRouter creates the dispatcher.
func NewEventRouter(processor *MessageProcessor, deep DeepFlow, contexts *contextmgr.Manager, platform Platform, logger *slog.Logger) *EventRouter {
	return &EventRouter{
		processor: processor,
		deep:      deep,
		contexts:  contexts,
		platform:  platform,
		logger:    logger,
	}
}

// Dispatch routes one event asynchronously.
func (r *EventRouter) Dispatch(ctx context.Context, ev *models.InboundEvent) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if ev.DeepThink {
			r.handleDeepThink(ctx, ev)
			return
		}
		if err := r.processor.Process(ctx, ev); err != nil {
			r.logger.Error("event processing failed", "channel", ev.Channel, "error", err)
		}
	}()
}

// Drain waits for all dispatched events to finish. In-flight
// invocations run to completion; nothing new should be dispatched after
// calling it.
func (r *EventRouter) Drain() {
	r.wg.Wait()
}

// handleDeepThink runs the two-stage deep-analysis flow, splitting long
// output into sequential thread messages. The same access, self-loop,
// dedup, and timeout gates apply as on the regular path.
func (r *EventRouter) handleDeepThink(ctx context.Context, ev *models.InboundEvent) {
	if !r.processor.access.Allowed(ev) {
		r.logger.Debug("deep-think event dropped by access policy", "channel", ev.Channel, "user", ev.User)
		return
	}
	if isSelfLoop(ev.Text) {
		r.logger.Debug("deep-think event dropped as likely bot echo", "channel", ev.Channel)
		return
	}
	if r.processor.Seen(ev.DedupKey()) {
		r.logger.Debug("duplicate deep-think event suppressed", "key", ev.DedupKey())
		return
	}
	if timeout := r.processor.opts.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	threadTS := ev.ReplyThreadTS()
	msgTS, err := r.platform.PostMessage(ctx, ev.Channel, threadTS, thinkingPlaceholder)
	if err != nil {
		r.logger.Warn("deep-think placeholder failed", "error", err)
		msgTS = ""
	}

	history := r.historyLines(ctx, ev)
	if msgTS != "" {
		if err := r.platform.UpdateMessage(ctx, ev.Channel, msgTS, analyzingPlaceholder); err != nil {
			r.logger.Debug("placeholder update failed", "error", err)
		}
	}

	result, err := r.deep.Run(ctx, ev.Text, history)
	if err != nil {
		r.logger.Error("deep analysis failed", "channel", ev.Channel, "error", err)
		r.deliver(ctx, ev, msgTS, threadTS, []string{userErrorMessage(err)})
		return
	}
	r.deliver(ctx, ev, msgTS, threadTS, result.Parts)
}

// deliver posts the response parts: the first replaces the placeholder,
// the rest follow sequentially in the same thread.
func (r *EventRouter) deliver(ctx context.Context, ev *models.InboundEvent, msgTS, threadTS string, parts []string) {
	if len(parts) == 0 {
		return
	}

	rest := parts
	if msgTS != "" {
		if err := r.platform.UpdateMessage(ctx, ev.Channel, msgTS, parts[0]); err != nil {
			r.logger.Warn("deep-think update failed, posting instead", "error", err)
		} else {
			rest = parts[1:]
		}
	}
	for _, part := range rest {
		if _, err := r.platform.PostMessage(ctx, ev.Channel, threadTS, part); err != nil {
			r.logger.Error("deep-think delivery failed", "error", err)
			return
		}
	}
}

// historyLines turns the formatted thread history into individual lines
// for the rewrite stage.
func (r *EventRouter) historyLines(ctx context.Context, ev *models.InboundEvent) []string {
	block := r.contexts.FetchThreadHistory(ctx, ev.Channel, ev.ThreadTS)
	if block == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "Histórico da conversa:" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
