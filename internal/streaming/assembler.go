// Package streaming assembles agent event streams into complete
// responses while driving incremental UI updates.
package streaming

import (
	"context"
	"fmt"

	"github.com/aidalabs/aida/pkg/models"
)

// Callback receives each incremental update: the new delta (empty for
// tool boundary events), the full text so far, and the tool invocations
// so far. Invoked strictly in event-arrival order.
type Callback func(delta, fullText string, tools []models.ToolInvocation)

// Assembler consumes one agent event stream.
type Assembler struct{}

// Consume drains events until a terminal Done or error event, invoking
// cb on every text delta and tool boundary. The tool list is
// append-only; a tool output transitions the most recent open entry.
func (a *Assembler) Consume(ctx context.Context, events <-chan models.StreamEvent, cb Callback) (*models.AgentResponse, error) {
	resp := &models.AgentResponse{}
	var fullText string

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				resp.Text = fullText
				return resp, nil
			}

			switch ev.Type {
			case models.StreamTextDelta:
				fullText += ev.Text.Delta
				if cb != nil {
					cb(ev.Text.Delta, fullText, resp.Tools)
				}

			case models.StreamToolStarted:
				resp.Tools = append(resp.Tools, models.ToolInvocation{
					Name:      ev.Tool.Name,
					Arguments: ev.Tool.Arguments,
					Status:    models.ToolStatusStarted,
				})
				// Empty delta so the caller refreshes the capability
				// header without new text.
				if cb != nil {
					cb("", fullText, resp.Tools)
				}

			case models.StreamToolOutput:
				patchLastOpen(resp.Tools, ev.Tool.Output)

			case models.StreamDone:
				resp.Text = fullText
				if ev.Usage != nil {
					resp.Usage = *ev.Usage
				}
				return resp, nil

			case models.StreamError:
				if ev.Err != nil {
					return nil, ev.Err
				}
				return nil, fmt.Errorf("stream terminated with unspecified error")
			}
		}
	}
}

// patchLastOpen completes the most recent invocation still in the
// started state. Invocations never regress from a terminal state.
func patchLastOpen(tools []models.ToolInvocation, output string) {
	for i := len(tools) - 1; i >= 0; i-- {
		if tools[i].Status == models.ToolStatusStarted {
			tools[i].Status = models.ToolStatusCompleted
			tools[i].Output = output
			return
		}
	}
}
