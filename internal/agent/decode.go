package agent

import (
	"strings"

	"github.com/aidalabs/aida/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// decodeState accumulates one streamed turn while translating provider
// chunks into the canonical StreamEvent set. Providers interleave two
// content shapes in the same stream: plain content deltas and, for
// reasoning models, reasoning-content deltas. Both decode to
// StreamTextDelta here so nothing downstream ever sees the provider
// shape.
type decodeState struct {
	text  strings.Builder
	calls []*pendingCall
	byIdx map[int]*pendingCall
	usage models.TokenUsage
}

type pendingCall struct {
	id        string
	name      string
	args      strings.Builder
	announced bool
}

func newDecodeState() *decodeState {
	return &decodeState{byIdx: make(map[int]*pendingCall)}
}

// decode translates one chunk into zero or more events, in order.
func (s *decodeState) decode(chunk openai.ChatCompletionStreamResponse) []models.StreamEvent {
	var events []models.StreamEvent

	if chunk.Usage != nil {
		s.usage = models.TokenUsage{
			Input:  chunk.Usage.PromptTokens,
			Output: chunk.Usage.CompletionTokens,
			Total:  chunk.Usage.TotalTokens,
		}
	}

	for _, choice := range chunk.Choices {
		if delta := deltaText(choice.Delta); delta != "" {
			s.text.WriteString(delta)
			events = append(events, models.TextDelta(delta))
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := s.byIdx[idx]
			if !ok {
				call = &pendingCall{}
				s.byIdx[idx] = call
				s.calls = append(s.calls, call)
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			call.args.WriteString(tc.Function.Arguments)

			// Announce a call once its name is known. Arguments keep
			// streaming in after that.
			if !call.announced && call.name != "" {
				call.announced = true
				events = append(events, models.ToolStarted(call.name, ""))
			}
		}
	}
	return events
}

// deltaText extracts the text of a delta regardless of which field the
// provider used for it. Content wins when both are set.
func deltaText(delta openai.ChatCompletionStreamChoiceDelta) string {
	if delta.Content != "" {
		return delta.Content
	}
	return delta.ReasoningContent
}

// result assembles the finished turn.
func (s *decodeState) result() *TurnResult {
	out := &TurnResult{Text: s.text.String(), Usage: s.usage}
	for _, call := range s.calls {
		if call.name == "" {
			continue
		}
		out.Calls = append(out.Calls, PendingCall{ID: call.id, Name: call.name, Arguments: call.args.String()})
	}
	return out
}
