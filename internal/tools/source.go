// Package tools assembles the local tool surface handed to the agent
// on each invocation.
package tools

import (
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aidalabs/aida/internal/agent"
	"github.com/aidalabs/aida/internal/tools/filesearch"
	"github.com/aidalabs/aida/internal/tools/websearch"
)

// Source builds the tool set for a conversation. Web search is always
// available; file search is added only when the conversation has a
// document index.
type Source struct {
	web    *websearch.Tool
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewSource creates the tool source.
func NewSource(web *websearch.Tool, client *openai.Client, model string, logger *slog.Logger) *Source {
	return &Source{web: web, client: client, model: model, logger: logger}
}

// Tools returns the tools for one invocation. vectorStoreID is the
// conversation's document index, empty when no documents were shared.
func (s *Source) Tools(vectorStoreID string) []agent.Tool {
	out := []agent.Tool{s.web}
	if vectorStoreID != "" {
		out = append(out, filesearch.New(s.client, s.model, vectorStoreID, s.logger))
	}
	return out
}
