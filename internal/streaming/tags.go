package streaming

import (
	"strings"

	"github.com/aidalabs/aida/pkg/models"
)

// TagSet is an ordered collection of capability markers shown in the
// response header. Insertion order is display order; duplicates are
// suppressed.
type TagSet struct {
	tags []string
	seen map[string]bool
}

// NewTagSet creates an empty tag set.
func NewTagSet() *TagSet {
	return &TagSet{seen: make(map[string]bool)}
}

// Add appends a tag unless already present.
func (s *TagSet) Add(tag string) {
	if tag == "" || s.seen[tag] {
		return
	}
	s.seen[tag] = true
	s.tags = append(s.tags, tag)
}

// Contains reports membership.
func (s *TagSet) Contains(tag string) bool {
	return s.seen[tag]
}

// Tags returns the tags in insertion order.
func (s *TagSet) Tags() []string {
	out := make([]string, len(s.tags))
	copy(out, s.tags)
	return out
}

// FormatHeader renders the capability header prefixed to responses:
// each tag as `⛭Tag`, space separated, followed by a blank line.
// Empty sets render nothing.
func (s *TagSet) FormatHeader() string {
	if len(s.tags) == 0 {
		return ""
	}
	parts := make([]string, len(s.tags))
	for i, tag := range s.tags {
		parts[i] = "`⛭" + tag + "`"
	}
	return strings.Join(parts, " ") + "\n\n"
}

// imageGenHints detect an image-generation request from the input text
// alone, before any model call happens.
var imageGenHints = []string{
	"gerar imagem", "gera uma imagem", "criar imagem", "cria uma imagem",
	"desenhe", "desenha", "generate image", "create image",
}

// InitialTags builds the provisional header from input shape alone:
// the model, plus capabilities implied by attachments and text.
func InitialTags(text string, hasAudio, hasImages bool, model string) *TagSet {
	tags := NewTagSet()
	tags.Add(model)
	if hasImages {
		tags.Add("Vision")
	}
	if hasAudio {
		tags.Add("AudioTranscribe")
	}
	lower := strings.ToLower(text)
	for _, hint := range imageGenHints {
		if strings.Contains(lower, hint) {
			tags.Add("ImageGen")
			break
		}
	}
	return tags
}

// FinalTags builds the authoritative header after the agent ran: the
// provisional input-shape tags plus one tag per tool actually invoked.
func FinalTags(initial *TagSet, tools []models.ToolInvocation) *TagSet {
	tags := NewTagSet()
	for _, tag := range initial.Tags() {
		tags.Add(tag)
	}
	for _, inv := range tools {
		tags.Add(tagForTool(inv.Name))
	}
	return tags
}

func tagForTool(name string) string {
	switch {
	case name == "web_search":
		return "WebSearch"
	case name == "file_search":
		return "FileSearch"
	case name == "image_generation":
		return "ImageGen"
	case strings.HasPrefix(name, "mcp_"):
		return "MCP:" + strings.TrimPrefix(name, "mcp_")
	default:
		return name
	}
}
