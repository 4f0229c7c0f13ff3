package slack

import (
	"regexp"
	"strings"

	"github.com/aidalabs/aida/pkg/models"
)

// imageURLPattern matches direct image links pasted into message text.
// Slack wraps URLs in angle brackets; both forms are accepted.
var imageURLPattern = regexp.MustCompile(`https?://[^\s<>|]+\.(?:png|jpe?g|gif|webp)(?:\?[^\s<>|]*)?`)

// stripMentions removes <@USERID> tokens from Slack message text.
func stripMentions(text string) string {
	for {
		start := strings.Index(text, "<@")
		if start == -1 {
			break
		}
		end := strings.Index(text[start:], ">")
		if end == -1 {
			break
		}
		text = text[:start] + text[start+end+1:]
	}
	return strings.TrimSpace(text)
}

// extractImageURLs finds image links embedded in the message text.
func extractImageURLs(text string) []string {
	matches := imageURLPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// classifyMimetype maps a Slack file mimetype onto the pipeline's
// attachment kinds. Unknown types are treated as documents so they can
// still be indexed for search.
func classifyMimetype(mimetype string) models.AttachmentKind {
	switch {
	case strings.HasPrefix(mimetype, "image/"):
		return models.AttachmentImage
	case strings.HasPrefix(mimetype, "audio/"), strings.HasPrefix(mimetype, "video/"):
		return models.AttachmentAudio
	default:
		return models.AttachmentDocument
	}
}
