// Package models provides domain types for the Aida gateway.
package models

import (
	"fmt"
	"time"
)

// AttachmentKind classifies an inbound file by how the pipeline handles it.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment is a file reference carried by an inbound event.
// URLs point at the platform's private download endpoint and require
// the bot credential to fetch.
type Attachment struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Mimetype   string         `json:"mimetype"`
	URL        string         `json:"url"`
	Size       int64          `json:"size,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Kind       AttachmentKind `json:"kind"`
}

// InboundEvent is the normalized unit of work produced by a channel
// adapter. It is immutable once constructed; the processor never writes
// back into it.
type InboundEvent struct {
	// Channel is the platform conversation identifier (channel or DM).
	Channel string `json:"channel"`

	// User is the platform identifier of the sender.
	User string `json:"user"`

	// Text is the raw message text with bot mentions already stripped.
	Text string `json:"text"`

	// TS is the platform timestamp of this message.
	TS string `json:"ts"`

	// ThreadTS is the thread-root timestamp, empty for top-level messages.
	ThreadTS string `json:"thread_ts,omitempty"`

	// Attachments are the files carried by the message.
	Attachments []Attachment `json:"attachments,omitempty"`

	// IsDM reports whether the event arrived over a direct-message channel.
	IsDM bool `json:"is_dm"`

	// DeepThink marks an explicit "+think" command. The event router
	// dispatches these to the deep-analysis flow instead of the processor.
	DeepThink bool `json:"deep_think,omitempty"`

	// ImageURLs are image links found in the message text itself, in
	// addition to uploaded image attachments.
	ImageURLs []string `json:"image_urls,omitempty"`

	// ReceivedAt is when the adapter normalized the event.
	ReceivedAt time.Time `json:"received_at"`
}

// DedupKey returns the composite identity used to suppress duplicate
// deliveries of the same platform event.
func (e *InboundEvent) DedupKey() string {
	return fmt.Sprintf("%s_%s_%s", e.Channel, e.TS, e.User)
}

// ReplyThreadTS returns the timestamp replies should be threaded under.
// Top-level messages start a new thread rooted at the message itself.
func (e *InboundEvent) ReplyThreadTS() string {
	if e.ThreadTS != "" {
		return e.ThreadTS
	}
	return e.TS
}

// ThreadKey identifies the conversation thread for context accounting.
func (e *InboundEvent) ThreadKey() string {
	if ts := e.ReplyThreadTS(); ts != "" {
		return e.Channel + "_" + ts
	}
	return e.Channel
}

// AttachmentsOfKind filters the event's attachments by kind.
func (e *InboundEvent) AttachmentsOfKind(kind AttachmentKind) []Attachment {
	var out []Attachment
	for _, att := range e.Attachments {
		if att.Kind == kind {
			out = append(out, att)
		}
	}
	return out
}

// StreamEventType identifies the kind of agent stream event.
type StreamEventType string

const (
	// StreamTextDelta carries an incremental chunk of response text.
	StreamTextDelta StreamEventType = "text.delta"

	// StreamToolStarted marks the beginning of a tool invocation.
	StreamToolStarted StreamEventType = "tool.started"

	// StreamToolOutput carries the result of the most recent open tool
	// invocation.
	StreamToolOutput StreamEventType = "tool.output"

	// StreamDone terminates a stream, optionally with token usage.
	StreamDone StreamEventType = "done"

	// StreamError terminates a stream with a failure.
	StreamError StreamEventType = "error"
)

// StreamEvent is the unified event model for agent streaming. Runtime
// adapters decode provider-specific chunk shapes into this closed set
// once, at the boundary, so downstream logic switches over Type instead
// of probing attributes.
//
// Exactly one payload pointer is non-nil for a given Type.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	Text  *TextDeltaPayload `json:"text,omitempty"`
	Tool  *ToolEventPayload `json:"tool,omitempty"`
	Usage *TokenUsage       `json:"usage,omitempty"`
	Err   error             `json:"-"`
}

// TextDeltaPayload is an incremental piece of streamed response text.
type TextDeltaPayload struct {
	Delta string `json:"delta"`
}

// ToolEventPayload describes a tool invocation boundary event.
type ToolEventPayload struct {
	// Name is the tool name (started events).
	Name string `json:"name,omitempty"`

	// Arguments is the raw JSON argument text (started events).
	Arguments string `json:"arguments,omitempty"`

	// Output is the tool result (output events).
	Output string `json:"output,omitempty"`
}

// TextDelta builds a text delta event.
func TextDelta(delta string) StreamEvent {
	return StreamEvent{Type: StreamTextDelta, Text: &TextDeltaPayload{Delta: delta}}
}

// ToolStarted builds a tool-started event.
func ToolStarted(name, arguments string) StreamEvent {
	return StreamEvent{Type: StreamToolStarted, Tool: &ToolEventPayload{Name: name, Arguments: arguments}}
}

// ToolOutput builds a tool-output event.
func ToolOutput(output string) StreamEvent {
	return StreamEvent{Type: StreamToolOutput, Tool: &ToolEventPayload{Output: output}}
}

// Done builds a terminal event carrying final token usage.
func Done(usage TokenUsage) StreamEvent {
	return StreamEvent{Type: StreamDone, Usage: &usage}
}

// StreamFailure builds a terminal error event.
func StreamFailure(err error) StreamEvent {
	return StreamEvent{Type: StreamError, Err: err}
}
