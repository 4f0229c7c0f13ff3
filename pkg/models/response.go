package models

// ToolStatus tracks the lifecycle of one tool invocation.
type ToolStatus string

const (
	ToolStatusStarted   ToolStatus = "started"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusFailed    ToolStatus = "failed"
)

// ToolInvocation records one tool call made while producing a response.
// The list a response carries is append-only; the only in-place mutation
// allowed is transitioning the most recent open entry to a terminal state.
type ToolInvocation struct {
	Name      string     `json:"name"`
	Arguments string     `json:"arguments,omitempty"`
	Status    ToolStatus `json:"status"`
	Output    string     `json:"output,omitempty"`
}

// TokenUsage is the token accounting for one agent invocation. All zero
// when the underlying runtime does not report usage.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Add accumulates usage from another invocation (multi-turn tool loops).
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.Total += other.Total
}

// AgentResponse is the result of one agent invocation.
type AgentResponse struct {
	Text  string           `json:"text"`
	Tools []ToolInvocation `json:"tools,omitempty"`
	Usage TokenUsage       `json:"usage"`
}

// GuardrailCategory is the fixed classification vocabulary of the
// content guardrail.
type GuardrailCategory string

const (
	CategorySexual     GuardrailCategory = "sexual"
	CategoryViolence   GuardrailCategory = "violence"
	CategoryHarassment GuardrailCategory = "harassment"
	CategoryPersonal   GuardrailCategory = "personal"
	CategoryOffTopic   GuardrailCategory = "off_topic"
	CategorySafe       GuardrailCategory = "safe"
)

// GuardrailVerdict is the structured output of the content guardrail.
type GuardrailVerdict struct {
	Inappropriate bool              `json:"is_inappropriate"`
	Category      GuardrailCategory `json:"category"`
	Reasoning     string            `json:"reasoning"`
	Confidence    float64           `json:"confidence_score"`
}
