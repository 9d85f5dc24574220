// Package stream defines the canonical event model shared by upstream
// adapters and the downstream re-encoder. Adapters normalize provider
// dialects into this vocabulary; the re-encoder consumes it without knowing
// which dialect produced it.
package stream

// Kind identifies a canonical event variant.
type Kind string

const (
	// KindRoleSet announces the assistant role at the start of a turn.
	KindRoleSet Kind = "role_set"
	// KindTextDelta carries an incremental fragment of assistant text.
	KindTextDelta Kind = "text_delta"
	// KindReasoningDelta carries an incremental fragment of reasoning text.
	KindReasoningDelta Kind = "reasoning_delta"
	// KindToolCallStart opens a tool invocation with its identity and name.
	KindToolCallStart Kind = "tool_call_start"
	// KindToolCallArgDelta carries an argument fragment for an open tool call.
	KindToolCallArgDelta Kind = "tool_call_arg_delta"
	// KindToolCallEnd closes a tool invocation.
	KindToolCallEnd Kind = "tool_call_end"
	// KindCompletion terminates the turn with a finish reason and usage.
	KindCompletion Kind = "completion"
	// KindError terminates the turn abnormally.
	KindError Kind = "error"
)

// Finish reasons reported on a Completion event.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// Usage records token accounting reported by the upstream, when available.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Event is one canonical stream event. Which fields are meaningful depends
// on Kind; unused fields stay zero.
type Event struct {
	Kind Kind

	// Role for RoleSet.
	Role string

	// Text for TextDelta and ReasoningDelta fragments, and the argument
	// fragment for ToolCallArgDelta.
	Text string

	// CallID identifies the tool invocation for the ToolCall* variants.
	CallID string
	// Name is the tool name, set on ToolCallStart only.
	Name string

	// FinishReason and Usage are set on Completion.
	FinishReason string
	Usage        *Usage

	// Message is set on Error.
	Message string
}

// RoleSet builds a role announcement event.
func RoleSet(role string) Event {
	return Event{Kind: KindRoleSet, Role: role}
}

// TextDelta builds an assistant text fragment event.
func TextDelta(text string) Event {
	return Event{Kind: KindTextDelta, Text: text}
}

// ReasoningDelta builds a reasoning text fragment event.
func ReasoningDelta(text string) Event {
	return Event{Kind: KindReasoningDelta, Text: text}
}

// ToolCallStart builds a tool invocation open event.
func ToolCallStart(callID, name string) Event {
	return Event{Kind: KindToolCallStart, CallID: callID, Name: name}
}

// ToolCallArgDelta builds a tool argument fragment event.
func ToolCallArgDelta(callID, fragment string) Event {
	return Event{Kind: KindToolCallArgDelta, CallID: callID, Text: fragment}
}

// ToolCallEnd builds a tool invocation close event.
func ToolCallEnd(callID string) Event {
	return Event{Kind: KindToolCallEnd, CallID: callID}
}

// Completion builds a normal termination event.
func Completion(finishReason string, usage *Usage) Event {
	return Event{Kind: KindCompletion, FinishReason: finishReason, Usage: usage}
}

// ErrorEvent builds an abnormal termination event.
func ErrorEvent(message string) Event {
	return Event{Kind: KindError, Message: message}
}

// IsTerminal reports whether the event ends the stream. Exactly one terminal
// event is produced per turn; adapters stop emitting after it.
func (e Event) IsTerminal() bool {
	return e.Kind == KindCompletion || e.Kind == KindError
}
