package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jleechanorg/codex-plus/internal/sse"
	"github.com/jleechanorg/codex-plus/internal/stream"
	"github.com/jleechanorg/codex-plus/internal/types"

	"github.com/tidwall/gjson"
)

func init() {
	register("chat", func(cfg types.UpstreamConfig) Adapter {
		return newChatAdapter(cfg)
	})
}

// chatAdapter speaks the chat-completions dialect: a flat messages array on
// the request side and a choices[].delta stream on the response side, with
// tool-call fragments keyed by array index and reasoning tokens embedded in
// the delta object.
type chatAdapter struct {
	cfg types.UpstreamConfig

	roleSent     bool
	indexToCall  map[int64]string
	callOrder    []string
	openCalls    map[string]bool
	finishReason string
	usage        *stream.Usage
	finished     bool
}

func newChatAdapter(cfg types.UpstreamConfig) *chatAdapter {
	return &chatAdapter{
		cfg:         cfg,
		indexToCall: make(map[int64]string),
		openCalls:   make(map[string]bool),
	}
}

func (a *chatAdapter) Mode() string { return "chat" }

// chatMessage is one entry of the flat messages array.
type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string      `json:"type"`
	Function chatToolDef `json:"function"`
}

type chatToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatRequest struct {
	Model         string        `json:"model"`
	Messages      []chatMessage `json:"messages"`
	Tools         []chatTool    `json:"tools,omitempty"`
	Stream        bool          `json:"stream"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

// BuildRequest flattens the nested instructions+input shape into the chat
// messages array, nests tool definitions under a function key, and drops
// fields the chat dialect does not understand. The upstream call always
// streams; non-streaming clients get the collected stream re-serialized.
func (a *chatAdapter) BuildRequest(ctx context.Context, env *Envelope) (*http.Request, error) {
	body := chatRequest{
		Model:    a.resolveModel(env.Model),
		Messages: a.buildMessages(env),
		Tools:    a.buildTools(env.Tools),
		Stream:   true,
	}
	body.StreamOptions = &struct {
		IncludeUsage bool `json:"include_usage"`
	}{IncludeUsage: true}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
	return req, nil
}

func (a *chatAdapter) resolveModel(requested string) string {
	if a.cfg.Model != "" {
		return a.cfg.Model
	}
	return requested
}

func (a *chatAdapter) buildMessages(env *Envelope) []chatMessage {
	var messages []chatMessage
	if env.Instructions != "" {
		messages = append(messages, chatMessage{Role: "system", Content: env.Instructions})
	}

	for _, item := range env.Input {
		switch item.Get("type").String() {
		case "function_call":
			messages = append(messages, chatMessage{
				Role: "assistant",
				ToolCalls: []chatToolCall{{
					ID:   item.Get("call_id").String(),
					Type: "function",
					Function: chatToolFunction{
						Name:      item.Get("name").String(),
						Arguments: item.Get("arguments").String(),
					},
				}},
			})
		case "function_call_output":
			messages = append(messages, chatMessage{
				Role:       "tool",
				ToolCallID: item.Get("call_id").String(),
				Content:    item.Get("output").String(),
			})
		default:
			role := item.Get("role").String()
			if role == "" {
				continue
			}
			messages = append(messages, chatMessage{
				Role:    role,
				Content: flattenContent(item.Get("content")),
			})
		}
	}
	return messages
}

// flattenContent joins structured content blocks into one plain string, the
// only content form the chat dialect accepts for text.
func flattenContent(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var parts []string
	for _, block := range content.Array() {
		if text := block.Get("text"); text.Exists() {
			parts = append(parts, text.String())
		}
	}
	return strings.Join(parts, "")
}

// buildTools reshapes flat {type,name,parameters} tool definitions into the
// nested {type,function:{...}} form. Already-nested definitions pass through.
func (a *chatAdapter) buildTools(tools []gjson.Result) []chatTool {
	var out []chatTool
	for _, tool := range tools {
		def := chatToolDef{}
		if fn := tool.Get("function"); fn.Exists() {
			def.Name = fn.Get("name").String()
			def.Description = fn.Get("description").String()
			if params := fn.Get("parameters"); params.Exists() {
				def.Parameters = json.RawMessage(params.Raw)
			}
		} else {
			def.Name = tool.Get("name").String()
			def.Description = tool.Get("description").String()
			if params := tool.Get("parameters"); params.Exists() {
				def.Parameters = json.RawMessage(params.Raw)
			}
		}
		if def.Name == "" {
			continue
		}
		out = append(out, chatTool{Type: "function", Function: def})
	}
	return out
}

// Ingest parses one chat delta record. Tool-call fragments arrive keyed by
// array index; the call id and name appear on the first fragment only, so
// the adapter keeps an index-to-id map for the stream's lifetime.
func (a *chatAdapter) Ingest(record sse.Record) ([]stream.Event, error) {
	if a.finished {
		return nil, nil
	}

	root := gjson.Parse(record.Data)
	if !root.IsObject() {
		return nil, fmt.Errorf("chat record is not a JSON object")
	}

	if errField := root.Get("error"); errField.Exists() {
		a.finished = true
		msg := errField.Get("message").String()
		if msg == "" {
			msg = errField.Raw
		}
		return []stream.Event{stream.ErrorEvent(msg)}, nil
	}

	var events []stream.Event

	if usage := root.Get("usage"); usage.IsObject() {
		a.usage = &stream.Usage{
			InputTokens:  int(usage.Get("prompt_tokens").Int()),
			OutputTokens: int(usage.Get("completion_tokens").Int()),
			TotalTokens:  int(usage.Get("total_tokens").Int()),
		}
	}

	choice := root.Get("choices.0")
	if !choice.Exists() {
		return events, nil
	}
	delta := choice.Get("delta")

	if role := delta.Get("role").String(); role != "" && !a.roleSent {
		a.roleSent = true
		events = append(events, stream.RoleSet(role))
	}

	for _, field := range []string{"reasoning_content", "reasoning"} {
		if text := delta.Get(field).String(); text != "" {
			events = append(events, stream.ReasoningDelta(text))
			break
		}
	}

	if content := delta.Get("content"); content.Type == gjson.String && content.String() != "" {
		events = append(events, stream.TextDelta(content.String()))
	}

	for _, tc := range delta.Get("tool_calls").Array() {
		tcEvents, err := a.ingestToolCall(tc)
		if err != nil {
			return events, err
		}
		events = append(events, tcEvents...)
	}

	if reason := choice.Get("finish_reason").String(); reason != "" {
		a.finishReason = reason
		events = append(events, a.closeOpenCalls()...)
	}

	return events, nil
}

func (a *chatAdapter) ingestToolCall(tc gjson.Result) ([]stream.Event, error) {
	index := tc.Get("index").Int()
	callID, known := a.indexToCall[index]

	var events []stream.Event
	if !known {
		callID = tc.Get("id").String()
		if callID == "" {
			return nil, fmt.Errorf("tool call fragment at index %d arrived before its id", index)
		}
		a.indexToCall[index] = callID
		a.callOrder = append(a.callOrder, callID)
		a.openCalls[callID] = true
		events = append(events, stream.ToolCallStart(callID, tc.Get("function.name").String()))
	}

	if fragment := tc.Get("function.arguments").String(); fragment != "" {
		events = append(events, stream.ToolCallArgDelta(callID, fragment))
	}
	return events, nil
}

// closeOpenCalls emits ToolCallEnd for every still-open call in start order.
func (a *chatAdapter) closeOpenCalls() []stream.Event {
	var events []stream.Event
	for _, callID := range a.callOrder {
		if a.openCalls[callID] {
			a.openCalls[callID] = false
			events = append(events, stream.ToolCallEnd(callID))
		}
	}
	return events
}

// Finish emits the terminal completion once the done sentinel or EOF
// arrives. Usage, when the provider sends it, trails the finish_reason
// record, so completion waits for end of stream. An end without any
// finish_reason means the upstream died mid-response and is reported as an
// error, not a normal completion.
func (a *chatAdapter) Finish() []stream.Event {
	if a.finished {
		return nil
	}
	a.finished = true

	if a.finishReason == "" {
		return []stream.Event{stream.ErrorEvent("upstream stream ended before completion")}
	}
	events := a.closeOpenCalls()
	return append(events, stream.Completion(a.finishReason, a.usage))
}
