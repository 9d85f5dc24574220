package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/jleechanorg/codex-plus/internal/sse"
	"github.com/jleechanorg/codex-plus/internal/stream"
	"github.com/jleechanorg/codex-plus/internal/types"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func init() {
	register("responses", func(cfg types.UpstreamConfig) Adapter {
		return newResponsesAdapter(cfg)
	})
}

// responsesAdapter speaks the structured output-item dialect. The inbound
// body already matches this shape, so the request side is JSON surgery
// rather than a rebuild; the response side maps item events onto canonical
// events, tracking item-id to call-id so argument fragments resolve.
type responsesAdapter struct {
	cfg types.UpstreamConfig

	started      bool
	itemToCallID map[string]string
	finished     bool
}

func newResponsesAdapter(cfg types.UpstreamConfig) *responsesAdapter {
	return &responsesAdapter{
		cfg:          cfg,
		itemToCallID: make(map[string]string),
	}
}

func (a *responsesAdapter) Mode() string { return "responses" }

// clientOnlyFields never leave the proxy; the upstream rejects unknown
// state-management fields.
var clientOnlyFields = []string{"store", "previous_response_id", "safety_identifier"}

func (a *responsesAdapter) BuildRequest(ctx context.Context, env *Envelope) (*http.Request, error) {
	payload := env.RawBody

	// the upstream call always streams; non-streaming clients get the
	// collected stream re-serialized
	var err error
	if payload, err = sjson.SetBytes(payload, "stream", true); err != nil {
		return nil, fmt.Errorf("set stream flag: %w", err)
	}
	if a.cfg.Model != "" {
		if payload, err = sjson.SetBytes(payload, "model", a.cfg.Model); err != nil {
			return nil, fmt.Errorf("set model: %w", err)
		}
	}
	for _, field := range clientOnlyFields {
		if gjson.GetBytes(payload, field).Exists() {
			if payload, err = sjson.DeleteBytes(payload, field); err != nil {
				return nil, fmt.Errorf("delete %s: %w", field, err)
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/responses", bytes.NewReader(payload))
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

func (a *responsesAdapter) Ingest(record sse.Record) ([]stream.Event, error) {
	if a.finished {
		return nil, nil
	}

	root := gjson.Parse(record.Data)
	if !root.IsObject() {
		return nil, fmt.Errorf("responses record is not a JSON object")
	}

	eventType := record.Event
	if eventType == "" {
		eventType = root.Get("type").String()
	}

	switch eventType {
	case "response.created":
		if a.started {
			return nil, nil
		}
		a.started = true
		return []stream.Event{stream.RoleSet("assistant")}, nil

	case "response.output_text.delta":
		if delta := root.Get("delta").String(); delta != "" {
			return []stream.Event{stream.TextDelta(delta)}, nil
		}
		return nil, nil

	case "response.reasoning_summary_text.delta", "response.reasoning_text.delta":
		if delta := root.Get("delta").String(); delta != "" {
			return []stream.Event{stream.ReasoningDelta(delta)}, nil
		}
		return nil, nil

	case "response.output_item.added":
		item := root.Get("item")
		if item.Get("type").String() != "function_call" {
			return nil, nil
		}
		callID := item.Get("call_id").String()
		if callID == "" {
			return nil, fmt.Errorf("function_call item without call_id")
		}
		a.itemToCallID[item.Get("id").String()] = callID
		return []stream.Event{stream.ToolCallStart(callID, item.Get("name").String())}, nil

	case "response.function_call_arguments.delta":
		callID, ok := a.itemToCallID[root.Get("item_id").String()]
		if !ok {
			return nil, fmt.Errorf("argument fragment for unknown item %q", root.Get("item_id").String())
		}
		if delta := root.Get("delta").String(); delta != "" {
			return []stream.Event{stream.ToolCallArgDelta(callID, delta)}, nil
		}
		return nil, nil

	case "response.output_item.done":
		item := root.Get("item")
		if item.Get("type").String() != "function_call" {
			return nil, nil
		}
		callID := item.Get("call_id").String()
		if callID == "" {
			callID = a.itemToCallID[item.Get("id").String()]
		}
		if callID == "" {
			return nil, fmt.Errorf("function_call done without call_id")
		}
		return []stream.Event{stream.ToolCallEnd(callID)}, nil

	case "response.completed":
		a.finished = true
		return []stream.Event{stream.Completion(a.finishReason(root), parseResponsesUsage(root.Get("response.usage")))}, nil

	case "response.failed", "error":
		a.finished = true
		msg := root.Get("response.error.message").String()
		if msg == "" {
			msg = root.Get("message").String()
		}
		if msg == "" {
			msg = "upstream reported a failed response"
		}
		return []stream.Event{stream.ErrorEvent(msg)}, nil

	default:
		// in_progress, content_part and other bookkeeping events carry no
		// canonical information
		return nil, nil
	}
}

// finishReason derives the canonical reason from the completed response's
// output items.
func (a *responsesAdapter) finishReason(root gjson.Result) string {
	for _, item := range root.Get("response.output").Array() {
		if item.Get("type").String() == "function_call" {
			return stream.FinishToolCalls
		}
	}
	if len(a.itemToCallID) > 0 {
		return stream.FinishToolCalls
	}
	return stream.FinishStop
}

func parseResponsesUsage(usage gjson.Result) *stream.Usage {
	if !usage.IsObject() {
		return nil
	}
	return &stream.Usage{
		InputTokens:  int(usage.Get("input_tokens").Int()),
		OutputTokens: int(usage.Get("output_tokens").Int()),
		TotalTokens:  int(usage.Get("total_tokens").Int()),
	}
}

// Finish covers streams that end without a response.completed event, which
// is always an abrupt termination in this dialect.
func (a *responsesAdapter) Finish() []stream.Event {
	if a.finished {
		return nil
	}
	a.finished = true
	return []stream.Event{stream.ErrorEvent("upstream stream ended before completion")}
}
