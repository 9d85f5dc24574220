// Package reencoder converts canonical stream events into the client-facing
// "responses"-style SSE event sequence. The event vocabulary and field names
// are reverse-engineered from observed client traffic; keep any schema
// corrections inside this package.
package reencoder

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jleechanorg/codex-plus/internal/sse"
	"github.com/jleechanorg/codex-plus/internal/stream"

	"github.com/google/uuid"
)

// Client-facing stream event types.
const (
	EventResponseCreated       = "response.created"
	EventOutputItemAdded       = "response.output_item.added"
	EventOutputTextDelta       = "response.output_text.delta"
	EventReasoningTextDelta    = "response.reasoning_summary_text.delta"
	EventFunctionCallArgsDelta = "response.function_call_arguments.delta"
	EventOutputItemDone        = "response.output_item.done"
	EventResponseCompleted     = "response.completed"
	EventResponseFailed        = "response.failed"
)

// Output item types.
const (
	ItemTypeReasoning    = "reasoning"
	ItemTypeMessage      = "message"
	ItemTypeFunctionCall = "function_call"
)

// Response is the client-facing response object carried by response.created,
// response.completed and response.failed events.
type Response struct {
	ID        string        `json:"id"`
	Object    string        `json:"object"`
	CreatedAt int64         `json:"created_at,omitempty"`
	Status    string        `json:"status"`
	Model     string        `json:"model,omitempty"`
	Output    []OutputItem  `json:"output"`
	Usage     *stream.Usage `json:"usage,omitempty"`
	Error     *StreamError  `json:"error,omitempty"`
}

// OutputItem is one top-level streamed content unit.
type OutputItem struct {
	Type      string         `json:"type"`
	ID        string         `json:"id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Role      string         `json:"role,omitempty"`
	Content   []ContentBlock `json:"content,omitempty"`
	Summary   []ContentBlock `json:"summary,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Arguments string         `json:"arguments,omitempty"`
}

// ContentBlock is one text block inside a message or reasoning item.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// StreamError is the error object attached to a failed response.
type StreamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Event is one serialized client-facing stream event.
type Event struct {
	Type      string      `json:"type"`
	Response  *Response   `json:"response,omitempty"`
	ItemID    string      `json:"item_id,omitempty"`
	OutputIdx int         `json:"output_index,omitempty"`
	Delta     string      `json:"delta,omitempty"`
	Item      *OutputItem `json:"item,omitempty"`
}

// Encode serializes the event as SSE bytes ready to write to the client.
func (e Event) Encode() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		// All event fields are plain data; marshal cannot fail in practice.
		data = []byte("{}")
	}
	return sse.EncodeEvent(e.Type, data)
}

// state tracks the re-encoder's position in the response lifecycle.
type state int

const (
	stateIdle state = iota
	stateStarted
	stateItemOpen
	stateItemClosed
	stateCompleted
	stateAborted
)

// openItem is one output item with its accumulated content. Items stay in
// the encoder for the response's lifetime so the terminal response object
// lists them in index order regardless of close order.
type openItem struct {
	index  int
	item   OutputItem
	text   string
	args   string
	closed bool
}

// Options configure a re-encoder instance.
type Options struct {
	// Model is echoed in the response object.
	Model string
	// ExposeReasoning opens reasoning items for upstream reasoning deltas.
	// When false (the default policy) reasoning text is dropped so it can
	// never leak into message content.
	ExposeReasoning bool
}

// Encoder is the per-request state machine translating canonical events into
// client-facing stream events. At most one message or reasoning item is open
// at a time; function-call items are keyed by call id and several may be open
// at once, since chat-dialect upstreams close all calls only when the finish
// reason arrives. It is not safe for concurrent use; each request owns
// exactly one instance.
type Encoder struct {
	opts       Options
	st         state
	responseID string
	createdAt  int64
	nextIndex  int
	current    *openItem
	calls      map[string]*openItem
	all        []*openItem
	usage      *stream.Usage
}

// New creates a re-encoder for one streamed response.
func New(opts Options) *Encoder {
	return &Encoder{
		opts:       opts,
		st:         stateIdle,
		responseID: "resp_" + uuid.NewString(),
		createdAt:  time.Now().Unix(),
		calls:      make(map[string]*openItem),
	}
}

// ResponseID returns the identifier assigned to this response.
func (e *Encoder) ResponseID() string {
	return e.responseID
}

// Done reports whether a terminal event has been emitted.
func (e *Encoder) Done() bool {
	return e.st == stateCompleted || e.st == stateAborted
}

// Feed advances the state machine by one canonical event and returns the
// client-facing events it produces, in order. Events after the terminal one
// are ignored. An argument fragment or close for a call id that was never
// started is a protocol error; fragments for started calls are accepted in
// any interleaving.
func (e *Encoder) Feed(ev stream.Event) ([]Event, error) {
	if e.Done() {
		return nil, nil
	}

	switch ev.Kind {
	case stream.KindRoleSet:
		return e.start(), nil

	case stream.KindReasoningDelta:
		if !e.opts.ExposeReasoning {
			return nil, nil
		}
		return e.delta(ItemTypeReasoning, EventReasoningTextDelta, ev.Text), nil

	case stream.KindTextDelta:
		return e.delta(ItemTypeMessage, EventOutputTextDelta, ev.Text), nil

	case stream.KindToolCallStart:
		if _, exists := e.calls[ev.CallID]; exists {
			return nil, fmt.Errorf("duplicate start for call id %q", ev.CallID)
		}
		var out []Event
		out = append(out, e.ensureStarted()...)
		out = append(out, e.closeCurrent("completed")...)
		out = append(out, e.openCall(ev.CallID, ev.Name)...)
		return out, nil

	case stream.KindToolCallArgDelta:
		call, ok := e.calls[ev.CallID]
		if !ok {
			return nil, fmt.Errorf("argument fragment for unknown call id %q", ev.CallID)
		}
		if call.closed {
			return nil, fmt.Errorf("argument fragment for closed call id %q", ev.CallID)
		}
		call.args += ev.Text
		return []Event{{
			Type:      EventFunctionCallArgsDelta,
			ItemID:    call.item.ID,
			OutputIdx: call.index,
			Delta:     ev.Text,
		}}, nil

	case stream.KindToolCallEnd:
		call, ok := e.calls[ev.CallID]
		if !ok {
			return nil, fmt.Errorf("close for unknown call id %q", ev.CallID)
		}
		if call.closed {
			return nil, nil
		}
		return e.closeItem(call, "completed"), nil

	case stream.KindCompletion:
		e.usage = ev.Usage
		var out []Event
		out = append(out, e.ensureStarted()...)
		out = append(out, e.closeCurrent("completed")...)
		out = append(out, e.closeOpenCalls("completed")...)
		e.st = stateCompleted
		out = append(out, Event{
			Type:     EventResponseCompleted,
			Response: e.responseObject("completed", nil),
		})
		return out, nil

	case stream.KindError:
		return e.Abort(ev.Message), nil

	default:
		return nil, fmt.Errorf("unknown canonical event kind %q", ev.Kind)
	}
}

// Abort force-terminates the response: every open item is closed as
// incomplete and an error-flagged terminal event is emitted. Safe to call at
// any state; after a terminal event it is a no-op, so the stream always
// carries exactly one terminal event.
func (e *Encoder) Abort(message string) []Event {
	if e.Done() {
		return nil
	}
	var out []Event
	out = append(out, e.ensureStarted()...)
	out = append(out, e.closeCurrent("incomplete")...)
	out = append(out, e.closeOpenCalls("incomplete")...)
	e.st = stateAborted
	out = append(out, Event{
		Type: EventResponseFailed,
		Response: e.responseObject("failed", &StreamError{
			Type:    "error",
			Message: message,
		}),
	})
	return out
}

// start handles the stream-start trigger, idempotently.
func (e *Encoder) start() []Event {
	if e.st != stateIdle {
		return nil
	}
	e.st = stateStarted
	return []Event{{
		Type:     EventResponseCreated,
		Response: e.responseObject("in_progress", nil),
	}}
}

// ensureStarted emits the response-start event if no role assignment ever
// arrived, so a terminal event is never the first event on the wire.
func (e *Encoder) ensureStarted() []Event {
	if e.st == stateIdle {
		return e.start()
	}
	return nil
}

// delta routes one message or reasoning fragment: it opens an item of the
// wanted type if none is open, closes a differently-typed open item first,
// then emits the fragment event and accumulates the text.
func (e *Encoder) delta(itemType, eventType, fragment string) []Event {
	var out []Event
	out = append(out, e.ensureStarted()...)

	if e.current != nil && e.current.item.Type != itemType {
		out = append(out, e.closeCurrent("completed")...)
	}
	if e.current == nil {
		out = append(out, e.openCurrent(itemType)...)
	}

	e.current.text += fragment
	out = append(out, Event{
		Type:      eventType,
		ItemID:    e.current.item.ID,
		OutputIdx: e.current.index,
		Delta:     fragment,
	})
	return out
}

// openCurrent opens a message or reasoning item in the single current slot.
func (e *Encoder) openCurrent(itemType string) []Event {
	item := OutputItem{
		Type:   itemType,
		ID:     itemID(itemType),
		Status: "in_progress",
	}
	if itemType == ItemTypeMessage {
		item.Role = "assistant"
	}
	e.current = e.newItem(item)
	return []Event{{
		Type:      EventOutputItemAdded,
		OutputIdx: e.current.index,
		Item:      &item,
	}}
}

// openCall opens a function-call item keyed by its call id.
func (e *Encoder) openCall(callID, name string) []Event {
	item := OutputItem{
		Type:   ItemTypeFunctionCall,
		ID:     itemID(ItemTypeFunctionCall),
		Status: "in_progress",
		CallID: callID,
		Name:   name,
	}
	call := e.newItem(item)
	e.calls[callID] = call
	return []Event{{
		Type:      EventOutputItemAdded,
		OutputIdx: call.index,
		Item:      &item,
	}}
}

// newItem allocates the next output index and records the item.
func (e *Encoder) newItem(item OutputItem) *openItem {
	oi := &openItem{
		index: e.nextIndex,
		item:  item,
	}
	e.nextIndex++
	e.all = append(e.all, oi)
	e.st = stateItemOpen
	return oi
}

// closeCurrent finalizes the open message or reasoning item, if any.
func (e *Encoder) closeCurrent(status string) []Event {
	if e.current == nil {
		return nil
	}
	out := e.closeItem(e.current, status)
	e.current = nil
	return out
}

// closeOpenCalls finalizes every still-open function-call item in index
// order.
func (e *Encoder) closeOpenCalls(status string) []Event {
	var out []Event
	for _, oi := range e.all {
		if oi.item.Type == ItemTypeFunctionCall && !oi.closed {
			out = append(out, e.closeItem(oi, status)...)
		}
	}
	return out
}

// closeItem finalizes one item with its accumulated content and emits
// item-done. Each item closes exactly once.
func (e *Encoder) closeItem(oi *openItem, status string) []Event {
	oi.item.Status = status
	switch oi.item.Type {
	case ItemTypeMessage:
		oi.item.Content = []ContentBlock{{Type: "output_text", Text: oi.text}}
	case ItemTypeReasoning:
		oi.item.Summary = []ContentBlock{{Type: "summary_text", Text: oi.text}}
	case ItemTypeFunctionCall:
		oi.item.Arguments = oi.args
	}
	oi.closed = true
	e.st = stateItemClosed

	item := oi.item
	return []Event{{
		Type:      EventOutputItemDone,
		OutputIdx: oi.index,
		Item:      &item,
	}}
}

// responseObject lists finalized items in index order, independent of the
// order they closed in.
func (e *Encoder) responseObject(status string, streamErr *StreamError) *Response {
	output := []OutputItem{}
	for _, oi := range e.all {
		if oi.closed {
			output = append(output, oi.item)
		}
	}
	return &Response{
		ID:        e.responseID,
		Object:    "response",
		CreatedAt: e.createdAt,
		Status:    status,
		Model:     e.opts.Model,
		Output:    output,
		Usage:     e.usage,
		Error:     streamErr,
	}
}

func itemID(itemType string) string {
	switch itemType {
	case ItemTypeReasoning:
		return "rs_" + uuid.NewString()
	case ItemTypeFunctionCall:
		return "fc_" + uuid.NewString()
	default:
		return "msg_" + uuid.NewString()
	}
}
