package reencoder

import (
	"strings"
	"testing"

	"github.com/jleechanorg/codex-plus/internal/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(t *testing.T, e *Encoder, events ...stream.Event) []Event {
	t.Helper()
	var out []Event
	for _, ev := range events {
		emitted, err := e.Feed(ev)
		require.NoError(t, err)
		out = append(out, emitted...)
	}
	return out
}

func eventTypes(events []Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func countTerminal(events []Event) int {
	n := 0
	for _, ev := range events {
		if ev.Type == EventResponseCompleted || ev.Type == EventResponseFailed {
			n++
		}
	}
	return n
}

func TestPlainTextResponse(t *testing.T) {
	e := New(Options{Model: "gpt-5"})
	out := feedAll(t, e,
		stream.RoleSet("assistant"),
		stream.TextDelta("Hello"),
		stream.TextDelta(" world"),
		stream.Completion(stream.FinishStop, &stream.Usage{InputTokens: 10, OutputTokens: 2, TotalTokens: 12}),
	)

	assert.Equal(t, []string{
		EventResponseCreated,
		EventOutputItemAdded,
		EventOutputTextDelta,
		EventOutputTextDelta,
		EventOutputItemDone,
		EventResponseCompleted,
	}, eventTypes(out))

	created := out[0]
	require.NotNil(t, created.Response)
	assert.Equal(t, "in_progress", created.Response.Status)
	assert.Equal(t, "gpt-5", created.Response.Model)
	assert.True(t, strings.HasPrefix(created.Response.ID, "resp_"))

	done := out[4]
	require.NotNil(t, done.Item)
	assert.Equal(t, ItemTypeMessage, done.Item.Type)
	assert.Equal(t, "completed", done.Item.Status)
	require.Len(t, done.Item.Content, 1)
	assert.Equal(t, "Hello world", done.Item.Content[0].Text)

	completed := out[5]
	require.NotNil(t, completed.Response)
	assert.Equal(t, "completed", completed.Response.Status)
	require.Len(t, completed.Response.Output, 1)
	require.NotNil(t, completed.Response.Usage)
	assert.Equal(t, 12, completed.Response.Usage.TotalTokens)

	assert.Equal(t, 1, countTerminal(out))
	assert.True(t, e.Done())
}

func TestReasoningSuppressedByDefault(t *testing.T) {
	e := New(Options{Model: "gpt-5"})

	events := []stream.Event{stream.RoleSet("assistant")}
	for i := 0; i < 40; i++ {
		events = append(events, stream.ReasoningDelta("thinking... "))
	}
	events = append(events,
		stream.ToolCallStart("call_1", "run_tests"),
		stream.ToolCallArgDelta("call_1", `{"target":`),
		stream.ToolCallArgDelta("call_1", `"all"}`),
		stream.ToolCallEnd("call_1"),
		stream.Completion(stream.FinishToolCalls, nil),
	)
	out := feedAll(t, e, events...)

	assert.Equal(t, []string{
		EventResponseCreated,
		EventOutputItemAdded,
		EventFunctionCallArgsDelta,
		EventFunctionCallArgsDelta,
		EventOutputItemDone,
		EventResponseCompleted,
	}, eventTypes(out))

	added := out[1]
	require.NotNil(t, added.Item)
	assert.Equal(t, ItemTypeFunctionCall, added.Item.Type)
	assert.Equal(t, "call_1", added.Item.CallID)
	assert.Equal(t, "run_tests", added.Item.Name)

	done := out[4]
	require.NotNil(t, done.Item)
	assert.Equal(t, `{"target":"all"}`, done.Item.Arguments)

	assert.Equal(t, 1, countTerminal(out))
}

func TestReasoningExposedAsSeparateItem(t *testing.T) {
	e := New(Options{Model: "gpt-5", ExposeReasoning: true})
	out := feedAll(t, e,
		stream.RoleSet("assistant"),
		stream.ReasoningDelta("step 1"),
		stream.ReasoningDelta(", step 2"),
		stream.TextDelta("answer"),
		stream.Completion(stream.FinishStop, nil),
	)

	assert.Equal(t, []string{
		EventResponseCreated,
		EventOutputItemAdded,
		EventReasoningTextDelta,
		EventReasoningTextDelta,
		EventOutputItemDone,
		EventOutputItemAdded,
		EventOutputTextDelta,
		EventOutputItemDone,
		EventResponseCompleted,
	}, eventTypes(out))

	reasoningDone := out[4]
	require.NotNil(t, reasoningDone.Item)
	assert.Equal(t, ItemTypeReasoning, reasoningDone.Item.Type)
	require.Len(t, reasoningDone.Item.Summary, 1)
	assert.Equal(t, "step 1, step 2", reasoningDone.Item.Summary[0].Text)

	messageAdded := out[5]
	assert.Equal(t, 1, messageAdded.OutputIdx)
}

func TestOutputIndicesMonotonic(t *testing.T) {
	e := New(Options{})
	out := feedAll(t, e,
		stream.RoleSet("assistant"),
		stream.TextDelta("before"),
		stream.ToolCallStart("call_9", "lookup"),
		stream.ToolCallArgDelta("call_9", "{}"),
		stream.ToolCallEnd("call_9"),
		stream.Completion(stream.FinishToolCalls, nil),
	)

	var indices []int
	for _, ev := range out {
		if ev.Type == EventOutputItemAdded {
			indices = append(indices, ev.OutputIdx)
		}
	}
	assert.Equal(t, []int{0, 1}, indices)
}

func TestUnknownCallIDIsProtocolError(t *testing.T) {
	e := New(Options{})
	feedAll(t, e, stream.RoleSet("assistant"), stream.ToolCallStart("call_a", "f"))

	_, err := e.Feed(stream.ToolCallArgDelta("call_b", "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call_b")
}

func TestAbortMidItemEmitsSingleTerminal(t *testing.T) {
	e := New(Options{})
	out := feedAll(t, e,
		stream.RoleSet("assistant"),
		stream.TextDelta("partial"),
	)
	out = append(out, e.Abort("upstream connection reset")...)

	assert.Equal(t, []string{
		EventResponseCreated,
		EventOutputItemAdded,
		EventOutputTextDelta,
		EventOutputItemDone,
		EventResponseFailed,
	}, eventTypes(out))

	itemDone := out[3]
	require.NotNil(t, itemDone.Item)
	assert.Equal(t, "incomplete", itemDone.Item.Status)

	failed := out[4]
	require.NotNil(t, failed.Response)
	assert.Equal(t, "failed", failed.Response.Status)
	require.NotNil(t, failed.Response.Error)
	assert.Equal(t, "upstream connection reset", failed.Response.Error.Message)

	// A second abort must not produce a second terminal event.
	assert.Empty(t, e.Abort("again"))
	assert.Equal(t, 1, countTerminal(out))
}

func TestAbortBeforeAnyEventStillTerminates(t *testing.T) {
	e := New(Options{})
	out := e.Abort("connect timeout")

	assert.Equal(t, []string{EventResponseCreated, EventResponseFailed}, eventTypes(out))
	assert.Equal(t, 1, countTerminal(out))
}

func TestCompletionWithoutRoleStillStarts(t *testing.T) {
	e := New(Options{})
	out := feedAll(t, e, stream.Completion(stream.FinishStop, nil))

	assert.Equal(t, []string{EventResponseCreated, EventResponseCompleted}, eventTypes(out))
}

func TestEventsAfterTerminalAreIgnored(t *testing.T) {
	e := New(Options{})
	feedAll(t, e, stream.RoleSet("assistant"), stream.Completion(stream.FinishStop, nil))

	out, err := e.Feed(stream.TextDelta("late"))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestArgumentFragmentsConcatenateExactly(t *testing.T) {
	fragments := []string{`{"path`, `":"/tmp/`, `a b.txt"`, `,"n":`, `42}`}
	e := New(Options{})

	events := []stream.Event{stream.RoleSet("assistant"), stream.ToolCallStart("c1", "read")}
	for _, f := range fragments {
		events = append(events, stream.ToolCallArgDelta("c1", f))
	}
	events = append(events, stream.ToolCallEnd("c1"), stream.Completion(stream.FinishToolCalls, nil))
	out := feedAll(t, e, events...)

	var done *Event
	for i := range out {
		if out[i].Type == EventOutputItemDone {
			done = &out[i]
		}
	}
	require.NotNil(t, done)
	assert.Equal(t, strings.Join(fragments, ""), done.Item.Arguments)
}

func TestTwoToolCallsClosedAfterFinish(t *testing.T) {
	e := New(Options{})
	out := feedAll(t, e,
		stream.RoleSet("assistant"),
		stream.ToolCallStart("call_a", "read_file"),
		stream.ToolCallArgDelta("call_a", `{"path":"a.txt"}`),
		stream.ToolCallStart("call_b", "write_file"),
		stream.ToolCallArgDelta("call_b", `{"path":"b.txt"}`),
		stream.ToolCallEnd("call_a"),
		stream.ToolCallEnd("call_b"),
		stream.Completion(stream.FinishToolCalls, nil),
	)

	assert.Equal(t, []string{
		EventResponseCreated,
		EventOutputItemAdded,
		EventFunctionCallArgsDelta,
		EventOutputItemAdded,
		EventFunctionCallArgsDelta,
		EventOutputItemDone,
		EventOutputItemDone,
		EventResponseCompleted,
	}, eventTypes(out))

	firstDone, secondDone := out[5], out[6]
	require.NotNil(t, firstDone.Item)
	require.NotNil(t, secondDone.Item)
	assert.Equal(t, "call_a", firstDone.Item.CallID)
	assert.Equal(t, `{"path":"a.txt"}`, firstDone.Item.Arguments)
	assert.Equal(t, "call_b", secondDone.Item.CallID)
	assert.Equal(t, `{"path":"b.txt"}`, secondDone.Item.Arguments)
	assert.Equal(t, "completed", firstDone.Item.Status)
	assert.Equal(t, "completed", secondDone.Item.Status)

	terminal := out[7]
	require.NotNil(t, terminal.Response)
	require.Len(t, terminal.Response.Output, 2)
	assert.Equal(t, "call_a", terminal.Response.Output[0].CallID)
	assert.Equal(t, "call_b", terminal.Response.Output[1].CallID)
	assert.Equal(t, 1, countTerminal(out))
}

func TestInterleavedArgumentFragmentsStayPerCall(t *testing.T) {
	e := New(Options{})
	out := feedAll(t, e,
		stream.RoleSet("assistant"),
		stream.ToolCallStart("call_a", "alpha"),
		stream.ToolCallStart("call_b", "beta"),
		stream.ToolCallArgDelta("call_a", `{"a"`),
		stream.ToolCallArgDelta("call_b", `{"b"`),
		stream.ToolCallArgDelta("call_a", `:1}`),
		stream.ToolCallArgDelta("call_b", `:2}`),
		stream.ToolCallEnd("call_b"),
		stream.ToolCallEnd("call_a"),
		stream.Completion(stream.FinishToolCalls, nil),
	)

	argsByCall := map[string]string{}
	for _, ev := range out {
		if ev.Type == EventOutputItemDone {
			argsByCall[ev.Item.CallID] = ev.Item.Arguments
		}
	}
	assert.Equal(t, `{"a":1}`, argsByCall["call_a"])
	assert.Equal(t, `{"b":2}`, argsByCall["call_b"])

	// Terminal output keeps open order even though call_b closed first.
	terminal := out[len(out)-1]
	require.NotNil(t, terminal.Response)
	require.Len(t, terminal.Response.Output, 2)
	assert.Equal(t, "call_a", terminal.Response.Output[0].CallID)
	assert.Equal(t, "call_b", terminal.Response.Output[1].CallID)
	assert.Equal(t, 1, countTerminal(out))
}

func TestCompletionClosesUnendedCalls(t *testing.T) {
	e := New(Options{})
	out := feedAll(t, e,
		stream.RoleSet("assistant"),
		stream.ToolCallStart("call_a", "alpha"),
		stream.ToolCallArgDelta("call_a", `{}`),
		stream.Completion(stream.FinishToolCalls, nil),
	)

	var done *Event
	for i := range out {
		if out[i].Type == EventOutputItemDone {
			done = &out[i]
		}
	}
	require.NotNil(t, done)
	assert.Equal(t, "completed", done.Item.Status)
	assert.Equal(t, 1, countTerminal(out))
}

func TestEncodeProducesNamedSSE(t *testing.T) {
	ev := Event{Type: EventOutputTextDelta, ItemID: "msg_1", Delta: "hi"}
	encoded := string(ev.Encode())
	assert.True(t, strings.HasPrefix(encoded, "event: response.output_text.delta\ndata: "))
	assert.True(t, strings.HasSuffix(encoded, "\n\n"))
	assert.Contains(t, encoded, `"delta":"hi"`)
}
