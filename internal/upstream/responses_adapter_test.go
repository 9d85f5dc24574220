package upstream

import (
	"context"
	"io"
	"testing"

	"github.com/jleechanorg/codex-plus/internal/sse"
	"github.com/jleechanorg/codex-plus/internal/stream"
	"github.com/jleechanorg/codex-plus/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func responsesConfig() types.UpstreamConfig {
	return types.UpstreamConfig{
		Mode:    "responses",
		BaseURL: "https://api.example.com/v1",
		APIKey:  "sk-test",
	}
}

func TestResponsesBuildRequestPassthrough(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{
		"model": "gpt-5",
		"instructions": "Be terse.",
		"input": [{"type":"message","role":"user","content":[{"type":"input_text","text":"hi"}]}],
		"store": false,
		"previous_response_id": "resp_old",
		"stream": true
	}`))
	require.NoError(t, err)

	a := newResponsesAdapter(responsesConfig())
	req, err := a.BuildRequest(context.Background(), env)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/v1/responses", req.URL.String())
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	parsed := gjson.ParseBytes(body)

	assert.Equal(t, "gpt-5", parsed.Get("model").String())
	assert.Equal(t, "Be terse.", parsed.Get("instructions").String())
	assert.True(t, parsed.Get("stream").Bool())
	assert.False(t, parsed.Get("store").Exists())
	assert.False(t, parsed.Get("previous_response_id").Exists())
	// input passes through untouched
	assert.Equal(t, "hi", parsed.Get("input.0.content.0.text").String())
}

func TestResponsesIngestLifecycle(t *testing.T) {
	a := newResponsesAdapter(responsesConfig())

	events, err := a.Ingest(sse.Record{
		Event: "response.created",
		Data:  `{"type":"response.created","response":{"id":"resp_up","model":"gpt-5"}}`,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, stream.KindRoleSet, events[0].Kind)

	// duplicate created is swallowed
	events, err = a.Ingest(sse.Record{Data: `{"type":"response.created"}`})
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = a.Ingest(sse.Record{Data: `{"type":"response.output_text.delta","item_id":"msg_1","delta":"Hello"}`})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, stream.KindTextDelta, events[0].Kind)
	assert.Equal(t, "Hello", events[0].Text)

	events, err = a.Ingest(sse.Record{Data: `{"type":"response.completed","response":{"status":"completed","output":[],"usage":{"input_tokens":3,"output_tokens":1,"total_tokens":4}}}`})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, stream.KindCompletion, events[0].Kind)
	assert.Equal(t, stream.FinishStop, events[0].FinishReason)
	require.NotNil(t, events[0].Usage)
	assert.Equal(t, 4, events[0].Usage.TotalTokens)

	assert.Empty(t, a.Finish())
}

func TestResponsesIngestFunctionCall(t *testing.T) {
	a := newResponsesAdapter(responsesConfig())

	events, err := a.Ingest(sse.Record{Data: `{"type":"response.output_item.added","output_index":0,"item":{"type":"function_call","id":"fc_1","call_id":"call_9","name":"run"}}`})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, stream.KindToolCallStart, events[0].Kind)
	assert.Equal(t, "call_9", events[0].CallID)
	assert.Equal(t, "run", events[0].Name)

	events, err = a.Ingest(sse.Record{Data: `{"type":"response.function_call_arguments.delta","item_id":"fc_1","delta":"{\"cmd\":"}`})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, stream.KindToolCallArgDelta, events[0].Kind)
	assert.Equal(t, "call_9", events[0].CallID)
	assert.Equal(t, `{"cmd":`, events[0].Text)

	events, err = a.Ingest(sse.Record{Data: `{"type":"response.output_item.done","output_index":0,"item":{"type":"function_call","id":"fc_1","call_id":"call_9","status":"completed"}}`})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, stream.KindToolCallEnd, events[0].Kind)

	events, err = a.Ingest(sse.Record{Data: `{"type":"response.completed","response":{"output":[{"type":"function_call"}]}}`})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, stream.FinishToolCalls, events[0].FinishReason)
}

func TestResponsesIngestUnknownItemIDIsError(t *testing.T) {
	a := newResponsesAdapter(responsesConfig())
	_, err := a.Ingest(sse.Record{Data: `{"type":"response.function_call_arguments.delta","item_id":"fc_ghost","delta":"x"}`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fc_ghost")
}

func TestResponsesIngestReasoningDelta(t *testing.T) {
	a := newResponsesAdapter(responsesConfig())
	events, err := a.Ingest(sse.Record{Data: `{"type":"response.reasoning_summary_text.delta","delta":"because"}`})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, stream.KindReasoningDelta, events[0].Kind)
}

func TestResponsesIngestBookkeepingEventsIgnored(t *testing.T) {
	a := newResponsesAdapter(responsesConfig())
	for _, data := range []string{
		`{"type":"response.in_progress"}`,
		`{"type":"response.content_part.added"}`,
		`{"type":"response.output_text.done","text":"full"}`,
	} {
		events, err := a.Ingest(sse.Record{Data: data})
		require.NoError(t, err)
		assert.Empty(t, events)
	}
}

func TestResponsesIngestFailure(t *testing.T) {
	a := newResponsesAdapter(responsesConfig())
	events, err := a.Ingest(sse.Record{Data: `{"type":"response.failed","response":{"status":"failed","error":{"message":"quota exceeded"}}}`})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, stream.KindError, events[0].Kind)
	assert.Equal(t, "quota exceeded", events[0].Message)

	assert.Empty(t, a.Finish())
}

func TestResponsesFinishWithoutCompletedIsAbrupt(t *testing.T) {
	a := newResponsesAdapter(responsesConfig())
	_, err := a.Ingest(sse.Record{Data: `{"type":"response.created"}`})
	require.NoError(t, err)

	events := a.Finish()
	require.Len(t, events, 1)
	assert.Equal(t, stream.KindError, events[0].Kind)
}

func TestAdapterRegistry(t *testing.T) {
	chat, err := New(types.UpstreamConfig{Mode: "chat"})
	require.NoError(t, err)
	assert.Equal(t, "chat", chat.Mode())

	responses, err := New(types.UpstreamConfig{Mode: "responses"})
	require.NoError(t, err)
	assert.Equal(t, "responses", responses.Mode())

	_, err = New(types.UpstreamConfig{Mode: "grpc"})
	require.Error(t, err)
}

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"model":"m","input":[{"role":"user","content":"x"}],"stream":true}`))
	require.NoError(t, err)
	assert.Equal(t, "m", env.Model)
	assert.True(t, env.Stream)
	assert.Len(t, env.Input, 1)
	assert.NotEmpty(t, env.ID)

	// flat messages array is accepted too
	env, err = ParseEnvelope([]byte(`{"model":"m","messages":[{"role":"user","content":"x"}]}`))
	require.NoError(t, err)
	assert.Len(t, env.Input, 1)
	assert.False(t, env.Stream)

	_, err = ParseEnvelope([]byte(`{not json`))
	require.Error(t, err)

	_, err = ParseEnvelope([]byte(`[]`))
	require.Error(t, err)

	_, err = ParseEnvelope([]byte(`{"model":"m"}`))
	require.Error(t, err)
}
