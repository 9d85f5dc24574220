package proxy

import (
	"testing"

	"github.com/jleechanorg/codex-plus/internal/upstream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEnvelope(t *testing.T, body string) *upstream.Envelope {
	t.Helper()
	env, err := upstream.ParseEnvelope([]byte(body))
	require.NoError(t, err)
	return env
}

func TestFindUserTextStringContent(t *testing.T) {
	env := mustEnvelope(t, `{"model":"m","input":[
		{"role":"user","content":"first"},
		{"role":"assistant","content":"reply"},
		{"role":"user","content":"latest"}
	]}`)

	loc, ok := findUserText(env)
	require.True(t, ok)
	assert.Equal(t, "latest", loc.text)
	assert.Equal(t, "input.2.content", loc.path)
}

func TestFindUserTextBlockContent(t *testing.T) {
	env := mustEnvelope(t, `{"model":"m","input":[
		{"type":"message","role":"user","content":[
			{"type":"input_image","image_url":"data:..."},
			{"type":"input_text","text":"describe this"}
		]}
	]}`)

	loc, ok := findUserText(env)
	require.True(t, ok)
	assert.Equal(t, "describe this", loc.text)
	assert.Equal(t, "input.0.content.1.text", loc.path)
}

func TestFindUserTextMessagesKey(t *testing.T) {
	env := mustEnvelope(t, `{"model":"m","messages":[{"role":"user","content":"hey"}]}`)

	loc, ok := findUserText(env)
	require.True(t, ok)
	assert.Equal(t, "messages.0.content", loc.path)
}

func TestFindUserTextNoUserMessage(t *testing.T) {
	env := mustEnvelope(t, `{"model":"m","input":[{"type":"function_call_output","call_id":"c1","output":"ok"}]}`)

	_, ok := findUserText(env)
	assert.False(t, ok)
}
