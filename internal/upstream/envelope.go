package upstream

import (
	"github.com/jleechanorg/codex-plus/internal/errors"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Envelope is the parsed inbound request. It is owned by the handling
// request for its lifetime and never shared across requests.
type Envelope struct {
	ID           string
	RawBody      []byte
	Model        string
	Instructions string
	Input        []gjson.Result
	// InputKey is the body key the input array came from ("input" or
	// "messages"), kept so in-place edits target the right path.
	InputKey string
	Tools    []gjson.Result
	Stream   bool
}

// ParseEnvelope validates and decomposes the inbound request body. The
// client sends either the nested instructions+input shape or a flat
// messages array; both land in Input with Instructions set when present.
func ParseEnvelope(body []byte) (*Envelope, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.NewAPIError(errors.ErrInvalidJSON, "request body is not valid JSON")
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, errors.NewValidationError("request body must be a JSON object")
	}

	env := &Envelope{
		ID:           uuid.NewString(),
		RawBody:      body,
		Model:        root.Get("model").String(),
		Instructions: root.Get("instructions").String(),
		Stream:       root.Get("stream").Bool(),
	}

	input := root.Get("input")
	env.InputKey = "input"
	if !input.Exists() {
		input = root.Get("messages")
		env.InputKey = "messages"
	}
	if input.Exists() {
		if !input.IsArray() {
			return nil, errors.NewValidationError("input must be an array")
		}
		env.Input = input.Array()
	}
	if len(env.Input) == 0 && env.Instructions == "" {
		return nil, errors.NewValidationError("request must contain input messages")
	}

	if tools := root.Get("tools"); tools.IsArray() {
		env.Tools = tools.Array()
	}
	return env, nil
}
