package proxy

import (
	"context"
	"fmt"

	"github.com/jleechanorg/codex-plus/internal/hooks"
	"github.com/jleechanorg/codex-plus/internal/upstream"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// userTextLocation points at the editable text of the latest user message
// inside the raw request body.
type userTextLocation struct {
	path string
	text string
}

// findUserText locates the last user message's text. Content is either a
// plain string or an array of typed blocks; for blocks the last input_text
// entry is the editable one.
func findUserText(env *upstream.Envelope) (userTextLocation, bool) {
	for i := len(env.Input) - 1; i >= 0; i-- {
		item := env.Input[i]
		if role := item.Get("role").String(); role != "user" {
			continue
		}

		content := item.Get("content")
		base := fmt.Sprintf("%s.%d.content", env.InputKey, i)

		if content.Type == gjson.String {
			return userTextLocation{path: base, text: content.String()}, true
		}
		if content.IsArray() {
			blocks := content.Array()
			for j := len(blocks) - 1; j >= 0; j-- {
				blockType := blocks[j].Get("type").String()
				if blockType == "input_text" || blockType == "text" || blocks[j].Get("text").Exists() {
					return userTextLocation{
						path: fmt.Sprintf("%s.%d.text", base, j),
						text: blocks[j].Get("text").String(),
					}, true
				}
			}
		}
		return userTextLocation{}, false
	}
	return userTextLocation{}, false
}

// transformRequest runs the pre-upstream pipeline against the latest user
// message: slash-command expansion, pre-input hooks, then repository context
// injection. The envelope is re-parsed when the text changed so adapters see
// the final body.
func (ps *ProxyServer) transformRequest(ctx context.Context, env *upstream.Envelope) (*upstream.Envelope, error) {
	loc, ok := findUserText(env)
	if !ok {
		return env, nil
	}

	text := ps.commandRegistry.Current().Expand(loc.text)

	text, err := ps.hookPipeline.Run(ctx, hooks.PhasePreInput, text, map[string]string{
		"request_id": env.ID,
		"model":      env.Model,
	})
	if err != nil {
		return nil, err
	}

	text = ps.injector.Inject(ctx, text)

	if text == loc.text {
		return env, nil
	}

	body, err := sjson.SetBytes(env.RawBody, loc.path, text)
	if err != nil {
		return nil, fmt.Errorf("rewrite user text: %w", err)
	}

	updated, err := upstream.ParseEnvelope(body)
	if err != nil {
		return nil, err
	}
	updated.ID = env.ID
	return updated, nil
}
