package errors

import (
	"strings"

	"github.com/tidwall/gjson"
)

// maxRawErrorLength caps the fallback raw body excerpt used when no
// structured message can be extracted.
const maxRawErrorLength = 512

// ParseUpstreamError extracts a clean, human-readable message from an
// upstream error body. Providers disagree on shape, so several well-known
// locations are probed before falling back to a truncated raw excerpt.
func ParseUpstreamError(body []byte) string {
	if len(body) == 0 {
		return "empty error body"
	}

	if gjson.ValidBytes(body) {
		// {"error": {"message": "..."}} — chat-completions style
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() && msg.String() != "" {
			return msg.String()
		}
		// {"error": "..."} — flat string variant
		if msg := gjson.GetBytes(body, "error"); msg.Type == gjson.String && msg.String() != "" {
			return msg.String()
		}
		// {"message": "..."} — bare message
		if msg := gjson.GetBytes(body, "message"); msg.Exists() && msg.String() != "" {
			return msg.String()
		}
		// {"detail": "..."} — responses-style validation errors
		if msg := gjson.GetBytes(body, "detail"); msg.Type == gjson.String && msg.String() != "" {
			return msg.String()
		}
	}

	raw := strings.TrimSpace(string(body))
	if len(raw) > maxRawErrorLength {
		raw = raw[:maxRawErrorLength]
	}
	return raw
}
