package utils

import "net/http"

// clientAuthHeaders are inbound credential headers that must never be
// forwarded upstream; the adapter attaches the upstream credential itself.
var clientAuthHeaders = []string{
	"Authorization",
	"X-Api-Key",
	"X-Goog-Api-Key",
}

// hopHeaders are hop-by-hop and proxy-revealing headers stripped from
// upstream requests.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
	"X-Real-Ip",
	"Via",
	"Forwarded",
}

// CleanClientAuthHeaders removes client authentication headers from an
// outbound request.
func CleanClientAuthHeaders(req *http.Request) {
	if req == nil {
		return
	}
	for _, h := range clientAuthHeaders {
		req.Header.Del(h)
	}
}

// CleanHopHeaders removes hop-by-hop and proxy-revealing headers from an
// outbound request.
func CleanHopHeaders(req *http.Request) {
	if req == nil {
		return
	}
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
}

// TruncateString truncates a string to at most max bytes, used for logging
// previews of request and response bodies.
func TruncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
