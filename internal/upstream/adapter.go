// Package upstream contains the per-provider adapters: request-shape
// transformation toward the provider dialect and ingestion of the provider's
// raw SSE records into canonical events.
package upstream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jleechanorg/codex-plus/internal/sse"
	"github.com/jleechanorg/codex-plus/internal/stream"
	"github.com/jleechanorg/codex-plus/internal/types"
)

// Adapter translates between one provider dialect and the canonical event
// model. Ingest state is per-request; create a fresh adapter per inbound
// request via New.
type Adapter interface {
	// Mode returns the provider-mode name the adapter is registered under.
	Mode() string

	// BuildRequest transforms the inbound envelope into a ready-to-send
	// upstream request, including URL, body reshaping and credentials.
	BuildRequest(ctx context.Context, env *Envelope) (*http.Request, error)

	// Ingest converts one decoded upstream SSE record into zero or more
	// canonical events, in order.
	Ingest(record sse.Record) ([]stream.Event, error)

	// Finish flushes events pending at end of stream, such as the terminal
	// completion once the provider's done sentinel or EOF arrives.
	Finish() []stream.Event
}

type factory func(cfg types.UpstreamConfig) Adapter

var registry = make(map[string]factory)

// register binds a provider mode to its adapter constructor. Called from
// adapter init functions.
func register(mode string, f factory) {
	registry[mode] = f
}

// New creates a fresh adapter for the configured provider mode.
func New(cfg types.UpstreamConfig) (Adapter, error) {
	f, ok := registry[cfg.Mode]
	if !ok {
		return nil, fmt.Errorf("unknown upstream mode: %s", cfg.Mode)
	}
	return f(cfg), nil
}
