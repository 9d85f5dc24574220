package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// commandHandler runs an external program. The hook context is written to
// stdin as JSON; a non-empty stdout replaces the payload, empty stdout
// leaves it unchanged. A non-zero exit is a hook failure.
type commandHandler struct {
	argv []string
}

func (h *commandHandler) Invoke(ctx context.Context, hctx *Context) (Outcome, error) {
	input, err := json.Marshal(hctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal hook context: %w", err)
	}

	cmd := exec.CommandContext(ctx, h.argv[0], h.argv[1:]...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return Outcome{}, fmt.Errorf("%w: %s", err, detail)
		}
		return Outcome{}, err
	}

	out := stdout.String()
	if strings.TrimSpace(out) == "" {
		return Outcome{Payload: hctx.Payload}, nil
	}
	return Outcome{Payload: strings.TrimRight(out, "\n")}, nil
}

// HandlerFunc adapts a function to the Handler interface for in-process
// hooks.
type HandlerFunc func(ctx context.Context, hctx *Context) (Outcome, error)

func (f HandlerFunc) Invoke(ctx context.Context, hctx *Context) (Outcome, error) {
	return f(ctx, hctx)
}

var (
	funcMu       sync.RWMutex
	funcRegistry = make(map[string]HandlerFunc)
)

// RegisterFunc makes an in-process handler referenceable by name from hook
// definition documents. Registration happens at startup, before any
// definitions load.
func RegisterFunc(name string, fn HandlerFunc) {
	funcMu.Lock()
	defer funcMu.Unlock()
	funcRegistry[name] = fn
}

func lookupFunc(name string) (HandlerFunc, bool) {
	funcMu.RLock()
	defer funcMu.RUnlock()
	fn, ok := funcRegistry[name]
	return fn, ok
}
