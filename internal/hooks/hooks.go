// Package hooks implements the pluggable pre-input/post-output/lifecycle
// handler pipeline. Hook definitions load from a JSON document into an
// immutable snapshot; each phase runs its hooks in ascending priority with
// per-hook failure isolation.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jleechanorg/codex-plus/internal/types"

	"github.com/sirupsen/logrus"
)

// Phase names a pipeline stage.
type Phase string

const (
	// PhasePreInput runs against the request payload before the upstream call.
	PhasePreInput Phase = "pre_input"
	// PhasePostOutput runs against non-streaming response bodies only.
	PhasePostOutput Phase = "post_output"
	// PhaseLifecycle runs on process-level events such as startup and reload.
	PhaseLifecycle Phase = "lifecycle"
)

// Context is the mutable payload a phase's hooks operate on.
type Context struct {
	Phase    Phase             `json:"phase"`
	Payload  string            `json:"payload"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Outcome is a handler's result: the (possibly rewritten) payload.
type Outcome struct {
	Payload string
}

// Handler executes one hook. The two implementations are the closed set of
// handler kinds: an external command or a registered in-process function.
type Handler interface {
	Invoke(ctx context.Context, hctx *Context) (Outcome, error)
}

// Hook is one loaded, immutable hook definition.
type Hook struct {
	Name     string
	Phase    Phase
	Priority int
	Critical bool
	Timeout  time.Duration
	handler  Handler
}

// definitionDoc is the on-disk JSON document shape.
type definitionDoc struct {
	Hooks []definitionEntry `json:"hooks"`
}

type definitionEntry struct {
	Name           string   `json:"name"`
	Phase          Phase    `json:"phase"`
	Priority       int      `json:"priority"`
	Enabled        *bool    `json:"enabled"`
	Critical       bool     `json:"critical"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	Command        []string `json:"command,omitempty"`
	Handler        string   `json:"handler,omitempty"`
}

// Snapshot is an immutable set of loaded hooks grouped by phase.
type Snapshot struct {
	byPhase map[Phase][]*Hook
	total   int
}

// EmptySnapshot returns a snapshot with no hooks.
func EmptySnapshot() *Snapshot {
	return &Snapshot{byPhase: map[Phase][]*Hook{}}
}

// Len returns the number of loaded hooks.
func (s *Snapshot) Len() int { return s.total }

// PhaseHooks returns the hooks of one phase in execution order.
func (s *Snapshot) PhaseHooks(phase Phase) []*Hook {
	return s.byPhase[phase]
}

// LoadSnapshot reads the hook definition document. Disabled hooks are
// skipped; each entry must reference exactly one handler kind.
func LoadSnapshot(path string, cfg types.HookConfig) (*Snapshot, error) {
	if path == "" {
		return EmptySnapshot(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hook definitions: %w", err)
	}

	var doc definitionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse hook definitions: %w", err)
	}

	snapshot := EmptySnapshot()
	for _, entry := range doc.Hooks {
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}
		hook, err := buildHook(entry, cfg)
		if err != nil {
			return nil, err
		}
		snapshot.byPhase[hook.Phase] = append(snapshot.byPhase[hook.Phase], hook)
		snapshot.total++
	}

	for phase := range snapshot.byPhase {
		hooks := snapshot.byPhase[phase]
		sort.SliceStable(hooks, func(i, j int) bool {
			return hooks[i].Priority < hooks[j].Priority
		})
	}

	logrus.Debugf("Loaded %d hook definitions from %s", snapshot.total, path)
	return snapshot, nil
}

func buildHook(entry definitionEntry, cfg types.HookConfig) (*Hook, error) {
	if entry.Name == "" {
		return nil, fmt.Errorf("hook definition without a name")
	}
	switch entry.Phase {
	case PhasePreInput, PhasePostOutput, PhaseLifecycle:
	default:
		return nil, fmt.Errorf("hook %s: unknown phase %q", entry.Name, entry.Phase)
	}

	hasCommand := len(entry.Command) > 0
	hasFunc := entry.Handler != ""
	if hasCommand == hasFunc {
		return nil, fmt.Errorf("hook %s: exactly one of command or handler must be set", entry.Name)
	}

	var handler Handler
	if hasCommand {
		handler = &commandHandler{argv: entry.Command}
	} else {
		fn, ok := lookupFunc(entry.Handler)
		if !ok {
			return nil, fmt.Errorf("hook %s: unknown in-process handler %q", entry.Name, entry.Handler)
		}
		handler = fn
	}

	timeout := cfg.DefaultTimeout
	if entry.TimeoutSeconds > 0 {
		timeout = time.Duration(entry.TimeoutSeconds) * time.Second
	}

	return &Hook{
		Name:     entry.Name,
		Phase:    entry.Phase,
		Priority: entry.Priority,
		Critical: entry.Critical,
		Timeout:  timeout,
		handler:  handler,
	}, nil
}
