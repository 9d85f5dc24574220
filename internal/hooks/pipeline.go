package hooks

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jleechanorg/codex-plus/internal/errors"
	"github.com/jleechanorg/codex-plus/internal/types"

	"github.com/sirupsen/logrus"
)

// Pipeline owns the live hook snapshot and executes phases against it.
// Reload swaps the snapshot atomically; phases started before a reload keep
// running against the snapshot they captured.
type Pipeline struct {
	cfg      types.HookConfig
	snapshot atomic.Pointer[Snapshot]
}

// NewPipeline loads the initial snapshot from the configured path.
func NewPipeline(cfg types.HookConfig) (*Pipeline, error) {
	snapshot, err := LoadSnapshot(cfg.Path, cfg)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg}
	p.snapshot.Store(snapshot)
	return p, nil
}

// Current returns the active snapshot.
func (p *Pipeline) Current() *Snapshot {
	return p.snapshot.Load()
}

// Reload re-reads the hook definition document. On failure the previous
// snapshot stays active.
func (p *Pipeline) Reload() error {
	snapshot, err := LoadSnapshot(p.cfg.Path, p.cfg)
	if err != nil {
		logrus.WithError(err).Error("Hook definition reload failed, keeping previous snapshot")
		return err
	}
	p.snapshot.Store(snapshot)
	logrus.Infof("Hook definitions reloaded: %d hooks", snapshot.Len())
	return nil
}

// Run executes one phase's hooks in priority order against the payload.
// A failing, panicking or timed-out hook is logged and skipped so its
// siblings still run, unless it is marked critical, in which case the phase
// aborts with a hook-failure error. The whole phase runs under the
// configured phase timeout.
func (p *Pipeline) Run(ctx context.Context, phase Phase, payload string, metadata map[string]string) (string, error) {
	hooks := p.Current().PhaseHooks(phase)
	if len(hooks) == 0 {
		return payload, nil
	}

	phaseCtx := ctx
	if p.cfg.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, p.cfg.PhaseTimeout)
		defer cancel()
	}

	for _, hook := range hooks {
		if err := phaseCtx.Err(); err != nil {
			return payload, errors.NewAPIError(errors.ErrHookFailure,
				fmt.Sprintf("hook phase %s timed out at hook %s", phase, hook.Name))
		}

		outcome, err := invokeHook(phaseCtx, hook, &Context{
			Phase:    phase,
			Payload:  payload,
			Metadata: metadata,
		})
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"hook":  hook.Name,
				"phase": phase,
			}).Warn("Hook failed, skipping")
			if hook.Critical {
				return payload, errors.NewAPIError(errors.ErrHookFailure,
					fmt.Sprintf("critical hook %s failed in phase %s: %v", hook.Name, phase, err))
			}
			continue
		}
		payload = outcome.Payload
	}
	return payload, nil
}

// invokeHook runs one hook under its own timeout with panic recovery. The
// handler runs in its own goroutine so a hung hook cannot stall the phase
// past its deadline.
func invokeHook(ctx context.Context, hook *Hook, hctx *Context) (Outcome, error) {
	hookCtx := ctx
	if hook.Timeout > 0 {
		var cancel context.CancelFunc
		hookCtx, cancel = context.WithTimeout(ctx, hook.Timeout)
		defer cancel()
	}

	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("hook panicked: %v", r)}
			}
		}()
		outcome, err := hook.handler.Invoke(hookCtx, hctx)
		done <- result{outcome: outcome, err: err}
	}()

	select {
	case res := <-done:
		return res.outcome, res.err
	case <-hookCtx.Done():
		return Outcome{}, fmt.Errorf("hook timed out after %s", hook.Timeout)
	}
}
