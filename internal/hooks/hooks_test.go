package hooks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jleechanorg/codex-plus/internal/errors"
	"github.com/jleechanorg/codex-plus/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHookDoc(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hooks.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path
}

func testHookConfig(path string) types.HookConfig {
	return types.HookConfig{
		Path:           path,
		DefaultTimeout: 2 * time.Second,
		PhaseTimeout:   5 * time.Second,
	}
}

func TestLoadSnapshotOrdersByPriority(t *testing.T) {
	RegisterFunc("noop_a", func(ctx context.Context, hctx *Context) (Outcome, error) {
		return Outcome{Payload: hctx.Payload}, nil
	})
	RegisterFunc("noop_b", func(ctx context.Context, hctx *Context) (Outcome, error) {
		return Outcome{Payload: hctx.Payload}, nil
	})

	path := writeHookDoc(t, `{"hooks":[
		{"name":"second","phase":"pre_input","priority":20,"handler":"noop_a"},
		{"name":"first","phase":"pre_input","priority":10,"handler":"noop_b"}
	]}`)

	snapshot, err := LoadSnapshot(path, testHookConfig(path))
	require.NoError(t, err)
	require.Equal(t, 2, snapshot.Len())

	order := snapshot.PhaseHooks(PhasePreInput)
	assert.Equal(t, "first", order[0].Name)
	assert.Equal(t, "second", order[1].Name)
}

func TestLoadSnapshotSkipsDisabled(t *testing.T) {
	RegisterFunc("noop", func(ctx context.Context, hctx *Context) (Outcome, error) {
		return Outcome{Payload: hctx.Payload}, nil
	})
	path := writeHookDoc(t, `{"hooks":[
		{"name":"off","phase":"pre_input","enabled":false,"handler":"noop"},
		{"name":"on","phase":"pre_input","handler":"noop"}
	]}`)

	snapshot, err := LoadSnapshot(path, testHookConfig(path))
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.Len())
}

func TestLoadSnapshotRejectsAmbiguousHandler(t *testing.T) {
	path := writeHookDoc(t, `{"hooks":[
		{"name":"both","phase":"pre_input","handler":"x","command":["echo"]}
	]}`)
	_, err := LoadSnapshot(path, testHookConfig(path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")
}

func TestLoadSnapshotRejectsUnknownPhase(t *testing.T) {
	path := writeHookDoc(t, `{"hooks":[{"name":"x","phase":"mid_flight","command":["true"]}]}`)
	_, err := LoadSnapshot(path, testHookConfig(path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown phase")
}

func TestLoadSnapshotEmptyPath(t *testing.T) {
	snapshot, err := LoadSnapshot("", types.HookConfig{})
	require.NoError(t, err)
	assert.Equal(t, 0, snapshot.Len())
}

func newTestPipeline(t *testing.T, doc string) *Pipeline {
	t.Helper()
	path := writeHookDoc(t, doc)
	p, err := NewPipeline(testHookConfig(path))
	require.NoError(t, err)
	return p
}

func TestRunAppliesHooksInOrder(t *testing.T) {
	RegisterFunc("append_one", func(ctx context.Context, hctx *Context) (Outcome, error) {
		return Outcome{Payload: hctx.Payload + " one"}, nil
	})
	RegisterFunc("append_two", func(ctx context.Context, hctx *Context) (Outcome, error) {
		return Outcome{Payload: hctx.Payload + " two"}, nil
	})

	p := newTestPipeline(t, `{"hooks":[
		{"name":"two","phase":"pre_input","priority":2,"handler":"append_two"},
		{"name":"one","phase":"pre_input","priority":1,"handler":"append_one"}
	]}`)

	out, err := p.Run(context.Background(), PhasePreInput, "base", nil)
	require.NoError(t, err)
	assert.Equal(t, "base one two", out)
}

func TestRunIsolatesFailingHook(t *testing.T) {
	RegisterFunc("fails", func(ctx context.Context, hctx *Context) (Outcome, error) {
		return Outcome{}, fmt.Errorf("boom")
	})
	RegisterFunc("survives", func(ctx context.Context, hctx *Context) (Outcome, error) {
		return Outcome{Payload: hctx.Payload + " survived"}, nil
	})

	p := newTestPipeline(t, `{"hooks":[
		{"name":"bad","phase":"pre_input","priority":1,"handler":"fails"},
		{"name":"good","phase":"pre_input","priority":2,"handler":"survives"}
	]}`)

	out, err := p.Run(context.Background(), PhasePreInput, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "x survived", out)
}

func TestRunIsolatesPanickingHook(t *testing.T) {
	RegisterFunc("panics", func(ctx context.Context, hctx *Context) (Outcome, error) {
		panic("deliberate")
	})
	RegisterFunc("after_panic", func(ctx context.Context, hctx *Context) (Outcome, error) {
		return Outcome{Payload: hctx.Payload + " ok"}, nil
	})

	p := newTestPipeline(t, `{"hooks":[
		{"name":"p","phase":"pre_input","priority":1,"handler":"panics"},
		{"name":"q","phase":"pre_input","priority":2,"handler":"after_panic"}
	]}`)

	out, err := p.Run(context.Background(), PhasePreInput, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "x ok", out)
}

func TestRunCriticalHookEscalates(t *testing.T) {
	RegisterFunc("critical_fail", func(ctx context.Context, hctx *Context) (Outcome, error) {
		return Outcome{}, fmt.Errorf("must not be ignored")
	})

	p := newTestPipeline(t, `{"hooks":[
		{"name":"gate","phase":"pre_input","critical":true,"handler":"critical_fail"}
	]}`)

	_, err := p.Run(context.Background(), PhasePreInput, "x", nil)
	require.Error(t, err)
	apiErr, ok := err.(*errors.APIError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrHookFailure.Code, apiErr.Code)
}

func TestRunHookTimeout(t *testing.T) {
	RegisterFunc("slow", func(ctx context.Context, hctx *Context) (Outcome, error) {
		select {
		case <-time.After(5 * time.Second):
			return Outcome{Payload: hctx.Payload}, nil
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	})
	RegisterFunc("fast", func(ctx context.Context, hctx *Context) (Outcome, error) {
		return Outcome{Payload: hctx.Payload + " fast"}, nil
	})

	p := newTestPipeline(t, `{"hooks":[
		{"name":"slow","phase":"pre_input","priority":1,"timeout_seconds":1,"handler":"slow"},
		{"name":"fast","phase":"pre_input","priority":2,"handler":"fast"}
	]}`)

	start := time.Now()
	out, err := p.Run(context.Background(), PhasePreInput, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "x fast", out)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunExternalCommandHook(t *testing.T) {
	p := newTestPipeline(t, `{"hooks":[
		{"name":"stamp","phase":"pre_input","command":["sh","-c","cat >/dev/null; echo STAMPED"]}
	]}`)

	out, err := p.Run(context.Background(), PhasePreInput, "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "STAMPED", out)
}

func TestRunExternalCommandEmptyOutputKeepsPayload(t *testing.T) {
	p := newTestPipeline(t, `{"hooks":[
		{"name":"silent","phase":"pre_input","command":["true"]}
	]}`)

	out, err := p.Run(context.Background(), PhasePreInput, "unchanged", nil)
	require.NoError(t, err)
	assert.Equal(t, "unchanged", out)
}

func TestRunExternalCommandFailureIsolated(t *testing.T) {
	p := newTestPipeline(t, `{"hooks":[
		{"name":"broken","phase":"pre_input","command":["false"]}
	]}`)

	out, err := p.Run(context.Background(), PhasePreInput, "kept", nil)
	require.NoError(t, err)
	assert.Equal(t, "kept", out)
}

func TestPipelineReloadSwapsSnapshot(t *testing.T) {
	RegisterFunc("noop_reload", func(ctx context.Context, hctx *Context) (Outcome, error) {
		return Outcome{Payload: hctx.Payload}, nil
	})
	path := writeHookDoc(t, `{"hooks":[{"name":"a","phase":"pre_input","handler":"noop_reload"}]}`)
	p, err := NewPipeline(testHookConfig(path))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Current().Len())

	require.NoError(t, os.WriteFile(path, []byte(`{"hooks":[]}`), 0644))
	require.NoError(t, p.Reload())
	assert.Equal(t, 0, p.Current().Len())

	// a broken document keeps the previous snapshot
	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0644))
	require.Error(t, p.Reload())
	assert.Equal(t, 0, p.Current().Len())
}
