package commands

import (
	"sync/atomic"

	"github.com/jleechanorg/codex-plus/internal/types"

	"github.com/sirupsen/logrus"
)

// Registry holds the live catalog snapshot. Reload builds a complete new
// catalog and swaps the pointer atomically, so in-flight requests never see
// a half-loaded state.
type Registry struct {
	cfg      types.CommandConfig
	snapshot atomic.Pointer[Catalog]
}

// NewRegistry loads the initial catalog from the configured directory.
func NewRegistry(cfg types.CommandConfig) (*Registry, error) {
	catalog, err := LoadCatalog(cfg.Dir, cfg.MaxDepth)
	if err != nil {
		return nil, err
	}
	r := &Registry{cfg: cfg}
	r.snapshot.Store(catalog)
	return r, nil
}

// Current returns the active catalog snapshot.
func (r *Registry) Current() *Catalog {
	return r.snapshot.Load()
}

// Reload re-reads the command directory. On validation failure the previous
// snapshot stays active.
func (r *Registry) Reload() error {
	catalog, err := LoadCatalog(r.cfg.Dir, r.cfg.MaxDepth)
	if err != nil {
		logrus.WithError(err).Error("Command catalog reload failed, keeping previous snapshot")
		return err
	}
	r.snapshot.Store(catalog)
	logrus.Infof("Command catalog reloaded: %d definitions", catalog.Len())
	return nil
}
