// Package container builds the dependency injection container.
package container

import (
	"github.com/jleechanorg/codex-plus/internal/app"
	"github.com/jleechanorg/codex-plus/internal/commands"
	"github.com/jleechanorg/codex-plus/internal/config"
	"github.com/jleechanorg/codex-plus/internal/db"
	"github.com/jleechanorg/codex-plus/internal/gitstatus"
	"github.com/jleechanorg/codex-plus/internal/handler"
	"github.com/jleechanorg/codex-plus/internal/hooks"
	"github.com/jleechanorg/codex-plus/internal/httpclient"
	"github.com/jleechanorg/codex-plus/internal/proxy"
	"github.com/jleechanorg/codex-plus/internal/router"
	"github.com/jleechanorg/codex-plus/internal/services"
	"github.com/jleechanorg/codex-plus/internal/types"

	"go.uber.org/dig"
)

// BuildContainer registers all constructors.
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	providers := []interface{}{
		config.NewManager,
		db.InitDB,
		services.NewRequestLogService,
		httpclient.NewManager,
		httpclient.NewStealthManager,

		newCommandRegistry,
		newInjector,
		newHookPipeline,

		proxy.NewProxyServer,
		handler.NewServer,
		router.NewRouter,
		app.NewApp,
	}

	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}
	return container, nil
}

func newCommandRegistry(configManager types.ConfigManager) (*commands.Registry, error) {
	return commands.NewRegistry(configManager.GetCommandConfig())
}

// newInjector registers the repository context injector both as a direct
// pipeline stage and as a named in-process hook handler.
func newInjector() *gitstatus.Injector {
	injector := gitstatus.New("")
	hooks.RegisterFunc("git_context", injector.Handler())
	return injector
}

// newHookPipeline depends on the injector so its in-process handler is
// registered before hook definitions load.
func newHookPipeline(configManager types.ConfigManager, _ *gitstatus.Injector) (*hooks.Pipeline, error) {
	return hooks.NewPipeline(configManager.GetHookConfig())
}
