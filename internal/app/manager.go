package app

import (
	"cmp"
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/woxQAQ/robokernel/internal/config"
	"github.com/woxQAQ/robokernel/internal/wasm"
)

// Manager owns the compiled robot apps of one runtime and creates guest
// instances for sessions.
type Manager struct {
	cfg         *config.ServerConfig
	runtime     *wasm.Runtime
	loader      *Loader
	registry    *Registry
	instanceMgr *wasm.InstanceManager
	logger      *zap.Logger

	loadOnce sync.Once
}

func NewManager(
	cfg *config.ServerConfig,
	runtime *wasm.Runtime,
	hostFuncs *wasm.HostFunctionsImpl,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		cfg:         cfg,
		runtime:     runtime,
		loader:      NewLoader(runtime, logger),
		registry:    NewRegistry(logger),
		instanceMgr: wasm.NewInstanceManager(runtime, hostFuncs, logger),
		logger:      logger.With(zap.String("component", "app-manager")),
	}
}

// LoadAll compiles every app under the configured paths. Empty paths are
// not an error; the server may still be asked for a specific app later.
// Apps that fail to register are logged and skipped. It runs once.
func (m *Manager) LoadAll(ctx context.Context) error {
	err := errors.New("apps already loaded")
	m.loadOnce.Do(func() { err = m.load(ctx) })
	return err
}

func (m *Manager) load(ctx context.Context) error {
	apps, err := m.loader.DiscoverApps(ctx, m.cfg.AppPaths)
	var none *NoAppsFoundError
	switch {
	case errors.As(err, &none):
		m.logger.Warn("No robot apps found", zap.Strings("paths", m.cfg.AppPaths))
		return nil
	case err != nil:
		return err
	}

	var skipped []string
	for _, app := range apps {
		if err := m.registry.Register(app); err != nil {
			m.logger.Error("Skipping app", zap.String("app", app.Name()), zap.Error(err))
			skipped = append(skipped, app.Name())
		}
	}

	m.logger.Info("Robot apps loaded",
		zap.Int("count", m.registry.Count()),
		zap.Strings("skipped", skipped),
		zap.Strings("paths", m.cfg.AppPaths),
	)
	return nil
}

func (m *Manager) GetApp(name string) (*App, error) {
	if app, ok := m.registry.Get(name); ok {
		return app, nil
	}
	return nil, &NotFoundError{AppName: name}
}

// FindAppForRobot returns the first registered app targeting robot.
func (m *Manager) FindAppForRobot(robot string) (*App, error) {
	if apps := m.registry.LookupByRobot(robot); len(apps) > 0 {
		return apps[0], nil
	}
	return nil, &NoAppForRobotError{Robot: robot}
}

// Instantiate creates a guest instance of appName named instanceID, the
// name host calls are routed by. The manifest's allocator and entry point
// win over the bridge defaults. WASI stdout goes to stdout.
func (m *Manager) Instantiate(ctx context.Context, appName, instanceID string, stdout io.Writer) (*wasm.Instance, error) {
	app, err := m.GetApp(appName)
	if err != nil {
		return nil, err
	}

	return m.instanceMgr.Instantiate(ctx, &wasm.InstanceConfig{
		ModuleName: app.Compiled.Name,
		InstanceID: instanceID,
		Allocator:  cmp.Or(app.Manifest.Allocator, m.cfg.Bridge.Allocator),
		EntryPoint: cmp.Or(app.Manifest.EntryPoint, m.cfg.Bridge.EntryPoint),
		Stdout:     stdout,
	})
}

// Shutdown closes the runtime and every instance still alive in it.
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.runtime.Close(ctx); err != nil {
		m.logger.Error("Failed to close wasm runtime", zap.Error(err))
		return err
	}
	return nil
}

func (m *Manager) Registry() *Registry {
	return m.registry
}
