package app

import (
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry manages loaded apps.
type Registry struct {
	sync.RWMutex
	apps    map[string]*App   // name -> app
	byRobot map[string][]*App // robot -> apps
	logger  *zap.Logger
}

// NewRegistry creates a new app registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		apps:    make(map[string]*App),
		byRobot: make(map[string][]*App),
		logger:  logger.With(zap.String("component", "app-registry")),
	}
}

// Register adds an app to the registry.
func (r *Registry) Register(app *App) error {
	r.Lock()
	defer r.Unlock()

	name := app.Manifest.Name

	if _, exists := r.apps[name]; exists {
		return &AlreadyRegisteredError{AppName: name}
	}

	r.apps[name] = app

	robot := app.Manifest.Robot
	r.byRobot[robot] = append(r.byRobot[robot], app)

	r.logger.Info("App registered",
		zap.String("name", name),
		zap.String("robot", robot),
	)

	return nil
}

// Get retrieves an app by name.
func (r *Registry) Get(name string) (*App, bool) {
	r.RLock()
	defer r.RUnlock()

	app, ok := r.apps[name]
	return app, ok
}

// LookupByRobot finds apps for a robot model, in registration order.
func (r *Registry) LookupByRobot(robot string) []*App {
	r.RLock()
	defer r.RUnlock()

	return slices.Clone(r.byRobot[robot])
}

// List returns all registered apps sorted by name.
func (r *Registry) List() []*App {
	r.RLock()
	defer r.RUnlock()

	result := make([]*App, 0, len(r.apps))
	for _, app := range r.apps {
		result = append(result, app)
	}
	slices.SortFunc(result, func(a, b *App) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return result
}

// Unregister removes an app from the registry.
func (r *Registry) Unregister(name string) {
	r.Lock()
	defer r.Unlock()

	app, ok := r.apps[name]
	if !ok {
		return
	}

	robot := app.Manifest.Robot
	r.byRobot[robot] = slices.DeleteFunc(r.byRobot[robot], func(a *App) bool {
		return a.Manifest.Name == name
	})
	if len(r.byRobot[robot]) == 0 {
		delete(r.byRobot, robot)
	}

	delete(r.apps, name)

	r.logger.Info("App unregistered", zap.String("name", name))
}

// Count returns the number of registered apps.
func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.apps)
}
