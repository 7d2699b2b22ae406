package wasm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Runtime owns the wazero runtime shared by every robot app in the
// process, along with its compiled guests and live instances.
type Runtime struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache // nil without CacheDir

	modules sync.Map // app name -> *CompiledModule

	mu        sync.Mutex
	instances map[string]api.Module // instance id -> module
	closed    bool

	config *RuntimeConfig
	logger *zap.Logger
}

// RuntimeConfig holds runtime configuration.
type RuntimeConfig struct {
	// Memory limit per guest in 64KiB pages.
	MemoryPages uint32

	// Keep DWARF-based stack traces for guest traps.
	DebugEnabled bool

	// Directory for the persistent compilation cache. Empty keeps
	// compiled code in memory only.
	CacheDir string

	// Maximum number of live instances; zero means no limit.
	MaxInstances int

	// Upper bound for one run of a guest entry point. Zero disables it.
	ExecutionTimeout time.Duration

	// Import module name that carries the host functions.
	HostModule string
}

// CompiledModule is a compiled guest plus where it came from.
type CompiledModule struct {
	Module wazero.CompiledModule

	Name       string
	Source     string
	SizeBytes  int64
	CompiledAt int64
}

// NewRuntime creates the wazero runtime. Guests are stopped when the
// context of their current call is cancelled.
func NewRuntime(ctx context.Context, logger *zap.Logger, config *RuntimeConfig) (*Runtime, error) {
	if config == nil {
		config = DefaultRuntimeConfig()
	}
	if config.HostModule == "" {
		config.HostModule = DefaultHostModule
	}

	rc := wazero.NewRuntimeConfig().
		WithDebugInfoEnabled(config.DebugEnabled).
		WithCloseOnContextDone(true)
	if config.MemoryPages > 0 {
		rc = rc.WithMemoryLimitPages(config.MemoryPages)
	}

	var cache wazero.CompilationCache
	if config.CacheDir != "" {
		c, err := wazero.NewCompilationCacheWithDir(config.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache %s: %w", config.CacheDir, err)
		}
		cache = c
		rc = rc.WithCompilationCache(cache)
	}

	logger.Info("Wasm runtime initialized",
		zap.Uint32("memory_pages", config.MemoryPages),
		zap.String("host_module", config.HostModule),
		zap.String("cache_dir", config.CacheDir),
		zap.Int("max_instances", config.MaxInstances),
	)

	return &Runtime{
		runtime:   wazero.NewRuntimeWithConfig(ctx, rc),
		cache:     cache,
		instances: make(map[string]api.Module),
		config:    config,
		logger:    logger.With(zap.String("component", "wasm-runtime")),
	}, nil
}

// DefaultRuntimeConfig returns the defaults used when no config is given.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MemoryPages:      256, // 16MiB
		MaxInstances:     100,
		ExecutionTimeout: 30 * time.Second,
		HostModule:       DefaultHostModule,
	}
}

// Config returns the effective configuration.
func (r *Runtime) Config() RuntimeConfig {
	return *r.config
}

// Close closes every live instance, then the runtime. Only the first call
// does any work.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	live := r.instances
	r.instances = make(map[string]api.Module)
	r.mu.Unlock()

	r.logger.Info("Shutting down Wasm runtime", zap.Int("live_instances", len(live)))

	for id, mod := range live {
		if err := mod.Close(ctx); err != nil {
			r.logger.Warn("Failed to close instance",
				zap.String("instance_id", id),
				zap.Error(err),
			)
		}
	}

	err := r.runtime.Close(ctx)
	if r.cache != nil {
		err = multierr.Append(err, r.cache.Close(ctx))
	}
	return err
}

// IsClosed reports whether Close has been called.
func (r *Runtime) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// GetCompiledModule returns the compiled guest cached under name.
func (r *Runtime) GetCompiledModule(name string) (*CompiledModule, bool) {
	val, ok := r.modules.Load(name)
	if !ok {
		return nil, false
	}
	return val.(*CompiledModule), true
}

// StoreCompiledModule caches a compiled guest under its name.
func (r *Runtime) StoreCompiledModule(module *CompiledModule) {
	r.modules.Store(module.Name, module)
}

// track records a live instance. It fails when the runtime is closed, the
// id is taken or MaxInstances would be exceeded.
func (r *Runtime) track(id string, mod api.Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.closed:
		return fmt.Errorf("runtime is closed")
	case r.instances[id] != nil:
		return fmt.Errorf("instance id %s is already in use", id)
	case r.config.MaxInstances > 0 && len(r.instances) >= r.config.MaxInstances:
		return fmt.Errorf("instance limit %d reached", r.config.MaxInstances)
	}
	r.instances[id] = mod
	return nil
}

func (r *Runtime) untrack(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
}

// InstanceCount returns the number of live instances.
func (r *Runtime) InstanceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}
