package wasm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

// DefaultEntryPoint is the guest export that runs a robot app.
const DefaultEntryPoint = "main"

// initializeExport is the WASI reactor initializer.
const initializeExport = "_initialize"

// InstanceManager creates and manages module instances.
type InstanceManager struct {
	runtime   *Runtime
	logger    *zap.Logger
	hostFuncs *HostFunctionsImpl

	hostOnce sync.Once
	hostErr  error
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, hostFuncs *HostFunctionsImpl, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime:   runtime,
		hostFuncs: hostFuncs,
		logger:    logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID; also the wazero module name the host sees on every call.
	InstanceID string

	// Allocator export, DefaultAllocator when empty.
	Allocator string

	// Entry point export, DefaultEntryPoint when empty.
	EntryPoint string

	// Stdout receives WASI fd_write output, discarded when nil.
	Stdout io.Writer
}

// Instance represents an instantiated guest module.
type Instance struct {
	module api.Module

	ID   string
	Name string

	allocator  string
	entryPoint string
	timeout    time.Duration
	release    func()
}

// ensureHost instantiates the host module and WASI once per runtime.
func (m *InstanceManager) ensureHost(ctx context.Context) error {
	m.hostOnce.Do(func() {
		hostModule := m.runtime.config.HostModule
		builder := m.hostFuncs.Export(m.runtime.runtime.NewHostModuleBuilder(hostModule))
		if _, err := builder.Instantiate(ctx); err != nil {
			m.hostErr = fmt.Errorf("failed to instantiate host module %q: %w", hostModule, err)
			return
		}
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, m.runtime.runtime); err != nil {
			m.hostErr = fmt.Errorf("failed to instantiate WASI: %w", err)
			return
		}
		m.logger.Debug("Host module instantiated",
			zap.String("host_module", hostModule),
			zap.Strings("functions", ImportNames()),
		)
	})
	return m.hostErr
}

// Instantiate creates a new instance from a compiled module and checks the
// exports a robot app must provide.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}
	if config.InstanceID == "" {
		return nil, fmt.Errorf("instance of %s needs an id", config.ModuleName)
	}
	if err := m.ensureHost(ctx); err != nil {
		return nil, err
	}

	m.logger.Info("Instantiating guest module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", config.InstanceID),
	)

	stdout := config.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	// _start is not run; the entry point is called explicitly once the
	// host side is attached. Reactors are initialized below.
	moduleConfig := wazero.NewModuleConfig().
		WithName(config.InstanceID).
		WithStdout(stdout).
		WithStartFunctions()

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: config.InstanceID,
			Err:        err,
		}
	}

	instance := &Instance{
		module:     module,
		ID:         config.InstanceID,
		Name:       config.ModuleName,
		allocator:  config.Allocator,
		entryPoint: config.EntryPoint,
		timeout:    m.runtime.config.ExecutionTimeout,
		release:    func() { m.runtime.untrack(config.InstanceID) },
	}
	if instance.allocator == "" {
		instance.allocator = DefaultAllocator
	}
	if instance.entryPoint == "" {
		instance.entryPoint = DefaultEntryPoint
	}

	if err := instance.initialize(ctx); err != nil {
		_ = module.Close(ctx)
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: config.InstanceID,
			Err:        err,
		}
	}

	if err := instance.checkExports(); err != nil {
		_ = module.Close(ctx)
		return nil, err
	}

	if err := m.runtime.track(config.InstanceID, module); err != nil {
		_ = module.Close(ctx)
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: config.InstanceID,
			Err:        err,
		}
	}

	m.logger.Info("Module instantiated successfully",
		zap.String("instance_id", config.InstanceID),
		zap.String("entry_point", instance.entryPoint),
	)

	return instance, nil
}

// initialize runs the reactor initializer when the guest exports one.
// Go and Rust guests built as WASI reactors need it before any other export
// can be called.
func (i *Instance) initialize(ctx context.Context) error {
	fn := i.module.ExportedFunction(initializeExport)
	if fn == nil {
		return nil
	}
	if _, err := fn.Call(ctx); err != nil {
		return fmt.Errorf("call %s: %w", initializeExport, err)
	}
	return nil
}

func (i *Instance) checkExports() error {
	if i.module.Memory() == nil {
		return &FunctionNotFoundError{ModuleName: i.Name, FunctionName: "memory"}
	}
	if lookupAllocator(i.module, i.allocator) == nil {
		return &FunctionNotFoundError{ModuleName: i.Name, FunctionName: i.allocator}
	}
	if i.module.ExportedFunction(i.entryPoint) == nil {
		return &FunctionNotFoundError{ModuleName: i.Name, FunctionName: i.entryPoint}
	}
	return nil
}

// Module returns the underlying wazero module.
func (i *Instance) Module() api.Module {
	return i.module
}

// Memory binds the instance's memory and allocator.
func (i *Instance) Memory() *Memory {
	return NewModuleMemory(i.module, i.allocator)
}

// Run calls the entry point and blocks until it returns. Every host call
// the guest makes happens on this goroutine.
func (i *Instance) Run(ctx context.Context) error {
	fn := i.module.ExportedFunction(i.entryPoint)
	if fn == nil {
		return &FunctionNotFoundError{ModuleName: i.Name, FunctionName: i.entryPoint}
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	_, err := fn.Call(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Duration: i.timeout}
	}
	return err
}

// Close closes the instance and releases resources.
func (i *Instance) Close(ctx context.Context) error {
	i.release()
	return i.module.Close(ctx)
}
