package wasm

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

// ModuleLoader compiles guest modules and checks them against the host
// contract before they can be instantiated.
type ModuleLoader struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewModuleLoader creates a new module loader.
func NewModuleLoader(runtime *Runtime, logger *zap.Logger) *ModuleLoader {
	return &ModuleLoader{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-loader")),
	}
}

// ModuleSource represents a source of guest bytecode.
type ModuleSource interface {
	// Bytes returns the Wasm bytecode.
	Bytes() ([]byte, error)

	// Name is the cache key; robot apps use their manifest name.
	Name() string

	// Origin describes where the bytes came from, for logs.
	Origin() string
}

// FileModuleSource loads a guest from disk.
type FileModuleSource struct {
	ModuleName string
	Path       string
}

func (f *FileModuleSource) Bytes() ([]byte, error) { return os.ReadFile(f.Path) }

func (f *FileModuleSource) Name() string {
	if f.ModuleName == "" {
		return f.Path
	}
	return f.ModuleName
}

func (f *FileModuleSource) Origin() string { return f.Path }

// MemoryModuleSource holds guest bytes already in memory.
type MemoryModuleSource struct {
	ModuleName string
	Data       []byte
}

func (m *MemoryModuleSource) Bytes() ([]byte, error) { return m.Data, nil }
func (m *MemoryModuleSource) Name() string           { return m.ModuleName }
func (m *MemoryModuleSource) Origin() string         { return "memory" }

// LoadModule compiles source unless it is already cached.
func (l *ModuleLoader) LoadModule(ctx context.Context, source ModuleSource) (*CompiledModule, error) {
	if cached, ok := l.runtime.GetCompiledModule(source.Name()); ok {
		l.logger.Debug("Module cache hit", zap.String("module", source.Name()))
		return cached, nil
	}

	wasmBytes, err := source.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", source.Name(), err)
	}

	l.logger.Info("Compiling guest module",
		zap.String("module", source.Name()),
		zap.String("origin", source.Origin()),
		zap.Int("size_bytes", len(wasmBytes)),
	)

	start := time.Now()
	compiled, err := l.runtime.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, &CompilationError{ModuleName: source.Name(), Err: err}
	}

	if err := l.checkImports(source.Name(), compiled); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	module := &CompiledModule{
		Module:     compiled,
		Name:       source.Name(),
		Source:     source.Origin(),
		SizeBytes:  int64(len(wasmBytes)),
		CompiledAt: time.Now().Unix(),
	}
	l.runtime.StoreCompiledModule(module)

	l.logger.Info("Module compiled successfully",
		zap.String("module", source.Name()),
		zap.Duration("duration", time.Since(start)),
	)

	return module, nil
}

// LoadModuleFromFile compiles the guest at path and caches it under name.
func (l *ModuleLoader) LoadModuleFromFile(ctx context.Context, name, path string) (*CompiledModule, error) {
	return l.LoadModule(ctx, &FileModuleSource{ModuleName: name, Path: path})
}

// LoadModuleFromMemory compiles data and caches it under name.
func (l *ModuleLoader) LoadModuleFromMemory(ctx context.Context, name string, data []byte) (*CompiledModule, error) {
	return l.LoadModule(ctx, &MemoryModuleSource{ModuleName: name, Data: data})
}

// checkImports verifies every function import resolves to the host module
// or WASI.
func (l *ModuleLoader) checkImports(name string, compiled wazero.CompiledModule) error {
	hostModule := l.runtime.config.HostModule
	known := ImportNames()

	var unknown []string
	for _, def := range compiled.ImportedFunctions() {
		module, fn, _ := def.Import()
		switch {
		case module == wasi_snapshot_preview1.ModuleName:
		case module == hostModule && slices.Contains(known, fn):
		default:
			unknown = append(unknown, module+"."+fn)
		}
	}
	if len(unknown) > 0 {
		l.logger.Warn("Guest module rejected",
			zap.String("module", name),
			zap.Strings("unknown_imports", unknown),
		)
		return &GuestContractError{ModuleName: name, Imports: unknown}
	}
	return nil
}
