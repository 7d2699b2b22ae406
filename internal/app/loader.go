package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/robokernel/internal/wasm"
)

// Loader handles loading robot apps from disk.
type Loader struct {
	runtime      *wasm.Runtime
	moduleLoader *wasm.ModuleLoader
	logger       *zap.Logger
}

// NewLoader creates a new app loader.
func NewLoader(runtime *wasm.Runtime, logger *zap.Logger) *Loader {
	return &Loader{
		runtime:      runtime,
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		logger:       logger.With(zap.String("component", "app-loader")),
	}
}

// LoadApp loads a single app from a directory.
func (l *Loader) LoadApp(ctx context.Context, dir string) (*App, error) {
	l.logger.Debug("Loading app", zap.String("dir", dir))

	manifest, err := ParseManifest(dir)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Loading app",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
		zap.String("robot", manifest.Robot),
	)

	// Compile Wasm module (uses internal caching)
	compiled, err := l.moduleLoader.LoadModuleFromFile(ctx, manifest.Name, manifest.WasmPath())
	if err != nil {
		return nil, &LoadError{
			AppName: manifest.Name,
			Err:     err,
		}
	}

	if err := l.checkDeclaredImports(manifest, compiled); err != nil {
		return nil, err
	}

	app := &App{
		Manifest: manifest,
		Compiled: compiled,
		LoadedAt: time.Now(),
	}

	l.logger.Info("App loaded successfully",
		zap.String("name", manifest.Name),
		zap.Int64("size_bytes", compiled.SizeBytes),
	)

	return app, nil
}

// checkDeclaredImports rejects a guest that imports host functions its
// manifest does not declare. An empty declaration list allows every known
// host function.
func (l *Loader) checkDeclaredImports(manifest *Manifest, compiled *wasm.CompiledModule) error {
	if len(manifest.Imports) == 0 {
		return nil
	}

	hostModule := l.runtime.Config().HostModule
	for _, def := range compiled.Module.ImportedFunctions() {
		module, fn, _ := def.Import()
		if module != hostModule || slices.Contains(manifest.Imports, fn) {
			continue
		}
		return &ManifestValidationError{
			Path:    manifest.Path(),
			Field:   "imports",
			Message: fmt.Sprintf("module imports undeclared host function: %s", fn),
		}
	}
	return nil
}

// DiscoverApps scans directories for robot apps.
func (l *Loader) DiscoverApps(ctx context.Context, paths []string) ([]*App, error) {
	var apps []*App
	var errs []error

	for _, basePath := range paths {
		l.logger.Debug("Scanning app directory", zap.String("path", basePath))

		// Read subdirectories
		entries, err := os.ReadDir(basePath)
		if err != nil {
			if os.IsNotExist(err) {
				l.logger.Warn("App path does not exist", zap.String("path", basePath))
				continue
			}
			return nil, fmt.Errorf("failed to read directory '%s': %w", basePath, err)
		}

		// Try to load each subdirectory as an app
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			appDir := filepath.Join(basePath, entry.Name())

			app, err := l.LoadApp(ctx, appDir)
			if err != nil {
				l.logger.Error("Failed to load app",
					zap.String("dir", appDir),
					zap.Error(err),
				)
				errs = append(errs, err)
				continue
			}

			apps = append(apps, app)
		}
	}

	// If we found some apps but had errors, log warning but continue
	if len(apps) > 0 && len(errs) > 0 {
		l.logger.Warn("Some apps failed to load",
			zap.Int("loaded", len(apps)),
			zap.Int("failed", len(errs)),
		)
	}

	if len(apps) == 0 {
		return nil, &NoAppsFoundError{Paths: paths}
	}

	return apps, nil
}
