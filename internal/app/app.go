package app

import (
	"time"

	"github.com/woxQAQ/robokernel/internal/wasm"
)

// App represents a loaded robot app with its manifest and compiled Wasm module.
type App struct {
	// Manifest is the parsed app metadata
	Manifest *Manifest

	// Compiled is the compiled Wasm module
	Compiled *wasm.CompiledModule

	// LoadedAt is the timestamp when the app was loaded
	LoadedAt time.Time
}

// Name returns the app name.
func (a *App) Name() string {
	return a.Manifest.Name
}

// Robot returns the robot model this app drives.
func (a *App) Robot() string {
	return a.Manifest.Robot
}

// Version returns the app version.
func (a *App) Version() string {
	return a.Manifest.Version
}

// Imports returns the host calls the app declares.
func (a *App) Imports() []string {
	return a.Manifest.Imports
}
