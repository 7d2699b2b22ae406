package app

import (
	"fmt"
)

// ManifestNotFoundError occurs when manifest.yaml is not found in a directory.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at '%s': %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error {
	return e.Err
}

// ManifestParseError occurs when manifest.yaml cannot be parsed as valid YAML.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest at '%s': %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// ManifestValidationError occurs when manifest.yaml fails validation.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ManifestValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest validation failed at '%s': %s (field: %s)",
			e.Path, e.Message, e.Field)
	}
	return fmt.Sprintf("manifest validation failed at '%s': %s", e.Path, e.Message)
}

// WasmNotFoundError occurs when the Wasm file referenced in manifest doesn't exist.
type WasmNotFoundError struct {
	ManifestPath string
	WasmFile     string
}

func (e *WasmNotFoundError) Error() string {
	return fmt.Sprintf("Wasm file '%s' not found (referenced in manifest '%s')",
		e.WasmFile, e.ManifestPath)
}

// LoadError occurs when app loading fails.
type LoadError struct {
	AppName string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load app '%s': %v", e.AppName, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// NotFoundError occurs when an app is not found in the registry.
type NotFoundError struct {
	AppName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("app '%s' not found", e.AppName)
}

// NoAppForRobotError occurs when no loaded app targets a robot model.
type NoAppForRobotError struct {
	Robot string
}

func (e *NoAppForRobotError) Error() string {
	return fmt.Sprintf("no app found for robot '%s'", e.Robot)
}

// AlreadyRegisteredError occurs when attempting to register a duplicate app.
type AlreadyRegisteredError struct {
	AppName string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("app '%s' is already registered", e.AppName)
}

// NoAppsFoundError occurs when no apps are found in the configured paths.
type NoAppsFoundError struct {
	Paths []string
}

func (e *NoAppsFoundError) Error() string {
	return fmt.Sprintf("no apps found in paths: %v", e.Paths)
}
