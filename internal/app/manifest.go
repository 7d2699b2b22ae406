package app

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/woxQAQ/robokernel/internal/wasm"
)

// ManifestFile is the file name looked up in every app directory.
const ManifestFile = "manifest.yaml"

// Manifest represents the robot app manifest.yaml structure.
type Manifest struct {
	Name       string     `yaml:"name"`
	Version    string     `yaml:"version"`
	Robot      string     `yaml:"robot"`
	Wasm       WasmConfig `yaml:"wasm"`
	Imports    []string   `yaml:"imports"`
	EntryPoint string     `yaml:"entry_point"`
	Allocator  string     `yaml:"allocator"`
	Author     string     `yaml:"author"`
	License    string     `yaml:"license"`

	// Internal fields
	dir string // Directory containing manifest
}

// WasmConfig holds Wasm module configuration.
type WasmConfig struct {
	File string `yaml:"file"`
	Size int    `yaml:"size"` // KB
}

// ParseManifest reads and parses manifest.yaml from a directory.
func ParseManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: manifestPath,
			Err:  err,
		}
	}

	m.dir = dir

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	required := []struct {
		field, value string
	}{
		{"name", m.Name},
		{"version", m.Version},
		{"robot", m.Robot},
		{"wasm.file", m.Wasm.File},
	}
	for _, r := range required {
		if r.value == "" {
			return &ManifestValidationError{
				Path:    m.Path(),
				Field:   r.field,
				Message: r.field + " is required",
			}
		}
	}

	known := wasm.ImportNames()
	for _, name := range m.Imports {
		if !slices.Contains(known, name) {
			return &ManifestValidationError{
				Path:    m.Path(),
				Field:   "imports",
				Message: fmt.Sprintf("unknown host function: %s", name),
			}
		}
	}

	// Validate Wasm file exists
	if _, err := os.Stat(m.WasmPath()); os.IsNotExist(err) {
		return &WasmNotFoundError{
			ManifestPath: m.Path(),
			WasmFile:     m.Wasm.File,
		}
	}

	return nil
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, ManifestFile)
}

// WasmPath returns the path to the Wasm file.
func (m *Manifest) WasmPath() string {
	return filepath.Join(m.dir, m.Wasm.File)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}
