package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/robokernel/internal/config"
	"github.com/woxQAQ/robokernel/internal/wasm"
	"github.com/woxQAQ/robokernel/internal/wasm/wasmtest"
	"github.com/woxQAQ/robokernel/pkg/protocol"
)

const validManifest = `
name: wave
version: 1.0.0
robot: demo-arm
wasm:
  file: wave.wasm
  size: 1
entry_point: main
author: robotics team
license: MIT
`

// writeApp creates base/dir with a manifest and, when wasmBytes is not nil,
// the wasm file it references.
func writeApp(t *testing.T, base, dir, manifest string, wasmFile string, wasmBytes []byte) string {
	t.Helper()
	appDir := filepath.Join(base, dir)
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(appDir, ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if wasmBytes != nil {
		if err := os.WriteFile(filepath.Join(appDir, wasmFile), wasmBytes, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return appDir
}

func newTestRuntime(t *testing.T) *wasm.Runtime {
	t.Helper()
	ctx := context.Background()
	runtime, err := wasm.NewRuntime(ctx, zaptest.NewLogger(t), wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	t.Cleanup(func() { runtime.Close(ctx) })
	return runtime
}

type nopHandler struct{}

func (nopHandler) HandleGuestCall(context.Context, api.Module, protocol.CallKind, uint32, uint32) uint32 {
	return 0
}

func newTestManager(t *testing.T, paths ...string) *Manager {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg, err := config.LoadServerConfig("", nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg.AppPaths = paths
	return NewManager(cfg, newTestRuntime(t), wasm.NewHostFunctions(nopHandler{}, logger), logger)
}

func TestParseManifest_Valid(t *testing.T) {
	dir := writeApp(t, t.TempDir(), "wave", validManifest, "wave.wasm", wasmtest.Guest())

	manifest, err := ParseManifest(dir)
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}

	if manifest.Name != "wave" {
		t.Errorf("expected Name 'wave', got '%s'", manifest.Name)
	}

	if manifest.Robot != "demo-arm" {
		t.Errorf("expected Robot 'demo-arm', got '%s'", manifest.Robot)
	}

	if manifest.EntryPoint != "main" {
		t.Errorf("expected EntryPoint 'main', got '%s'", manifest.EntryPoint)
	}

	if manifest.Path() != filepath.Join(dir, ManifestFile) {
		t.Errorf("unexpected Path '%s'", manifest.Path())
	}

	if manifest.WasmPath() != filepath.Join(dir, "wave.wasm") {
		t.Errorf("unexpected WasmPath '%s'", manifest.WasmPath())
	}

	if manifest.Dir() != dir {
		t.Errorf("expected Dir '%s', got '%s'", dir, manifest.Dir())
	}
}

func TestParseManifest_Errors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		wasm     []byte
		check    func(t *testing.T, err error)
	}{
		{
			name:     "invalid yaml",
			manifest: "name: [unterminated",
			check: func(t *testing.T, err error) {
				if _, ok := err.(*ManifestParseError); !ok {
					t.Errorf("expected ManifestParseError, got %T", err)
				}
			},
		},
		{
			name:     "missing robot",
			manifest: "name: wave\nversion: 1.0.0\nwasm:\n  file: wave.wasm\n",
			wasm:     []byte{0},
			check:    expectField("robot"),
		},
		{
			name:     "missing wasm file field",
			manifest: "name: wave\nversion: 1.0.0\nrobot: demo-arm\n",
			check:    expectField("wasm.file"),
		},
		{
			name:     "unknown import",
			manifest: validManifest + "imports: [get_joint_pos, fly]\n",
			wasm:     []byte{0},
			check:    expectField("imports"),
		},
		{
			name:     "wasm not found",
			manifest: validManifest,
			check: func(t *testing.T, err error) {
				if _, ok := err.(*WasmNotFoundError); !ok {
					t.Errorf("expected WasmNotFoundError, got %T", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeApp(t, t.TempDir(), "app", tt.manifest, "wave.wasm", tt.wasm)
			_, err := ParseManifest(dir)
			if err == nil {
				t.Fatal("ParseManifest() should fail")
			}
			tt.check(t, err)
		})
	}
}

func expectField(field string) func(t *testing.T, err error) {
	return func(t *testing.T, err error) {
		validationErr, ok := err.(*ManifestValidationError)
		if !ok {
			t.Errorf("expected ManifestValidationError, got %T", err)
			return
		}
		if validationErr.Field != field {
			t.Errorf("expected Field '%s', got '%s'", field, validationErr.Field)
		}
	}
}

func TestParseManifest_NotFound(t *testing.T) {
	_, err := ParseManifest(filepath.Join(t.TempDir(), "nonexistent"))
	if _, ok := err.(*ManifestNotFoundError); !ok {
		t.Errorf("expected ManifestNotFoundError, got %T", err)
	}
}

func TestLoader_LoadApp(t *testing.T) {
	dir := writeApp(t, t.TempDir(), "wave", validManifest, "wave.wasm", wasmtest.Guest())
	loader := NewLoader(newTestRuntime(t), zaptest.NewLogger(t))

	app, err := loader.LoadApp(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadApp() failed: %v", err)
	}

	if app.Name() != "wave" || app.Robot() != "demo-arm" || app.Version() != "1.0.0" {
		t.Errorf("unexpected app metadata: %s %s %s", app.Name(), app.Robot(), app.Version())
	}

	if app.Compiled == nil || app.Compiled.Name != "wave" {
		t.Errorf("expected compiled module named 'wave', got %+v", app.Compiled)
	}
}

func TestLoader_LoadApp_UndeclaredImport(t *testing.T) {
	manifest := validManifest + "imports: [get_joint_pos]\n"
	dir := writeApp(t, t.TempDir(), "wave", manifest, "wave.wasm", wasmtest.Guest())
	loader := NewLoader(newTestRuntime(t), zaptest.NewLogger(t))

	_, err := loader.LoadApp(context.Background(), dir)
	validationErr, ok := err.(*ManifestValidationError)
	if !ok {
		t.Fatalf("expected ManifestValidationError, got %T (%v)", err, err)
	}
	if !strings.Contains(validationErr.Message, "undeclared host function") {
		t.Errorf("unexpected message: %s", validationErr.Message)
	}
}

func TestLoader_LoadApp_DeclaresEveryImport(t *testing.T) {
	manifest := validManifest + "imports: [" + strings.Join(wasmtest.ImportNames(), ", ") + "]\n"
	dir := writeApp(t, t.TempDir(), "wave", manifest, "wave.wasm", wasmtest.Guest())
	loader := NewLoader(newTestRuntime(t), zaptest.NewLogger(t))

	if _, err := loader.LoadApp(context.Background(), dir); err != nil {
		t.Fatalf("LoadApp() failed: %v", err)
	}
}

func TestLoader_LoadApp_UnknownHostImport(t *testing.T) {
	dir := writeApp(t, t.TempDir(), "wave", validManifest, "wave.wasm", wasmtest.Guest(wasmtest.WithExtraImport("teleport")))
	loader := NewLoader(newTestRuntime(t), zaptest.NewLogger(t))

	_, err := loader.LoadApp(context.Background(), dir)
	loadErr, ok := err.(*LoadError)
	if !ok {
		t.Fatalf("expected LoadError, got %T", err)
	}
	if _, ok := loadErr.Err.(*wasm.GuestContractError); !ok {
		t.Errorf("expected GuestContractError cause, got %T", loadErr.Err)
	}
}

func TestLoader_DiscoverApps(t *testing.T) {
	base := t.TempDir()
	writeApp(t, base, "wave", validManifest, "wave.wasm", wasmtest.Guest())
	writeApp(t, base, "broken", "name: broken\n", "", nil)
	if err := os.WriteFile(filepath.Join(base, "README.md"), []byte("apps"), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(newTestRuntime(t), zaptest.NewLogger(t))
	apps, err := loader.DiscoverApps(context.Background(), []string{base, filepath.Join(base, "missing")})
	if err != nil {
		t.Fatalf("DiscoverApps() failed: %v", err)
	}

	if len(apps) != 1 || apps[0].Name() != "wave" {
		t.Fatalf("expected only 'wave' to load, got %d apps", len(apps))
	}

	_, err = loader.DiscoverApps(context.Background(), []string{filepath.Join(base, "missing")})
	if _, ok := err.(*NoAppsFoundError); !ok {
		t.Errorf("expected NoAppsFoundError, got %T", err)
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	apps := []*App{
		{Manifest: &Manifest{Name: "wave", Robot: "demo-arm"}},
		{Manifest: &Manifest{Name: "grip", Robot: "gripper"}},
		{Manifest: &Manifest{Name: "dance", Robot: "demo-arm"}},
	}
	for _, app := range apps {
		if err := registry.Register(app); err != nil {
			t.Fatalf("Register() failed: %v", err)
		}
	}

	if registry.Count() != 3 {
		t.Errorf("expected count 3, got %d", registry.Count())
	}

	if err := registry.Register(apps[0]); err == nil {
		t.Error("Register() should reject a duplicate name")
	} else if _, ok := err.(*AlreadyRegisteredError); !ok {
		t.Errorf("expected AlreadyRegisteredError, got %T", err)
	}

	arm := registry.LookupByRobot("demo-arm")
	if len(arm) != 2 || arm[0].Name() != "wave" || arm[1].Name() != "dance" {
		t.Errorf("unexpected demo-arm apps: %v", arm)
	}

	list := registry.List()
	if len(list) != 3 || list[0].Name() != "dance" || list[2].Name() != "wave" {
		t.Errorf("List() should be sorted by name")
	}

	registry.Unregister("wave")
	if _, ok := registry.Get("wave"); ok {
		t.Error("wave should be unregistered")
	}
	if arm := registry.LookupByRobot("demo-arm"); len(arm) != 1 {
		t.Errorf("expected 1 demo-arm app after unregister, got %d", len(arm))
	}

	registry.Unregister("grip")
	if len(registry.LookupByRobot("gripper")) != 0 {
		t.Error("gripper index should be empty")
	}
}

func TestManager_LoadAllAndInstantiate(t *testing.T) {
	base := t.TempDir()
	writeApp(t, base, "wave", validManifest, "wave.wasm", wasmtest.Guest())

	manager := newTestManager(t, base)
	ctx := context.Background()

	if err := manager.LoadAll(ctx); err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}

	if err := manager.LoadAll(ctx); err == nil {
		t.Error("second LoadAll() should fail")
	}

	app, err := manager.FindAppForRobot("demo-arm")
	if err != nil {
		t.Fatalf("FindAppForRobot() failed: %v", err)
	}

	instance, err := manager.Instantiate(ctx, app.Name(), "instance-1", nil)
	if err != nil {
		t.Fatalf("Instantiate() failed: %v", err)
	}
	defer instance.Close(ctx)

	if instance.Module().Name() != "instance-1" {
		t.Errorf("expected module name 'instance-1', got '%s'", instance.Module().Name())
	}

	if err := instance.Run(ctx); err != nil {
		t.Errorf("Run() failed: %v", err)
	}
}

func TestManager_NotFound(t *testing.T) {
	manager := newTestManager(t, filepath.Join(t.TempDir(), "none"))
	ctx := context.Background()

	if err := manager.LoadAll(ctx); err != nil {
		t.Fatalf("LoadAll() with no apps should succeed: %v", err)
	}

	if _, err := manager.GetApp("nonexistent"); err == nil {
		t.Error("GetApp() should fail")
	} else if _, ok := err.(*NotFoundError); !ok {
		t.Errorf("expected NotFoundError, got %T", err)
	}

	if _, err := manager.FindAppForRobot("demo-arm"); err == nil {
		t.Error("FindAppForRobot() should fail")
	} else if _, ok := err.(*NoAppForRobotError); !ok {
		t.Errorf("expected NoAppForRobotError, got %T", err)
	}

	if _, err := manager.Instantiate(ctx, "nonexistent", "id", nil); err == nil {
		t.Error("Instantiate() should fail")
	}
}

func TestManager_Shutdown(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() failed: %v", err)
	}
	if err := manager.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() failed: %v", err)
	}
}
