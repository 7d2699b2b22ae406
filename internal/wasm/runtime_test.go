package wasm

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/robokernel/pkg/protocol"
)

func newRuntime(t *testing.T, config *RuntimeConfig) *Runtime {
	t.Helper()
	runtime, err := NewRuntime(context.Background(), zaptest.NewLogger(t), config)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	return runtime
}

func TestRuntimeDefaults(t *testing.T) {
	runtime := newRuntime(t, nil)
	defer runtime.Close(context.Background())

	got := runtime.Config()
	if got.MemoryPages != 256 {
		t.Errorf("MemoryPages = %d, want 256", got.MemoryPages)
	}
	if got.MaxInstances != 100 {
		t.Errorf("MaxInstances = %d, want 100", got.MaxInstances)
	}
	if got.ExecutionTimeout != 30*time.Second {
		t.Errorf("ExecutionTimeout = %v, want 30s", got.ExecutionTimeout)
	}
	if got.HostModule != DefaultHostModule {
		t.Errorf("HostModule = %q, want %q", got.HostModule, DefaultHostModule)
	}
}

func TestRuntimeHostModuleFallback(t *testing.T) {
	runtime := newRuntime(t, &RuntimeConfig{MemoryPages: 128, DebugEnabled: true})
	defer runtime.Close(context.Background())

	if runtime.Config().MemoryPages != 128 {
		t.Errorf("MemoryPages = %d, want 128", runtime.Config().MemoryPages)
	}
	if runtime.Config().HostModule != DefaultHostModule {
		t.Errorf("HostModule = %q, want %q", runtime.Config().HostModule, DefaultHostModule)
	}
}

func TestRuntimeCompilationCacheDir(t *testing.T) {
	config := DefaultRuntimeConfig()
	config.CacheDir = t.TempDir()

	runtime := newRuntime(t, config)
	if err := runtime.Close(context.Background()); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestRuntimeClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runtime := newRuntime(t, nil)

	if runtime.IsClosed() {
		t.Fatal("runtime reports closed before Close")
	}

	cancel()
	if err := runtime.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("Close with cancelled context: %v", err)
	}
	if !runtime.IsClosed() {
		t.Error("runtime should report closed")
	}
	if err := runtime.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestRuntimeCompiledModules(t *testing.T) {
	runtime := newRuntime(t, nil)
	defer runtime.Close(context.Background())

	if _, ok := runtime.GetCompiledModule("wave"); ok {
		t.Fatal("empty runtime returned a compiled module")
	}

	runtime.StoreCompiledModule(&CompiledModule{Name: "wave", Source: "apps/wave/wave.wasm", SizeBytes: 1024})

	got, ok := runtime.GetCompiledModule("wave")
	if !ok {
		t.Fatal("compiled module was not cached")
	}
	if got.Source != "apps/wave/wave.wasm" {
		t.Errorf("Source = %s", got.Source)
	}
}

func TestErrorMessages(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "compilation",
			err:  &CompilationError{ModuleName: "wave", Err: cause},
			want: "compile guest wave: boom",
		},
		{
			name: "instantiation",
			err:  &InstantiationError{ModuleName: "wave", InstanceID: "01J", Err: cause},
			want: "instantiate guest wave as 01J: boom",
		},
		{
			name: "module not found",
			err:  &ModuleNotFoundError{ModuleName: "wave"},
			want: "guest wave has not been compiled",
		},
		{
			name: "function not found",
			err:  &FunctionNotFoundError{ModuleName: "wave", FunctionName: DefaultAllocator},
			want: "guest wave does not export wasm_new_bytes",
		},
		{
			name: "guest contract",
			err:  &GuestContractError{ModuleName: "wave", Imports: []string{"env.fly", "sys.exit"}},
			want: "guest wave imports unknown host functions: env.fly, sys.exit",
		},
		{
			name: "memory access",
			err:  &MemoryAccessError{Operation: "read", Address: 10, Length: 5, Err: cause},
			want: "guest memory read of 5 bytes at 10: boom",
		},
		{
			name: "timeout",
			err:  &TimeoutError{Duration: time.Second},
			want: "guest entry point ran longer than 1s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")

	if !errors.Is(&CompilationError{Err: cause}, cause) {
		t.Error("CompilationError should unwrap to its cause")
	}
	if !errors.Is(&InstantiationError{Err: cause}, cause) {
		t.Error("InstantiationError should unwrap to its cause")
	}
}

func TestMemoryAccessErrorIsOutOfBounds(t *testing.T) {
	err := &MemoryAccessError{Operation: "write", Address: 10, Length: 5, Err: errors.New("boom")}

	if !errors.Is(err, protocol.ErrMemoryOutOfBounds) {
		t.Error("MemoryAccessError should match ErrMemoryOutOfBounds")
	}
	if errors.Is(err, protocol.ErrInternal) {
		t.Error("MemoryAccessError should not match ErrInternal")
	}
}
