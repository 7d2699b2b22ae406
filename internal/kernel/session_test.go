package kernel

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/robokernel/internal/app"
	"github.com/woxQAQ/robokernel/internal/config"
	"github.com/woxQAQ/robokernel/internal/console"
	"github.com/woxQAQ/robokernel/internal/hostfunc"
	"github.com/woxQAQ/robokernel/internal/sim"
	"github.com/woxQAQ/robokernel/internal/wasm"
	"github.com/woxQAQ/robokernel/internal/wasm/wasmtest"
	"github.com/woxQAQ/robokernel/pkg/protocol"
)

const waveManifest = `
name: wave
version: 0.1.0
robot: demo-arm
wasm:
  file: wave.wasm
`

// writeWaveApp writes the wave app into a fresh app directory and returns
// the directory apps are discovered in.
func writeWaveApp(t *testing.T, guest []byte) string {
	t.Helper()
	base := t.TempDir()
	dir := filepath.Join(base, "wave")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, app.ManifestFile), []byte(waveManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wave.wasm"), guest, 0o644))
	return base
}

func testConfig(t *testing.T, appDir string) *config.ServerConfig {
	t.Helper()
	cfg, err := config.LoadServerConfig("", nil)
	require.NoError(t, err)
	cfg.AppPaths = []string{appDir}
	cfg.Wasm.CacheDir = ""
	return cfg
}

type harness struct {
	logger   *zap.Logger
	router   *Router
	registry *hostfunc.Registry
	sim      *sim.Simulation
	console  *console.Sink
	out      *bytes.Buffer
	apps     *app.Manager
}

func newHarness(t *testing.T, opts ...wasmtest.Option) *harness {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	cfg := testConfig(t, writeWaveApp(t, wasmtest.Guest(opts...)))

	s, err := sim.New(sim.DefaultModel(), logger)
	require.NoError(t, err)

	runtime, err := wasm.NewRuntime(ctx, logger, &wasm.RuntimeConfig{
		MemoryPages: cfg.Wasm.MemoryPages,
		HostModule:  cfg.Bridge.HostModule,
	})
	require.NoError(t, err)

	out := &bytes.Buffer{}
	sink := console.NewSink(out, logger)
	router := NewRouter(logger)
	apps := app.NewManager(cfg, runtime, wasm.NewHostFunctions(router, logger), logger)
	require.NoError(t, apps.LoadAll(ctx))
	t.Cleanup(func() { _ = apps.Shutdown(ctx) })

	return &harness{
		logger:   logger,
		router:   router,
		registry: hostfunc.NewRegistry(s, sink, logger),
		sim:      s,
		console:  sink,
		out:      out,
		apps:     apps,
	}
}

func (h *harness) newSession(timeout time.Duration) *Session {
	return NewSession(h.router, h.registry, SessionConfig{
		App:              "wave",
		CallTimeout:      timeout,
		ResponseCapacity: 4096,
	}, h.logger)
}

// serve runs the responder until the returned stop function is called.
func serve(s *Session) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Responder().Serve(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// callGuest makes the guest issue one host call through its trampoline
// export and decodes the result it got back.
func callGuest(t *testing.T, mod api.Module, importName string, req protocol.Message) protocol.Result {
	t.Helper()
	ctx := context.Background()

	payload := req.Marshal()
	if len(payload) > 0 {
		require.True(t, mod.Memory().Write(wasmtest.DataOffset, payload))
	}

	fn := mod.ExportedFunction("call_" + importName)
	require.NotNil(t, fn, "guest does not export a trampoline for %s", importName)
	ret, err := fn.Call(ctx, uint64(wasmtest.DataOffset), uint64(len(payload)))
	require.NoError(t, err)
	ptr := api.DecodeU32(ret[0])
	require.NotZero(t, ptr, "no result was written")

	lenRet, err := mod.ExportedFunction("last_alloc_len").Call(ctx)
	require.NoError(t, err)
	b, ok := mod.Memory().Read(ptr, api.DecodeU32(lenRet[0]))
	require.True(t, ok)

	res, err := protocol.DecodeResult(b)
	require.NoError(t, err)
	return res
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "attaching", StateAttaching.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "SessionState(9)", SessionState(9).String())
}

func TestSession_Lifecycle(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(time.Second)
	defer serve(s)()
	ctx := context.Background()

	assert.Equal(t, StateAttaching, s.State())
	require.NoError(t, s.Attach(ctx, h.apps))
	assert.Equal(t, StateReady, s.State())

	registered, ok := h.router.Session(s.ID)
	require.True(t, ok)
	assert.Same(t, s, registered)
	assert.Equal(t, s.ID, s.currentInstance().Module().Name())

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, StateClosed, s.State())
	_, ok = h.router.Session(s.ID)
	assert.False(t, ok)

	require.NoError(t, s.Close(ctx), "second close is a no-op")

	err := s.Attach(ctx, h.apps)
	assert.True(t, errors.Is(err, protocol.ErrModuleNotReady))
}

func TestSession_GuestCalls(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(time.Second)
	defer serve(s)()
	ctx := context.Background()

	require.NoError(t, s.Attach(ctx, h.apps))
	defer s.Close(ctx)
	mod := s.currentInstance().Module()

	t.Run("get_actuator_info", func(t *testing.T) {
		res := callGuest(t, mod, "get_actuator_info", &protocol.GetActuatorInfoRequest{})
		require.True(t, res.OK(), res.Message)

		var info protocol.GetActuatorInfoResponse
		require.NoError(t, info.Unmarshal(res.Data))
		require.Len(t, info.Actuators, 2)
		assert.Equal(t, "shoulder", info.Actuators[0].Name)
		assert.Equal(t, float32(-1.57), info.Actuators[0].CtrlMin)
		assert.Equal(t, float32(1.57), info.Actuators[0].CtrlMax)
		assert.Equal(t, "elbow", info.Actuators[1].Name)
		assert.Equal(t, float32(0), info.Actuators[1].CtrlMin)
		assert.Equal(t, float32(2.0), info.Actuators[1].CtrlMax)
	})

	t.Run("set_actuator_controls", func(t *testing.T) {
		res := callGuest(t, mod, "set_actuator_controls", &protocol.SetActuatorControlsRequest{
			ActuatorIndices: []int32{1, 2},
			Values:          []float32{0.5, 9},
		})
		require.True(t, res.OK(), res.Message)

		info := h.sim.GetActuatorInfo()
		assert.Equal(t, float32(0.5), info[0].Ctrl)
		assert.Equal(t, float32(2.0), info[1].Ctrl, "clamped to the control range")
	})

	t.Run("get_joint_pos", func(t *testing.T) {
		h.sim.Step(0.002)
		res := callGuest(t, mod, "get_joint_pos", &protocol.GetJointPosRequest{})
		require.True(t, res.OK(), res.Message)

		var pos protocol.GetJointPosResponse
		require.NoError(t, pos.Unmarshal(res.Data))
		assert.Equal(t, []float32{0.5, 2.0}, pos.Positions)
	})

	t.Run("get_joint_info", func(t *testing.T) {
		res := callGuest(t, mod, "get_joint_info", &protocol.GetJointInfoRequest{})
		require.True(t, res.OK(), res.Message)

		var info protocol.GetJointInfoResponse
		require.NoError(t, info.Unmarshal(res.Data))
		require.Len(t, info.Joints, 2)
		assert.Equal(t, "shoulder_joint", info.Joints[0].Name)
		assert.Equal(t, int32(1), info.Joints[0].ID)
		assert.Equal(t, int32(2), info.Joints[1].ID)
	})

	t.Run("run_target_action id below one", func(t *testing.T) {
		res := callGuest(t, mod, "run_target_action", &protocol.RunTargetActionRequest{
			ServoIDs:      []int32{0},
			TargetRadians: []float32{1},
		})
		assert.Equal(t, protocol.CodeInvalidArgument, res.Code)
		assert.Contains(t, res.Message, "ids start at 1")
	})

	t.Run("console_write", func(t *testing.T) {
		res := callGuest(t, mod, "console_write", &protocol.ConsoleWriteRequest{Message: []byte("waving")})
		require.True(t, res.OK(), res.Message)

		last, ok := h.console.Last()
		require.True(t, ok)
		assert.Equal(t, "waving", last.Content)
		assert.Equal(t, "waving\n", h.out.String())
	})

	t.Run("host_call with unknown kind", func(t *testing.T) {
		ret, err := mod.ExportedFunction("call_host_call").Call(ctx, 99, 0, 0)
		require.NoError(t, err)
		lenRet, err := mod.ExportedFunction("last_alloc_len").Call(ctx)
		require.NoError(t, err)
		b, ok := mod.Memory().Read(api.DecodeU32(ret[0]), api.DecodeU32(lenRet[0]))
		require.True(t, ok)

		res, err := protocol.DecodeResult(b)
		require.NoError(t, err)
		assert.Equal(t, protocol.CodeUnknownCallKind, res.Code)
		assert.Equal(t, "Unknown call kind: 99", res.Message)
	})

	t.Run("out of bounds request", func(t *testing.T) {
		fn := mod.ExportedFunction("call_get_joint_pos")
		ret, err := fn.Call(ctx, uint64(wasmtest.MemoryPages*65536-4), 64)
		require.NoError(t, err)
		lenRet, err := mod.ExportedFunction("last_alloc_len").Call(ctx)
		require.NoError(t, err)
		b, ok := mod.Memory().Read(api.DecodeU32(ret[0]), api.DecodeU32(lenRet[0]))
		require.True(t, ok)

		res, err := protocol.DecodeResult(b)
		require.NoError(t, err)
		assert.Equal(t, protocol.CodeMemoryOutOfBounds, res.Code)
	})
}

func TestSession_TimeoutWhenNotServed(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(50 * time.Millisecond)
	stop := serve(s)
	ctx := context.Background()

	require.NoError(t, s.Attach(ctx, h.apps))
	defer s.Close(ctx)
	stop()

	res := callGuest(t, s.currentInstance().Module(), "get_joint_pos", &protocol.GetJointPosRequest{})
	assert.Equal(t, protocol.CodeTimeout, res.Code)

	// Local calls do not need the simulation goroutine.
	res = callGuest(t, s.currentInstance().Module(), "console_write", &protocol.ConsoleWriteRequest{Message: []byte("still here")})
	assert.True(t, res.OK(), res.Message)
}

func TestSession_RunRequiresAttach(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(time.Second)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrModuleNotReady))
}

func TestSession_AttachUnknownApp(t *testing.T) {
	h := newHarness(t)
	s := NewSession(h.router, h.registry, SessionConfig{
		App:              "missing",
		CallTimeout:      time.Second,
		ResponseCapacity: 4096,
	}, h.logger)
	defer serve(s)()

	err := s.Attach(context.Background(), h.apps)
	var notFound *app.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.AppName)

	_, ok := h.router.Session(s.ID)
	assert.False(t, ok, "failed attach leaves no route behind")
}

func TestRouter_ModuleWithoutSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	instance, err := h.apps.Instantiate(ctx, "wave", "stray", nil)
	require.NoError(t, err)
	defer instance.Close(ctx)

	res := callGuest(t, instance.Module(), "get_joint_pos", &protocol.GetJointPosRequest{})
	assert.Equal(t, protocol.CodeModuleNotReady, res.Code)

	res = callGuest(t, instance.Module(), "console_write", &protocol.ConsoleWriteRequest{Message: []byte("lost")})
	assert.Equal(t, protocol.CodeModuleNotReady, res.Code)
	_, ok := h.console.Last()
	assert.False(t, ok)
}
