package kernel

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/robokernel/internal/app"
	"github.com/woxQAQ/robokernel/internal/wasm/wasmtest"
	"github.com/woxQAQ/robokernel/pkg/protocol"
)

// scriptedGuest returns a guest whose main writes greeting to the console
// and then sets both actuators.
func scriptedGuest(greeting string, indices []int32, values []float32) []byte {
	consoleReq := (&protocol.ConsoleWriteRequest{Message: []byte(greeting)}).Marshal()
	controlsReq := (&protocol.SetActuatorControlsRequest{ActuatorIndices: indices, Values: values}).Marshal()

	data := append(append([]byte{}, consoleReq...), controlsReq...)
	controlsPtr := uint32(wasmtest.DataOffset + len(consoleReq))

	return wasmtest.Guest(
		wasmtest.WithData(data),
		wasmtest.WithMainCalls(
			wasmtest.Call{Import: "console_write", Ptr: wasmtest.DataOffset, Len: uint32(len(consoleReq))},
			wasmtest.Call{Import: "set_actuator_controls", Ptr: controlsPtr, Len: uint32(len(controlsReq))},
		),
	)
}

func TestServer_RunApp(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, writeWaveApp(t, scriptedGuest("arm up", []int32{1, 2}, []float32{0.5, 1.0})))
	out := &bytes.Buffer{}

	srv, err := NewServer(ctx, cfg, out, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer srv.Close(ctx)

	assert.Equal(t, "demo-arm", srv.Simulation().Name())
	assert.Equal(t, 1, srv.Apps().Registry().Count())

	require.NoError(t, srv.Run(ctx, ""))

	last, ok := srv.Console().Last()
	require.True(t, ok)
	assert.Equal(t, "arm up", last.Content)
	assert.Equal(t, "arm up\n", out.String())

	info := srv.Simulation().GetActuatorInfo()
	assert.Equal(t, float32(0.5), info[0].Ctrl)
	assert.Equal(t, float32(1.0), info[1].Ctrl)
}

func TestServer_RunTwice(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, writeWaveApp(t, scriptedGuest("again", []int32{2}, []float32{0.25})))

	srv, err := NewServer(ctx, cfg, &bytes.Buffer{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer srv.Close(ctx)

	require.NoError(t, srv.Run(ctx, "wave"))
	require.NoError(t, srv.Run(ctx, "wave"), "each run gets its own session")

	last, ok := srv.Console().Last()
	require.True(t, ok)
	assert.Equal(t, uint64(2), last.ID)
}

func TestServer_SimulationAdvances(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, writeWaveApp(t, wasmtest.Guest()))
	cfg.Simulation.Timestep = 0.001

	srv, err := NewServer(ctx, cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer srv.Close(ctx)

	simCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	session := NewSession(srv.router, srv.registry, SessionConfig{App: "wave", CallTimeout: time.Second, ResponseCapacity: 4096}, zaptest.NewLogger(t))
	go func() { done <- srv.simulate(simCtx, session.Responder()) }()

	require.Eventually(t, func() bool { return srv.Simulation().Time() > 0 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestServer_CancelledContextIsCleanShutdown(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, writeWaveApp(t, wasmtest.Guest()))

	srv, err := NewServer(ctx, cfg, &bytes.Buffer{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer srv.Close(ctx)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.NoError(t, srv.Run(cancelled, ""))
}

func TestServer_AppSelection(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown app", func(t *testing.T) {
		cfg := testConfig(t, writeWaveApp(t, wasmtest.Guest()))
		srv, err := NewServer(ctx, cfg, &bytes.Buffer{}, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer srv.Close(ctx)

		var notFound *app.NotFoundError
		require.ErrorAs(t, srv.Run(ctx, "dance"), &notFound)
	})

	t.Run("no app for robot", func(t *testing.T) {
		cfg := testConfig(t, t.TempDir())
		srv, err := NewServer(ctx, cfg, &bytes.Buffer{}, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer srv.Close(ctx)

		var noApp *app.NoAppForRobotError
		require.ErrorAs(t, srv.Run(ctx, ""), &noApp)
		assert.Equal(t, "demo-arm", noApp.Robot)
	})
}

func TestNewServer_RobotModel(t *testing.T) {
	ctx := context.Background()

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gantry.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
name: gantry
joints:
  - name: rail
    type: slide
actuators:
  - name: carriage
    type: position
    joint: rail
    ctrl_range: [0, 1]
`), 0o644))

		cfg := testConfig(t, t.TempDir())
		cfg.RobotModel = path
		srv, err := NewServer(ctx, cfg, &bytes.Buffer{}, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer srv.Close(ctx)

		assert.Equal(t, "gantry", srv.Simulation().Name())
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := testConfig(t, t.TempDir())
		cfg.RobotModel = filepath.Join(t.TempDir(), "absent.yaml")
		_, err := NewServer(ctx, cfg, &bytes.Buffer{}, zaptest.NewLogger(t))
		assert.Error(t, err)
	})
}
