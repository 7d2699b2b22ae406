package kernel

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/woxQAQ/robokernel/internal/app"
	"github.com/woxQAQ/robokernel/internal/config"
	"github.com/woxQAQ/robokernel/internal/console"
	"github.com/woxQAQ/robokernel/internal/hostfunc"
	"github.com/woxQAQ/robokernel/internal/sim"
	"github.com/woxQAQ/robokernel/internal/transport"
	"github.com/woxQAQ/robokernel/internal/wasm"
)

type Server struct {
	cfg      *config.ServerConfig
	logger   *zap.Logger
	out      io.Writer
	apps     *app.Manager
	sim      *sim.Simulation
	console  *console.Sink
	registry *hostfunc.Registry
	router   *Router
}

// NewServer builds the runtime, loads the robot model and discovers apps.
// Console and WASI output from apps goes to out, os.Stdout when nil.
func NewServer(ctx context.Context, cfg *config.ServerConfig, out io.Writer, logger *zap.Logger) (*Server, error) {
	model := sim.DefaultModel()
	if cfg.RobotModel != "" {
		m, err := sim.LoadModel(cfg.RobotModel)
		if err != nil {
			return nil, err
		}
		model = m
	}
	simulation, err := sim.New(model, logger)
	if err != nil {
		return nil, err
	}

	// Initialize Wasm runtime.
	wasmConfig := &wasm.RuntimeConfig{
		MemoryPages:      cfg.Wasm.MemoryPages,
		DebugEnabled:     cfg.Wasm.Debug,
		CacheDir:         cfg.Wasm.CacheDir,
		MaxInstances:     cfg.Wasm.MaxInstances,
		ExecutionTimeout: cfg.Wasm.ExecutionTimeout,
		HostModule:       cfg.Bridge.HostModule,
	}

	wasmRuntime, err := wasm.NewRuntime(ctx, logger, wasmConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	if out == nil {
		out = os.Stdout
	}
	sink := console.NewSink(out, logger)
	router := NewRouter(logger)
	apps := app.NewManager(cfg, wasmRuntime, wasm.NewHostFunctions(router, logger), logger)

	if err := apps.LoadAll(ctx); err != nil {
		return nil, multierr.Append(err, wasmRuntime.Close(ctx))
	}

	logger.Info("Robot kernel initialized",
		zap.String("robot", simulation.Name()),
		zap.Int("apps", apps.Registry().Count()),
		zap.Uint32("wasm_memory_pages", cfg.Wasm.MemoryPages),
		zap.String("wasm_cache_dir", cfg.Wasm.CacheDir),
	)

	return &Server{
		cfg:      cfg,
		logger:   logger,
		out:      out,
		apps:     apps,
		sim:      simulation,
		console:  sink,
		registry: hostfunc.NewRegistry(simulation, sink, logger),
		router:   router,
	}, nil
}

// Simulation returns the robot simulation.
func (s *Server) Simulation() *sim.Simulation {
	return s.sim
}

// Console returns the console sink apps write to.
func (s *Server) Console() *console.Sink {
	return s.console
}

// Apps returns the app manager.
func (s *Server) Apps() *app.Manager {
	return s.apps
}

// Run attaches appName, or the first app for the robot when appName is
// empty, and runs it while the simulation loop serves its host calls. It
// returns when the app's entry point returns or ctx is cancelled.
func (s *Server) Run(ctx context.Context, appName string) error {
	selected, err := s.selectApp(appName)
	if err != nil {
		return err
	}

	session := NewSession(s.router, s.registry, SessionConfig{
		App:              selected.Name(),
		CallTimeout:      s.cfg.Bridge.CallTimeout,
		ResponseCapacity: s.cfg.Bridge.ResponseCapacity,
		Stdout:           s.out,
	}, s.logger)

	s.logger.Info("Starting app",
		zap.String("app", selected.Name()),
		zap.String("session_id", session.ID),
	)

	g, gctx := errgroup.WithContext(ctx)
	simCtx, stopSim := context.WithCancel(gctx)
	defer stopSim()

	g.Go(func() error {
		return s.simulate(simCtx, session.Responder())
	})
	g.Go(func() error {
		defer stopSim()
		if err := session.Attach(gctx, s.apps); err != nil {
			return err
		}
		return session.Run(gctx)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		s.logger.Info("App stopped by shutdown", zap.String("app", selected.Name()))
		err = nil
	}
	return multierr.Append(err, session.Close(context.Background()))
}

func (s *Server) selectApp(name string) (*app.App, error) {
	if name != "" {
		return s.apps.GetApp(name)
	}
	return s.apps.FindAppForRobot(s.sim.Name())
}

// simulate owns the simulation: it steps it on a ticker and answers host
// calls between steps.
func (s *Server) simulate(ctx context.Context, responder *transport.Responder) error {
	dt := s.cfg.Simulation.Timestep
	ticker := time.NewTicker(max(s.cfg.Simulation.StepInterval(), time.Microsecond))
	defer ticker.Stop()

	s.logger.Debug("Simulation loop started", zap.Float64("timestep", dt))
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Simulation loop stopped", zap.Float64("sim_time", s.sim.Time()))
			return nil
		case <-responder.Ready():
			responder.Drain(ctx)
		case <-ticker.C:
			s.sim.Step(dt)
		}
	}
}

// Close gracefully shuts down the server.
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down robot kernel")

	if err := s.apps.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown app manager", zap.Error(err))
		return err
	}

	s.logger.Info("Robot kernel shutdown complete")
	return nil
}
