package kernel

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/woxQAQ/robokernel/internal/hostfunc"
	"github.com/woxQAQ/robokernel/internal/transport"
	"github.com/woxQAQ/robokernel/internal/wasm"
	"github.com/woxQAQ/robokernel/pkg/protocol"
)

// SessionState is the lifecycle state of a session.
type SessionState int32

const (
	StateAttaching SessionState = iota
	StateReady
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAttaching:
		return "attaching"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// Instantiator creates the guest instance for an app. instanceID becomes
// the module name host calls are routed by.
type Instantiator interface {
	Instantiate(ctx context.Context, appName, instanceID string, stdout io.Writer) (*wasm.Instance, error)
}

// SessionConfig configures one attached app.
type SessionConfig struct {
	App              string
	CallTimeout      time.Duration
	ResponseCapacity int
	// Stdout receives the guest's WASI output.
	Stdout io.Writer
}

// Session is one robot app attached to the simulation. It owns the shared
// channel between the guest goroutine and the simulation goroutine.
type Session struct {
	ID  string
	App string

	router     *Router
	channel    *transport.SharedChannel
	caller     *transport.Caller
	responder  *transport.Responder
	dispatcher *Dispatcher
	stdout     io.Writer
	logger     *zap.Logger

	state    atomic.Int32
	mu       sync.Mutex
	instance *wasm.Instance
}

// NewSession creates a session in the attaching state.
func NewSession(router *Router, registry *hostfunc.Registry, cfg SessionConfig, logger *zap.Logger) *Session {
	id := ulid.Make().String()
	logger = logger.With(zap.String("session_id", id), zap.String("app", cfg.App))

	ch := transport.NewSharedChannel(cfg.ResponseCapacity)
	caller := transport.NewCaller(ch, cfg.CallTimeout, logger)

	return &Session{
		ID:         id,
		App:        cfg.App,
		router:     router,
		channel:    ch,
		caller:     caller,
		responder:  transport.NewResponder(ch, registry, logger),
		dispatcher: NewDispatcher(registry, caller, logger),
		stdout:     cfg.Stdout,
		logger:     logger.With(zap.String("component", "session")),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Responder serves the session's remote calls. The simulation goroutine
// drains it.
func (s *Session) Responder() *transport.Responder {
	return s.responder
}

// Attach registers the session, instantiates the app and completes a
// handshake with the responder. The responder must be served while Attach
// runs.
func (s *Session) Attach(ctx context.Context, apps Instantiator) error {
	if state := s.State(); state != StateAttaching {
		return protocol.NewError(protocol.CodeModuleNotReady, "session %s is %s", s.ID, state)
	}

	s.router.register(s)

	instance, err := apps.Instantiate(ctx, s.App, s.ID, s.stdout)
	if err != nil {
		s.router.unregister(s.ID)
		return fmt.Errorf("failed to attach app %s: %w", s.App, err)
	}
	s.mu.Lock()
	s.instance = instance
	s.mu.Unlock()

	if err := s.caller.Handshake(ctx); err != nil {
		return fmt.Errorf("handshake with simulation failed: %w", err)
	}

	if !s.state.CompareAndSwap(int32(StateAttaching), int32(StateReady)) {
		return protocol.NewError(protocol.CodeModuleNotReady, "session %s closed while attaching", s.ID)
	}

	s.logger.Info("Session attached",
		zap.String("app_module", instance.Name),
		zap.String("guest_module", instance.Module().Name()),
	)
	return nil
}

// Run calls the app's entry point and blocks until it returns.
func (s *Session) Run(ctx context.Context) error {
	if state := s.State(); state != StateReady {
		return protocol.NewError(protocol.CodeModuleNotReady, "session %s is %s", s.ID, state)
	}

	s.logger.Info("Running app")
	start := time.Now()
	err := s.currentInstance().Run(ctx)
	s.logger.Info("App returned",
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	return err
}

// Close unregisters the session, wakes any blocked call and closes the
// instance. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	if SessionState(s.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}

	s.router.unregister(s.ID)
	s.channel.Close()

	var err error
	if instance := s.currentInstance(); instance != nil {
		err = multierr.Append(err, instance.Close(ctx))
	}

	s.logger.Info("Session closed")
	return err
}

func (s *Session) currentInstance() *wasm.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instance
}

func (s *Session) handle(ctx context.Context, mod api.Module, kind protocol.CallKind, ptr, length uint32) uint32 {
	var memory *wasm.Memory
	if instance := s.currentInstance(); instance != nil {
		memory = instance.Memory()
	} else {
		memory = wasm.NewModuleMemory(mod, wasm.DefaultAllocator)
	}

	return s.dispatcher.Handle(ctx, GuestCall{
		Memory: memory,
		Ready:  s.State() == StateReady,
		Kind:   kind,
		Ptr:    ptr,
		Len:    length,
	})
}
