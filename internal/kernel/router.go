package kernel

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/robokernel/internal/wasm"
	"github.com/woxQAQ/robokernel/pkg/protocol"
)

// Router receives every guest host call and forwards it to the session
// that owns the calling module. Modules are named after their session id.
type Router struct {
	sessions sync.Map // session id -> *Session
	orphan   *Dispatcher
	logger   *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		orphan: NewDispatcher(nil, nil, logger),
		logger: logger.With(zap.String("component", "router")),
	}
}

func (r *Router) register(s *Session) {
	r.sessions.Store(s.ID, s)
}

func (r *Router) unregister(id string) {
	r.sessions.Delete(id)
}

// Session returns the session registered under id.
func (r *Router) Session(id string) (*Session, bool) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// HandleGuestCall implements wasm.GuestCallHandler.
func (r *Router) HandleGuestCall(ctx context.Context, mod api.Module, kind protocol.CallKind, ptr, length uint32) uint32 {
	if s, ok := r.Session(mod.Name()); ok {
		return s.handle(ctx, mod, kind, ptr, length)
	}

	r.logger.Warn("Host call from module without a session",
		zap.String("module", mod.Name()),
		zap.Stringer("kind", kind),
	)
	return r.orphan.Handle(ctx, GuestCall{
		Memory: wasm.NewModuleMemory(mod, wasm.DefaultAllocator),
		Kind:   kind,
		Ptr:    ptr,
		Len:    length,
	})
}
