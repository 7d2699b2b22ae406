// Package kernel connects guest host calls to the simulation: it routes
// each call to its session, runs it locally or across the transport, and
// writes the result back into guest memory.
package kernel

import (
	"context"

	"go.uber.org/zap"

	"github.com/woxQAQ/robokernel/internal/hostfunc"
	"github.com/woxQAQ/robokernel/internal/wasm"
	"github.com/woxQAQ/robokernel/pkg/protocol"
)

// RemoteCaller issues a blocking call to the simulation goroutine and
// returns the encoded Result.
type RemoteCaller interface {
	Call(ctx context.Context, kind protocol.CallKind, payload []byte) ([]byte, error)
}

// GuestCall is one host call as made by the guest.
type GuestCall struct {
	// Memory of the calling module; nil when the module has none.
	Memory *wasm.Memory
	// Ready is false until the session is attached and after it closes.
	Ready bool
	Kind  protocol.CallKind
	Ptr   uint32
	Len   uint32
}

// Dispatcher serves guest calls for one session.
type Dispatcher struct {
	registry *hostfunc.Registry
	caller   RemoteCaller
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. Remote entries go through caller.
func NewDispatcher(registry *hostfunc.Registry, caller RemoteCaller, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		caller:   caller,
		logger:   logger.With(zap.String("component", "dispatcher")),
	}
}

// Handle serves call and returns the guest pointer of the encoded Result,
// or 0 when the result could not be written.
func (d *Dispatcher) Handle(ctx context.Context, call GuestCall) uint32 {
	d.logger.Debug("Host call",
		zap.Stringer("kind", call.Kind),
		zap.Uint32("ptr", call.Ptr),
		zap.Uint32("len", call.Len),
	)

	result := d.serve(ctx, call)
	if !result.OK() {
		d.logger.Warn("Host call failed",
			zap.Stringer("kind", call.Kind),
			zap.Stringer("code", result.Code),
			zap.String("message", result.Message),
		)
	}
	return d.write(ctx, call, result)
}

func (d *Dispatcher) serve(ctx context.Context, call GuestCall) (result protocol.Result) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("Host call panicked",
				zap.Stringer("kind", call.Kind),
				zap.Any("panic", p),
			)
			result = protocol.Failure(protocol.Internal("%s panicked: %v", call.Kind, p))
		}
	}()

	if !call.Ready || call.Memory == nil {
		return protocol.Failure(protocol.NewError(protocol.CodeModuleNotReady,
			"%s called before the module was attached", call.Kind))
	}

	payload, err := call.Memory.ReadBytes(call.Ptr, call.Len)
	if err != nil {
		return protocol.Failure(protocol.WrapError(protocol.CodeMemoryOutOfBounds, err,
			"read %s request", call.Kind))
	}

	entry, err := d.registry.Lookup(call.Kind)
	if err != nil {
		return protocol.Failure(err)
	}
	if err := entry.Validate(payload); err != nil {
		return protocol.Failure(err)
	}

	if !entry.Remote {
		return d.registry.Execute(ctx, call.Kind, payload)
	}

	env, err := d.caller.Call(ctx, call.Kind, payload)
	if err != nil {
		return protocol.Failure(err)
	}
	result, err = protocol.DecodeResult(env)
	if err != nil {
		return protocol.Failure(protocol.WrapError(protocol.CodeInternal, err, "decode %s response", call.Kind))
	}
	return result
}

func (d *Dispatcher) write(ctx context.Context, call GuestCall, result protocol.Result) uint32 {
	if !call.Memory.CanWrite() {
		d.logger.Warn("Dropping result, guest has no usable memory or allocator",
			zap.Stringer("kind", call.Kind),
		)
		return 0
	}

	ptr, err := call.Memory.WriteBytes(ctx, result.Marshal())
	if err != nil {
		d.logger.Warn("Failed to write result to guest memory",
			zap.Stringer("kind", call.Kind),
			zap.Error(err),
		)
		return 0
	}
	return ptr
}
