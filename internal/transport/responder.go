package transport

import (
	"context"

	"go.uber.org/zap"

	"github.com/woxQAQ/robokernel/pkg/protocol"
)

// Executor runs one host call on the responder side.
type Executor interface {
	Execute(ctx context.Context, kind protocol.CallKind, payload []byte) protocol.Result
}

// Responder answers requests posted to a SharedChannel. It runs on the
// goroutine that owns the executor's collaborators and never blocks on the
// caller.
type Responder struct {
	ch     *SharedChannel
	exec   Executor
	logger *zap.Logger
}

// NewResponder creates a responder.
func NewResponder(ch *SharedChannel, exec Executor, logger *zap.Logger) *Responder {
	return &Responder{
		ch:     ch,
		exec:   exec,
		logger: logger.With(zap.String("component", "transport-responder")),
	}
}

// Ready is signalled when requests are waiting to be drained.
func (r *Responder) Ready() <-chan struct{} {
	return r.ch.mailbox.Ready()
}

// Drain answers every queued request and returns how many it handled.
func (r *Responder) Drain(ctx context.Context) int {
	reqs := r.ch.mailbox.TakeAll()
	for _, req := range reqs {
		r.respond(ctx, req)
	}
	return len(reqs)
}

// Serve drains requests until ctx is done. Loops that own other work
// select on Ready and call Drain themselves instead.
func (r *Responder) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.Ready():
			r.Drain(ctx)
		}
	}
}

func (r *Responder) respond(ctx context.Context, req RequestEnvelope) {
	result := r.execute(ctx, req)

	env := result.Marshal()
	if !r.ch.region.Fits(len(env)) {
		r.logger.Error("Result exceeds response region",
			zap.Stringer("kind", req.Kind),
			zap.Uint32("correlation_id", req.CorrelationID),
			zap.Int("size", len(env)),
			zap.Int("capacity", r.ch.Capacity()),
		)
		env = protocol.Failure(protocol.Internal(
			"result of %d bytes exceeds response region capacity %d", len(env), r.ch.Capacity(),
		)).Marshal()
		if !r.ch.region.Fits(len(env)) {
			env = protocol.Result{Code: protocol.CodeInternal}.Marshal()
		}
	}

	delivered, err := r.ch.complete(req.CorrelationID, env)
	switch {
	case err != nil:
		r.logger.Error("Failed to write response",
			zap.Stringer("kind", req.Kind),
			zap.Uint32("correlation_id", req.CorrelationID),
			zap.Error(err),
		)
	case !delivered:
		r.logger.Warn("Dropping stale response",
			zap.Stringer("kind", req.Kind),
			zap.Uint32("correlation_id", req.CorrelationID),
		)
	default:
		r.logger.Debug("Response delivered",
			zap.Stringer("kind", req.Kind),
			zap.Uint32("correlation_id", req.CorrelationID),
			zap.Bool("ok", result.OK()),
		)
	}
}

func (r *Responder) execute(ctx context.Context, req RequestEnvelope) (result protocol.Result) {
	if req.Kind == protocol.KindHandshake {
		return protocol.Success(nil)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Executor panicked",
				zap.Stringer("kind", req.Kind),
				zap.Any("panic", p),
			)
			result = protocol.Failure(protocol.Internal("%s panicked: %v", req.Kind, p))
		}
	}()
	return r.exec.Execute(ctx, req.Kind, req.Payload)
}
