package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/robokernel/pkg/protocol"
)

// DefaultCallTimeout bounds one blocking call.
const DefaultCallTimeout = 5 * time.Second

// Caller issues blocking calls over a SharedChannel. It runs on the guest
// goroutine; calls are serialized so one request is in flight at a time.
type Caller struct {
	ch      *SharedChannel
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	nextID uint32
}

// NewCaller creates a caller. A non-positive timeout uses DefaultCallTimeout.
func NewCaller(ch *SharedChannel, timeout time.Duration, logger *zap.Logger) *Caller {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Caller{
		ch:      ch,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "transport-caller")),
	}
}

// Timeout returns the per-call timeout.
func (c *Caller) Timeout() time.Duration {
	return c.timeout
}

// allocID returns the next correlation id. Ids start at 1 and skip 0 on
// wrap-around. Callers hold c.mu.
func (c *Caller) allocID() uint32 {
	c.nextID++
	if c.nextID == 0 {
		c.nextID = 1
	}
	return c.nextID
}

// Call posts a request and blocks until the responder answers or the
// timeout elapses. It returns the encoded Result envelope.
//
// On timeout the correlation id is abandoned and protocol.ErrTimeout is
// returned without reading the region; a late response is dropped by the
// channel.
func (c *Caller) Call(ctx context.Context, kind protocol.CallKind, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, protocol.WrapError(protocol.CodeInternal, err, "call %s", kind)
	}

	id := c.allocID()
	if err := c.ch.begin(id); err != nil {
		return nil, protocol.NewError(protocol.CodeModuleNotReady, "call %s: %v", kind, err)
	}
	if !c.ch.mailbox.Post(RequestEnvelope{Kind: kind, CorrelationID: id, Payload: payload}) {
		c.ch.abandon(id)
		return nil, protocol.NewError(protocol.CodeModuleNotReady, "call %s: %v", kind, errChannelClosed)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = max(d, time.Millisecond)
		}
	}

	c.logger.Debug("Waiting for response",
		zap.Stringer("kind", kind),
		zap.Uint32("correlation_id", id),
		zap.Duration("timeout", timeout),
	)

	switch c.ch.cell.Wait(CellIdle, timeout) {
	case WaitOK, WaitNotEqual:
	case WaitTimedOut:
		if !c.ch.abandon(id) {
			c.logger.Warn("Call timed out",
				zap.Stringer("kind", kind),
				zap.Uint32("correlation_id", id),
				zap.Duration("timeout", timeout),
			)
			return nil, protocol.NewError(protocol.CodeTimeout,
				"%s (correlation id %d) got no response within %s", kind, id, timeout)
		}
	}

	env, err := c.ch.read()
	if err != nil {
		if errors.Is(err, errChannelClosed) {
			return nil, protocol.NewError(protocol.CodeModuleNotReady, "call %s: %v", kind, err)
		}
		return nil, protocol.WrapError(protocol.CodeInternal, err, "read response for %s", kind)
	}
	return env, nil
}

// Handshake performs one bounded round-trip with the responder. It
// replaces polling for a "ready" flag.
func (c *Caller) Handshake(ctx context.Context) error {
	env, err := c.Call(ctx, protocol.KindHandshake, nil)
	if err != nil {
		return err
	}
	result, err := protocol.DecodeResult(env)
	if err != nil {
		return protocol.WrapError(protocol.CodeInternal, err, "decode handshake response")
	}
	return result.Err()
}
