// Package hostfunc maps call kinds to their typed host handlers.
package hostfunc

import (
	"context"

	"go.uber.org/zap"

	"github.com/woxQAQ/robokernel/internal/sim"
	"github.com/woxQAQ/robokernel/pkg/protocol"
)

// Simulation is the robot state the handlers read and drive. Indices are
// 0-based.
type Simulation interface {
	GetJointPositions() []float32
	SetActuatorControls(indices []int, values []float32) error
	GetActuatorInfo() []sim.ActuatorInfo
	GetJointInfo() []sim.JointInfo
}

// Console receives text written by the guest. It must be safe to call from
// any goroutine.
type Console interface {
	Write(content string)
}

// message is a pointer to a protocol schema type.
type message[T any] interface {
	*T
	protocol.Message
}

// Entry is the registry slot for one call kind.
type Entry struct {
	Kind protocol.CallKind
	// Remote entries must run on the simulation goroutine. Local entries
	// run inline on the guest goroutine.
	Remote bool

	decode func(payload []byte) error
	run    func(ctx context.Context, payload []byte) ([]byte, error)
}

// bind ties a typed handler to its request and response schemas.
func bind[Req, Resp any, PReq message[Req], PResp message[Resp]](
	kind protocol.CallKind,
	remote bool,
	handle func(context.Context, PReq) (PResp, error),
) Entry {
	decode := func(payload []byte) (PReq, error) {
		req := PReq(new(Req))
		if err := req.Unmarshal(payload); err != nil {
			return nil, protocol.WrapError(protocol.CodeInternal, err, "decode %s request", kind)
		}
		return req, nil
	}

	return Entry{
		Kind:   kind,
		Remote: remote,
		decode: func(payload []byte) error {
			_, err := decode(payload)
			return err
		},
		run: func(ctx context.Context, payload []byte) ([]byte, error) {
			req, err := decode(payload)
			if err != nil {
				return nil, err
			}
			resp, err := handle(ctx, req)
			if err != nil {
				return nil, err
			}
			return resp.Marshal(), nil
		},
	}
}

// Validate decodes payload against the entry's request schema.
func (e Entry) Validate(payload []byte) error {
	return e.decode(payload)
}

// Registry is the immutable call table. It is built once and safe for
// concurrent use.
type Registry struct {
	entries []Entry
	logger  *zap.Logger
}

// NewRegistry builds the table for every guest-callable kind.
func NewRegistry(simulation Simulation, console Console, logger *zap.Logger) *Registry {
	h := &handlers{sim: simulation, console: console}

	kinds := protocol.Kinds()
	entries := make([]Entry, int(kinds[len(kinds)-1])+1)
	for _, e := range []Entry{
		bind[protocol.GetJointPosRequest, protocol.GetJointPosResponse](
			protocol.KindGetJointPos, true, h.getJointPos),
		bind[protocol.SetActuatorControlsRequest, protocol.SetActuatorControlsResponse](
			protocol.KindSetActuatorControls, true, h.setActuatorControls),
		bind[protocol.RunTargetActionRequest, protocol.RunTargetActionResponse](
			protocol.KindRunTargetAction, true, h.runTargetAction),
		bind[protocol.GetActuatorInfoRequest, protocol.GetActuatorInfoResponse](
			protocol.KindGetActuatorInfo, true, h.getActuatorInfo),
		bind[protocol.GetJointInfoRequest, protocol.GetJointInfoResponse](
			protocol.KindGetJointInfo, true, h.getJointInfo),
		bind[protocol.ConsoleWriteRequest, protocol.ConsoleWriteResponse](
			protocol.KindConsoleWrite, false, h.consoleWrite),
	} {
		entries[e.Kind] = e
	}

	return &Registry{
		entries: entries,
		logger:  logger.With(zap.String("component", "hostfunc-registry")),
	}
}

// Lookup resolves the entry for kind.
func (r *Registry) Lookup(kind protocol.CallKind) (Entry, error) {
	if !kind.Valid() || int(kind) >= len(r.entries) || r.entries[kind].run == nil {
		return Entry{}, protocol.NewError(protocol.CodeUnknownCallKind, "%d", uint32(kind))
	}
	return r.entries[kind], nil
}

// Execute runs the handler for kind and always returns a Result. Handler
// errors keep their code; anything else, including a panic, becomes an
// InternalError.
func (r *Registry) Execute(ctx context.Context, kind protocol.CallKind, payload []byte) (result protocol.Result) {
	entry, err := r.Lookup(kind)
	if err != nil {
		return protocol.Failure(err)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Host function panicked",
				zap.Stringer("kind", kind),
				zap.Any("panic", p),
			)
			result = protocol.Failure(protocol.Internal("%s panicked: %v", kind, p))
		}
	}()

	data, err := entry.run(ctx, payload)
	if err != nil {
		r.logger.Debug("Host function failed",
			zap.Stringer("kind", kind),
			zap.Error(err),
		)
		return protocol.Failure(err)
	}
	return protocol.Success(data)
}
