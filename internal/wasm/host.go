package wasm

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/robokernel/pkg/protocol"
)

// DefaultHostModule is the import module name guests link against.
const DefaultHostModule = "env"

const (
	hostCallImport   = "host_call"
	logMessageImport = "log_message"
)

// GuestCallHandler serves a host call made by a guest module. It returns
// the guest pointer of the encoded result, or 0 when nothing could be
// written back.
type GuestCallHandler interface {
	HandleGuestCall(ctx context.Context, mod api.Module, kind protocol.CallKind, ptr, length uint32) uint32
}

// HostFunctionsImpl implements host functions for guest modules.
type HostFunctionsImpl struct {
	handler GuestCallHandler
	logger  *zap.Logger
}

// NewHostFunctions creates a new host functions implementation.
func NewHostFunctions(handler GuestCallHandler, logger *zap.Logger) *HostFunctionsImpl {
	return &HostFunctionsImpl{
		handler: handler,
		logger:  logger.With(zap.String("component", "wasm-host")),
	}
}

// ImportNames lists every function the host module exports.
func ImportNames() []string {
	names := make([]string, 0, len(protocol.Kinds())+2)
	for _, kind := range protocol.Kinds() {
		names = append(names, kind.ImportName())
	}
	return append(names, hostCallImport, logMessageImport)
}

// Export registers every host function on builder.
func (h *HostFunctionsImpl) Export(builder wazero.HostModuleBuilder) wazero.HostModuleBuilder {
	i32 := api.ValueTypeI32

	// One (ptr, len) -> result_ptr import per call kind.
	for _, kind := range protocol.Kinds() {
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(h.callFunc(kind), []api.ValueType{i32, i32}, []api.ValueType{i32}).
			WithParameterNames("ptr", "len").
			Export(kind.ImportName())
	}

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.hostCall), []api.ValueType{i32, i32, i32}, []api.ValueType{i32}).
		WithParameterNames("kind", "ptr", "len").
		Export(hostCallImport)

	return builder.NewFunctionBuilder().
		WithFunc(h.logMessage).
		WithParameterNames("level", "ptr", "length").
		Export(logMessageImport)
}

func (h *HostFunctionsImpl) callFunc(kind protocol.CallKind) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		ptr, length := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
		stack[0] = api.EncodeU32(h.handler.HandleGuestCall(ctx, mod, kind, ptr, length))
	}
}

// hostCall is the generic entry point: host_call(kind, ptr, len) -> ptr.
// Unknown kinds are reported by the handler as UnknownCallKind.
func (h *HostFunctionsImpl) hostCall(ctx context.Context, mod api.Module, stack []uint64) {
	kind := protocol.CallKind(api.DecodeU32(stack[0]))
	ptr, length := api.DecodeU32(stack[1]), api.DecodeU32(stack[2])
	stack[0] = api.EncodeU32(h.handler.HandleGuestCall(ctx, mod, kind, ptr, length))
}

// logMessage is called by guest modules to log messages.
// Signature: log_message(level, ptr, length)
// level: 0 = debug, 1 = info, 2 = warn, 3 = error
func (h *HostFunctionsImpl) logMessage(_ context.Context, mod api.Module, level uint32, ptr uint32, length uint32) {
	msg, err := NewMemory(mod.Memory(), nil).ReadString(ptr, length)
	if err != nil {
		h.logger.Error("Failed to read log message from guest memory",
			zap.String("module", mod.Name()),
			zap.Error(err),
		)
		return
	}

	logger := h.logger.With(zap.String("module", mod.Name()))
	switch level {
	case 0:
		logger.Debug(msg)
	case 1:
		logger.Info(msg)
	case 2:
		logger.Warn(msg)
	case 3:
		logger.Error(msg)
	default:
		logger.Info(msg)
	}
}
