//go:build wasm

// Package wasm holds the guest side of the host-call ABI. Robot apps built
// with GOOS=wasip1 import it to reach the simulation.
//
// Every binding passes a protobuf request as (ptr, len) and gets back a
// pointer to an encoded Result. The host allocates the result through the
// wasm_new_bytes export below, so its length is known to the guest from the
// allocation itself.
//
// NOTE: uint32 is used for pointers and lengths because WebAssembly uses a
// 32-bit linear memory model.
package wasm

import (
	"runtime"
	"unsafe"

	"github.com/woxQAQ/robokernel/pkg/protocol"
)

//go:wasmimport env get_joint_pos
func hostGetJointPos(ptr, length uint32) uint32

//go:wasmimport env set_actuator_controls
func hostSetActuatorControls(ptr, length uint32) uint32

//go:wasmimport env run_target_action
func hostRunTargetAction(ptr, length uint32) uint32

//go:wasmimport env get_actuator_info
func hostGetActuatorInfo(ptr, length uint32) uint32

//go:wasmimport env get_joint_info
func hostGetJointInfo(ptr, length uint32) uint32

//go:wasmimport env console_write
func hostConsoleWrite(ptr, length uint32) uint32

//go:wasmimport env log_message
func hostLogMessage(level, ptr, length uint32)

// pending is the buffer handed out by the last wasm_new_bytes call. It stays
// reachable until the binding that triggered the allocation takes it.
var pending []byte

//go:wasmexport wasm_new_bytes
func wasmNewBytes(size uint32) uint32 {
	pending = make([]byte, size, max(size, 1))
	return uint32(uintptr(unsafe.Pointer(unsafe.SliceData(pending))))
}

// Level is a log_message severity.
type Level uint32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func bufPtr(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	return uint32(uintptr(unsafe.Pointer(unsafe.SliceData(b))))
}

func invoke(fn func(ptr, length uint32) uint32, req, resp protocol.Message) error {
	payload := req.Marshal()
	pending = nil
	ptr := fn(bufPtr(payload), uint32(len(payload)))
	runtime.KeepAlive(payload)

	out := pending
	pending = nil
	if ptr == 0 || out == nil {
		return protocol.Internal("host returned no result")
	}

	res, err := protocol.DecodeResult(out)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}
	return resp.Unmarshal(res.Data)
}

// GetJointPos returns every joint position, flattened in model order.
func GetJointPos() ([]float32, error) {
	var resp protocol.GetJointPosResponse
	if err := invoke(hostGetJointPos, &protocol.GetJointPosRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Positions, nil
}

// SetActuatorControls sets actuator controls. ids are 1-based.
func SetActuatorControls(ids []int32, values []float32) error {
	req := &protocol.SetActuatorControlsRequest{ActuatorIndices: ids, Values: values}
	return invoke(hostSetActuatorControls, req, &protocol.SetActuatorControlsResponse{})
}

// RunTargetAction drives servos to target angles and returns what the host
// applied.
func RunTargetAction(servoIDs []int32, radians []float32) (*protocol.RunTargetActionResponse, error) {
	req := &protocol.RunTargetActionRequest{ServoIDs: servoIDs, TargetRadians: radians}
	var resp protocol.RunTargetActionResponse
	if err := invoke(hostRunTargetAction, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetActuatorInfo describes every actuator of the robot in model order,
// with its current control value.
func GetActuatorInfo() ([]protocol.ActuatorInfo, error) {
	var resp protocol.GetActuatorInfoResponse
	if err := invoke(hostGetActuatorInfo, &protocol.GetActuatorInfoRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Actuators, nil
}

// GetJointInfo describes every joint of the robot in model order.
func GetJointInfo() ([]protocol.JointInfo, error) {
	var resp protocol.GetJointInfoResponse
	if err := invoke(hostGetJointInfo, &protocol.GetJointInfoRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Joints, nil
}

// Print writes s to the host console. The host appends the newline.
func Print(s string) error {
	req := &protocol.ConsoleWriteRequest{Message: []byte(s)}
	return invoke(hostConsoleWrite, req, &protocol.ConsoleWriteResponse{})
}

// Log sends msg to the host logger.
func Log(level Level, msg string) {
	b := []byte(msg)
	hostLogMessage(uint32(level), bufPtr(b), uint32(len(b)))
	runtime.KeepAlive(b)
}
