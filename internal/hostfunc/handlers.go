package hostfunc

import (
	"context"

	"github.com/woxQAQ/robokernel/pkg/protocol"
)

type handlers struct {
	sim     Simulation
	console Console
}

func (h *handlers) getJointPos(context.Context, *protocol.GetJointPosRequest) (*protocol.GetJointPosResponse, error) {
	return &protocol.GetJointPosResponse{Positions: h.sim.GetJointPositions()}, nil
}

func (h *handlers) setActuatorControls(
	_ context.Context, req *protocol.SetActuatorControlsRequest,
) (*protocol.SetActuatorControlsResponse, error) {
	indices, err := zeroBased(req.ActuatorIndices, len(req.Values), "actuator_indices", "values")
	if err != nil {
		return nil, err
	}
	if err := h.sim.SetActuatorControls(indices, req.Values); err != nil {
		return nil, err
	}
	return &protocol.SetActuatorControlsResponse{}, nil
}

// runTargetAction drives the servos' actuators to the target angles and
// echoes what was applied.
func (h *handlers) runTargetAction(
	_ context.Context, req *protocol.RunTargetActionRequest,
) (*protocol.RunTargetActionResponse, error) {
	indices, err := zeroBased(req.ServoIDs, len(req.TargetRadians), "servo_id_vec", "target_rad_vec")
	if err != nil {
		return nil, err
	}
	if err := h.sim.SetActuatorControls(indices, req.TargetRadians); err != nil {
		return nil, err
	}
	return &protocol.RunTargetActionResponse{
		ServoIDs:      req.ServoIDs,
		TargetRadians: req.TargetRadians,
	}, nil
}

func (h *handlers) getActuatorInfo(
	context.Context, *protocol.GetActuatorInfoRequest,
) (*protocol.GetActuatorInfoResponse, error) {
	infos := h.sim.GetActuatorInfo()
	resp := &protocol.GetActuatorInfoResponse{Actuators: make([]protocol.ActuatorInfo, len(infos))}
	for i, a := range infos {
		resp.Actuators[i] = protocol.ActuatorInfo{
			Name:     a.Name,
			ID:       int32(a.Index + 1),
			JointID:  int32(a.JointIndex + 1),
			Type:     a.Type,
			Ctrl:     a.Ctrl,
			CtrlMin:  a.CtrlMin,
			CtrlMax:  a.CtrlMax,
			ForceMin: a.ForceMin,
			ForceMax: a.ForceMax,
		}
	}
	return resp, nil
}

func (h *handlers) getJointInfo(context.Context, *protocol.GetJointInfoRequest) (*protocol.GetJointInfoResponse, error) {
	infos := h.sim.GetJointInfo()
	resp := &protocol.GetJointInfoResponse{Joints: make([]protocol.JointInfo, len(infos))}
	for i, j := range infos {
		resp.Joints[i] = protocol.JointInfo{
			Name:     j.Name,
			ID:       int32(j.Index + 1),
			Type:     j.Type,
			DofDim:   int32(j.DofDim),
			JointPos: j.Positions,
		}
	}
	return resp, nil
}

func (h *handlers) consoleWrite(_ context.Context, req *protocol.ConsoleWriteRequest) (*protocol.ConsoleWriteResponse, error) {
	h.console.Write(string(req.Message))
	return &protocol.ConsoleWriteResponse{}, nil
}

// zeroBased checks that ids pairs with n values and converts the 1-based
// ids to 0-based indices.
func zeroBased(ids []int32, n int, idField, valueField string) ([]int, error) {
	if len(ids) != n {
		return nil, protocol.InvalidArgument("%s has %d entries but %s has %d", idField, len(ids), valueField, n)
	}
	indices := make([]int, len(ids))
	for i, id := range ids {
		if id < 1 {
			return nil, protocol.InvalidArgument("%s[%d] is %d, ids start at 1", idField, i, id)
		}
		indices[i] = int(id) - 1
	}
	return indices, nil
}
