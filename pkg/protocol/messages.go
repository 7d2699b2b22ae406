package protocol

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every request and response schema.
type Message interface {
	Marshal() []byte
	Unmarshal(b []byte) error
}

// GetJointPosRequest carries no fields.
type GetJointPosRequest struct{}

func (*GetJointPosRequest) Marshal() []byte          { return nil }
func (*GetJointPosRequest) Unmarshal(b []byte) error { return decodeEmpty("GetJointPosRequest", b) }

// GetJointPosResponse holds one position per joint, in model order.
type GetJointPosResponse struct {
	Positions []float32
}

func (m *GetJointPosResponse) Marshal() []byte {
	return appendFloats(nil, 1, m.Positions)
}

func (m *GetJointPosResponse) Unmarshal(b []byte) error {
	const msg = "GetJointPosResponse"
	*m = GetJointPosResponse{}
	return decodeFields(msg, b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeFloats(msg, "positions", typ, b, &m.Positions)
		}
		return 0, unknownField(msg, num, typ)
	})
}

// SetActuatorControlsRequest sets control values on actuators.
// Indices are 1-based.
type SetActuatorControlsRequest struct {
	ActuatorIndices []int32
	Values          []float32
}

func (m *SetActuatorControlsRequest) Marshal() []byte {
	b := appendInt32s(nil, 1, m.ActuatorIndices)
	return appendFloats(b, 2, m.Values)
}

func (m *SetActuatorControlsRequest) Unmarshal(b []byte) error {
	const msg = "SetActuatorControlsRequest"
	*m = SetActuatorControlsRequest{}
	return decodeFields(msg, b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt32s(msg, "actuator_indices", typ, b, &m.ActuatorIndices)
		case 2:
			return consumeFloats(msg, "values", typ, b, &m.Values)
		}
		return 0, unknownField(msg, num, typ)
	})
}

// SetActuatorControlsResponse carries no fields.
type SetActuatorControlsResponse struct{}

func (*SetActuatorControlsResponse) Marshal() []byte { return nil }
func (*SetActuatorControlsResponse) Unmarshal(b []byte) error {
	return decodeEmpty("SetActuatorControlsResponse", b)
}

// RunTargetActionRequest drives servos to target angles. Servo ids are
// 1-based and must pair one-to-one with target radians.
type RunTargetActionRequest struct {
	ServoIDs      []int32
	TargetRadians []float32
}

func (m *RunTargetActionRequest) Marshal() []byte {
	b := appendInt32s(nil, 1, m.ServoIDs)
	return appendFloats(b, 2, m.TargetRadians)
}

func (m *RunTargetActionRequest) Unmarshal(b []byte) error {
	return unmarshalTargetAction("RunTargetActionRequest", b, &m.ServoIDs, &m.TargetRadians, func() {
		*m = RunTargetActionRequest{}
	})
}

// RunTargetActionResponse echoes the servo targets that were applied.
type RunTargetActionResponse struct {
	ServoIDs      []int32
	TargetRadians []float32
}

func (m *RunTargetActionResponse) Marshal() []byte {
	b := appendInt32s(nil, 1, m.ServoIDs)
	return appendFloats(b, 2, m.TargetRadians)
}

func (m *RunTargetActionResponse) Unmarshal(b []byte) error {
	return unmarshalTargetAction("RunTargetActionResponse", b, &m.ServoIDs, &m.TargetRadians, func() {
		*m = RunTargetActionResponse{}
	})
}

func unmarshalTargetAction(msg string, b []byte, ids *[]int32, rads *[]float32, reset func()) error {
	reset()
	return decodeFields(msg, b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt32s(msg, "servo_id_vec", typ, b, ids)
		case 2:
			return consumeFloats(msg, "target_rad_vec", typ, b, rads)
		}
		return 0, unknownField(msg, num, typ)
	})
}

// GetActuatorInfoRequest carries no fields.
type GetActuatorInfoRequest struct{}

func (*GetActuatorInfoRequest) Marshal() []byte { return nil }
func (*GetActuatorInfoRequest) Unmarshal(b []byte) error {
	return decodeEmpty("GetActuatorInfoRequest", b)
}

// ActuatorInfo describes one actuator. ID is 1-based; JointID is 1-based
// with 0 meaning the actuator does not drive a joint.
type ActuatorInfo struct {
	Name     string
	ID       int32
	JointID  int32
	Type     string
	Ctrl     float32
	CtrlMin  float32
	CtrlMax  float32
	ForceMin float32
	ForceMax float32
}

func (m *ActuatorInfo) Marshal() []byte {
	b := appendString(nil, 1, m.Name)
	b = appendInt32(b, 2, m.ID)
	b = appendInt32(b, 3, m.JointID)
	b = appendString(b, 4, m.Type)
	b = appendFloat(b, 5, m.Ctrl)
	b = appendFloat(b, 6, m.CtrlMin)
	b = appendFloat(b, 7, m.CtrlMax)
	b = appendFloat(b, 8, m.ForceMin)
	return appendFloat(b, 9, m.ForceMax)
}

func (m *ActuatorInfo) Unmarshal(b []byte) error {
	const msg = "ActuatorInfo"
	*m = ActuatorInfo{}
	return decodeFields(msg, b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		switch num {
		case 1:
			m.Name, n, err = consumeString(msg, "name", typ, b)
		case 2:
			m.ID, n, err = consumeInt32(msg, "id", typ, b)
		case 3:
			m.JointID, n, err = consumeInt32(msg, "joint_id", typ, b)
		case 4:
			m.Type, n, err = consumeString(msg, "type", typ, b)
		case 5:
			m.Ctrl, n, err = consumeFloat(msg, "ctrl", typ, b)
		case 6:
			m.CtrlMin, n, err = consumeFloat(msg, "ctrl_min", typ, b)
		case 7:
			m.CtrlMax, n, err = consumeFloat(msg, "ctrl_max", typ, b)
		case 8:
			m.ForceMin, n, err = consumeFloat(msg, "force_min", typ, b)
		case 9:
			m.ForceMax, n, err = consumeFloat(msg, "force_max", typ, b)
		default:
			err = unknownField(msg, num, typ)
		}
		return n, err
	})
}

// GetActuatorInfoResponse lists actuators in model order.
type GetActuatorInfoResponse struct {
	Actuators []ActuatorInfo
}

func (m *GetActuatorInfoResponse) Marshal() []byte {
	var b []byte
	for i := range m.Actuators {
		b = appendMessage(b, 1, m.Actuators[i].Marshal())
	}
	return b
}

func (m *GetActuatorInfoResponse) Unmarshal(b []byte) error {
	const msg = "GetActuatorInfoResponse"
	*m = GetActuatorInfoResponse{}
	return decodeFields(msg, b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, unknownField(msg, num, typ)
		}
		raw, n, err := consumeBytes(msg, "actuators", typ, b)
		if err != nil {
			return 0, err
		}
		var info ActuatorInfo
		if err := info.Unmarshal(raw); err != nil {
			return 0, err
		}
		m.Actuators = append(m.Actuators, info)
		return n, nil
	})
}

// GetJointInfoRequest carries no fields.
type GetJointInfoRequest struct{}

func (*GetJointInfoRequest) Marshal() []byte { return nil }
func (*GetJointInfoRequest) Unmarshal(b []byte) error {
	return decodeEmpty("GetJointInfoRequest", b)
}

// JointInfo describes one joint. ID is 1-based.
type JointInfo struct {
	Name     string
	ID       int32
	Type     string
	DofDim   int32
	JointPos []float32
}

func (m *JointInfo) Marshal() []byte {
	b := appendString(nil, 1, m.Name)
	b = appendInt32(b, 2, m.ID)
	b = appendString(b, 3, m.Type)
	b = appendInt32(b, 4, m.DofDim)
	return appendFloats(b, 5, m.JointPos)
}

func (m *JointInfo) Unmarshal(b []byte) error {
	const msg = "JointInfo"
	*m = JointInfo{}
	return decodeFields(msg, b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		switch num {
		case 1:
			m.Name, n, err = consumeString(msg, "name", typ, b)
		case 2:
			m.ID, n, err = consumeInt32(msg, "id", typ, b)
		case 3:
			m.Type, n, err = consumeString(msg, "type", typ, b)
		case 4:
			m.DofDim, n, err = consumeInt32(msg, "dof_dim", typ, b)
		case 5:
			n, err = consumeFloats(msg, "joint_pos", typ, b, &m.JointPos)
		default:
			err = unknownField(msg, num, typ)
		}
		return n, err
	})
}

// GetJointInfoResponse lists joints in model order.
type GetJointInfoResponse struct {
	Joints []JointInfo
}

func (m *GetJointInfoResponse) Marshal() []byte {
	var b []byte
	for i := range m.Joints {
		b = appendMessage(b, 1, m.Joints[i].Marshal())
	}
	return b
}

func (m *GetJointInfoResponse) Unmarshal(b []byte) error {
	const msg = "GetJointInfoResponse"
	*m = GetJointInfoResponse{}
	return decodeFields(msg, b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, unknownField(msg, num, typ)
		}
		raw, n, err := consumeBytes(msg, "joints", typ, b)
		if err != nil {
			return 0, err
		}
		var info JointInfo
		if err := info.Unmarshal(raw); err != nil {
			return 0, err
		}
		m.Joints = append(m.Joints, info)
		return n, nil
	})
}

// ConsoleWriteRequest carries raw console bytes from the guest.
type ConsoleWriteRequest struct {
	Message []byte
}

func (m *ConsoleWriteRequest) Marshal() []byte {
	if len(m.Message) == 0 {
		return nil
	}
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	return protowire.AppendBytes(b, m.Message)
}

func (m *ConsoleWriteRequest) Unmarshal(b []byte) error {
	const msg = "ConsoleWriteRequest"
	*m = ConsoleWriteRequest{}
	return decodeFields(msg, b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		if num != 1 {
			return 0, unknownField(msg, num, typ)
		}
		m.Message, n, err = consumeBytes(msg, "message", typ, b)
		return n, err
	})
}

// ConsoleWriteResponse carries no fields.
type ConsoleWriteResponse struct{}

func (*ConsoleWriteResponse) Marshal() []byte { return nil }
func (*ConsoleWriteResponse) Unmarshal(b []byte) error {
	return decodeEmpty("ConsoleWriteResponse", b)
}
