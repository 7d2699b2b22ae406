package protocol

import "fmt"

// CallKind identifies a host call. The set is closed; each kind fixes its
// request and response schema.
type CallKind uint32

const (
	// KindHandshake is reserved for the transport's readiness round-trip.
	// Guests can never issue it.
	KindHandshake CallKind = iota

	KindGetJointPos
	KindSetActuatorControls
	KindRunTargetAction
	KindGetActuatorInfo
	KindGetJointInfo
	KindConsoleWrite

	kindLimit
)

var kindNames = [...]string{
	KindHandshake:           "handshake",
	KindGetJointPos:         "get_joint_pos",
	KindSetActuatorControls: "set_actuator_controls",
	KindRunTargetAction:     "run_target_action",
	KindGetActuatorInfo:     "get_actuator_info",
	KindGetJointInfo:        "get_joint_info",
	KindConsoleWrite:        "console_write",
}

// Kinds returns every guest-callable kind in wire order.
func Kinds() []CallKind {
	kinds := make([]CallKind, 0, int(kindLimit)-1)
	for k := KindGetJointPos; k < kindLimit; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Valid reports whether a guest may issue this kind.
func (k CallKind) Valid() bool {
	return k > KindHandshake && k < kindLimit
}

// ImportName is the name of the guest import serving this kind.
func (k CallKind) ImportName() string {
	if k < kindLimit {
		return kindNames[k]
	}
	return ""
}

func (k CallKind) String() string {
	if k < kindLimit {
		return kindNames[k]
	}
	return fmt.Sprintf("CallKind(%d)", uint32(k))
}

// KindByImportName resolves an import name to its kind.
func KindByImportName(name string) (CallKind, bool) {
	for k := KindGetJointPos; k < kindLimit; k++ {
		if kindNames[k] == name {
			return k, true
		}
	}
	return 0, false
}
