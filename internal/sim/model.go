package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// JointType is the kind of a joint, which fixes its position dimension.
type JointType string

const (
	JointHinge JointType = "hinge"
	JointSlide JointType = "slide"
	JointBall  JointType = "ball"
	JointFree  JointType = "free"
)

// DOF returns the number of position coordinates the joint reports.
func (t JointType) DOF() int {
	switch t {
	case JointHinge, JointSlide:
		return 1
	case JointBall:
		return 3
	case JointFree:
		return 6
	default:
		return 0
	}
}

// ActuatorType is the kind of an actuator.
type ActuatorType string

const (
	// ActuatorMotor applies its control as a force; it does not move joints
	// in the kinematic model.
	ActuatorMotor ActuatorType = "motor"
	// ActuatorPosition drives its joint to the control value on every step.
	ActuatorPosition ActuatorType = "position"
)

// Model describes a robot: its joints and the actuators driving them.
type Model struct {
	Name      string         `yaml:"name"`
	Joints    []JointSpec    `yaml:"joints"`
	Actuators []ActuatorSpec `yaml:"actuators"`
}

// JointSpec describes one joint.
type JointSpec struct {
	Name string    `yaml:"name"`
	Type JointType `yaml:"type"`
	// Initial position, DOF values; zeros when empty.
	Qpos []float32 `yaml:"qpos,omitempty"`
}

// ActuatorSpec describes one actuator.
type ActuatorSpec struct {
	Name string       `yaml:"name"`
	Type ActuatorType `yaml:"type"`
	// Joint is the driven joint's name; empty for actuators without one.
	Joint      string     `yaml:"joint,omitempty"`
	CtrlRange  [2]float32 `yaml:"ctrl_range,omitempty"`
	ForceRange [2]float32 `yaml:"force_range,omitempty"`
}

// LoadModel reads a YAML robot model from path.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read robot model: %w", err)
	}
	return ParseModel(data)
}

// ParseModel parses and validates a YAML robot model.
func ParseModel(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse robot model: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks names, types and references.
func (m *Model) Validate() error {
	if m.Name == "" {
		return &ModelError{Field: "name", Message: "is required"}
	}

	joints := make(map[string]bool, len(m.Joints))
	for i, j := range m.Joints {
		field := fmt.Sprintf("joints[%d]", i)
		if j.Name == "" {
			return &ModelError{Field: field + ".name", Message: "is required"}
		}
		if joints[j.Name] {
			return &ModelError{Field: field + ".name", Message: fmt.Sprintf("duplicate joint %q", j.Name)}
		}
		joints[j.Name] = true
		if j.Type.DOF() == 0 {
			return &ModelError{Field: field + ".type", Message: fmt.Sprintf("unknown joint type %q", j.Type)}
		}
		if len(j.Qpos) != 0 && len(j.Qpos) != j.Type.DOF() {
			return &ModelError{
				Field:   field + ".qpos",
				Message: fmt.Sprintf("has %d values, %s joint needs %d", len(j.Qpos), j.Type, j.Type.DOF()),
			}
		}
	}

	actuators := make(map[string]bool, len(m.Actuators))
	for i, a := range m.Actuators {
		field := fmt.Sprintf("actuators[%d]", i)
		if a.Name == "" {
			return &ModelError{Field: field + ".name", Message: "is required"}
		}
		if actuators[a.Name] {
			return &ModelError{Field: field + ".name", Message: fmt.Sprintf("duplicate actuator %q", a.Name)}
		}
		actuators[a.Name] = true
		switch a.Type {
		case ActuatorMotor, ActuatorPosition:
		default:
			return &ModelError{Field: field + ".type", Message: fmt.Sprintf("unknown actuator type %q", a.Type)}
		}
		if a.Joint != "" && !joints[a.Joint] {
			return &ModelError{Field: field + ".joint", Message: fmt.Sprintf("unknown joint %q", a.Joint)}
		}
		if a.Type == ActuatorPosition && a.Joint == "" {
			return &ModelError{Field: field + ".joint", Message: "position actuators need a joint"}
		}
		if a.CtrlRange[0] > a.CtrlRange[1] {
			return &ModelError{Field: field + ".ctrl_range", Message: "min exceeds max"}
		}
		if a.ForceRange[0] > a.ForceRange[1] {
			return &ModelError{Field: field + ".force_range", Message: "min exceeds max"}
		}
	}
	return nil
}

// DefaultModel is a two-joint arm used when no model file is configured.
func DefaultModel() *Model {
	return &Model{
		Name: "demo-arm",
		Joints: []JointSpec{
			{Name: "shoulder_joint", Type: JointHinge},
			{Name: "elbow_joint", Type: JointHinge},
		},
		Actuators: []ActuatorSpec{
			{
				Name: "shoulder", Type: ActuatorPosition, Joint: "shoulder_joint",
				CtrlRange: [2]float32{-1.57, 1.57}, ForceRange: [2]float32{-10, 10},
			},
			{
				Name: "elbow", Type: ActuatorPosition, Joint: "elbow_joint",
				CtrlRange: [2]float32{0, 2.0}, ForceRange: [2]float32{-5, 5},
			},
		},
	}
}

// ModelError reports an invalid robot model.
type ModelError struct {
	Field   string
	Message string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("invalid robot model: %s %s", e.Field, e.Message)
}
