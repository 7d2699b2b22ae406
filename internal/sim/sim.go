// Package sim is a small kinematic robot model. It tracks joint positions
// and actuator controls; it does not integrate dynamics.
package sim

import (
	"sync"

	"go.uber.org/zap"

	"github.com/woxQAQ/robokernel/pkg/protocol"
)

// ActuatorInfo describes one actuator. Indices are 0-based; JointIndex is
// -1 when the actuator does not drive a joint.
type ActuatorInfo struct {
	Name       string
	Index      int
	JointIndex int
	Type       string
	Ctrl       float32
	CtrlMin    float32
	CtrlMax    float32
	ForceMin   float32
	ForceMax   float32
}

// JointInfo describes one joint. Index is 0-based.
type JointInfo struct {
	Name      string
	Index     int
	Type      string
	DofDim    int
	Positions []float32
}

type joint struct {
	spec JointSpec
	qpos []float32
}

type actuator struct {
	spec  ActuatorSpec
	joint int
	ctrl  float32
}

// Simulation is the robot state owned by the simulation goroutine. Methods
// are safe for concurrent use.
type Simulation struct {
	mu        sync.RWMutex
	name      string
	joints    []joint
	actuators []actuator
	time      float64
	logger    *zap.Logger
}

// New builds a simulation from a validated model.
func New(model *Model, logger *zap.Logger) (*Simulation, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}

	s := &Simulation{
		name:   model.Name,
		logger: logger.With(zap.String("component", "sim"), zap.String("robot", model.Name)),
	}

	jointIndex := make(map[string]int, len(model.Joints))
	for i, spec := range model.Joints {
		qpos := make([]float32, spec.Type.DOF())
		copy(qpos, spec.Qpos)
		s.joints = append(s.joints, joint{spec: spec, qpos: qpos})
		jointIndex[spec.Name] = i
	}

	for _, spec := range model.Actuators {
		a := actuator{spec: spec, joint: -1}
		if spec.Joint != "" {
			a.joint = jointIndex[spec.Joint]
		}
		s.actuators = append(s.actuators, a)
	}

	s.logger.Info("Robot model loaded",
		zap.Int("joints", len(s.joints)),
		zap.Int("actuators", len(s.actuators)),
	)
	return s, nil
}

// Name returns the robot model name.
func (s *Simulation) Name() string {
	return s.name
}

// Time returns the simulated time in seconds.
func (s *Simulation) Time() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.time
}

// GetJointPositions returns every joint coordinate, joints in model order.
func (s *Simulation) GetJointPositions() []float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []float32
	for _, j := range s.joints {
		out = append(out, j.qpos...)
	}
	return out
}

// SetActuatorControls sets controls by 0-based actuator index. All indices
// are checked before any control changes. Values outside an actuator's
// control range are clamped.
func (s *Simulation) SetActuatorControls(indices []int, values []float32) error {
	if len(indices) != len(values) {
		return protocol.InvalidArgument("%d actuator indices but %d values", len(indices), len(values))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, idx := range indices {
		if idx < 0 || idx >= len(s.actuators) {
			return protocol.InvalidArgument("actuator index %d out of range [0, %d)", idx, len(s.actuators))
		}
	}
	for i, idx := range indices {
		a := &s.actuators[idx]
		a.ctrl = a.clamp(values[i])
	}
	return nil
}

func (a *actuator) clamp(v float32) float32 {
	lo, hi := a.spec.CtrlRange[0], a.spec.CtrlRange[1]
	if lo >= hi {
		return v
	}
	return min(max(v, lo), hi)
}

// GetActuatorInfo lists actuators in model order.
func (s *Simulation) GetActuatorInfo() []ActuatorInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ActuatorInfo, len(s.actuators))
	for i, a := range s.actuators {
		out[i] = ActuatorInfo{
			Name:       a.spec.Name,
			Index:      i,
			JointIndex: a.joint,
			Type:       string(a.spec.Type),
			Ctrl:       a.ctrl,
			CtrlMin:    a.spec.CtrlRange[0],
			CtrlMax:    a.spec.CtrlRange[1],
			ForceMin:   a.spec.ForceRange[0],
			ForceMax:   a.spec.ForceRange[1],
		}
	}
	return out
}

// GetJointInfo lists joints in model order.
func (s *Simulation) GetJointInfo() []JointInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JointInfo, len(s.joints))
	for i, j := range s.joints {
		out[i] = JointInfo{
			Name:      j.spec.Name,
			Index:     i,
			Type:      string(j.spec.Type),
			DofDim:    len(j.qpos),
			Positions: append([]float32(nil), j.qpos...),
		}
	}
	return out
}

// Step advances time by dt and moves every position-actuated joint to its
// actuator's control.
func (s *Simulation) Step(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.actuators {
		if a.spec.Type == ActuatorPosition && a.joint >= 0 {
			s.joints[a.joint].qpos[0] = a.ctrl
		}
	}
	s.time += dt
}
