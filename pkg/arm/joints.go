package arm

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/world"
)

// Joints is the actuator collaborator the controller drives: revolute
// joints that take a torque per joint and report their angles.
type Joints interface {
	Angles() ([]float64, error)
	SetTorques(torques []float64) error
	Step(dt float64) error
}

// PlanarConfig describes a serial arm of identical links rotating in
// the horizontal plane.
type PlanarConfig struct {
	Joints       int
	LinkLength   float64 // m
	LinkMass     float64 // kg
	ToolMass     float64 // kg, carried at the tip
	Damping      float64 // N·m·s/rad per joint
	Limit        float64 // |angle| bound, rad
	InitialAngle []float64
}

// DefaultPlanarConfig returns the two-link arm.
func DefaultPlanarConfig() PlanarConfig {
	return PlanarConfig{
		Joints:     2,
		LinkLength: 0.5,
		LinkMass:   1.5,
		ToolMass:   0.3,
		Damping:    0.15,
		Limit:      3.14,
	}
}

// Planar integrates decoupled joint dynamics: each joint sees the
// inertia of every link outboard of it, viscous damping and the applied
// torque. Gravity acts along the joint axes and does no work.
type Planar struct {
	mu sync.Mutex

	cfg     PlanarConfig
	inertia []float64
	angle   []float64
	rate    []float64
	torque  []float64
	closed  bool
}

// NewPlanar builds a resting arm.
func NewPlanar(cfg PlanarConfig) (*Planar, error) {
	if cfg.Joints < 1 {
		return nil, fmt.Errorf("arm needs at least one joint, got %d", cfg.Joints)
	}
	if cfg.LinkLength <= 0 || cfg.LinkMass <= 0 {
		return nil, fmt.Errorf("link length and mass must be positive")
	}
	if len(cfg.InitialAngle) > cfg.Joints {
		return nil, fmt.Errorf("%d initial angles for %d joints", len(cfg.InitialAngle), cfg.Joints)
	}
	if cfg.Limit <= 0 {
		cfg.Limit = math.Pi
	}

	p := &Planar{
		cfg:     cfg,
		inertia: make([]float64, cfg.Joints),
		angle:   make([]float64, cfg.Joints),
		rate:    make([]float64, cfg.Joints),
		torque:  make([]float64, cfg.Joints),
	}
	copy(p.angle, cfg.InitialAngle)

	l, m := cfg.LinkLength, cfg.LinkMass
	for i := range p.inertia {
		// own link about its end, then outboard links and the tool
		in := m * l * l / 3
		for k := i + 1; k < cfg.Joints; k++ {
			r := float64(k-i)*l + l/2
			in += m * (r*r + l*l/12)
		}
		tip := float64(cfg.Joints-i) * l
		in += cfg.ToolMass * tip * tip
		p.inertia[i] = in
	}
	return p, nil
}

// Angles returns the joint angles in radians.
func (p *Planar) Angles() ([]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, world.Fatal("angles", world.ErrDisconnected)
	}
	return append([]float64(nil), p.angle...), nil
}

// SetTorques sets the torque held on each joint until the next call.
func (p *Planar) SetTorques(torques []float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return world.Fatal("set torques", world.ErrDisconnected)
	}
	if len(torques) != len(p.torque) {
		return world.Recoverable("set torques",
			fmt.Errorf("%d torques for %d joints", len(torques), len(p.torque)))
	}
	for _, t := range torques {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return world.Recoverable("set torques", errors.New("non-finite torque"))
		}
	}
	copy(p.torque, torques)
	return nil
}

// Step advances the arm by dt with semi-implicit Euler. A joint driven
// into its limit stops there.
func (p *Planar) Step(dt float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return world.Fatal("step", world.ErrDisconnected)
	}
	if dt <= 0 {
		return nil
	}
	lim := p.cfg.Limit
	for i := range p.angle {
		acc := (p.torque[i] - p.cfg.Damping*p.rate[i]) / p.inertia[i]
		p.rate[i] += acc * dt
		p.angle[i] += p.rate[i] * dt
		if p.angle[i] > lim || p.angle[i] < -lim {
			p.angle[i] = geom.Clamp(p.angle[i], -lim, lim)
			p.rate[i] = 0
		}
	}
	return nil
}

// Inertia returns the effective inertia seen by joint i.
func (p *Planar) Inertia(i int) float64 {
	return p.inertia[i]
}

// LinkLength returns the length of every link.
func (p *Planar) LinkLength() float64 {
	return p.cfg.LinkLength
}

// Close disconnects the arm; every later call fails fatally.
func (p *Planar) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Tip returns the planar position of the end of the last link, the base
// at the origin and every link of length l.
func Tip(angles []float64, l float64) geom.Vec2 {
	var tip geom.Vec2
	var sum float64
	for _, a := range angles {
		sum += a
		tip = tip.Add(geom.Polar(l, sum))
	}
	return tip
}
