package world

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/teslashibe/go-rover/pkg/geom"
)

// contactSlop widens the contact test so a body resting against a wall
// keeps reporting the contact.
const contactSlop = 0.005

// SimConfig describes a kinematic scene.
type SimConfig struct {
	Obstacles   []Box
	Start       geom.Pose
	RobotRadius float64 // collision radius of the agent footprint
}

// Sim is a planar kinematic world: a unicycle agent on a floor with
// static boxes. Commanded velocities are applied exactly; moves that
// would penetrate an obstacle slide along it or stop, and register a
// contact. It is safe for concurrent use so a signal handler may Close
// it while the loop runs.
type Sim struct {
	mu sync.Mutex

	obstacles []Box
	radius    float64
	robotID   int

	pose     geom.Pose
	linear   float64
	angular  float64
	contacts []Contact
	steps    int
	closed   bool
}

// NewSim creates a simulator. Body ids: ground 0, obstacles 1..n,
// agent n+1.
func NewSim(cfg SimConfig) *Sim {
	radius := cfg.RobotRadius
	if radius <= 0 {
		radius = 0.18
	}
	s := &Sim{
		obstacles: append([]Box(nil), cfg.Obstacles...),
		radius:    radius,
		robotID:   len(cfg.Obstacles) + 1,
		pose:      cfg.Start,
	}
	s.contacts = s.touching(s.pose.Position(), -1)
	return s
}

// GroundID returns the floor body id.
func (s *Sim) GroundID() int { return GroundID }

// RobotID returns the agent body id.
func (s *Sim) RobotID() int { return s.robotID }

// Obstacles returns a copy of the static boxes.
func (s *Sim) Obstacles() []Box {
	return append([]Box(nil), s.obstacles...)
}

// Steps returns how many physics steps have run.
func (s *Sim) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// CastRay returns the first intersection of the segment from→to with
// the floor or an obstacle. The agent itself is never hit.
func (s *Sim) CastRay(from, to geom.Vec3) (RayHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return RayHit{}, Fatal("ray test", ErrDisconnected)
	}
	if !finite3(from) || !finite3(to) {
		return RayHit{}, Recoverable("ray test", fmt.Errorf("non-finite ray %v -> %v", from, to))
	}

	best := RayHit{Fraction: 2}
	if to.Z < 0 && from.Z >= 0 {
		t := from.Z / (from.Z - to.Z)
		best = RayHit{Hit: true, Fraction: t, BodyID: GroundID}
	}
	for i, b := range s.obstacles {
		if t, ok := b.intersect(from, to); ok && t < best.Fraction {
			best = RayHit{Hit: true, Fraction: t, BodyID: i + 1}
		}
	}
	if !best.Hit {
		return RayHit{Fraction: 1}, nil
	}
	best.Position = from.Add(to.Sub(from).Scale(best.Fraction))
	return best, nil
}

// Pose returns the agent pose.
func (s *Sim) Pose() (geom.Pose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return geom.Pose{}, Fatal("pose", ErrDisconnected)
	}
	return s.pose, nil
}

// SetVelocity commands body-frame linear (m/s) and angular (rad/s)
// velocity until the next call.
func (s *Sim) SetVelocity(linear, angular float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Fatal("set velocity", ErrDisconnected)
	}
	if math.IsNaN(linear) || math.IsNaN(angular) || math.IsInf(linear, 0) || math.IsInf(angular, 0) {
		return Recoverable("set velocity", errors.New("non-finite velocity"))
	}
	s.linear, s.angular = linear, angular
	return nil
}

// Contacts returns the contacts produced by the last step. The floor
// contact is always present.
func (s *Sim) Contacts() ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, Fatal("contacts", ErrDisconnected)
	}
	return append([]Contact(nil), s.contacts...), nil
}

// Step integrates the commanded velocity over dt.
func (s *Sim) Step(dt float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Fatal("step", ErrDisconnected)
	}
	if dt <= 0 {
		return Recoverable("step", fmt.Errorf("non-positive dt %v", dt))
	}

	heading := geom.NormalizeAngle(s.pose.Heading + s.angular*dt)
	pos := s.pose.Position()
	delta := geom.Polar(s.linear*dt, heading)

	blocked := -1
	next := pos.Add(delta)
	if id := s.penetrating(next); id >= 0 {
		blocked = id
		// slide along whichever axis is free
		switch {
		case s.penetrating(pos.Add(geom.V2(delta.X, 0))) < 0:
			next = pos.Add(geom.V2(delta.X, 0))
		case s.penetrating(pos.Add(geom.V2(0, delta.Y))) < 0:
			next = pos.Add(geom.V2(0, delta.Y))
		default:
			next = pos
		}
	}

	s.pose = geom.Pose{X: next.X, Y: next.Y, Heading: heading}
	s.contacts = s.touching(next, blocked)
	s.steps++
	return nil
}

// Reset teleports the agent and clears its commanded velocity.
func (s *Sim) Reset(p geom.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pose = p
	s.linear, s.angular = 0, 0
	s.contacts = s.touching(p.Position(), -1)
}

// Close disconnects the simulator; every later call fails with a fatal
// ErrDisconnected.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// penetrating returns the id of an obstacle overlapping a disc at p, or -1.
func (s *Sim) penetrating(p geom.Vec2) int {
	for i, b := range s.obstacles {
		if b.distanceTo(p) < s.radius {
			return i + 1
		}
	}
	return -1
}

func (s *Sim) touching(p geom.Vec2, blocked int) []Contact {
	contacts := []Contact{{BodyA: s.robotID, BodyB: GroundID}}
	for i, b := range s.obstacles {
		id := i + 1
		if id == blocked || b.distanceTo(p) <= s.radius+contactSlop {
			contacts = append(contacts, Contact{BodyA: s.robotID, BodyB: id})
		}
	}
	return contacts
}

func finite3(v geom.Vec3) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
