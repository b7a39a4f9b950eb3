// Package pid provides the proportional-integral-derivative loop used on
// every control axis: steering, gap following and joint positioning.
package pid

import "math"

// Config holds the gains and the integral band of a controller.
type Config struct {
	Kp float64 // Proportional gain
	Ki float64 // Integral gain
	Kd float64 // Derivative gain

	// IntegralLimit clamps the integral accumulator to ±IntegralLimit.
	// Zero or negative disables the clamp.
	IntegralLimit float64
}

// DefaultIntegralLimit bounds windup when a preset does not override it.
const DefaultIntegralLimit = 2.0

// DefaultConfig returns a mild, mostly proportional controller.
func DefaultConfig() Config {
	return Config{Kp: 1.0, Ki: 0.0, Kd: 0.1, IntegralLimit: DefaultIntegralLimit}
}

// PathConfig returns the gains used to steer toward the goal or a path target.
func PathConfig() Config {
	return Config{Kp: 2.5, Ki: 0.1, Kd: 0.3, IntegralLimit: DefaultIntegralLimit}
}

// AvoidanceConfig returns the gains used to steer into a gap.
func AvoidanceConfig() Config {
	return Config{Kp: 2.0, Ki: 0.05, Kd: 0.3, IntegralLimit: DefaultIntegralLimit}
}

// JointConfig returns stiff gains for revolute joint position control.
// Callers clamp the resulting torque to their actuator limit.
func JointConfig() Config {
	return Config{Kp: 5.0, Ki: 0.2, Kd: 1.0, IntegralLimit: DefaultIntegralLimit}
}

// Controller is a single-axis PID loop. The zero value is not useful;
// use New. A Controller is not safe for concurrent use; it belongs to
// the control loop that owns it.
type Controller struct {
	cfg Config

	integral  float64
	prevError float64
}

// New creates a controller with zeroed state.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// Update advances the loop by one step of length dt and returns
// kp·e + ki·∫e + kd·de/dt. A non-positive dt contributes no derivative
// and no integral. The output is not clamped.
func (c *Controller) Update(err, dt float64) float64 {
	if math.IsNaN(err) || math.IsInf(err, 0) {
		err = 0
	}

	derivative := 0.0
	if dt > 0 {
		c.integral += err * dt
		if lim := c.cfg.IntegralLimit; lim > 0 {
			c.integral = clamp(c.integral, -lim, lim)
		}
		derivative = (err - c.prevError) / dt
	}
	c.prevError = err

	return c.cfg.Kp*err + c.cfg.Ki*c.integral + c.cfg.Kd*derivative
}

// Reset zeroes the integral and the remembered error. Call it whenever
// the target jumps so the derivative does not kick.
func (c *Controller) Reset() {
	c.integral = 0
	c.prevError = 0
}

// Integral returns the current accumulator value.
func (c *Controller) Integral() float64 {
	return c.integral
}

// Config returns the controller gains.
func (c *Controller) Config() Config {
	return c.cfg
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
