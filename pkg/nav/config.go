package nav

import (
	"math"

	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/pid"
)

// Config holds every navigator threshold and gain. The values were
// tuned on the obstacle course and are starting points, not invariants.
type Config struct {
	// Proximity bands on the nearest of the three forward readings (m).
	NearThreshold     float64 `yaml:"near_threshold" json:"near_threshold"`
	ModerateThreshold float64 `yaml:"moderate_threshold" json:"moderate_threshold"`
	// DefaultRange substitutes for a missing reading.
	DefaultRange float64 `yaml:"default_range" json:"default_range"`

	// Safety override: beyond OverrideAngle of goal error the agent turns
	// back directly at OverrideSpeed.
	OverrideAngle float64 `yaml:"override_angle" json:"override_angle"`
	OverrideGain  float64 `yaml:"override_gain" json:"override_gain"`
	OverrideSpeed float64 `yaml:"override_speed" json:"override_speed"`

	// Base speeds (wheel units) per situation.
	GapSpeed      float64 `yaml:"gap_speed" json:"gap_speed"`
	AvoidSpeed    float64 `yaml:"avoid_speed" json:"avoid_speed"`
	ModerateSpeed float64 `yaml:"moderate_speed" json:"moderate_speed"`
	SeekSpeed     float64 `yaml:"seek_speed" json:"seek_speed"`

	// Gap following blends gap and steering corrections.
	GapWeight   float64 `yaml:"gap_weight" json:"gap_weight"`
	SteerWeight float64 `yaml:"steer_weight" json:"steer_weight"`

	// Near without a gap: mostly steering plus a small evasive bias.
	AvoidSteerWeight   float64 `yaml:"avoid_steer_weight" json:"avoid_steer_weight"`
	AvoidEvasionWeight float64 `yaml:"avoid_evasion_weight" json:"avoid_evasion_weight"`
	EvasionStrong      float64 `yaml:"evasion_strong" json:"evasion_strong"`
	EvasionWeak        float64 `yaml:"evasion_weak" json:"evasion_weak"`

	// Moderate proximity.
	ModerateSteerWeight   float64 `yaml:"moderate_steer_weight" json:"moderate_steer_weight"`
	ModerateEvasionWeight float64 `yaml:"moderate_evasion_weight" json:"moderate_evasion_weight"`
	ModerateEvasion       float64 `yaml:"moderate_evasion" json:"moderate_evasion"`

	Steer  pid.Config   `yaml:"steer" json:"steer"`
	GapPID pid.Config   `yaml:"gap_pid" json:"gap_pid"`
	Gap    GapConfig    `yaml:"gap" json:"gap"`
	Escape EscapeConfig `yaml:"escape" json:"escape"`
	Drive  drive.Config `yaml:"drive" json:"drive"`
}

// DefaultConfig returns the mobile robot's navigator.
func DefaultConfig() Config {
	return Config{
		NearThreshold:     0.4,
		ModerateThreshold: 0.7,
		DefaultRange:      2.0,

		OverrideAngle: math.Pi / 2,
		OverrideGain:  2.5,
		OverrideSpeed: 2.0,

		GapSpeed:      5.0,
		AvoidSpeed:    4.0,
		ModerateSpeed: 6.0,
		SeekSpeed:     7.0,

		GapWeight:   0.7,
		SteerWeight: 0.3,

		AvoidSteerWeight:   0.95,
		AvoidEvasionWeight: 0.05,
		EvasionStrong:      0.3,
		EvasionWeak:        0.1,

		ModerateSteerWeight:   0.98,
		ModerateEvasionWeight: 0.02,
		ModerateEvasion:       0.15,

		Steer:  pid.PathConfig(),
		GapPID: pid.AvoidanceConfig(),
		Gap:    DefaultGapConfig(),
		Escape: DefaultEscapeConfig(),
		Drive:  drive.DefaultConfig(),
	}
}

// EscapeConfig tunes stuck detection and the recovery maneuver. Phase
// lengths are in control ticks; speeds and turns are in the caller's
// command units (wheel units for the navigator, body m/s and rad/s for
// the coverage explorer).
type EscapeConfig struct {
	CornerThreshold float64 `yaml:"corner_threshold" json:"corner_threshold"`
	CornerCount     int     `yaml:"corner_count" json:"corner_count"`

	// Displacement is sampled every StuckSampleTicks. A sample counts
	// as stuck when the agent moved less than StuckMove while something
	// is within StuckNear, or less than StuckMoveAny regardless.
	StuckSampleTicks int     `yaml:"stuck_sample_ticks" json:"stuck_sample_ticks"`
	StuckMove        float64 `yaml:"stuck_move" json:"stuck_move"`
	StuckNear        float64 `yaml:"stuck_near" json:"stuck_near"`
	StuckMoveAny     float64 `yaml:"stuck_move_any" json:"stuck_move_any"`
	// Escape starts after more than StuckLimit stuck samples, or more
	// than StuckNearLimit while a reading is under CornerThreshold.
	StuckLimit     int `yaml:"stuck_limit" json:"stuck_limit"`
	StuckNearLimit int `yaml:"stuck_near_limit" json:"stuck_near_limit"`

	ReverseTicks int `yaml:"reverse_ticks" json:"reverse_ticks"`
	RotateTicks  int `yaml:"rotate_ticks" json:"rotate_ticks"`
	CreepTicks   int `yaml:"creep_ticks" json:"creep_ticks"`

	ReverseSpeed      float64 `yaml:"reverse_speed" json:"reverse_speed"`
	ReverseTurn       float64 `yaml:"reverse_turn" json:"reverse_turn"`
	HardReverseSpeed  float64 `yaml:"hard_reverse_speed" json:"hard_reverse_speed"`
	HardReverseTurn   float64 `yaml:"hard_reverse_turn" json:"hard_reverse_turn"`
	RotateTurn        float64 `yaml:"rotate_turn" json:"rotate_turn"`
	StuckRotateTurn   float64 `yaml:"stuck_rotate_turn" json:"stuck_rotate_turn"`
	CreepSpeed        float64 `yaml:"creep_speed" json:"creep_speed"`
	CreepNear         float64 `yaml:"creep_near" json:"creep_near"`
	CreepBackoffSpeed float64 `yaml:"creep_backoff_speed" json:"creep_backoff_speed"`
	CreepBackoffTurn  float64 `yaml:"creep_backoff_turn" json:"creep_backoff_turn"`

	// HardAfter escapes in a row the maneuver uses the hard variants;
	// the counter clears once it exceeds ResetAfter.
	HardAfter  int `yaml:"hard_after" json:"hard_after"`
	ResetAfter int `yaml:"reset_after" json:"reset_after"`
}

// DefaultEscapeConfig returns the defaults for a 240 Hz loop.
func DefaultEscapeConfig() EscapeConfig {
	return EscapeConfig{
		CornerThreshold: 0.2,
		CornerCount:     2,

		StuckSampleTicks: 60,
		StuckMove:        0.015,
		StuckNear:        0.3,
		StuckMoveAny:     0.03,
		StuckLimit:       5,
		StuckNearLimit:   2,

		ReverseTicks: 120,
		RotateTicks:  120,
		CreepTicks:   120,

		ReverseSpeed:      -4.0,
		ReverseTurn:       1.5,
		HardReverseSpeed:  -6.0,
		HardReverseTurn:   2.0,
		RotateTurn:        1.5,
		StuckRotateTurn:   2.0,
		CreepSpeed:        3.0,
		CreepNear:         0.25,
		CreepBackoffSpeed: -2.0,
		CreepBackoffTurn:  1.5,

		HardAfter:  2,
		ResetAfter: 3,
	}
}
