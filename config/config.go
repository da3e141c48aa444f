// Package config holds the tunable parameters of the pendulum rig.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Sensor kinds.
const (
	SensorEncoder  = "encoder"
	SensorMagnetic = "magnetic"
	SensorPotPair  = "potpair"
)

type Config struct {
	Motion      MotionConfig      `yaml:"motion"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Control     ControlConfig     `yaml:"control"`
	Sensor      SensorConfig      `yaml:"sensor"`
	Timing      TimingConfig      `yaml:"timing"`
}

// MotionConfig bounds the cart drive while running.
type MotionConfig struct {
	SmoothDelay        time.Duration `yaml:"smooth_delay"`
	MaxAcceleration    float64       `yaml:"max_acceleration"` // steps/s^2
	MaxSpeed           float64       `yaml:"max_speed"`        // steps/s
	MiddleSpeedDivisor float64       `yaml:"middle_speed_divisor"`
}

// CalibrationConfig drives the end-stop search.
type CalibrationConfig struct {
	Speed          float64 `yaml:"speed"` // steps/s
	Acceleration   float64 `yaml:"acceleration"`
	ApproxDistance int32   `yaml:"approx_distance"` // rough track length, steps
	ClearFraction  float64 `yaml:"clear_fraction"`
	SweepFraction  float64 `yaml:"sweep_fraction"`
}

// ControlConfig holds the swing-up and balance law.
type ControlConfig struct {
	Tick time.Duration `yaml:"tick"`

	Kp            float64 `yaml:"kp"`
	Kd            float64 `yaml:"kd"`
	ArmLength     float64 `yaml:"arm_length"`      // m
	StepsPerMeter float64 `yaml:"steps_per_meter"` // cart travel
	SpeedPerAngle float64 `yaml:"speed_per_angle"`

	BalanceZoneDeg     float64 `yaml:"balance_zone_deg"`
	SwingZoneDeg       float64 `yaml:"swing_zone_deg"`
	MaxBalanceSpeedDeg float64 `yaml:"max_balance_speed_deg"` // per tick

	CenterMargin int32   `yaml:"center_margin"` // steps
	CenterGain   float64 `yaml:"center_gain"`
	LimitMargin  int32   `yaml:"limit_margin"` // steps

	PumpBase        int32 `yaml:"pump_base"`
	PumpSpeedOffset int32 `yaml:"pump_speed_offset"`
	PumpSpeedGain   int32 `yaml:"pump_speed_gain"`
	PumpMin         int32 `yaml:"pump_min"`
	PumpMax         int32 `yaml:"pump_max"`
	JerkDistance    int32 `yaml:"jerk_distance"`

	StillTicks       uint32        `yaml:"still_ticks"`
	WaitStillTimeout time.Duration `yaml:"wait_still_timeout"` // 0 waits forever
	JitterWarn       time.Duration `yaml:"jitter_warn"`
}

// SensorConfig selects and tunes the angle sensor.
type SensorConfig struct {
	Kind string `yaml:"kind"`

	// Potentiometer pair. Readings outside [PotLow, PotHigh] are in the
	// wiper dead zone.
	PotLow          uint16     `yaml:"pot_low"`
	PotHigh         uint16     `yaml:"pot_high"`
	PotCountsPerRev float64    `yaml:"pot_counts_per_rev"`
	PotBlend        uint16     `yaml:"pot_blend"`
	PotOffsetDeg    [2]float64 `yaml:"pot_offset_deg"`
}

// TimingConfig sets the polling and indicator cadence.
type TimingConfig struct {
	SafetyPoll time.Duration `yaml:"safety_poll"`
	ButtonPoll time.Duration `yaml:"button_poll"`
	IdlePoll   time.Duration `yaml:"idle_poll"`
	SlowBlink  time.Duration `yaml:"slow_blink"`
	FastBlink  time.Duration `yaml:"fast_blink"`
}

// Default returns the parameters of the reference rig.
func Default() Config {
	return Config{
		Motion: MotionConfig{
			SmoothDelay:        200 * time.Microsecond,
			MaxAcceleration:    60000,
			MaxSpeed:           16000,
			MiddleSpeedDivisor: 8,
		},
		Calibration: CalibrationConfig{
			Speed:          1300,
			Acceleration:   60000,
			ApproxDistance: 3000,
			ClearFraction:  0.2,
			SweepFraction:  1.5,
		},
		Control: ControlConfig{
			Tick:               10 * time.Millisecond,
			Kp:                 1.0,
			Kd:                 0.4,
			ArmLength:          0.16,
			StepsPerMeter:      1240 / 0.245,
			SpeedPerAngle:      4.0 / 70,
			BalanceZoneDeg:     22.5,
			SwingZoneDeg:       45,
			MaxBalanceSpeedDeg: 2.46,
			CenterMargin:       400,
			CenterGain:         0.1,
			LimitMargin:        100,
			PumpBase:           300,
			PumpSpeedOffset:    20,
			PumpSpeedGain:      6,
			PumpMin:            60,
			PumpMax:            600,
			JerkDistance:       400,
			StillTicks:         10,
			JitterWarn:         time.Millisecond,
		},
		Sensor: SensorConfig{
			Kind:            SensorEncoder,
			PotLow:          50,
			PotHigh:         900,
			PotCountsPerRev: 1084,
			PotBlend:        100,
			PotOffsetDeg:    [2]float64{0, 180},
		},
		Timing: TimingConfig{
			SafetyPoll: time.Millisecond,
			ButtonPoll: time.Millisecond,
			IdlePoll:   time.Millisecond,
			SlowBlink:  200 * time.Millisecond,
			FastBlink:  100 * time.Millisecond,
		},
	}
}

// applyDefaults fills zero fields from Default.
func applyDefaults(cfg *Config) {
	def := Default()

	m := &cfg.Motion
	if m.SmoothDelay == 0 {
		m.SmoothDelay = def.Motion.SmoothDelay
	}
	if m.MaxAcceleration == 0 {
		m.MaxAcceleration = def.Motion.MaxAcceleration
	}
	if m.MaxSpeed == 0 {
		m.MaxSpeed = def.Motion.MaxSpeed
	}
	if m.MiddleSpeedDivisor == 0 {
		m.MiddleSpeedDivisor = def.Motion.MiddleSpeedDivisor
	}

	c := &cfg.Calibration
	if c.Speed == 0 {
		c.Speed = def.Calibration.Speed
	}
	if c.Acceleration == 0 {
		c.Acceleration = m.MaxAcceleration
	}
	if c.ApproxDistance == 0 {
		c.ApproxDistance = def.Calibration.ApproxDistance
	}
	if c.ClearFraction == 0 {
		c.ClearFraction = def.Calibration.ClearFraction
	}
	if c.SweepFraction == 0 {
		c.SweepFraction = def.Calibration.SweepFraction
	}

	k := &cfg.Control
	dk := def.Control
	if k.Tick == 0 {
		k.Tick = dk.Tick
	}
	if k.ArmLength == 0 {
		k.ArmLength = dk.ArmLength
	}
	if k.StepsPerMeter == 0 {
		k.StepsPerMeter = dk.StepsPerMeter
	}
	if k.SpeedPerAngle == 0 {
		k.SpeedPerAngle = dk.SpeedPerAngle
	}
	if k.BalanceZoneDeg == 0 {
		k.BalanceZoneDeg = dk.BalanceZoneDeg
	}
	if k.SwingZoneDeg == 0 {
		k.SwingZoneDeg = dk.SwingZoneDeg
	}
	if k.MaxBalanceSpeedDeg == 0 {
		k.MaxBalanceSpeedDeg = dk.MaxBalanceSpeedDeg
	}
	if k.PumpMax == 0 {
		k.PumpMax = dk.PumpMax
	}
	if k.StillTicks == 0 {
		k.StillTicks = dk.StillTicks
	}
	if k.JitterWarn == 0 {
		k.JitterWarn = dk.JitterWarn
	}

	s := &cfg.Sensor
	if s.Kind == "" {
		s.Kind = def.Sensor.Kind
	}
	if s.PotHigh == 0 {
		s.PotLow, s.PotHigh = def.Sensor.PotLow, def.Sensor.PotHigh
	}
	if s.PotCountsPerRev == 0 {
		s.PotCountsPerRev = def.Sensor.PotCountsPerRev
	}
	if s.PotBlend == 0 {
		s.PotBlend = def.Sensor.PotBlend
	}

	t := &cfg.Timing
	if t.SafetyPoll == 0 {
		t.SafetyPoll = def.Timing.SafetyPoll
	}
	if t.ButtonPoll == 0 {
		t.ButtonPoll = def.Timing.ButtonPoll
	}
	if t.IdlePoll == 0 {
		t.IdlePoll = def.Timing.IdlePoll
	}
	if t.SlowBlink == 0 {
		t.SlowBlink = def.Timing.SlowBlink
	}
	if t.FastBlink == 0 {
		t.FastBlink = def.Timing.FastBlink
	}
}

// Validate checks that the parameters describe a usable rig.
func (c Config) Validate() error {
	switch {
	case c.Motion.MaxSpeed <= 0 || c.Motion.MaxAcceleration <= 0:
		return fmt.Errorf("%w: motion speed and acceleration must be positive", ErrInvalid)
	case c.Motion.MiddleSpeedDivisor < 1:
		return fmt.Errorf("%w: motion.middle_speed_divisor must be at least 1", ErrInvalid)
	case c.Calibration.Speed <= 0 || c.Calibration.Speed > c.Motion.MaxSpeed:
		return fmt.Errorf("%w: calibration.speed must be in (0, max_speed]", ErrInvalid)
	case c.Calibration.ApproxDistance <= 0:
		return fmt.Errorf("%w: calibration.approx_distance must be positive", ErrInvalid)
	case c.Calibration.SweepFraction <= 1:
		return fmt.Errorf("%w: calibration.sweep_fraction must exceed 1 to reach the far end", ErrInvalid)
	case c.Control.Tick < time.Millisecond || c.Control.Tick > time.Second:
		return fmt.Errorf("%w: control.tick %v out of range [1ms, 1s]", ErrInvalid, c.Control.Tick)
	case c.Control.LimitMargin < 0 || 4*c.Control.LimitMargin >= c.Calibration.ApproxDistance:
		return fmt.Errorf("%w: control.limit_margin %d leaves no room on a %d step track", ErrInvalid,
			c.Control.LimitMargin, c.Calibration.ApproxDistance)
	case c.Control.BalanceZoneDeg <= 0 || c.Control.BalanceZoneDeg >= c.Control.SwingZoneDeg:
		return fmt.Errorf("%w: control.balance_zone_deg must be positive and below swing_zone_deg", ErrInvalid)
	case c.Control.SwingZoneDeg >= 180:
		return fmt.Errorf("%w: control.swing_zone_deg must be below 180", ErrInvalid)
	case c.Control.PumpMin > c.Control.PumpMax:
		return fmt.Errorf("%w: control.pump_min exceeds pump_max", ErrInvalid)
	}

	switch c.Sensor.Kind {
	case SensorEncoder, SensorMagnetic:
	case SensorPotPair:
		if c.Sensor.PotLow >= c.Sensor.PotHigh || c.Sensor.PotHigh > 1023 {
			return fmt.Errorf("%w: sensor pot window [%d, %d] invalid", ErrInvalid, c.Sensor.PotLow, c.Sensor.PotHigh)
		}
		if c.Sensor.PotCountsPerRev <= float64(c.Sensor.PotHigh) {
			return fmt.Errorf("%w: sensor.pot_counts_per_rev must exceed pot_high", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown sensor kind %q", ErrInvalid, c.Sensor.Kind)
	}
	return nil
}

// Micros converts a duration to the rig's microsecond clock.
func Micros(d time.Duration) uint32 {
	return uint32(d / time.Microsecond)
}
