package pendulum

import (
	"errors"
	"math"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/as560x"

	"pendel/config"
	"pendel/core"
)

var (
	// ErrDeadZone is returned when every potentiometer wiper sits in its
	// dead zone. The last good angle is returned with it.
	ErrDeadZone = errors.New("angle sensor in dead zone")

	// ErrNoMagnet is returned when the magnetic sensor cannot see its magnet.
	ErrNoMagnet = errors.New("angle sensor magnet not detected")
)

// AngleSensor reads the raw arm angle in [0, Revolution).
type AngleSensor interface {
	ReadAngle() (Angle, error)
}

// Counter is a free-running position count, such as a quadrature decoder.
type Counter interface {
	Position() int
}

// EncoderSensor scales a quadrature count to Angle.
type EncoderSensor struct {
	counter     Counter
	ticksPerRev int64
}

// NewEncoderSensor wraps counter, which advances ticksPerRev per turn.
func NewEncoderSensor(counter Counter, ticksPerRev int) *EncoderSensor {
	if ticksPerRev <= 0 {
		ticksPerRev = int(Revolution)
	}
	return &EncoderSensor{counter: counter, ticksPerRev: int64(ticksPerRev)}
}

func (s *EncoderSensor) ReadAngle() (Angle, error) {
	pos := int64(s.counter.Position()) % s.ticksPerRev
	return Wrap(Angle(pos * int64(Revolution) / s.ticksPerRev)), nil
}

// Reset zeroes the count when the counter supports it.
func (s *EncoderSensor) Reset() {
	if c, ok := s.counter.(interface{ SetPosition(int) }); ok {
		c.SetPosition(0)
	}
}

// MagneticSensor reads an AS5600 on an I2C bus.
type MagneticSensor struct {
	dev as560x.AS5600Device
}

// NewMagneticSensor creates a sensor on bus. Call Configure before use.
func NewMagneticSensor(bus drivers.I2C) *MagneticSensor {
	return &MagneticSensor{dev: as560x.NewAS5600(bus)}
}

// Configure probes the chip and checks that the magnet is in range.
func (s *MagneticSensor) Configure(addr uint8) error {
	if addr == 0 {
		addr = as560x.DefaultAddress
	}
	if err := s.dev.Configure(as560x.Config{Address: addr}); err != nil {
		return err
	}
	detected, _, err := s.dev.MagnetStatus()
	if err != nil {
		return err
	}
	if !detected {
		return ErrNoMagnet
	}
	return nil
}

func (s *MagneticSensor) ReadAngle() (Angle, error) {
	raw, _, err := s.dev.RawAngle(as560x.ANGLE_NATIVE)
	if err != nil {
		return 0, err
	}
	return Wrap(Angle(int32(raw) * int32(Revolution) / as560x.NATIVE_ANGLE_RANGE)), nil
}

// PotPairSensor reads two continuous-rotation potentiometers on the same
// shaft. Each has a dead zone where the wiper reads nothing useful; the
// offsets are chosen so the dead zones never overlap.
type PotPairSensor struct {
	adc    core.ADCDriver
	pins   [2]core.ADCPin
	low    uint16
	high   uint16
	scale  float64 // ticks per count
	blend  int32
	offset [2]Angle
	last   Angle
}

// NewPotPairSensor configures both analog inputs.
func NewPotPairSensor(adc core.ADCDriver, pins [2]core.ADCPin, cfg config.SensorConfig) (*PotPairSensor, error) {
	for _, pin := range pins {
		if err := adc.ConfigureAnalog(pin); err != nil {
			return nil, err
		}
	}
	s := &PotPairSensor{
		adc:   adc,
		pins:  pins,
		low:   cfg.PotLow,
		high:  cfg.PotHigh,
		scale: float64(Revolution) / cfg.PotCountsPerRev,
		blend: max(int32(cfg.PotBlend), 1),
	}
	for i, deg := range cfg.PotOffsetDeg {
		s.offset[i] = FromDegrees(deg)
	}
	return s, nil
}

// weight is 0 in the dead zone and otherwise grows with the distance to
// the nearest edge, up to the blend width.
func (s *PotPairSensor) weight(r uint16) int32 {
	if r < s.low || r > s.high {
		return 0
	}
	return min(int32(min(r-s.low, s.high-r))+1, s.blend)
}

func (s *PotPairSensor) angle(i int, r uint16) Angle {
	return Wrap(Angle(math.Round(float64(r)*s.scale)) + s.offset[i])
}

func (s *PotPairSensor) ReadAngle() (Angle, error) {
	r0 := s.adc.ReadAnalog(s.pins[0])
	r1 := s.adc.ReadAnalog(s.pins[1])
	w0, w1 := s.weight(r0), s.weight(r1)

	var a Angle
	switch {
	case w0 == 0 && w1 == 0:
		return s.last, ErrDeadZone
	case w1 == 0:
		a = s.angle(0, r0)
	case w0 == 0:
		a = s.angle(1, r1)
	default:
		a0, a1 := s.angle(0, r0), s.angle(1, r1)
		a = Wrap(a0 + Rel(a1, a0)*Angle(w1)/Angle(w0+w1))
	}
	s.last = a
	return a, nil
}
