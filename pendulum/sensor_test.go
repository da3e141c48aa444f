package pendulum

import (
	"errors"
	"testing"

	"tinygo.org/x/drivers/tester"

	"pendel/config"
	"pendel/core"
)

func TestRel(t *testing.T) {
	tests := []struct {
		a, ref, want Angle
	}{
		{0, 0, 0},
		{10, 0, 10},
		{0, 10, -10},
		{2040, 8, -16},
		{8, 2040, 16},
		{1024, 0, -1024},
		{1023, 0, 1023},
		{0, Up, -1024},
		{-1000, Up, 24},
		{1000, Up, -24},
	}
	for _, tt := range tests {
		if got := Rel(tt.a, tt.ref); got != tt.want {
			t.Errorf("Rel(%d, %d) = %d, expected %d", tt.a, tt.ref, got, tt.want)
		}
	}
}

func TestWrapAndDegrees(t *testing.T) {
	if got := Wrap(-1); got != 2047 {
		t.Errorf("Expected 2047, got %d", got)
	}
	if got := Wrap(4096 + 5); got != 5 {
		t.Errorf("Expected 5, got %d", got)
	}
	if got := FromDegrees(22.5); got != Deg22_5 {
		t.Errorf("Expected %d, got %d", Deg22_5, got)
	}
	if got := Deg90.Degrees(); got != 90 {
		t.Errorf("Expected 90, got %v", got)
	}
}

type fakeCounter struct {
	pos int
}

func (c *fakeCounter) Position() int       { return c.pos }
func (c *fakeCounter) SetPosition(pos int) { c.pos = pos }

func TestEncoderSensor(t *testing.T) {
	c := &fakeCounter{pos: 1000}
	s := NewEncoderSensor(c, 4000)

	if a, _ := s.ReadAngle(); a != 512 {
		t.Errorf("Expected 512, got %d", a)
	}
	c.pos = -1000
	if a, _ := s.ReadAngle(); a != 1536 {
		t.Errorf("Expected 1536, got %d", a)
	}
	c.pos = 4000*3 + 2000
	if a, _ := s.ReadAngle(); a != Deg180 {
		t.Errorf("Expected %d after three turns, got %d", Deg180, a)
	}

	s.Reset()
	if c.pos != 0 {
		t.Errorf("Expected Reset to zero the counter, got %d", c.pos)
	}
}

func TestMagneticSensor(t *testing.T) {
	bus := tester.NewI2CBus(t)
	dev := bus.NewDevice(0x36)
	dev.Registers[0x0b] = 0x20 // magnet detected
	dev.Registers[0x0c] = 0x08
	dev.Registers[0x0d] = 0x00

	s := NewMagneticSensor(bus)
	if err := s.Configure(0); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	a, err := s.ReadAngle()
	if err != nil {
		t.Fatalf("ReadAngle failed: %v", err)
	}
	if a != 1024 {
		t.Errorf("Expected 1024, got %d", a)
	}

	dev.Registers[0x0c] = 0x0f
	dev.Registers[0x0d] = 0xff
	if a, _ := s.ReadAngle(); a != 2047 {
		t.Errorf("Expected 2047, got %d", a)
	}

	dev.Err = errors.New("nack")
	if _, err := s.ReadAngle(); err == nil {
		t.Error("Expected bus error to propagate")
	}
}

func TestMagneticSensorNoMagnet(t *testing.T) {
	bus := tester.NewI2CBus(t)
	bus.NewDevice(0x36)

	s := NewMagneticSensor(bus)
	if err := s.Configure(0x36); !errors.Is(err, ErrNoMagnet) {
		t.Errorf("Expected ErrNoMagnet, got %v", err)
	}
}

type fakeADC struct {
	values map[core.ADCPin]uint16
}

func (a *fakeADC) ConfigureAnalog(pin core.ADCPin) error { return nil }
func (a *fakeADC) ReadAnalog(pin core.ADCPin) uint16     { return a.values[pin] }

func potConfig(offsets [2]float64) config.SensorConfig {
	return config.SensorConfig{
		Kind:            config.SensorPotPair,
		PotLow:          50,
		PotHigh:         900,
		PotCountsPerRev: 1024,
		PotBlend:        100,
		PotOffsetDeg:    offsets,
	}
}

func TestPotPairBlending(t *testing.T) {
	adc := &fakeADC{values: map[core.ADCPin]uint16{}}
	s, err := NewPotPairSensor(adc, [2]core.ADCPin{26, 27}, potConfig([2]float64{0, 180}))
	if err != nil {
		t.Fatalf("NewPotPairSensor failed: %v", err)
	}

	tests := []struct {
		name   string
		r0, r1 uint16
		want   Angle
	}{
		{"both agree", 300, 812, 600},
		{"weighted toward the wiper far from its edge", 300, 814, 601},
		{"first in dead zone", 20, 532, 40},
		{"second in dead zone", 300, 950, 600},
	}
	for _, tt := range tests {
		adc.values[26], adc.values[27] = tt.r0, tt.r1
		a, err := s.ReadAngle()
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if a != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.want, a)
		}
	}

	adc.values[26], adc.values[27] = 950, 30
	a, err := s.ReadAngle()
	if !errors.Is(err, ErrDeadZone) {
		t.Errorf("Expected ErrDeadZone, got %v", err)
	}
	if a != 600 {
		t.Errorf("Expected last good angle 600, got %d", a)
	}
}

func TestPotPairBlendsAcrossWrap(t *testing.T) {
	adc := &fakeADC{values: map[core.ADCPin]uint16{26: 767, 27: 256}}
	s, err := NewPotPairSensor(adc, [2]core.ADCPin{26, 27}, potConfig([2]float64{90, 270}))
	if err != nil {
		t.Fatalf("NewPotPairSensor failed: %v", err)
	}
	a, err := s.ReadAngle()
	if err != nil {
		t.Fatalf("ReadAngle failed: %v", err)
	}
	if a != 2047 {
		t.Errorf("Expected 2047, got %d", a)
	}
}
