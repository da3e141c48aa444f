package pendulum

// SampleDepth is the number of ticks of history the sampler keeps.
const SampleDepth = 16

type sample struct {
	down  Angle // relative to hanging
	up    Angle // relative to upright
	speed Angle // ticks per control tick
}

// Sampler measures the arm once per control tick and keeps a short
// history of angles and angular speed.
type Sampler struct {
	sensor AngleSensor
	zero   Angle // added to the raw reading so hanging reads Down

	hist  [SampleDepth]sample
	index int // slot of the newest sample

	ticks     uint32
	stepPos   int32
	havePos   bool
	stepSpeed int32
	last      uint32 // time of the previous measurement, 0 before the first
	interval  uint32
}

// NewSampler creates a sampler on sensor. The raw zero is taken as down
// until CalibrateDown is called.
func NewSampler(sensor AngleSensor) *Sampler {
	s := &Sampler{sensor: sensor}
	s.Reset()
	return s
}

func (s *Sampler) slot(i int) *sample {
	return &s.hist[(s.index+i)%SampleDepth]
}

// resetHistory makes every slot read as hanging still.
func (s *Sampler) resetHistory() {
	s.index = 0
	for i := range s.hist {
		s.hist[i] = sample{down: 0, up: -Deg180}
	}
}

// Reset clears the history and the tick count.
func (s *Sampler) Reset() {
	s.resetHistory()
	s.ticks = 0
	s.last = 0
	s.interval = 0
	s.stepSpeed = 0
	s.havePos = false
}

// CalibrateDown declares the current position to be hanging straight down
// and clears the history.
func (s *Sampler) CalibrateDown() error {
	raw, err := s.sensor.ReadAngle()
	if err != nil {
		return err
	}
	if r, ok := s.sensor.(interface{ Reset() }); ok {
		r.Reset()
		raw = 0
	}
	s.zero = Wrap(Down - raw)
	s.resetHistory()
	return nil
}

// Measure reads the sensor and appends one tick. now is the actual time of
// the measurement and stepPos the cart position in full steps.
//
// A sensor error is returned after the sample is stored; dead-zone readings
// carry the last good angle.
func (s *Sampler) Measure(now uint32, stepPos int32) error {
	raw, err := s.sensor.ReadAngle()
	a := Wrap(raw + s.zero)

	prev := s.slot(0).down
	s.index = (s.index + SampleDepth - 1) % SampleDepth
	cur := s.slot(0)
	cur.down = Rel(a, Down)
	cur.up = Rel(a, Up)
	cur.speed = Rel(cur.down, prev)

	if s.havePos {
		s.stepSpeed = stepPos - s.stepPos
	}
	s.stepPos, s.havePos = stepPos, true
	s.ticks++

	if s.last != 0 {
		s.interval = now - s.last
	}
	s.last = now
	if s.last == 0 {
		s.last = 1
	}
	return err
}

// Down returns the angle from hanging i ticks ago.
func (s *Sampler) Down(i int) Angle { return s.slot(i).down }

// Up returns the angle from upright i ticks ago.
func (s *Sampler) Up(i int) Angle { return s.slot(i).up }

// Speed returns the angular speed i ticks ago, in ticks per control tick.
func (s *Sampler) Speed(i int) Angle { return s.slot(i).speed }

// AbsSpeed returns the magnitude of the newest speed.
func (s *Sampler) AbsSpeed() Angle { return s.slot(0).speed.Abs() }

// StepSpeed returns the cart motion in full steps over the last tick.
func (s *Sampler) StepSpeed() int32 { return s.stepSpeed }

// Ticks returns the number of measurements since Reset.
func (s *Sampler) Ticks() uint32 { return s.ticks }

// Interval returns the time between the last two measurements, 0 until
// two have been taken.
func (s *Sampler) Interval() uint32 { return s.interval }

// Still reports whether no motion is recorded anywhere in the history.
// Right after a reset it is trivially true.
func (s *Sampler) Still() bool {
	for i := range s.hist {
		if s.hist[i].speed != 0 {
			return false
		}
	}
	return true
}

// GoingDown reports whether the arm is swinging toward hanging.
func (s *Sampler) GoingDown() bool {
	a, v := s.Down(0), s.Speed(0)
	return (a < 0 && v > 0) || (a > 0 && v < 0)
}

// GoingUp reports whether the arm is swinging toward upright.
func (s *Sampler) GoingUp() bool {
	a, v := s.Up(0), s.Speed(0)
	return (a < 0 && v > 0) || (a > 0 && v < 0)
}
