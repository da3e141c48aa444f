package core

import "math"

// Stepper timing constants, in microseconds unless noted.
const (
	// MaxMicro is the finest microstep level; 2^MaxMicro microsteps per step.
	MaxMicro = 5

	modeChangeUS   = 1
	enableUS       = 1
	steppingPulse  = 1
	shiftThreshold = 1 << 30

	DefaultTargetSpeed  = 10 // steps/s
	DefaultAcceleration = 10 // steps/s^2
)

// StepperState is the motion phase of the drive.
type StepperState uint8

const (
	StepperOff StepperState = iota
	StepperAccel
	StepperDecel
	StepperCruise
)

func (s StepperState) String() string {
	switch s {
	case StepperOff:
		return "off"
	case StepperAccel:
		return "accel"
	case StepperDecel:
		return "decel"
	case StepperCruise:
		return "cruise"
	}
	return "unknown"
}

// Stepper generates a trapezoidal velocity profile one pulse at a time,
// switching microstep level on the fly to keep pulse spacing smooth.
//
// Positions are fixed point at the current microstep level: pos>>micro is
// the position in full steps. Every delay field is in full-step
// microseconds scaled left by shift, so slow speeds keep their fractional
// precision in 32 bits.
type Stepper struct {
	backend StepperBackend
	clock   Clock

	dir        int32
	pos        int32
	targetPos  int32
	accelSteps uint32
	micro      uint8

	delay0      [MaxMicro + 1]uint32
	delay       uint32
	smoothDelay uint32
	targetDelay uint32
	shift       uint8
	returnDelay uint32

	state StepperState
}

// NewStepper creates a disabled drive at position 0 with default speed and
// acceleration. The backend must already be initialised.
func NewStepper(backend StepperBackend, clock Clock) *Stepper {
	s := &Stepper{
		backend:     backend,
		clock:       clock,
		dir:         1,
		targetDelay: Second,
	}
	backend.SetDirection(false)
	backend.SetEnabled(false)
	backend.SetMicrostep(0)
	s.Acceleration(DefaultAcceleration)
	s.TargetSpeed(DefaultTargetSpeed)
	return s
}

// IsStopped reports whether the drive is off or resting on its target.
func (s *Stepper) IsStopped() bool {
	return s.state == StepperOff || (s.pos == s.targetPos && s.accelSteps == 0)
}

// IsOn reports whether the coils are enabled.
func (s *Stepper) IsOn() bool {
	return s.state != StepperOff
}

// State returns the motion phase.
func (s *Stepper) State() StepperState {
	return s.state
}

// Pos returns the position in full steps.
func (s *Stepper) Pos() int32 {
	return s.pos >> s.micro
}

// RawPos returns the position in microsteps at the current level.
func (s *Stepper) RawPos() int32 {
	return s.pos
}

// TargetPosition returns the destination in full steps.
func (s *Stepper) TargetPosition() int32 {
	return s.targetPos >> s.micro
}

// Micro returns the current microstep level.
func (s *Stepper) Micro() uint8 {
	return s.micro
}

// Direction returns +1 or -1.
func (s *Stepper) Direction() int32 {
	return s.dir
}

// AccelSteps returns the ramp length in microsteps at the current level.
func (s *Stepper) AccelSteps() uint32 {
	return s.accelSteps
}

// Delay returns the spacing, in microseconds, used for the last pulse.
func (s *Stepper) Delay() uint32 {
	return s.returnDelay
}

// CalibratePosition redefines the current position as pos full steps.
// Ignored unless the drive is stopped.
func (s *Stepper) CalibratePosition(pos int32) {
	if !s.IsStopped() {
		return
	}
	s.shiftDown()
	s.pos = pos << s.micro
	s.targetPos = s.pos
	s.shiftUp()
}

// On enables the coils at the finest microstep level and returns the time
// after which Step may be called.
func (s *Stepper) On() uint32 {
	s.backend.SetEnabled(true)
	s.state = StepperAccel
	s.accelSteps = 0
	s.microUp(MaxMicro - s.micro)
	s.backend.SetMicrostep(s.micro)
	s.delay = s.delay0[s.micro]
	return s.clock.Now() + enableUS + 1
}

// Off releases the coils and returns the time after which the driver has
// settled.
func (s *Stepper) Off() uint32 {
	s.backend.SetEnabled(false)
	s.state = StepperOff
	return s.clock.Now() + enableUS + 1
}

// Acceleration sets the ramp in full steps/s^2. Ignored unless stopped.
func (s *Stepper) Acceleration(accel float64) {
	if !s.IsStopped() {
		return
	}
	s.shiftDown()
	d0 := math.Sqrt(1/accel) * float64(Second)
	for m := range s.delay0 {
		s.delay0[m] = uint32(d0 * math.Sqrt(float64(uint32(1)<<m)))
	}
	s.delay = s.delay0[s.micro]
	s.shiftUp()
}

// SetSmoothDelay sets the pulse spacing, in microseconds, that microstep
// adaptation aims for.
func (s *Stepper) SetSmoothDelay(us uint32) {
	s.shiftDown()
	s.smoothDelay = us
	s.shiftUp()
}

// TargetSpeed sets the cruise speed in full steps/s. A moving drive ramps
// toward the new speed.
func (s *Stepper) TargetSpeed(speed float64) {
	s.shiftDown()
	s.targetDelay = uint32(float64(Second) / speed)
	if !s.IsStopped() {
		if s.targetDelay > s.delay {
			s.state = StepperDecel
		} else {
			s.state = StepperAccel
		}
	}
	s.shiftUp()
}

// TargetPos sets the destination in full steps.
func (s *Stepper) TargetPos(pos int32) {
	s.targetPos = pos << s.micro
	s.state = StepperAccel
}

// TargetRelPos moves the destination rel full steps from the current
// position.
func (s *Stepper) TargetRelPos(rel int32) {
	s.TargetPos(s.Pos() + rel)
}

// Step advances the drive by at most one microstep. It returns the time
// at which Step must be called again, or 0 once the drive rests on its
// target.
func (s *Stepper) Step() uint32 {
	d := max(s.delay, s.targetDelay)
	micro := s.micro
	if s.state == StepperAccel {
		for s.pos&1 == 0 && s.micro > 0 && uint64(d) < uint64(s.smoothDelay)<<(s.micro-1) {
			s.microDown(1)
		}
	} else {
		for s.micro < MaxMicro && uint64(d) > uint64(s.smoothDelay)<<s.micro {
			s.microUp(1)
		}
	}
	if micro != s.micro {
		s.backend.SetMicrostep(s.micro)
		s.clock.BusyWait(modeChangeUS + 1)
	}

	distance := s.targetPos - s.pos
	if s.accelSteps <= 1 && s.aligned() {
		if distance == 0 {
			s.accelSteps = 0
			s.delay = s.delay0[s.micro]
			s.state = StepperAccel
			return 0
		}
		if (s.dir > 0) == (distance < 0) {
			s.accelSteps = 0
			s.dir = -s.dir
			s.state = StepperAccel
			s.backend.SetDirection(s.dir < 0)
			s.returnDelay = s.targetDelay >> s.shift
			return nonZero(s.clock.Now() + s.returnDelay)
		}
	}

	stepTS := s.clock.Now()
	s.backend.StepHigh()
	s.pos += s.dir

	if (s.dir < 0) != (distance < 0) || abs32(distance) <= s.accelSteps {
		s.state = StepperDecel
	} else if s.state == StepperAccel && s.delay < s.targetDelay {
		s.state = StepperCruise
	} else if s.state == StepperDecel && s.delay >= s.targetDelay {
		s.state = StepperCruise
	}

	if s.state == StepperDecel {
		if s.accelSteps <= 1 {
			s.accelSteps = 0
			s.delay = s.delay0[s.micro]
		} else {
			s.accelSteps--
			s.delay += uint32(uint64(s.delay) * 2 / uint64(4*s.accelSteps-1))
		}
		s.returnDelay = s.delay >> s.micro >> s.shift
	} else {
		if s.state == StepperAccel {
			var delta uint32
			if s.accelSteps == 0 {
				s.delay = s.delay0[s.micro]
			} else {
				delta = uint32(uint64(s.delay) * 2 / uint64(4*s.accelSteps+1))
			}
			s.accelSteps++
			s.delay -= delta
		}
		s.returnDelay = max(s.delay, s.targetDelay) >> s.micro >> s.shift
	}

	s.clock.BusyWait(steppingPulse + 1)
	s.backend.StepLow()

	next := stepTS + s.returnDelay
	if earliest := s.clock.Now() + steppingPulse + 1; Before(stepTS, next, earliest) {
		next = earliest
	}
	return nonZero(next)
}

// aligned reports whether pos sits on a full step.
func (s *Stepper) aligned() bool {
	return s.pos&(int32(1)<<s.micro-1) == 0
}

func (s *Stepper) microDown(n uint8) {
	s.micro -= n
	s.accelSteps >>= n
	s.pos >>= n
	s.targetPos >>= n
}

func (s *Stepper) microUp(n uint8) {
	s.micro += n
	s.accelSteps <<= n
	s.pos <<= n
	s.targetPos <<= n
}

func (s *Stepper) shiftDown() {
	for m := range s.delay0 {
		s.delay0[m] >>= s.shift
	}
	s.delay >>= s.shift
	s.targetDelay >>= s.shift
	s.smoothDelay >>= s.shift
	s.shift = 0
}

func (s *Stepper) shiftUp() {
	if s.shift != 0 {
		return
	}
	m := max(s.delay0[MaxMicro], s.targetDelay, s.smoothDelay)
	for m < shiftThreshold {
		s.shift++
		m <<= 1
	}
	for i := range s.delay0 {
		s.delay0[i] <<= s.shift
	}
	s.delay <<= s.shift
	s.targetDelay <<= s.shift
	s.smoothDelay <<= s.shift
}

func abs32(v int32) uint32 {
	if v < 0 {
		return uint32(-v)
	}
	return uint32(v)
}

// nonZero keeps 0 reserved for "stopped".
func nonZero(ts uint32) uint32 {
	if ts == 0 {
		return 1
	}
	return ts
}
