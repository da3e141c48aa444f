package core

import "testing"

var testPins = StepperPins{
	Step:            5,
	Dir:             4,
	Enable:          9,
	Mode:            [3]GPIOPin{8, 7, 6},
	DirForward:      true,
	EnableActiveLow: true,
}

func newTestStepper(t *testing.T) (*Stepper, *MockGPIODriver, *ManualClock) {
	t.Helper()
	gpio := NewMockGPIODriver()
	backend := NewGPIOStepperBackend(gpio)
	if err := backend.Init(testPins); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	clock := NewManualClock(0)
	return NewStepper(backend, clock), gpio, clock
}

// runMove steps until the drive rests and returns the summed step spacing.
func runMove(t *testing.T, s *Stepper, clock *ManualClock, limit int) (total uint32, steps int) {
	t.Helper()
	for {
		start := clock.Now()
		ts := s.Step()
		if s.IsStopped() {
			return total, steps
		}
		if ts == 0 {
			t.Fatalf("Step returned 0 while not stopped")
		}
		total += ts - start
		clock.Set(ts)
		steps++
		if steps > limit {
			t.Fatalf("Move did not finish within %d steps (pos %d)", limit, s.Pos())
		}
	}
}

func TestStepperMoveTiming(t *testing.T) {
	for _, distance := range []int32{1500, -1500} {
		s, _, clock := newTestStepper(t)
		s.SetSmoothDelay(700)
		s.TargetSpeed(1e4)
		s.Acceleration(2e4)
		clock.Set(s.On())
		s.TargetPos(distance)

		total, steps := runMove(t, s, clock, 100000)
		t.Logf("distance %d: %d calls, %dus", distance, steps, total)

		if total <= 530000 || total >= 570000 {
			t.Errorf("distance %d: expected move time in (0.53s, 0.57s), got %dus", distance, total)
		}
		if s.Pos() != distance {
			t.Errorf("distance %d: expected position %d, got %d", distance, distance, s.Pos())
		}
		if s.AccelSteps() != 0 {
			t.Errorf("distance %d: expected no accel steps left, got %d", distance, s.AccelSteps())
		}
		if s.Step() != 0 {
			t.Errorf("distance %d: expected Step to report stopped", distance)
		}
	}
}

func TestStepperMaxMicrostepping(t *testing.T) {
	s, gpio, clock := newTestStepper(t)
	s.SetSmoothDelay(1)
	s.TargetSpeed(1e5)
	s.Acceleration(2e4)
	clock.Set(s.On())
	s.TargetPos(1)

	calls := 0
	for !s.IsStopped() {
		if ts := s.Step(); ts != 0 {
			clock.Set(ts)
		}
		calls++
		if calls > 1000 {
			t.Fatalf("Move did not finish")
		}
	}

	if calls != 1<<MaxMicro {
		t.Errorf("Expected %d sub-steps, got %d", 1<<MaxMicro, calls)
	}
	if pulses := gpio.history[testPins.Step]; pulses != 1<<MaxMicro {
		t.Errorf("Expected %d step pulses, got %d", 1<<MaxMicro, pulses)
	}
	if s.RawPos() != 1<<MaxMicro {
		t.Errorf("Expected raw position %d, got %d", 1<<MaxMicro, s.RawPos())
	}
	if s.Pos() != 1 {
		t.Errorf("Expected position 1, got %d", s.Pos())
	}
	if s.Micro() != MaxMicro {
		t.Errorf("Expected microstep level %d, got %d", MaxMicro, s.Micro())
	}
}

func TestStepperRetargetMidRun(t *testing.T) {
	s, _, clock := newTestStepper(t)
	s.SetSmoothDelay(1000)
	s.TargetSpeed(1e4)
	s.Acceleration(2e4)
	clock.Set(s.On())
	s.TargetPos(1000000)

	calls := 0
	for s.Pos() < 200 {
		ts := s.Step()
		if ts == 0 {
			t.Fatalf("Drive stopped early at %d", s.Pos())
		}
		clock.Set(ts)
		calls++
		if calls > 10000 {
			t.Fatalf("Drive did not reach 200 steps")
		}
	}

	s.TargetPos(0)
	runMove(t, s, clock, 100000)

	if s.RawPos() != 0 || s.Pos() != 0 {
		t.Errorf("Expected to return to 0, got raw %d pos %d", s.RawPos(), s.Pos())
	}
	if s.Direction() != -1 {
		t.Errorf("Expected direction -1 after reversing, got %d", s.Direction())
	}
}

func TestStepperIgnoresSettersWhileMoving(t *testing.T) {
	s, _, clock := newTestStepper(t)
	s.TargetSpeed(1e3)
	s.Acceleration(1e4)
	clock.Set(s.On())
	s.TargetPos(100)
	for i := 0; i < 50; i++ {
		clock.Set(s.Step())
	}

	before := s.RawPos()
	s.CalibratePosition(9999)
	if s.RawPos() != before {
		t.Errorf("Expected CalibratePosition to be ignored while moving, raw %d -> %d", before, s.RawPos())
	}

	runMove(t, s, clock, 100000)
	s.CalibratePosition(-20)
	if s.Pos() != -20 || !s.IsStopped() {
		t.Errorf("Expected position -20 at rest, got %d (stopped=%v)", s.Pos(), s.IsStopped())
	}
}

func TestStepperDriverLines(t *testing.T) {
	s, gpio, clock := newTestStepper(t)

	if !gpio.pins[testPins.Enable] {
		t.Errorf("Expected active-low enable to start high (released)")
	}

	clock.Set(s.On())
	if gpio.pins[testPins.Enable] {
		t.Errorf("Expected enable low after On")
	}
	// Level 5 = M0 high, M1 low, M2 high
	if !gpio.pins[8] || gpio.pins[7] || !gpio.pins[6] {
		t.Errorf("Expected mode pins 1,0,1, got %v,%v,%v", gpio.pins[8], gpio.pins[7], gpio.pins[6])
	}

	s.TargetRelPos(-3)
	clock.Set(s.Step())
	if gpio.pins[testPins.Dir] {
		t.Errorf("Expected dir low when moving toward the motor end")
	}

	s.Off()
	if !gpio.pins[testPins.Enable] {
		t.Errorf("Expected enable high after Off")
	}
	if s.IsOn() {
		t.Errorf("Expected drive to report off")
	}
}

func TestCheckStepRate(t *testing.T) {
	b := NewGPIOStepperBackend(NewMockGPIODriver())
	if err := CheckStepRate(b, 16000); err != nil {
		t.Errorf("Expected 16000 steps/s within the GPIO limit, got %v", err)
	}
	if err := CheckStepRate(b, 200000); err != ErrStepRate {
		t.Errorf("Expected ErrStepRate, got %v", err)
	}
}
