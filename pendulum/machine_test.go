package pendulum

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"pendel/config"
	"pendel/core"
	"pendel/sim"
)

const (
	startPin     core.GPIOPin = 2
	pausePin     core.GPIOPin = 3
	emergencyPin core.GPIOPin = 10
)

type bench struct {
	rig *sim.Rig
	m   *Machine
	out *bytes.Buffer
}

func newBench(t *testing.T, startPos float64) *bench {
	t.Helper()
	rc := sim.DefaultConfig()
	rc.StartPos = startPos
	rc.Damping = 2
	return newBenchWith(t, rc, config.Default())
}

func newBenchWith(t *testing.T, rc sim.Config, cfg config.Config) *bench {
	t.Helper()
	rig := sim.NewRig(rc)

	out := &bytes.Buffer{}
	m, err := NewMachine(cfg, Hardware{
		Clock:       rig,
		GPIO:        rig,
		Stepper:     core.NewGPIOStepperBackend(rig),
		StepperPins: rc.Stepper,
		Sensor:      NewEncoderSensor(rig.Encoder(), rc.EncoderTicks),
		Pins: Pins{
			Start:     startPin,
			Pause:     pausePin,
			Emergency: emergencyPin,
			MotorEnd:  rc.MotorEnd,
			OtherEnd:  rc.OtherEnd,
			Green:     14,
			Yellow:    15,
			Red:       16,
			Fault:     25,
		},
		Out: out,
	})
	if err != nil {
		t.Fatalf("NewMachine failed: %v", err)
	}
	// Never let a broken sequence spin forever.
	rig.At(60*uint64(core.Second), m.Stop)
	return &bench{rig: rig, m: m, out: out}
}

// onPhase calls fn once, the first time the machine is seen in p.
func (b *bench) onPhase(p Phase, fn func(now uint64)) {
	done := false
	b.rig.Every(core.Millisecond, func() {
		if !done && b.m.Phase() == p {
			done = true
			fn(b.rig.Elapsed())
		}
	})
}

func (b *bench) click(pin core.GPIOPin, at uint64) {
	b.rig.Press(pin, at, 25*core.Millisecond)
}

func (b *bench) logText() string {
	b.m.Log().Flush()
	return b.out.String()
}

func TestCalibrationFindsTheSameMiddle(t *testing.T) {
	var mids []int32
	for _, startPos := range []float64{1000, 2000} {
		b := newBench(t, startPos)
		b.click(startPin, 10*uint64(core.Millisecond))
		b.onPhase(PhaseRunStandby, func(uint64) { b.m.Stop() })

		if err := b.m.Start(); err != nil {
			t.Fatalf("start %v: unexpected error %v", startPos, err)
		}
		if !b.m.Calibrated() {
			t.Fatalf("start %v: expected calibrated, stopped in %v", startPos, b.m.Phase())
		}
		motorEnd, otherEnd := b.m.Ends()
		if motorEnd != 0 || otherEnd < 2995 || otherEnd > 3005 {
			t.Errorf("start %v: expected ends 0 and about 3000, got %d %d", startPos, motorEnd, otherEnd)
		}
		if cart := b.rig.CartSteps(); cart < 1499 || cart > 1501 {
			t.Errorf("start %v: expected cart parked at 1500, got %v", startPos, cart)
		}
		if b.m.Stepper().IsOn() {
			t.Errorf("start %v: expected motor released in standby", startPos)
		}
		if green, _, _, _ := b.m.Indicators(); !green {
			t.Errorf("start %v: expected green on once calibrated", startPos)
		}
		if !strings.Contains(b.logText(), "calibrated to 0 - ") {
			t.Errorf("start %v: calibration not logged:\n%s", startPos, b.out.String())
		}
		mids = append(mids, b.m.Mid())
	}
	if d := mids[0] - mids[1]; d < -1 || d > 1 {
		t.Errorf("Expected the same middle from both starts, got %v", mids)
	}
}

func TestCalibrationClearsPressedMotorEnd(t *testing.T) {
	b := newBench(t, 0)
	b.click(startPin, 10*uint64(core.Millisecond))
	b.onPhase(PhaseRunStandby, func(uint64) { b.m.Stop() })

	if err := b.m.Start(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if cart := b.rig.CartSteps(); cart < 1499 || cart > 1501 {
		t.Errorf("Expected cart parked at 1500, got %v", cart)
	}
}

func TestEmergencyInputStops(t *testing.T) {
	b := newBench(t, 1500)
	b.rig.At(50*uint64(core.Millisecond), func() { b.rig.Hold(emergencyPin) })

	err := b.m.Start()
	if !errors.Is(err, core.ErrEmergencyStop) {
		t.Fatalf("Expected ErrEmergencyStop, got %v", err)
	}
	if b.m.Phase() != PhaseEmergencyStop {
		t.Errorf("Expected emergency stop phase, got %v", b.m.Phase())
	}
	if _, _, _, fault := b.m.Indicators(); !fault {
		t.Error("Expected fault LED on")
	}
	if b.m.Stepper().IsOn() {
		t.Error("Expected motor released")
	}
	if !strings.Contains(b.logText(), "emergency stop issued") {
		t.Errorf("Expected emergency stop logged, got:\n%s", b.out.String())
	}
	if !b.m.EmergencyHeld() {
		t.Error("Expected emergency input still held")
	}
}

func TestLimitHitDuringRunStops(t *testing.T) {
	b := newBench(t, 1500)
	b.click(startPin, 10*uint64(core.Millisecond))
	b.onPhase(PhaseRunStandby, func(now uint64) { b.click(startPin, now+5000) })
	b.onPhase(PhaseWaitForStill, func(now uint64) { b.click(pausePin, now+1000) })

	running := false
	b.onPhase(PhaseRun, func(now uint64) {
		running = true
		b.rig.At(now+50*uint64(core.Millisecond), func() { b.rig.Hold(b.m.motorEnd.Pin()) })
	})

	err := b.m.Start()
	if !errors.Is(err, core.ErrEmergencyStop) {
		t.Fatalf("Expected ErrEmergencyStop, got %v in %v", err, b.m.Phase())
	}
	if !running {
		t.Fatal("Expected the run phase to be reached")
	}
	if _, _, red, fault := b.m.Indicators(); !red || !fault {
		t.Errorf("Expected red and fault LEDs on, got red=%v fault=%v", red, fault)
	}

	var limit bool
	for _, evt := range b.m.Trace().Events() {
		if evt.Code == core.TraceLimit && evt.Value == int32(b.m.motorEnd.Pin()) {
			limit = true
		}
	}
	if !limit {
		t.Errorf("Expected a limit event in the trace, got %v", b.m.Trace().Events())
	}
	if !strings.Contains(b.logText(), "limit switch hit") {
		t.Errorf("Expected limit hit logged, got:\n%s", b.out.String())
	}
}

func TestLimitIgnoredBeforeCalibration(t *testing.T) {
	b := newBench(t, 1500)
	b.rig.At(20*uint64(core.Millisecond), func() { b.rig.Hold(b.m.otherEnd.Pin()) })
	b.rig.At(100*uint64(core.Millisecond), b.m.Stop)

	if err := b.m.Start(); err != nil {
		t.Fatalf("Expected limits ignored in standby, got %v", err)
	}
	if b.m.Phase() != PhaseCalibrateStandby {
		t.Errorf("Expected calibrate standby, got %v", b.m.Phase())
	}
}

func TestPauseAndResume(t *testing.T) {
	b := newBench(t, 1500)
	b.click(startPin, 10*uint64(core.Millisecond))
	b.onPhase(PhaseRunStandby, func(now uint64) { b.click(startPin, now+5000) })
	b.onPhase(PhaseWaitForStill, func(now uint64) { b.click(pausePin, now+1000) })
	b.onPhase(PhaseRun, func(now uint64) { b.click(pausePin, now+100*uint64(core.Millisecond)) })

	paused := false
	b.rig.Every(core.Millisecond, func() {
		switch {
		case !paused && b.m.Phase() == PhasePause && !b.m.Stepper().IsOn():
			paused = true
			b.click(startPin, b.rig.Elapsed()+1000)
		case paused && b.m.Phase() == PhaseWaitForStill:
			b.m.Stop()
		}
	})

	if err := b.m.Start(); err != nil {
		t.Fatalf("unexpected error %v in %v", err, b.m.Phase())
	}
	if !paused {
		t.Fatal("Expected the machine to pause")
	}
	if b.m.Phase() != PhaseWaitForStill || !b.m.Stepper().IsOn() {
		t.Errorf("Expected to wait for still with the motor on, got %v on=%v", b.m.Phase(), b.m.Stepper().IsOn())
	}
	if !strings.Contains(b.logText(), "resuming") {
		t.Errorf("Expected resume logged, got:\n%s", b.out.String())
	}
}

func TestCalibrationRefusesShortTrack(t *testing.T) {
	rc := sim.DefaultConfig()
	rc.TrackLength = 150
	rc.StartPos = 75
	rc.Damping = 2
	b := newBenchWith(t, rc, config.Default())
	b.click(startPin, 10*uint64(core.Millisecond))

	swept := false
	b.rig.Every(core.Millisecond, func() {
		switch {
		case b.m.Phase() == PhaseFindOtherEnd:
			swept = true
		case swept && b.m.Phase() == PhaseCalibrateStandby:
			b.m.Stop()
		}
	})

	if err := b.m.Start(); err != nil {
		t.Fatalf("unexpected error %v in %v", err, b.m.Phase())
	}
	if !swept {
		t.Fatal("Expected the sweep to reach the other end")
	}
	if b.m.Phase() != PhaseCalibrateStandby {
		t.Errorf("Expected calibrate standby, got %v", b.m.Phase())
	}
	if b.m.Calibrated() {
		t.Error("Expected a short track to stay uncalibrated")
	}
	if b.m.Stepper().IsOn() {
		t.Error("Expected motor released")
	}
	if !strings.Contains(b.logText(), "track too short") {
		t.Errorf("Expected short track logged, got:\n%s", b.out.String())
	}
}

func TestWaitForStillCalibratesDown(t *testing.T) {
	b := newBench(t, 1500)
	// Hold the arm hanging so the wait ends on its own.
	b.rig.Every(core.Millisecond, func() { b.rig.SetAngle(0) })
	b.click(startPin, 10*uint64(core.Millisecond))
	b.onPhase(PhaseRunStandby, func(now uint64) { b.click(startPin, now+5000) })
	b.onPhase(PhaseRun, func(uint64) { b.m.Stop() })

	if err := b.m.Start(); err != nil {
		t.Fatalf("unexpected error %v in %v", err, b.m.Phase())
	}
	if b.m.Phase() != PhaseRun {
		t.Fatalf("Expected run, got %v", b.m.Phase())
	}
	text := b.logText()
	if !strings.Contains(text, "calibrated down") {
		t.Errorf("Expected calibrated down logged, got:\n%s", text)
	}
	if strings.Contains(text, "wait skipped") {
		t.Errorf("Expected the wait to end without a pause click, got:\n%s", text)
	}
}

func TestWaitForStillTimesOut(t *testing.T) {
	rc := sim.DefaultConfig()
	rc.Damping = 2
	cfg := config.Default()
	cfg.Control.WaitStillTimeout = 500 * time.Millisecond
	b := newBenchWith(t, rc, cfg)
	b.click(startPin, 10*uint64(core.Millisecond))
	b.onPhase(PhaseWaitForStill, func(uint64) { b.rig.SetAngle(0.5) })

	waited := false
	standby := false
	b.rig.Every(core.Millisecond, func() {
		switch b.m.Phase() {
		case PhaseWaitForStill:
			waited = true
		case PhaseRunStandby:
			if waited {
				b.m.Stop()
			} else if !standby {
				standby = true
				b.click(startPin, b.rig.Elapsed()+5000)
			}
		}
	})

	if err := b.m.Start(); err != nil {
		t.Fatalf("unexpected error %v in %v", err, b.m.Phase())
	}
	if !waited {
		t.Fatal("Expected the machine to wait for still")
	}
	if b.m.Phase() != PhaseRunStandby {
		t.Errorf("Expected run standby after the timeout, got %v", b.m.Phase())
	}
	text := b.logText()
	if !strings.Contains(text, "pendulum not still, back to standby") {
		t.Errorf("Expected the timeout logged, got:\n%s", text)
	}
	if strings.Contains(text, "calibrated down") {
		t.Errorf("Expected no down calibration while swinging, got:\n%s", text)
	}
}
