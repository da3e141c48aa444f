package pendulum

import (
	"errors"
	"io"

	"pendel/config"
	"pendel/core"
)

// Phase is a step of the rig's operating sequence.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseCalibrateStandby
	PhaseMoveClear
	PhaseFindMotorEnd
	PhaseFindOtherEnd
	PhaseCalibrate
	PhaseCenter
	PhaseRunPrepare
	PhaseRunStandby
	PhaseRunStart
	PhaseWaitForStill
	PhaseRun
	PhasePause
	PhaseEmergencyStop
)

var phaseNames = [...]string{
	PhaseIdle:             "idle",
	PhaseCalibrateStandby: "calibrate-standby",
	PhaseMoveClear:        "move-clear",
	PhaseFindMotorEnd:     "find-motor-end",
	PhaseFindOtherEnd:     "find-other-end",
	PhaseCalibrate:        "calibrate",
	PhaseCenter:           "center",
	PhaseRunPrepare:       "run-prepare",
	PhaseRunStandby:       "run-standby",
	PhaseRunStart:         "run-start",
	PhaseWaitForStill:     "wait-for-still",
	PhaseRun:              "run",
	PhasePause:            "pause",
	PhaseEmergencyStop:    "emergency-stop",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// Pins assigns the operator inputs, end switches and indicators.
type Pins struct {
	Start     core.GPIOPin
	Pause     core.GPIOPin
	Emergency core.GPIOPin
	MotorEnd  core.GPIOPin
	OtherEnd  core.GPIOPin

	ButtonsActiveLow bool
	LimitsActiveLow  bool

	Green  core.GPIOPin
	Yellow core.GPIOPin
	Red    core.GPIOPin
	Fault  core.GPIOPin
}

// Hardware bundles the platform drivers the machine runs on.
type Hardware struct {
	Clock       core.Clock
	GPIO        core.GPIODriver
	Stepper     core.StepperBackend
	StepperPins core.StepperPins
	Sensor      AngleSensor
	Pins        Pins
	Out         io.Writer // diagnostic text, may be nil
}

// Machine sequences calibration, swing-up and balancing. Every phase is a
// task on one event queue; the machine is the context they share.
type Machine struct {
	cfg   config.Config
	clock core.Clock
	q     *core.EventQueue
	log   *core.Log
	trace core.TraceRing

	stepper *core.Stepper
	sampler *Sampler
	ctl     *Controller

	start, pause, emergency *core.Button
	motorEnd, otherEnd      *core.Button
	limitHit                core.Latch

	green, yellow, red, fault *core.LED
	greenBlink, yellowBlink   *core.Blinker

	phase       Phase
	calibrated  bool
	limitsArmed bool
	err         error
	motorEndPos int32
	otherEndPos int32
	waitTicks   uint32
	waitSince   uint32

	// microseconds
	tick, safetyPoll, buttonPoll, idlePoll uint32
	slowBlink, fastBlink                   uint32
	jitterWarn, waitTimeout                uint32

	safetyTask       *core.Task
	stepTask         *core.Task
	calibStandbyTask *core.Task
	moveClearTask    *core.Task
	findMotorEndTask *core.Task
	findOtherEndTask *core.Task
	calibrateTask    *core.Task
	centerTask       *core.Task
	runPrepareTask   *core.Task
	runStandbyTask   *core.Task
	runStartTask     *core.Task
	waitStillTask    *core.Task
	runTask          *core.Task
	pauseTask        *core.Task
}

// NewMachine wires the machine to hw. The stepper backend is initialised
// here and the motor left disabled.
func NewMachine(cfg config.Config, hw Hardware) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := core.CheckStepRate(hw.Stepper, cfg.Motion.MaxSpeed); err != nil {
		return nil, err
	}
	if err := hw.Stepper.Init(hw.StepperPins); err != nil {
		return nil, err
	}

	m := &Machine{
		cfg:         cfg,
		clock:       hw.Clock,
		q:           core.NewEventQueue(hw.Clock),
		log:         core.NewLog(hw.Out, core.LogBufferSize),
		stepper:     core.NewStepper(hw.Stepper, hw.Clock),
		sampler:     NewSampler(hw.Sensor),
		ctl:         NewController(cfg),
		tick:        config.Micros(cfg.Control.Tick),
		safetyPoll:  config.Micros(cfg.Timing.SafetyPoll),
		buttonPoll:  config.Micros(cfg.Timing.ButtonPoll),
		idlePoll:    config.Micros(cfg.Timing.IdlePoll),
		slowBlink:   config.Micros(cfg.Timing.SlowBlink),
		fastBlink:   config.Micros(cfg.Timing.FastBlink),
		jitterWarn:  config.Micros(cfg.Control.JitterWarn),
		waitTimeout: config.Micros(cfg.Control.WaitStillTimeout),
	}
	m.log.Attach(m.q)
	m.log.Print("stepper backend ", hw.Stepper.GetName())
	m.stepper.SetSmoothDelay(config.Micros(cfg.Motion.SmoothDelay))

	var err error
	button := func(pin core.GPIOPin, activeLow bool) *core.Button {
		b, e := core.NewButton(hw.GPIO, pin, activeLow)
		if err == nil {
			err = e
		}
		return b
	}
	led := func(pin core.GPIOPin) *core.LED {
		l, e := core.NewLED(hw.GPIO, pin)
		if err == nil {
			err = e
		}
		return l
	}
	p := hw.Pins
	m.start = button(p.Start, p.ButtonsActiveLow)
	m.pause = button(p.Pause, p.ButtonsActiveLow)
	m.emergency = button(p.Emergency, p.ButtonsActiveLow)
	m.motorEnd = button(p.MotorEnd, p.LimitsActiveLow)
	m.otherEnd = button(p.OtherEnd, p.LimitsActiveLow)
	m.green = led(p.Green)
	m.yellow = led(p.Yellow)
	m.red = led(p.Red)
	m.fault = led(p.Fault)
	if err != nil {
		return nil, err
	}
	m.greenBlink = core.NewBlinker(m.green)
	m.yellowBlink = core.NewBlinker(m.yellow)

	// Catch switch pulses shorter than the safety poll.
	if ed, ok := hw.GPIO.(core.EdgeDriver); ok {
		edge := core.EdgeRising
		if p.LimitsActiveLow {
			edge = core.EdgeFalling
		}
		for _, pin := range []core.GPIOPin{p.MotorEnd, p.OtherEnd} {
			if err := ed.SetInterrupt(pin, edge, m.limitHit.Set); err != nil {
				return nil, err
			}
		}
	}

	task := func(name string, fn func(q *core.EventQueue, when uint32)) *core.Task {
		return &core.Task{Name: name, Handler: fn}
	}
	m.safetyTask = task("safety", m.safety)
	m.stepTask = task("step", m.step)
	m.calibStandbyTask = task("calibrate-standby", m.calibrateStandby)
	m.moveClearTask = task("move-clear", m.moveClear)
	m.findMotorEndTask = task("find-motor-end", m.findMotorEnd)
	m.findOtherEndTask = task("find-other-end", m.findOtherEnd)
	m.calibrateTask = task("calibrate", m.calibrate)
	m.centerTask = task("center", m.center)
	m.runPrepareTask = task("run-prepare", m.runPrepare)
	m.runStandbyTask = task("run-standby", m.runStandby)
	m.runStartTask = task("run-start", m.runStart)
	m.waitStillTask = task("wait-for-still", m.waitForStill)
	m.runTask = task("run", m.run)
	m.pauseTask = task("pause", m.runPause)
	return m, nil
}

// Start resets the rig and runs it from calibration standby until an
// emergency stop, a scheduler fault or Stop. It returns nil only after Stop.
func (m *Machine) Start() error {
	m.q.Reset()
	m.greenBlink.Stop()
	m.yellowBlink.Stop()
	m.green.On()
	m.yellow.Off()
	m.red.Off()
	m.fault.Off()
	m.settle(m.stepper.Off())

	m.phase = PhaseIdle
	m.calibrated = false
	m.limitsArmed = false
	m.err = nil
	m.limitHit.Take()
	m.ctl.Reset()
	m.log.Print("resetting")

	m.q.EnqueueNow(m.safetyTask)
	m.q.EnqueueNow(m.calibStandbyTask)
	err := m.q.Run()
	if err == nil {
		err = m.err
	}
	if err != nil && !errors.Is(err, core.ErrEmergencyStop) {
		m.stepper.Off()
		m.fault.On()
		m.trace.Record(core.TraceFault, m.clock.Now(), int32(core.FaultCode(err)))
		m.log.Print("fatal: ", err)
		m.trace.Dump(m.log)
	}
	return err
}

// Cycle waits for the emergency input to be released, runs the machine
// once and then reports the outcome on the fault LED.
func (m *Machine) Cycle() error {
	for m.emergency.IsPressed() {
		m.clock.Sleep(m.buttonPoll)
	}
	err := m.Start()
	m.log.Flush()
	if err != nil && !errors.Is(err, core.ErrEmergencyStop) {
		core.BlinkCode(m.fault, m.clock, core.FaultCode(err))
	}
	return err
}

// Stop makes Start return after the current action.
func (m *Machine) Stop() {
	m.q.Stop()
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// Calibrated reports whether the track has been measured since Start.
func (m *Machine) Calibrated() bool { return m.calibrated }

// Ends returns the calibrated track ends in full steps.
func (m *Machine) Ends() (motorEnd, otherEnd int32) {
	st := m.ctl.State()
	return st.MotorEnd, st.OtherEnd
}

// Mid returns the calibrated centre of the track.
func (m *Machine) Mid() int32 { return m.ctl.State().Mid }

// Log returns the diagnostic log.
func (m *Machine) Log() *core.Log { return m.log }

// Trace returns the post-mortem event ring.
func (m *Machine) Trace() *core.TraceRing { return &m.trace }

func (m *Machine) Stepper() *core.Stepper { return m.stepper }

func (m *Machine) Sampler() *Sampler { return m.sampler }

func (m *Machine) Controller() *Controller { return m.ctl }

func (m *Machine) Config() config.Config { return m.cfg }

// EmergencyHeld reports whether the emergency input is asserted.
func (m *Machine) EmergencyHeld() bool { return m.emergency.IsPressed() }

// Indicators returns the green, yellow, red and fault LED states.
func (m *Machine) Indicators() (green, yellow, red, fault bool) {
	return m.green.IsOn(), m.yellow.IsOn(), m.red.IsOn(), m.fault.IsOn()
}

func (m *Machine) enter(p Phase, when uint32) {
	m.phase = p
	m.trace.Record(core.TracePhase, when, int32(p))
}

// settle waits out a driver settle time returned by the stepper.
func (m *Machine) settle(until uint32) {
	now := m.clock.Now()
	if core.Before(now, now, until) {
		m.clock.BusyWait(until - now)
	}
}

// drive moves the cart one pulse and re-arms task for the next one.
func (m *Machine) drive(q *core.EventQueue, task *core.Task) {
	wake := m.stepper.Step()
	if wake == 0 {
		wake = m.clock.Now()
	}
	q.Enqueue(task, wake)
}

func (m *Machine) poll(q *core.EventQueue, task *core.Task, delay uint32) {
	q.Enqueue(task, m.clock.Now()+delay)
}

func (m *Machine) safety(q *core.EventQueue, when uint32) {
	if m.emergency.IsPressed() {
		m.emergencyStop(when, "emergency stop issued")
		return
	}
	hit := m.limitHit.Take()
	if m.limitsArmed {
		atMotor, atOther := m.motorEnd.IsPressed(), m.otherEnd.IsPressed()
		if hit || atMotor || atOther {
			pin := m.motorEnd.Pin()
			if atOther {
				pin = m.otherEnd.Pin()
			}
			m.red.On()
			m.trace.Record(core.TraceLimit, when, int32(pin))
			m.emergencyStop(when, "limit switch hit")
			return
		}
	}
	q.Enqueue(m.safetyTask, when+m.safetyPoll)
}

func (m *Machine) emergencyStop(when uint32, why string) {
	m.settle(m.stepper.Off())
	m.fault.On()
	m.greenBlink.Stop()
	m.yellowBlink.Stop()
	m.green.Off()
	m.yellow.Off()
	m.enter(PhaseEmergencyStop, when)
	m.trace.Record(core.TraceFault, when, int32(core.FaultEmergencyStop))
	m.err = core.ErrEmergencyStop
	m.q.Stop()
	m.log.Clear()
	m.log.Print(why)
	m.trace.Dump(m.log)
}

// step is the stepper pump while running. It lapses once the motor is off.
func (m *Machine) step(q *core.EventQueue, when uint32) {
	if !m.stepper.IsOn() {
		return
	}
	if m.stepper.IsStopped() {
		m.poll(q, m.stepTask, m.idlePoll)
		return
	}
	wake := m.stepper.Step()
	if wake == 0 {
		wake = m.clock.Now() + m.idlePoll
	}
	q.Enqueue(m.stepTask, wake)
}

func (m *Machine) calibrateStandby(q *core.EventQueue, when uint32) {
	if m.phase != PhaseCalibrateStandby {
		m.enter(PhaseCalibrateStandby, when)
		m.start.Reset()
		m.log.Print("standby for calibrate")
	}
	if !m.start.Pressed() {
		m.poll(q, m.calibStandbyTask, m.buttonPoll)
		return
	}

	m.greenBlink.Start(q, m.slowBlink)
	m.log.Print("calibrating")

	c := m.cfg.Calibration
	m.stepper.Acceleration(c.Acceleration)
	m.stepper.TargetSpeed(c.Speed)
	m.ctl.SetEnds(0, 0)
	m.motorEndPos, m.otherEndPos = 0, 0
	m.stepper.TargetPos(0)
	m.stepper.CalibratePosition(0)
	m.settle(m.stepper.On())

	if m.motorEnd.IsPressed() {
		m.stepper.TargetRelPos(int32(float64(c.ApproxDistance) * c.ClearFraction))
	}
	m.enter(PhaseMoveClear, when)
	q.EnqueueNow(m.moveClearTask)
}

func (m *Machine) sweep() int32 {
	c := m.cfg.Calibration
	return int32(float64(c.ApproxDistance) * c.SweepFraction)
}

func (m *Machine) moveClear(q *core.EventQueue, when uint32) {
	if !m.stepper.IsStopped() {
		m.drive(q, m.moveClearTask)
		return
	}
	m.stepper.TargetRelPos(-m.sweep())
	m.enter(PhaseFindMotorEnd, when)
	q.EnqueueNow(m.findMotorEndTask)
}

func (m *Machine) findMotorEnd(q *core.EventQueue, when uint32) {
	if !m.motorEnd.IsPressed() && !m.stepper.IsStopped() {
		m.drive(q, m.findMotorEndTask)
		return
	}
	if !m.motorEnd.IsPressed() {
		m.log.Print("motor end switch not reached")
	}
	m.motorEndPos = m.stepper.Pos()
	m.stepper.TargetRelPos(m.sweep())
	m.enter(PhaseFindOtherEnd, when)
	q.EnqueueNow(m.findOtherEndTask)
}

func (m *Machine) findOtherEnd(q *core.EventQueue, when uint32) {
	if !m.otherEnd.IsPressed() && !m.stepper.IsStopped() {
		m.drive(q, m.findOtherEndTask)
		return
	}
	if !m.otherEnd.IsPressed() {
		m.log.Print("other end switch not reached")
	}
	m.otherEndPos = m.stepper.Pos()
	m.stepper.TargetPos(m.otherEndPos)
	m.enter(PhaseCalibrate, when)
	q.EnqueueNow(m.calibrateTask)
}

func (m *Machine) calibrate(q *core.EventQueue, when uint32) {
	if !m.stepper.IsStopped() {
		m.drive(q, m.calibrateTask)
		return
	}
	length := m.otherEndPos - m.motorEndPos
	if need := 2 * m.cfg.Control.LimitMargin; length < need {
		// No room between the margins; the clamp would have an empty range.
		m.log.Print("track too short: ", length, " steps, need ", need)
		m.greenBlink.Stop()
		m.green.On()
		m.settle(m.stepper.Off())
		m.ctl.SetEnds(0, 0)
		q.EnqueueNow(m.calibStandbyTask)
		return
	}
	m.ctl.SetEnds(0, length)
	m.stepper.CalibratePosition(length)
	m.stepper.TargetPos(m.ctl.State().Mid)
	m.enter(PhaseCenter, when)
	q.EnqueueNow(m.centerTask)
}

func (m *Machine) center(q *core.EventQueue, when uint32) {
	if !m.stepper.IsStopped() {
		m.drive(q, m.centerTask)
		return
	}
	st := m.ctl.State()
	m.log.Print("calibrated to ", st.MotorEnd, " - ", st.Mid, " - ", st.OtherEnd)
	m.calibrated = true
	m.limitsArmed = true
	m.limitHit.Take()
	m.enter(PhaseRunPrepare, when)
	q.EnqueueNow(m.runPrepareTask)
}

func (m *Machine) runPrepare(q *core.EventQueue, when uint32) {
	m.greenBlink.Stop()
	m.yellowBlink.Stop()
	m.green.On()
	m.settle(m.stepper.Off())

	m.stepper.TargetSpeed(m.cfg.Motion.MaxSpeed)
	m.stepper.Acceleration(m.cfg.Motion.MaxAcceleration)

	m.log.Print("standby for run")
	m.start.Reset()
	m.enter(PhaseRunStandby, when)
	q.EnqueueNow(m.runStandbyTask)
}

func (m *Machine) runStandby(q *core.EventQueue, when uint32) {
	if !m.start.Pressed() {
		m.poll(q, m.runStandbyTask, m.buttonPoll)
		return
	}
	m.log.Print("running")
	m.enter(PhaseRunStart, when)
	q.EnqueueNow(m.runStartTask)
}

func (m *Machine) runStart(q *core.EventQueue, when uint32) {
	m.yellowBlink.Start(q, m.fastBlink)
	m.settle(m.stepper.On())
	m.stepper.TargetPos(m.ctl.State().Mid)
	m.sampler.Reset()
	m.ctl.Reset()
	if !q.Present(m.stepTask) {
		q.EnqueueNow(m.stepTask)
	}

	m.waitTicks = 0
	m.waitSince = m.clock.Now()
	m.pause.Reset()
	m.log.Print("waiting for still")
	m.enter(PhaseWaitForStill, when)
	q.EnqueueNow(m.waitStillTask)
}

func (m *Machine) waitForStill(q *core.EventQueue, when uint32) {
	// Pause here skips the wait and runs with the current down reference.
	if m.pause.Pressed() {
		m.log.Print("wait skipped")
		m.beginRun(q, when)
		return
	}

	m.measure()
	m.waitTicks++
	if m.waitTicks < m.cfg.Control.StillTicks || !m.sampler.Still() {
		if m.waitTimeout != 0 && m.clock.Now()-m.waitSince > m.waitTimeout {
			m.log.Print("pendulum not still, back to standby")
			m.enter(PhaseRunPrepare, when)
			q.EnqueueNow(m.runPrepareTask)
			return
		}
		m.poll(q, m.waitStillTask, m.tick)
		return
	}

	if err := m.sampler.CalibrateDown(); err != nil {
		m.log.Print("calibrate down: ", err)
		m.poll(q, m.waitStillTask, m.tick)
		return
	}
	m.log.Print("calibrated down")
	m.beginRun(q, m.clock.Now())
}

func (m *Machine) beginRun(q *core.EventQueue, when uint32) {
	m.yellowBlink.Stop()
	m.yellow.On()
	m.ctl.Reset()
	m.enter(PhaseRun, when)
	q.Enqueue(m.runTask, when+m.tick)
}

// measure samples the arm and reports tick jitter.
func (m *Machine) measure() {
	now := m.clock.Now()
	if err := m.sampler.Measure(now, m.stepper.Pos()); err != nil {
		m.log.Print("sensor: ", err)
	}
	if iv := m.sampler.Interval(); iv != 0 {
		diff := int32(iv - m.tick)
		if diff < 0 {
			diff = -diff
		}
		if uint32(diff)*2 > m.jitterWarn {
			m.trace.Record(core.TraceOverrun, now, diff)
			m.log.Print("warning, tick was ", iv, " us, diff ", diff, " us")
		}
	}
}

func (m *Machine) run(q *core.EventQueue, when uint32) {
	if m.pause.Pressed() {
		m.yellowBlink.Start(q, m.fastBlink)
		m.log.Print("pausing")
		m.start.Reset()
		m.enter(PhasePause, when)
		q.EnqueueNow(m.pauseTask)
		return
	}

	m.measure()
	in := TickInput{
		Pos:       m.stepper.Pos(),
		Target:    m.stepper.TargetPosition(),
		Stopped:   m.stepper.IsStopped(),
		Down:      m.sampler.Down(0),
		Up:        m.sampler.Up(0),
		Speed:     m.sampler.Speed(0),
		StepSpeed: m.sampler.StepSpeed(),
		GoingDown: m.sampler.GoingDown(),
	}
	before := m.ctl.State().Phase
	d := m.ctl.Tick(in)

	if d.Speed != 0 {
		m.stepper.TargetSpeed(d.Speed)
	}
	if d.Requested != in.Target {
		if d.Clamped != ClampNone {
			m.trace.Record(core.TraceClamp, when, d.Requested)
		}
		m.stepper.TargetPos(d.Target)
		m.log.Print(d.What, ", pos ", in.Pos, ", new_target ", d.Target,
			" up_ang ", int32(in.Up), ", speed ", int32(in.Speed), ", ", d.Clamped)
	}
	if after := m.ctl.State().Phase; after != before {
		m.log.Print("state change ", before, " => ", after)
	}
	q.Enqueue(m.runTask, when+m.tick)
}

func (m *Machine) runPause(q *core.EventQueue, when uint32) {
	if !m.stepper.IsStopped() {
		m.poll(q, m.pauseTask, m.buttonPoll)
		return
	}
	if m.stepper.IsOn() {
		m.settle(m.stepper.Off())
	}
	if !m.start.Pressed() {
		m.poll(q, m.pauseTask, m.buttonPoll)
		return
	}
	m.log.Print("resuming")
	m.enter(PhaseRunStart, when)
	q.EnqueueNow(m.runStartTask)
}
