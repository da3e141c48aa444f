// Package sim is a virtual pendulum rig: a cart driven by step pulses, two
// end switches, operator buttons and a free-swinging arm. It stands in for
// the GPIO, ADC and clock drivers so the firmware runs unchanged on a host.
package sim

import (
	"math"
	"sort"

	"pendel/core"
)

// substep is the physics integration step in microseconds.
const substep = 100

// Config describes the rig.
type Config struct {
	Stepper core.StepperPins

	MotorEnd        core.GPIOPin
	OtherEnd        core.GPIOPin
	LimitsActiveLow bool

	ButtonsActiveLow bool

	TrackLength   int32   // full steps between the switches
	StartPos      float64 // full steps from the motor end switch
	MetersPerStep float64

	ArmLength  float64 // m, to the centre of mass
	Gravity    float64
	Damping    float64 // 1/s
	StartAngle float64 // rad from hanging

	EncoderTicks int // per revolution

	PotPins         [2]core.ADCPin
	PotCountsPerRev float64
	PotOffsetDeg    [2]float64
}

// DefaultConfig returns a rig that matches the default firmware config.
func DefaultConfig() Config {
	return Config{
		Stepper: core.StepperPins{
			Step:            5,
			Dir:             4,
			Enable:          9,
			Mode:            [3]core.GPIOPin{8, 7, 6},
			DirForward:      true,
			EnableActiveLow: true,
		},
		MotorEnd:        12,
		OtherEnd:        11,
		TrackLength:     3000,
		StartPos:        1500,
		MetersPerStep:   0.245 / 1240,
		ArmLength:       0.16,
		Gravity:         9.81,
		Damping:         0.3,
		EncoderTicks:    2048,
		PotPins:         [2]core.ADCPin{26, 27},
		PotCountsPerRev: 1084,
		PotOffsetDeg:    [2]float64{0, 180},
	}
}

type event struct {
	at  uint64
	seq uint64
	fn  func()
}

type edgeHandler struct {
	edge core.Edge
	fn   func()
}

// Rig is the simulated hardware. It is not safe for concurrent use; the
// firmware and the scripted events all run on the caller's goroutine.
type Rig struct {
	cfg Config

	now    uint64 // us
	events []event
	seq    uint64

	outputs  map[core.GPIOPin]bool
	inputs   map[core.GPIOPin]bool
	holds    map[core.GPIOPin]bool
	modes    map[core.GPIOPin]string
	handlers map[core.GPIOPin]edgeHandler
	limits   [2]bool

	cart   int64 // 1/32 steps from the motor end switch
	pulses uint64

	physT  uint64
	x0, v0 float64 // cart position and speed at the last substep
	theta  float64
	omega  float64

	encoder Encoder
}

// NewRig creates a rig at rest at cfg.StartPos.
func NewRig(cfg Config) *Rig {
	r := &Rig{
		cfg:      cfg,
		outputs:  make(map[core.GPIOPin]bool),
		inputs:   make(map[core.GPIOPin]bool),
		holds:    make(map[core.GPIOPin]bool),
		modes:    make(map[core.GPIOPin]string),
		handlers: make(map[core.GPIOPin]edgeHandler),
		cart:     int64(math.Round(cfg.StartPos * 32)),
		theta:    cfg.StartAngle,
	}
	r.x0 = r.cartMeters()
	r.encoder.rig = r
	r.limits = [2]bool{r.limitActive(0), r.limitActive(1)}
	return r
}

// Now implements core.Clock.
func (r *Rig) Now() uint32 {
	return uint32(r.now)
}

func (r *Rig) BusyWait(us uint32) {
	r.Advance(us)
}

func (r *Rig) Sleep(us uint32) {
	r.Advance(us)
}

// Elapsed returns the simulated time since the rig was created.
func (r *Rig) Elapsed() uint64 {
	return r.now
}

// Advance moves simulated time forward, firing scripted events on the way.
func (r *Rig) Advance(us uint32) {
	end := r.now + uint64(us)
	for len(r.events) > 0 && r.events[0].at <= end {
		ev := r.events[0]
		r.events = r.events[1:]
		if ev.at > r.now {
			r.integrate(ev.at)
			r.now = ev.at
		}
		ev.fn()
	}
	r.integrate(end)
	r.now = end
}

// At runs fn once simulated time reaches at, in microseconds since start.
func (r *Rig) At(at uint64, fn func()) {
	r.seq++
	ev := event{at: at, seq: r.seq, fn: fn}
	i := sort.Search(len(r.events), func(i int) bool {
		e := r.events[i]
		return e.at > at || (e.at == at && e.seq > ev.seq)
	})
	r.events = append(r.events, event{})
	copy(r.events[i+1:], r.events[i:])
	r.events[i] = ev
}

// Every runs fn each period microseconds, starting one period from now.
func (r *Rig) Every(period uint32, fn func()) {
	var tick func()
	next := r.now
	tick = func() {
		fn()
		next += uint64(period)
		r.At(next, tick)
	}
	next += uint64(period)
	r.At(next, tick)
}

// Press clicks a button: asserted at at for dur microseconds.
func (r *Rig) Press(pin core.GPIOPin, at uint64, dur uint32) {
	r.At(at, func() { r.setInput(pin, true) })
	r.At(at+uint64(dur), func() { r.setInput(pin, false) })
}

func (r *Rig) setInput(pin core.GPIOPin, asserted bool) {
	r.inputs[pin] = asserted != r.cfg.ButtonsActiveLow
}

// Hold forces an input to its asserted level until Release. Holding an end
// switch overrides the cart position.
func (r *Rig) Hold(pin core.GPIOPin) {
	level := !r.cfg.ButtonsActiveLow
	if pin == r.cfg.MotorEnd || pin == r.cfg.OtherEnd {
		level = !r.cfg.LimitsActiveLow
	}
	r.holds[pin] = level
	r.checkLimits()
}

// Release drops a Hold.
func (r *Rig) Release(pin core.GPIOPin) {
	delete(r.holds, pin)
	r.checkLimits()
}

func (r *Rig) ConfigureOutput(pin core.GPIOPin) error {
	r.modes[pin] = "out"
	return nil
}

func (r *Rig) ConfigureInputPullUp(pin core.GPIOPin) error {
	r.modes[pin] = "pullup"
	if _, ok := r.inputs[pin]; !ok {
		r.inputs[pin] = true
	}
	return nil
}

func (r *Rig) ConfigureInputPullDown(pin core.GPIOPin) error {
	r.modes[pin] = "pulldown"
	if _, ok := r.inputs[pin]; !ok {
		r.inputs[pin] = false
	}
	return nil
}

func (r *Rig) SetPin(pin core.GPIOPin, value bool) error {
	prev := r.outputs[pin]
	r.outputs[pin] = value
	if pin == r.cfg.Stepper.Step && value && !prev {
		r.stepEdge()
	}
	return nil
}

func (r *Rig) ReadPin(pin core.GPIOPin) bool {
	if level, ok := r.holds[pin]; ok {
		return level
	}
	switch pin {
	case r.cfg.MotorEnd:
		return r.limitActive(0) != r.cfg.LimitsActiveLow
	case r.cfg.OtherEnd:
		return r.limitActive(1) != r.cfg.LimitsActiveLow
	}
	if level, ok := r.inputs[pin]; ok {
		return level
	}
	return r.outputs[pin]
}

// SetInterrupt implements core.EdgeDriver for the end switches.
func (r *Rig) SetInterrupt(pin core.GPIOPin, edge core.Edge, handler func()) error {
	r.handlers[pin] = edgeHandler{edge: edge, fn: handler}
	return nil
}

// ConfigureAnalog implements core.ADCDriver.
func (r *Rig) ConfigureAnalog(pin core.ADCPin) error {
	return nil
}

// ReadAnalog returns the wiper of one of the two potentiometers. A wiper in
// its dead zone reads full scale.
func (r *Rig) ReadAnalog(pin core.ADCPin) uint16 {
	for i, p := range r.cfg.PotPins {
		if p != pin {
			continue
		}
		shaft := r.theta - r.cfg.PotOffsetDeg[i]*math.Pi/180
		frac := math.Mod(shaft/(2*math.Pi), 1)
		if frac < 0 {
			frac++
		}
		counts := math.Round(frac * r.cfg.PotCountsPerRev)
		if counts > core.ADCMax {
			return core.ADCMax
		}
		return uint16(counts)
	}
	return 0
}

// Encoder returns the arm's quadrature counter.
func (r *Rig) Encoder() *Encoder {
	return &r.encoder
}

// Encoder counts arm rotation like a quadrature decoder.
type Encoder struct {
	rig    *Rig
	offset int
}

func (e *Encoder) raw() int {
	return int(math.Round(e.rig.theta / (2 * math.Pi) * float64(e.rig.cfg.EncoderTicks)))
}

func (e *Encoder) Position() int {
	return e.raw() + e.offset
}

func (e *Encoder) SetPosition(pos int) {
	e.offset = pos - e.raw()
}

// CartSteps returns the cart position in full steps from the motor end
// switch.
func (r *Rig) CartSteps() float64 {
	return float64(r.cart) / 32
}

// Angle returns the arm angle in radians, 0 hanging, unwrapped.
func (r *Rig) Angle() float64 {
	return r.theta
}

// SetAngle places the arm at rest at theta.
func (r *Rig) SetAngle(theta float64) {
	r.theta, r.omega = theta, 0
}

// Pulses returns the number of step pulses taken while enabled.
func (r *Rig) Pulses() uint64 {
	return r.pulses
}

// Output returns the level last driven on pin.
func (r *Rig) Output(pin core.GPIOPin) bool {
	return r.outputs[pin]
}

// enabled reports whether the driver powers the coils. An enable line
// that was never configured and driven floats, and the driver stays off.
func (r *Rig) enabled() bool {
	pin := r.cfg.Stepper.Enable
	level, driven := r.outputs[pin]
	return r.modes[pin] == "out" && driven && level != r.cfg.Stepper.EnableActiveLow
}

func (r *Rig) stepEdge() {
	if !r.enabled() {
		return
	}
	var level uint
	for i, pin := range r.cfg.Stepper.Mode {
		if r.outputs[pin] {
			level |= 1 << i
		}
	}
	if level > core.MaxMicro {
		level = core.MaxMicro
	}
	inc := int64(32 >> level)
	if r.outputs[r.cfg.Stepper.Dir] != r.cfg.Stepper.DirForward {
		inc = -inc
	}
	r.cart += inc
	r.pulses++
	r.checkLimits()
}

func (r *Rig) limitActive(i int) bool {
	if i == 0 {
		return r.cart <= 0
	}
	return r.cart >= int64(r.cfg.TrackLength)*32
}

// checkLimits fires edge handlers on switch transitions.
func (r *Rig) checkLimits() {
	for i, pin := range []core.GPIOPin{r.cfg.MotorEnd, r.cfg.OtherEnd} {
		active := r.limitActive(i)
		if level, ok := r.holds[pin]; ok {
			active = level != r.cfg.LimitsActiveLow
		}
		if active == r.limits[i] {
			continue
		}
		r.limits[i] = active
		h, ok := r.handlers[pin]
		if !ok {
			continue
		}
		rising := active != r.cfg.LimitsActiveLow
		if (rising && h.edge&core.EdgeRising != 0) || (!rising && h.edge&core.EdgeFalling != 0) {
			h.fn()
		}
	}
}

func (r *Rig) cartMeters() float64 {
	return float64(r.cart) / 32 * r.cfg.MetersPerStep
}

// integrate advances the arm to time t with semi-implicit Euler. The cart
// acceleration is differenced from its position, so a step pulse kicks the
// arm by exactly the cart displacement.
func (r *Rig) integrate(t uint64) {
	for r.physT < t {
		dt := min(uint64(substep), t-r.physT)
		h := float64(dt) / 1e6
		x := r.cartMeters()
		v := (x - r.x0) / h
		a := (v - r.v0) / h
		r.x0, r.v0 = x, v

		L := r.cfg.ArmLength
		acc := -r.cfg.Gravity/L*math.Sin(r.theta) - a/L*math.Cos(r.theta) - r.cfg.Damping*r.omega
		r.omega += acc * h
		r.theta += r.omega * h
		r.physT += dt
	}
}

// Sample is a snapshot of the rig for traces.
type Sample struct {
	T      float64 // s
	Cart   float64 // full steps from the motor end
	Angle  float64 // degrees from hanging, in [-180, 180)
	Pulses uint64
}

// Snapshot returns the current state.
func (r *Rig) Snapshot() Sample {
	deg := math.Mod(r.theta*180/math.Pi+180, 360)
	if deg < 0 {
		deg += 360
	}
	return Sample{
		T:      float64(r.now) / 1e6,
		Cart:   r.CartSteps(),
		Angle:  deg - 180,
		Pulses: r.pulses,
	}
}

// Record calls fn with a snapshot every period microseconds.
func (r *Rig) Record(period uint32, fn func(Sample)) {
	r.Every(period, func() { fn(r.Snapshot()) })
}

var (
	_ core.Clock      = (*Rig)(nil)
	_ core.GPIODriver = (*Rig)(nil)
	_ core.EdgeDriver = (*Rig)(nil)
	_ core.ADCDriver  = (*Rig)(nil)
)
