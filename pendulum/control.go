package pendulum

import (
	"math"

	"pendel/config"
)

// ControlPhase is the swing-up and balance mode.
type ControlPhase uint8

const (
	Still ControlPhase = iota
	Swinging
	MoveToMiddle
	Balancing
)

func (p ControlPhase) String() string {
	switch p {
	case Still:
		return "still"
	case Swinging:
		return "swing"
	case MoveToMiddle:
		return "move-to-middle"
	case Balancing:
		return "balance"
	}
	return "unknown"
}

// ControlState is the persistent part of the run loop: the mode and the
// calibrated track, in full steps.
type ControlState struct {
	Phase    ControlPhase
	MotorEnd int32
	OtherEnd int32
	Mid      int32
}

// TickInput is everything one control tick looks at.
type TickInput struct {
	Pos       int32 // cart, full steps
	Target    int32 // current stepper target
	Stopped   bool  // stepper at rest
	Down      Angle
	Up        Angle
	Speed     Angle // ticks per control tick
	StepSpeed int32 // full steps over the last tick
	GoingDown bool
}

// Clamp tells which end limited a target.
type Clamp uint8

const (
	ClampNone Clamp = iota
	ClampMotorEnd
	ClampOtherEnd
)

func (c Clamp) String() string {
	switch c {
	case ClampMotorEnd:
		return "hit motor limit"
	case ClampOtherEnd:
		return "hit other limit"
	}
	return ""
}

// Decision is the outcome of a tick.
type Decision struct {
	Changed   bool    // Target differs from the input target
	Target    int32   // new stepper target, within the clamp range
	Requested int32   // target before clamping
	Clamped   Clamp   // end that limited Requested
	Speed     float64 // new cruise speed in steps/s, 0 keeps the current one
	What      string  // short reason for the log
}

// Controller implements the swing-up and balance law. It does no I/O: the
// machine feeds it a TickInput per tick and applies the Decision.
type Controller struct {
	state ControlState

	kp, kd        float64
	stepsPerAngle float64
	anglePerStep  float64
	anglePerSpeed float64

	balanceZone     Angle
	swingZone       Angle
	maxBalanceSpeed Angle

	centerMargin int32
	centerGain   float64
	limitMargin  int32

	pumpBase   int32
	pumpOffset int32
	pumpGain   int32
	pumpMin    int32
	pumpMax    int32
	jerk       int32

	maxSpeed    float64
	middleSpeed float64
}

// NewController derives the control constants from cfg.
func NewController(cfg config.Config) *Controller {
	k := cfg.Control
	stepsPerAngle := k.ArmLength / float64(Revolution) * 2 * math.Pi * k.StepsPerMeter
	return &Controller{
		kp:              k.Kp,
		kd:              k.Kd,
		stepsPerAngle:   stepsPerAngle,
		anglePerStep:    1 / stepsPerAngle,
		anglePerSpeed:   1 / k.SpeedPerAngle,
		balanceZone:     FromDegrees(k.BalanceZoneDeg),
		swingZone:       FromDegrees(k.SwingZoneDeg),
		maxBalanceSpeed: FromDegrees(k.MaxBalanceSpeedDeg),
		centerMargin:    k.CenterMargin,
		centerGain:      k.CenterGain,
		limitMargin:     k.LimitMargin,
		pumpBase:        k.PumpBase,
		pumpOffset:      k.PumpSpeedOffset,
		pumpGain:        k.PumpSpeedGain,
		pumpMin:         k.PumpMin,
		pumpMax:         k.PumpMax,
		jerk:            k.JerkDistance,
		maxSpeed:        cfg.Motion.MaxSpeed,
		middleSpeed:     cfg.Motion.MaxSpeed / cfg.Motion.MiddleSpeedDivisor,
	}
}

// State returns the mode and track.
func (c *Controller) State() ControlState {
	return c.state
}

// SetEnds records the calibrated track and puts mid halfway.
func (c *Controller) SetEnds(motorEnd, otherEnd int32) {
	c.state.MotorEnd = motorEnd
	c.state.OtherEnd = otherEnd
	c.state.Mid = motorEnd + (otherEnd-motorEnd)/2
}

// Reset returns to Still, keeping the track.
func (c *Controller) Reset() {
	c.state.Phase = Still
}

// Tick runs one step of the control law.
func (c *Controller) Tick(in TickInput) Decision {
	st := &c.state
	d := Decision{Target: in.Target, Requested: in.Target}
	target := in.Target
	absSpeed := in.Speed.Abs()

	switch absUp := in.Up.Abs(); {
	case absUp < c.balanceZone:
		// The cart motion itself turns the sensor; take it out.
		corrected := float64(in.Speed) + float64(in.StepSpeed)*c.anglePerStep
		if absSpeed < c.maxBalanceSpeed && math.Abs(corrected) < float64(c.maxBalanceSpeed) {
			st.Phase = Balancing
			d.What = "balancing"
			t := float64(in.Pos) +
				c.kp*float64(in.Up)*c.stepsPerAngle +
				c.kd*corrected*c.anglePerSpeed*c.stepsPerAngle
			if drift := in.Pos - st.Mid; drift > c.centerMargin || -drift > c.centerMargin {
				t += float64(drift) * c.centerGain
			}
			target = saturate(t)
		}

	case absUp > c.swingZone:
		switch st.Phase {
		case Still:
			st.Phase = Swinging
		case Balancing:
			st.Phase = MoveToMiddle
			d.What = "move to middle"
			d.Speed = c.middleSpeed
			target = st.Mid
		case MoveToMiddle:
			if in.Stopped {
				st.Phase = Swinging
				d.Speed = c.maxSpeed
			}
		case Swinging:
			if !in.Stopped {
				break
			}
			if in.GoingDown && in.Down.Abs() < Deg90 {
				dist := c.PumpDistance(absSpeed)
				if in.Speed < 0 && in.Pos <= st.Mid {
					d.What = "swing m => o"
					target = st.Mid + dist
				} else if in.Speed > 0 && in.Pos >= st.Mid {
					d.What = "swing m <= o"
					target = st.Mid - dist
				}
			} else if in.Speed == 0 && in.Pos == st.Mid {
				d.What = "jerk"
				target = st.Mid + c.jerk
			}
		}
	}

	if target != in.Target {
		d.Requested = target
		d.Target, d.Clamped = c.Clamp(target)
		d.Changed = d.Target != in.Target
	}
	return d
}

// Clamp limits target to the track minus the safety margin at each end.
func (c *Controller) Clamp(target int32) (int32, Clamp) {
	if lo := c.state.MotorEnd + c.limitMargin; target < lo {
		return lo, ClampMotorEnd
	}
	if hi := c.state.OtherEnd - c.limitMargin; target > hi {
		return hi, ClampOtherEnd
	}
	return target, ClampNone
}

// PumpDistance is how far from mid to move the cart to feed a swing; the
// faster the arm already swings, the shorter the move.
func (c *Controller) PumpDistance(absSpeed Angle) int32 {
	dist := c.pumpBase - (int32(absSpeed)-c.pumpOffset)*c.pumpGain
	return min(max(dist, c.pumpMin), c.pumpMax)
}

// saturate rounds t to the nearest step within int32.
func saturate(t float64) int32 {
	switch {
	case math.IsNaN(t):
		return 0
	case t >= math.MaxInt32:
		return math.MaxInt32
	case t <= math.MinInt32:
		return math.MinInt32
	}
	return int32(math.Round(t))
}
