// pendel-sim runs the pendulum firmware against the simulated rig and
// records what the cart and the arm did.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"time"

	"pendel/config"
	"pendel/core"
	"pendel/pendulum"
	"pendel/sim"
)

var (
	configPath = flag.String("config", "", "YAML config file (defaults when empty)")
	duration   = flag.Duration("duration", 20*time.Second, "Simulated run time")
	startAngle = flag.Float64("start-angle", 0, "Initial arm angle from hanging, degrees")
	sensorKind = flag.String("sensor", "", "Angle sensor: encoder or potpair (overrides the config)")
	csvPath    = flag.String("csv", "", "Write a CSV trace to this file")
	plotPath   = flag.String("plot", "", "Write a PNG plot to this file")
	dumpConfig = flag.Bool("dump-config", false, "Print the effective config as YAML and exit")
	verbose    = flag.Bool("v", false, "Print phase changes and the trace ring")
)

// Firmware pins on the simulated board.
const (
	startPin     core.GPIOPin = 2
	pausePin     core.GPIOPin = 3
	emergencyPin core.GPIOPin = 10
)

// sampleEvery is the trace resolution in microseconds.
const sampleEvery = 10 * core.Millisecond

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Error: %v", err)
		}
	}
	if *sensorKind != "" {
		cfg.Sensor.Kind = *sensorKind
	}
	if *dumpConfig {
		if err := cfg.Write(os.Stdout); err != nil {
			log.Fatalf("Error: %v", err)
		}
		return
	}

	res, err := simulate(cfg, options{
		Duration:   *duration,
		StartAngle: *startAngle * math.Pi / 180,
		Log:        os.Stdout,
		Verbose:    *verbose,
	})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("\n%.2fs simulated, final phase %v, %d step pulses\n",
		res.Elapsed.Seconds(), res.Phase, res.Pulses)
	if res.Calibrated {
		fmt.Printf("track %d..%d, mid %d\n", res.MotorEnd, res.OtherEnd, res.Mid)
	}
	fmt.Printf("balanced %.2fs of %.2fs in run\n", res.Balanced.Seconds(), res.Running.Seconds())

	if *csvPath != "" {
		if err := writeCSV(*csvPath, res.Samples); err != nil {
			log.Fatalf("Error: %v", err)
		}
		fmt.Printf("wrote %s\n", *csvPath)
	}
	if *plotPath != "" {
		if err := savePlot(*plotPath, res.Samples); err != nil {
			log.Fatalf("Error: %v", err)
		}
		fmt.Printf("wrote %s\n", *plotPath)
	}
	if res.Err != nil {
		log.Fatalf("Error: firmware stopped: %v", res.Err)
	}
}

type options struct {
	Duration   time.Duration
	StartAngle float64 // rad
	Log        io.Writer
	Verbose    bool
}

// sample is one row of the trace.
type sample struct {
	sim.Sample
	Phase   pendulum.Phase
	Control pendulum.ControlPhase
}

type result struct {
	Samples    []sample
	Elapsed    time.Duration
	Phase      pendulum.Phase
	Pulses     uint64
	Calibrated bool
	MotorEnd   int32
	OtherEnd   int32
	Mid        int32
	Running    time.Duration
	Balanced   time.Duration

	// Err is the firmware's own stop reason, nil when the run timed out.
	Err error
}

func simulate(cfg config.Config, opts options) (*result, error) {
	rc := sim.DefaultConfig()
	rc.StartAngle = opts.StartAngle
	rc.ArmLength = cfg.Control.ArmLength
	rc.MetersPerStep = 1 / cfg.Control.StepsPerMeter
	rc.PotCountsPerRev = cfg.Sensor.PotCountsPerRev
	rc.PotOffsetDeg = cfg.Sensor.PotOffsetDeg
	rig := sim.NewRig(rc)

	var sensor pendulum.AngleSensor
	switch cfg.Sensor.Kind {
	case config.SensorEncoder:
		sensor = pendulum.NewEncoderSensor(rig.Encoder(), rc.EncoderTicks)
	case config.SensorPotPair:
		pots, err := pendulum.NewPotPairSensor(rig, rc.PotPins, cfg.Sensor)
		if err != nil {
			return nil, fmt.Errorf("pot sensor: %w", err)
		}
		sensor = pots
	default:
		return nil, fmt.Errorf("sensor %q is not simulated", cfg.Sensor.Kind)
	}

	out := opts.Log
	if out == nil {
		out = io.Discard
	}
	m, err := pendulum.NewMachine(cfg, pendulum.Hardware{
		Clock:       rig,
		GPIO:        rig,
		Stepper:     core.NewGPIOStepperBackend(rig),
		StepperPins: rc.Stepper,
		Sensor:      sensor,
		Pins: pendulum.Pins{
			Start:            startPin,
			Pause:            pausePin,
			Emergency:        emergencyPin,
			MotorEnd:         rc.MotorEnd,
			OtherEnd:         rc.OtherEnd,
			ButtonsActiveLow: rc.ButtonsActiveLow,
			LimitsActiveLow:  rc.LimitsActiveLow,
			Green:            14,
			Yellow:           15,
			Red:              16,
			Fault:            25,
		},
		Out: out,
	})
	if err != nil {
		return nil, fmt.Errorf("build machine: %w", err)
	}

	// The operator presses start once to calibrate and once to run.
	rig.Press(startPin, 10*uint64(core.Millisecond), 25*core.Millisecond)
	res := &result{}
	last := pendulum.PhaseIdle
	pressed := false
	rig.Every(core.Millisecond, func() {
		p := m.Phase()
		if p != last && opts.Verbose {
			fmt.Fprintf(out, "%9.3fs phase %v\n", float64(rig.Elapsed())/1e6, p)
		}
		last = p
		if p == pendulum.PhaseRunStandby && !pressed {
			pressed = true
			rig.Press(startPin, rig.Elapsed()+5*uint64(core.Millisecond), 25*core.Millisecond)
		}
		if p == pendulum.PhaseRun {
			res.Running += time.Millisecond
			if m.Controller().State().Phase == pendulum.Balancing {
				res.Balanced += time.Millisecond
			}
		}
	})
	rig.Record(sampleEvery, func(s sim.Sample) {
		res.Samples = append(res.Samples, sample{
			Sample:  s,
			Phase:   m.Phase(),
			Control: m.Controller().State().Phase,
		})
	})
	rig.At(uint64(opts.Duration/time.Microsecond), m.Stop)

	res.Err = m.Start()
	m.Log().Flush()
	if opts.Verbose {
		m.Trace().Dump(m.Log())
		m.Log().Flush()
	}

	res.Elapsed = time.Duration(rig.Elapsed()) * time.Microsecond
	res.Phase = m.Phase()
	res.Pulses = rig.Pulses()
	res.Calibrated = m.Calibrated()
	res.MotorEnd, res.OtherEnd = m.Ends()
	res.Mid = m.Mid()
	return res, nil
}
