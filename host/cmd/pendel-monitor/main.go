// pendel-monitor prints the rig's diagnostic console with host timestamps
// and summarises the session on exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pendel/host/serial"
)

var (
	device  = flag.String("port", "/dev/ttyACM0", "Serial device path")
	baud    = flag.Int("baud", 115200, "Baud rate (ignored for USB CDC)")
	outPath = flag.String("out", "", "Append the stamped lines to this file")
	timeout = flag.Duration("timeout", 0, "Stop after this long (0 runs until interrupted)")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	cfg.ReadTimeout = 0

	log.Printf("Connecting to %s...", cfg.Device)
	port, err := serial.Open(cfg)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	var tee io.Writer
	if *outPath != "" {
		f, err := os.OpenFile(*outPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			port.Close()
			log.Fatalf("Error: %v", err)
		}
		defer f.Close()
		tee = f
	}

	tally, err := monitor(ctx, port, os.Stdout, tee)
	fmt.Printf("\n%d lines: %d emergency stops (%d limit hits), %d fatal, %d warnings, %d resets\n",
		tally.Lines, tally.Emergencies, tally.LimitHits, tally.Fatal, tally.Warnings, tally.Resets)
	if err != nil && ctx.Err() == nil {
		log.Fatalf("Error: %v", err)
	}
}

// monitor copies stamped lines from port to out and tee until ctx is done
// or the port closes. The port is closed on return.
func monitor(ctx context.Context, port serial.Port, out, tee io.Writer) (serial.Tally, error) {
	var once sync.Once
	closePort := func() { once.Do(func() { port.Close() }) }
	defer closePort()
	// Unblocks a pending Read.
	defer context.AfterFunc(ctx, closePort)()
	port.Flush()

	var tally serial.Tally
	err := serial.ReadLines(ctx, port, time.Now, func(l serial.Line) error {
		tally.Add(l.Text)
		line := fmt.Sprintf("%s %s\n", l.At.Format("15:04:05.000"), l.Text)
		if _, err := io.WriteString(out, line); err != nil {
			return err
		}
		if tee != nil {
			if _, err := io.WriteString(tee, line); err != nil {
				return fmt.Errorf("write %s: %w", *outPath, err)
			}
		}
		return nil
	})
	return tally, err
}
