package serial

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"
)

// Line is one diagnostic line from the rig, stamped on arrival.
type Line struct {
	At   time.Time
	Text string
}

// ReadLines splits r into lines and calls fn for each non-empty one until
// r ends, ctx is done or fn returns an error. To stop a blocking read, close
// the port when ctx is done; ReadLines then returns ctx.Err().
func ReadLines(ctx context.Context, r io.Reader, now func() time.Time, fn func(Line) error) error {
	if now == nil {
		now = time.Now
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" {
			continue
		}
		if err := fn(Line{At: now(), Text: text}); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return sc.Err()
}

// Tally counts the noteworthy events seen in a session.
type Tally struct {
	Lines       int
	Emergencies int
	LimitHits   int
	Fatal       int
	Warnings    int
	Resets      int
}

// Add classifies one line.
func (t *Tally) Add(text string) {
	t.Lines++
	switch {
	case strings.Contains(text, "limit switch hit"):
		t.LimitHits++
		t.Emergencies++
	case strings.Contains(text, "emergency stop"):
		t.Emergencies++
	case strings.HasPrefix(text, "fatal:"):
		t.Fatal++
	case strings.HasPrefix(text, "warning"):
		t.Warnings++
	case text == "resetting":
		t.Resets++
	}
}
