package core

import (
	"errors"
	"testing"
)

func TestBefore(t *testing.T) {
	const last = ^uint32(0)
	tests := []struct {
		name string
		now  uint32
		x, y uint32
		want bool
	}{
		{"next microsecond", 0, 0, 1, true},
		{"same time", 0, 0, 0, false},
		{"wrap to zero", last, last, 0, true},
		{"one hour ahead", 0, 0, 60 * Minute, true},
		{"71 minutes ahead", 0, 0, 71 * Minute, false},
		{"four minutes ago", 0, 0, last - 4*Minute + 1, false},
		{"six minutes ago", 0, 0, last - 6*Minute + 1, true},
		{"deep past wraps to future", 60 * Minute, 58 * Minute, 30 * Minute, true},
		{"past before future", 60 * Minute, 58 * Minute, 61 * Minute, true},
	}
	for _, tt := range tests {
		if got := Before(tt.now, tt.x, tt.y); got != tt.want {
			t.Errorf("%s: Before(%d, %d, %d) = %v, expected %v", tt.name, tt.now, tt.x, tt.y, got, tt.want)
		}
	}
}

// recorder logs the order actions fire in.
type recorder struct {
	fired []int
}

func (r *recorder) task(id int) *Task {
	return &Task{Handler: func(q *EventQueue, when uint32) {
		r.fired = append(r.fired, id)
	}}
}

// keepAlive re-enqueues itself until stopped.
func keepAlive(period uint32, stopAt int) *Task {
	n := 0
	var t *Task
	t = &Task{Name: "alive", Handler: func(q *EventQueue, when uint32) {
		n++
		if n >= stopAt {
			q.Stop()
			return
		}
		q.Enqueue(t, when+period)
	}}
	return t
}

func TestEventQueueFullCapacity(t *testing.T) {
	clock := NewManualClock(1000)
	q := NewEventQueue(clock)
	rec := &recorder{}

	for i := 0; i < EventQueueSize; i++ {
		if err := q.EnqueueNow(rec.task(i)); err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}
	if !q.Full() {
		t.Errorf("Expected queue to be full")
	}

	err := q.Run()
	if !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Expected ErrQueueEmpty once drained, got %v", err)
	}
	if len(rec.fired) != EventQueueSize {
		t.Fatalf("Expected %d actions to fire, got %d", EventQueueSize, len(rec.fired))
	}
	for i, id := range rec.fired {
		if id != i {
			t.Errorf("Position %d: expected action %d, got %d", i, i, id)
		}
	}
}

func TestEventQueueOrdersByDeadline(t *testing.T) {
	clock := NewManualClock(0)
	q := NewEventQueue(clock)
	rec := &recorder{}

	deadlines := []uint32{500, 100, 300, 100, 200, 500, 0}
	for i, d := range deadlines {
		q.Enqueue(rec.task(i), d)
	}
	q.Enqueue(keepAlive(1000, 1), 10000)

	if err := q.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []int{6, 1, 3, 4, 2, 0, 5}
	if len(rec.fired) != len(want) {
		t.Fatalf("Expected %d actions, got %d", len(want), len(rec.fired))
	}
	for i := range want {
		if rec.fired[i] != want[i] {
			t.Errorf("Position %d: expected action %d, got %d", i, want[i], rec.fired[i])
		}
	}
	if clock.Now() < 10000 {
		t.Errorf("Expected clock to reach the last deadline, at %d", clock.Now())
	}
}

func TestEventQueueOrdersAcrossWrap(t *testing.T) {
	clock := NewManualClock(^uint32(0) - 50)
	q := NewEventQueue(clock)
	rec := &recorder{}

	// 0 is due after the wrap, 1 before it.
	q.Enqueue(rec.task(0), 100)
	q.Enqueue(rec.task(1), ^uint32(0)-10)
	q.Enqueue(keepAlive(1, 1), 200)

	if err := q.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(rec.fired) != 2 || rec.fired[0] != 1 || rec.fired[1] != 0 {
		t.Errorf("Expected [1 0], got %v", rec.fired)
	}
}

func TestEventQueueOverflow(t *testing.T) {
	q := NewEventQueue(NewManualClock(0))
	rec := &recorder{}

	for i := 0; i < EventQueueSize; i++ {
		if err := q.EnqueueNow(rec.task(i)); err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}
	if err := q.EnqueueNow(rec.task(99)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Expected ErrQueueFull, got %v", err)
	}
	if q.Len() != EventQueueSize {
		t.Errorf("Expected size to stay %d, got %d", EventQueueSize, q.Len())
	}

	if err := q.Run(); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected Run to report ErrQueueFull, got %v", err)
	}
	if len(rec.fired) != 0 {
		t.Errorf("Expected no dispatch after a fault, got %d", len(rec.fired))
	}
}

func TestEventQueueOverflowFromCallback(t *testing.T) {
	q := NewEventQueue(NewManualClock(0))
	rec := &recorder{}

	flood := &Task{Handler: func(q *EventQueue, when uint32) {
		for i := 0; i <= EventQueueSize; i++ {
			q.Enqueue(rec.task(i), when+1)
		}
	}}
	q.EnqueueNow(flood)

	if err := q.Run(); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Expected ErrQueueFull, got %v", err)
	}
	if len(rec.fired) != 0 {
		t.Errorf("Expected the halt to stop dispatch, %d actions fired", len(rec.fired))
	}
}

func TestEventQueueStop(t *testing.T) {
	clock := NewManualClock(0)
	q := NewEventQueue(clock)
	rec := &recorder{}

	stopper := &Task{Handler: func(q *EventQueue, when uint32) {
		rec.fired = append(rec.fired, -1)
		q.Stop()
	}}
	q.Enqueue(rec.task(0), 10)
	q.Enqueue(stopper, 20)
	q.Enqueue(rec.task(1), 30)

	if err := q.Run(); err != nil {
		t.Fatalf("Expected nil after Stop, got %v", err)
	}
	if len(rec.fired) != 2 {
		t.Errorf("Expected 2 actions before stop, got %v", rec.fired)
	}
	if q.Len() != 1 {
		t.Errorf("Expected 1 action left pending, got %d", q.Len())
	}
	if q.Running() {
		t.Errorf("Expected queue to be stopped")
	}
}

func TestEventQueueIdleSleepIsBounded(t *testing.T) {
	clock := NewManualClock(0)
	q := NewEventQueue(clock)

	fired := 0
	probe := &Task{Handler: func(q *EventQueue, when uint32) {
		fired++
		q.Stop()
	}}
	q.Enqueue(probe, 3*Second+500)

	if err := q.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if clock.Now() != 3*Second+500 {
		t.Errorf("Expected clock at %d, got %d", 3*Second+500, clock.Now())
	}
	if fired != 1 {
		t.Errorf("Expected probe to fire once, got %d", fired)
	}
}

func TestEventQueuePresent(t *testing.T) {
	q := NewEventQueue(NewManualClock(0))
	a := &Task{Name: "a", Handler: func(*EventQueue, uint32) {}}
	b := &Task{Name: "b", Handler: func(*EventQueue, uint32) {}}

	q.EnqueueAfter(a, 100)
	if !q.Present(a) {
		t.Errorf("Expected a to be present")
	}
	if q.Present(b) {
		t.Errorf("Expected b to be absent")
	}

	q.Reset()
	if q.Present(a) || q.Len() != 0 {
		t.Errorf("Expected Reset to clear the queue")
	}
}
