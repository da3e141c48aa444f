package core

import "errors"

// EventQueueSize is the number of events that can be pending at once.
const EventQueueSize = 16

// beforeWindow is how far in the past a deadline may lie and still be
// treated as past rather than as far future.
const beforeWindow = 5 * Minute

// maxIdleSleep bounds a single idle wait inside Run.
const maxIdleSleep = Second

var (
	// ErrQueueFull is latched when an action is enqueued on a full queue.
	ErrQueueFull = errors.New("event queue full")

	// ErrQueueEmpty is returned by Run when every action finished while the
	// queue was still marked running. The safety poll keeps itself
	// scheduled, so this is a scheduling logic error.
	ErrQueueEmpty = errors.New("event queue empty")
)

// Action is a one-shot callback dispatched by the EventQueue. when is the
// deadline it was scheduled for, not the time it actually runs.
// Actions are identified by interface equality, so implementations
// should be pointers.
type Action interface {
	Fire(q *EventQueue, when uint32)
}

// Task adapts a method or closure to Action.
type Task struct {
	Name    string
	Handler func(q *EventQueue, when uint32)
}

func (t *Task) Fire(q *EventQueue, when uint32) {
	t.Handler(q, when)
}

// Before reports whether x comes before y as seen from now, on a wrapping
// microsecond clock. Deadlines between 5 minutes in the past and about 66
// minutes in the future compare correctly.
func Before(now, x, y uint32) bool {
	return x-now+beforeWindow < y-now+beforeWindow
}

type event struct {
	when   uint32
	action Action
}

// EventQueue is a single-threaded cooperative deadline scheduler backed by
// a sorted circular buffer. Everything on the rig runs inside Run.
type EventQueue struct {
	clock   Clock
	events  [EventQueueSize]event
	index   int // front slot
	size    int
	running bool
	err     error
}

// NewEventQueue creates an empty queue driven by clock.
func NewEventQueue(clock Clock) *EventQueue {
	return &EventQueue{clock: clock}
}

// Clock returns the queue's time source.
func (q *EventQueue) Clock() Clock {
	return q.clock
}

// Reset drops all pending events and any latched fault.
func (q *EventQueue) Reset() {
	for i := range q.events {
		q.events[i] = event{}
	}
	q.index = 0
	q.size = 0
	q.running = false
	q.err = nil
}

func (q *EventQueue) slot(i int) *event {
	return &q.events[(q.index+i)%EventQueueSize]
}

// Enqueue schedules action to fire at deadline. Actions with equal
// deadlines fire in the order they were enqueued.
//
// A full queue is fatal: the error is returned and also latched, so Run
// stops dispatching and reports it even when the caller is a callback
// with nowhere to send the error.
func (q *EventQueue) Enqueue(action Action, deadline uint32) error {
	if q.size == EventQueueSize {
		q.fault(ErrQueueFull)
		return ErrQueueFull
	}

	now := q.clock.Now()
	back := q.size
	q.size++
	*q.slot(back) = event{when: deadline, action: action}

	// Bubble toward the front while strictly earlier than the predecessor.
	for i := back; i > 0; i-- {
		cur, prev := q.slot(i), q.slot(i-1)
		if !Before(now, cur.when, prev.when) {
			break
		}
		*cur, *prev = *prev, *cur
	}
	return nil
}

// EnqueueNow schedules action at the current time.
func (q *EventQueue) EnqueueNow(action Action) error {
	return q.Enqueue(action, q.clock.Now())
}

// EnqueueAfter schedules action delta microseconds from now.
func (q *EventQueue) EnqueueAfter(action Action, delta uint32) error {
	return q.Enqueue(action, q.clock.Now()+delta)
}

// Run dispatches events until Stop is called, a fault is latched or the
// queue drains. It returns nil only after Stop.
func (q *EventQueue) Run() error {
	if q.err != nil {
		return q.err
	}
	q.running = true
	for q.size > 0 && q.running {
		front := q.slot(0)
		now := q.clock.Now()
		if Before(now, now, front.when) {
			wait := front.when - now
			if wait > maxIdleSleep {
				wait = maxIdleSleep
			}
			q.clock.Sleep(wait)
			continue
		}

		ev := *front
		*front = event{}
		q.index = (q.index + 1) % EventQueueSize
		q.size--

		ev.action.Fire(q, ev.when)
		if q.err != nil {
			return q.err
		}
	}
	if q.running {
		q.running = false
		q.fault(ErrQueueEmpty)
		return ErrQueueEmpty
	}
	return nil
}

// Stop makes Run return once the current action completes.
func (q *EventQueue) Stop() {
	q.running = false
}

// Running reports whether Run is dispatching.
func (q *EventQueue) Running() bool {
	return q.running
}

// Present reports whether action is already scheduled.
func (q *EventQueue) Present(action Action) bool {
	for i := 0; i < q.size; i++ {
		if q.slot(i).action == action {
			return true
		}
	}
	return false
}

// Len returns the number of pending events.
func (q *EventQueue) Len() int {
	return q.size
}

// Full reports whether another Enqueue would fail.
func (q *EventQueue) Full() bool {
	return q.size == EventQueueSize
}

// Err returns the latched fault, if any.
func (q *EventQueue) Err() error {
	return q.err
}

func (q *EventQueue) fault(err error) {
	if q.err == nil {
		q.err = err
	}
	q.running = false
}
