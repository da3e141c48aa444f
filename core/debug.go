package core

import "io"

// LogBufferSize is the default diagnostic ring size in bytes.
const LogBufferSize = 1024

// TraceRingSize keeps the last 32 events for post-mortem.
const TraceRingSize = 32

const (
	logChunk   = 64          // bytes handed to the writer per drain
	logWait    = Millisecond // spacing between drains
	logReserve = 4           // queue slots the log never takes
	lineMax    = 96          // typical line length, grows if needed
)

// Log is the diagnostic text sink. Print never blocks: lines go into a
// ring buffer that a scheduled drain empties into the platform writer a
// chunk at a time. Lines that do not fit are dropped whole and counted.
type Log struct {
	out     io.Writer
	ring    lineRing
	q       *EventQueue
	dropped uint32
	line    [lineMax]byte
	chunk   [logChunk]byte
}

// NewLog creates a log writing to out through a ring of size bytes.
func NewLog(out io.Writer, size int) *Log {
	return &Log{
		out:  out,
		ring: lineRing{buf: make([]byte, size)},
	}
}

// Attach makes the log drain itself from q. Without a queue, output stays
// buffered until Flush.
func (l *Log) Attach(q *EventQueue) {
	l.q = q
}

// Print formats args back to back and appends a newline.
func (l *Log) Print(args ...any) {
	buf := l.line[:0]
	for _, a := range args {
		buf = appendValue(buf, a)
	}
	buf = append(buf, '\n')

	if !l.ring.put(buf) {
		l.dropped++
	}
	l.arm(0)
}

func (l *Log) arm(delay uint32) {
	q := l.q
	if q == nil || l.ring.n == 0 || q.Present(l) || q.Len() >= EventQueueSize-logReserve {
		return
	}
	q.EnqueueAfter(l, delay)
}

// Fire drains one chunk.
func (l *Log) Fire(q *EventQueue, when uint32) {
	n := l.ring.take(l.chunk[:])
	if n > 0 && l.out != nil {
		if _, err := l.out.Write(l.chunk[:n]); err != nil {
			l.dropped++
		}
	}
	l.arm(logWait)
}

// Flush writes everything buffered. Only for use outside the dispatch
// loop, e.g. after a halt.
func (l *Log) Flush() {
	for {
		n := l.ring.take(l.chunk[:])
		if n == 0 {
			return
		}
		if l.out != nil {
			l.out.Write(l.chunk[:n])
		}
	}
}

// Clear drops buffered output.
func (l *Log) Clear() {
	l.ring.head, l.ring.n = 0, 0
}

// Buffered returns the number of bytes waiting to be written.
func (l *Log) Buffered() int {
	return l.ring.n
}

// Dropped returns the number of lines lost to overload or write errors.
func (l *Log) Dropped() uint32 {
	return l.dropped
}

// lineRing holds whole lines back to back. Every byte of buf is usable.
type lineRing struct {
	buf  []byte
	head int // oldest byte
	n    int
}

// put stores line in full or not at all.
func (r *lineRing) put(line []byte) bool {
	if len(line) > len(r.buf)-r.n {
		return false
	}
	if len(line) == 0 {
		return true
	}
	tail := (r.head + r.n) % len(r.buf)
	c := copy(r.buf[tail:], line)
	copy(r.buf, line[c:])
	r.n += len(line)
	return true
}

// take moves up to len(dst) of the oldest bytes into dst.
func (r *lineRing) take(dst []byte) int {
	if r.n == 0 {
		return 0
	}
	if r.n < len(dst) {
		dst = dst[:r.n]
	}
	c := copy(dst, r.buf[r.head:])
	c += copy(dst[c:], r.buf)
	r.head = (r.head + c) % len(r.buf)
	r.n -= c
	return c
}

// TraceCode classifies a TraceEvent.
type TraceCode uint8

// Event type codes
const (
	TracePhase   TraceCode = iota + 1 // phase entered, value = phase
	TraceOverrun                      // control tick late, value = lateness in us
	TraceClamp                        // target clamped, value = requested target
	TraceLimit                        // limit switch hit, value = pin
	TraceFault                        // fault latched, value = fault code
)

func (c TraceCode) String() string {
	switch c {
	case TracePhase:
		return "PHASE"
	case TraceOverrun:
		return "OVERRUN"
	case TraceClamp:
		return "CLAMP"
	case TraceLimit:
		return "LIMIT"
	case TraceFault:
		return "FAULT"
	}
	return "UNKNOWN"
}

// TraceEvent captures a noteworthy event for post-mortem analysis
type TraceEvent struct {
	Code  TraceCode
	When  uint32
	Value int32
}

// TraceRing keeps the most recent events. Record is a handful of stores
// and safe to call from any callback.
type TraceRing struct {
	events [TraceRingSize]TraceEvent
	head   uint8
}

// Record captures an event, overwriting the oldest one.
func (r *TraceRing) Record(code TraceCode, when uint32, value int32) {
	r.events[r.head] = TraceEvent{Code: code, When: when, Value: value}
	r.head = (r.head + 1) % TraceRingSize
}

// Events returns the recorded events, oldest first.
func (r *TraceRing) Events() []TraceEvent {
	out := make([]TraceEvent, 0, TraceRingSize)
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := r.events[(r.head+i)%TraceRingSize]
		if evt.Code == 0 {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// Dump prints the ring to l, oldest first.
func (r *TraceRing) Dump(l *Log) {
	l.Print("[TRACE] === dump ===")
	for _, evt := range r.Events() {
		l.Print("[TRACE] ", evt.Code, " t=", evt.When, " v=", evt.Value)
	}
	l.Print("[TRACE] === end ===")
}

// Clear empties the ring.
func (r *TraceRing) Clear() {
	r.events = [TraceRingSize]TraceEvent{}
	r.head = 0
}
