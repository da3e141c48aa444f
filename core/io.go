package core

// Button reads a push button or switch. Active-low inputs get a pull-up.
type Button struct {
	gpio      GPIODriver
	pin       GPIOPin
	activeLow bool
	last      bool
}

// NewButton configures pin as an input.
func NewButton(gpio GPIODriver, pin GPIOPin, activeLow bool) (*Button, error) {
	var err error
	if activeLow {
		err = gpio.ConfigureInputPullUp(pin)
	} else {
		err = gpio.ConfigureInputPullDown(pin)
	}
	if err != nil {
		return nil, err
	}
	return &Button{gpio: gpio, pin: pin, activeLow: activeLow}, nil
}

// Pin returns the input pin.
func (b *Button) Pin() GPIOPin {
	return b.pin
}

// IsPressed returns the current level.
func (b *Button) IsPressed() bool {
	return b.gpio.ReadPin(b.pin) != b.activeLow
}

// Pressed reports a completed click: true once, on the poll where the
// button is seen released after having been seen pressed.
func (b *Button) Pressed() bool {
	now := b.IsPressed()
	clicked := b.last && !now
	b.last = now
	return clicked
}

// Reset forgets a half-seen click.
func (b *Button) Reset() {
	b.last = b.IsPressed()
}

// LED drives an indicator output.
type LED struct {
	gpio GPIODriver
	pin  GPIOPin
	on   bool
}

// NewLED configures pin as an output and turns it off.
func NewLED(gpio GPIODriver, pin GPIOPin) (*LED, error) {
	if err := gpio.ConfigureOutput(pin); err != nil {
		return nil, err
	}
	l := &LED{gpio: gpio, pin: pin}
	l.Off()
	return l, nil
}

func (l *LED) Set(on bool) {
	l.on = on
	l.gpio.SetPin(l.pin, on)
}

func (l *LED) On()     { l.Set(true) }
func (l *LED) Off()    { l.Set(false) }
func (l *LED) Toggle() { l.Set(!l.on) }

func (l *LED) IsOn() bool {
	return l.on
}

// Blinker toggles an LED from the event queue.
type Blinker struct {
	led    *LED
	period uint32
	active bool
}

// NewBlinker creates a stopped blinker for led.
func NewBlinker(led *LED) *Blinker {
	return &Blinker{led: led}
}

// Start blinks with the given half period. Restarting an active blinker
// only changes its period.
func (b *Blinker) Start(q *EventQueue, period uint32) error {
	b.period = period
	b.active = true
	if q.Present(b) {
		return nil
	}
	return q.EnqueueNow(b)
}

// Stop halts blinking and leaves the LED off. The pending event fires
// once more and then lapses.
func (b *Blinker) Stop() {
	b.active = false
	b.led.Off()
}

func (b *Blinker) Fire(q *EventQueue, when uint32) {
	if !b.active {
		return
	}
	b.led.Toggle()
	q.Enqueue(b, when+b.period)
}

// Latch records that an interrupt fired. Set is safe from interrupt
// context; Take reads and clears with interrupts masked.
type Latch struct {
	hit bool
}

func (l *Latch) Set() {
	l.hit = true
}

// Take returns whether the latch was set since the last Take.
func (l *Latch) Take() bool {
	state := disableInterrupts()
	hit := l.hit
	l.hit = false
	restoreInterrupts(state)
	return hit
}
