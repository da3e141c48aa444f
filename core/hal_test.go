package core

// MockGPIODriver is a test implementation of GPIODriver
type MockGPIODriver struct {
	pins    map[GPIOPin]bool
	modes   map[GPIOPin]string
	history map[GPIOPin]int // rising edges seen per pin
}

func NewMockGPIODriver() *MockGPIODriver {
	return &MockGPIODriver{
		pins:    make(map[GPIOPin]bool),
		modes:   make(map[GPIOPin]string),
		history: make(map[GPIOPin]int),
	}
}

func (m *MockGPIODriver) ConfigureOutput(pin GPIOPin) error {
	m.modes[pin] = "out"
	return nil
}

func (m *MockGPIODriver) ConfigureInputPullUp(pin GPIOPin) error {
	m.modes[pin] = "pullup"
	m.pins[pin] = true
	return nil
}

func (m *MockGPIODriver) ConfigureInputPullDown(pin GPIOPin) error {
	m.modes[pin] = "pulldown"
	m.pins[pin] = false
	return nil
}

func (m *MockGPIODriver) SetPin(pin GPIOPin, value bool) error {
	if value && !m.pins[pin] {
		m.history[pin]++
	}
	m.pins[pin] = value
	return nil
}

func (m *MockGPIODriver) ReadPin(pin GPIOPin) bool {
	return m.pins[pin]
}
