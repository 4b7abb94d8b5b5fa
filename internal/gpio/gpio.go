// Package gpio drives the machine's stack light with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Signal is what the stack light is showing.
type Signal int

const (
	SignalOff Signal = iota
	SignalIdle
	SignalPlaced
	SignalTrimming
	SignalDegraded
)

func (s Signal) String() string {
	switch s {
	case SignalIdle:
		return "IDLE"
	case SignalPlaced:
		return "PLACED"
	case SignalTrimming:
		return "TRIMMING"
	case SignalDegraded:
		return "DEGRADED"
	}
	return "OFF"
}

// Lamps is the on/off state of each lamp.
type Lamps struct {
	Red, Yellow, Green bool
}

// LampsFor maps a signal onto the three lamps.
func LampsFor(s Signal) Lamps {
	switch s {
	case SignalIdle:
		return Lamps{Green: true}
	case SignalPlaced:
		return Lamps{Yellow: true, Green: true}
	case SignalTrimming:
		return Lamps{Yellow: true}
	case SignalDegraded:
		return Lamps{Red: true}
	}
	return Lamps{}
}

// Indicator shows a Signal on the stack light.
type Indicator interface {
	// Show sets the lamps for s. Repeating the current signal is a no-op.
	Show(s Signal) error

	// Close turns the lamps off and releases GPIO resources.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	DefaultPinRed    = 17
	DefaultPinYellow = 27
	DefaultPinGreen  = 22
)

// Pins selects the BCM lines for each lamp.
type Pins struct {
	Red, Yellow, Green int
}

// DefaultPins is the wiring of the standard trimmer stack light.
var DefaultPins = Pins{Red: DefaultPinRed, Yellow: DefaultPinYellow, Green: DefaultPinGreen}

// Nop is an Indicator for machines without a stack light.
type Nop struct{}

func (Nop) Show(Signal) error { return nil }
func (Nop) Close() error      { return nil }
