package gpio

import "sync"

// FakeIndicator is a test double that records the signals shown.
type FakeIndicator struct {
	mu sync.Mutex

	// Signals contains each distinct signal shown, in order.
	Signals []Signal

	// Closed tracks if Close was called
	Closed bool

	// ShowError, if set, will be returned by Show()
	ShowError error
}

// NewFakeIndicator creates a FakeIndicator.
func NewFakeIndicator() *FakeIndicator {
	return &FakeIndicator{}
}

// Show records s unless it repeats the current signal.
func (f *FakeIndicator) Show(s Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ShowError != nil {
		return f.ShowError
	}
	if n := len(f.Signals); n > 0 && f.Signals[n-1] == s {
		return nil
	}
	f.Signals = append(f.Signals, s)
	return nil
}

// Current returns the last signal shown.
func (f *FakeIndicator) Current() Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Signals) == 0 {
		return SignalOff
	}
	return f.Signals[len(f.Signals)-1]
}

// History returns a copy of the signals shown.
func (f *FakeIndicator) History() []Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Signal, len(f.Signals))
	copy(out, f.Signals)
	return out
}

// Close marks the indicator as closed.
func (f *FakeIndicator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Reset clears recorded signals.
func (f *FakeIndicator) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Signals = nil
	f.Closed = false
}
