package logic

import "time"

// Next is the cycle transition function. It returns the new state and the
// events the transition produced (zero, one or two). It performs no I/O.
//
// A placed_in event carries the lot already held in the returned state,
// which is always "" because the lot is looked up after the cycle starts;
// callers attach it with Machine.AssignLot.
func Next(s State, in Input, dwell time.Duration) (State, []Event) {
	switch s.Phase {
	case PhaseEmpty, "":
		if !in.Present {
			if s.Phase == "" {
				s.Phase = PhaseEmpty
				s.PhaseStart = in.Time
			}
			return s, nil
		}
		id := newCycleID(in.Time, s.LastCycleID)
		s.Phase = PhasePartPlaced
		s.PhaseStart = in.Time
		s.CycleID = id
		s.LastCycleID = id
		s.Lot = ""
		return s, []Event{{
			Timestamp: in.Time,
			Type:      EventPlacedIn,
			CycleID:   id,
			Area:      in.Area,
		}}

	case PhasePartPlaced:
		if !in.Present {
			// False start: the part never stayed long enough to trim.
			return emptied(s, in.Time), nil
		}
		if in.Time.Sub(s.PhaseStart) > dwell {
			s.Phase = PhaseTrimming
			s.PhaseStart = in.Time
		}
		return s, nil

	case PhaseTrimming:
		if in.Present {
			return s, nil
		}
		d := in.Time.Sub(s.PhaseStart)
		events := []Event{
			{
				Timestamp: in.Time,
				Type:      EventPushedOut,
				CycleID:   s.CycleID,
				Lot:       s.Lot,
				Area:      in.Area,
				Duration:  d,
			},
			{
				Timestamp: in.Time,
				Type:      EventCycleComplete,
				CycleID:   s.CycleID,
				Lot:       s.Lot,
				Duration:  d,
			},
		}
		return emptied(s, in.Time), events
	}
	return s, nil
}

func emptied(s State, now time.Time) State {
	s.Phase = PhaseEmpty
	s.PhaseStart = now
	s.CycleID = 0
	s.Lot = ""
	return s
}

// newCycleID derives a millisecond timestamp id, bumped past the previous id
// when the clock has not advanced.
func newCycleID(now time.Time, last int64) int64 {
	id := now.UnixMilli()
	if id <= last {
		id = last + 1
	}
	return id
}

// Machine owns a cycle State and applies samples to it. It is not safe for
// concurrent use; the monitor loop is its only caller.
type Machine struct {
	dwell  time.Duration
	state  State
	counts Counts
}

// NewMachine creates a machine in the EMPTY phase.
func NewMachine(dwell time.Duration, startTime time.Time) *Machine {
	if dwell <= 0 {
		dwell = DefaultDwell
	}
	return &Machine{
		dwell: dwell,
		state: State{Phase: PhaseEmpty, PhaseStart: startTime},
	}
}

// Process applies one sample and returns any events to emit, in order.
func (m *Machine) Process(in Input) []Event {
	prev := m.state.Phase
	next, events := Next(m.state, in, m.dwell)
	m.state = next

	switch {
	case prev == PhasePartPlaced && next.Phase == PhaseEmpty:
		m.counts.FalseStarts++
	case len(events) > 0 && events[0].Type == EventPlacedIn:
		m.counts.Placed++
	case len(events) > 0 && events[len(events)-1].Type == EventCycleComplete:
		m.counts.Completed++
	}
	return events
}

// AssignLot attaches the lot looked up for a cycle. It is ignored unless
// cycleID is the cycle currently in progress.
func (m *Machine) AssignLot(cycleID int64, lot string) bool {
	if m.state.Phase == PhaseEmpty || m.state.CycleID != cycleID {
		return false
	}
	m.state.Lot = lot
	return true
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	return m.state
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	return m.state.Phase
}

// Counts returns a copy of the transition counters.
func (m *Machine) Counts() Counts {
	return m.counts
}

// Dwell returns the configured dwell threshold.
func (m *Machine) Dwell() time.Duration {
	return m.dwell
}
