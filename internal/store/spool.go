package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultSpoolCapacity is the number of failed events kept for resend.
const DefaultSpoolCapacity = 256

// Spool wraps an EventSink and keeps events that failed to write. Pending
// events are retried in order ahead of the next event, so a sink outage
// delays rows instead of losing them. When full the oldest pending event is
// dropped.
type Spool struct {
	sink     EventSink
	capacity int
	log      *slog.Logger

	mu       sync.Mutex
	pending  []EventRecord
	dropped  int
	overflow bool
}

// NewSpool wraps sink. capacity <= 0 uses DefaultSpoolCapacity.
func NewSpool(sink EventSink, capacity int, logger *slog.Logger) *Spool {
	if capacity <= 0 {
		capacity = DefaultSpoolCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Spool{sink: sink, capacity: capacity, log: logger}
}

// LogEvent flushes pending events, then writes rec. On failure rec joins the
// pending queue and the sink error is returned.
func (s *Spool) LogEvent(ctx context.Context, rec EventRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushLocked(ctx); err != nil {
		s.pushLocked(rec)
		return 0, fmt.Errorf("resend pending: %w", err)
	}
	id, err := s.sink.LogEvent(ctx, rec)
	if err != nil {
		s.pushLocked(rec)
		return 0, err
	}
	return id, nil
}

// Flush retries pending events without adding a new one.
func (s *Spool) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *Spool) flushLocked(ctx context.Context) error {
	n := len(s.pending)
	for len(s.pending) > 0 {
		if _, err := s.sink.LogEvent(ctx, s.pending[0]); err != nil {
			return err
		}
		s.pending = s.pending[1:]
	}
	if n > 0 {
		s.log.Info("spool: resent events", "count", n)
		s.overflow = false
	}
	return nil
}

func (s *Spool) pushLocked(rec EventRecord) {
	if len(s.pending) == s.capacity {
		if !s.overflow {
			s.log.Warn("spool: full, dropping oldest", "capacity", s.capacity)
			s.overflow = true
		}
		s.pending = s.pending[1:]
		s.dropped++
	}
	s.pending = append(s.pending, rec)
}

// Pending returns the number of events waiting for resend.
func (s *Spool) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Dropped returns the number of events discarded on overflow.
func (s *Spool) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
