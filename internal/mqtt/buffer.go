package mqtt

import (
	"log/slog"
	"slices"
)

// bufferedMsg is a serialized message waiting for the broker.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
	// cycle marks lifecycle events, which are counted downstream and are
	// the last to be dropped.
	cycle bool
}

// outbox holds messages while the broker is unreachable. A retained message
// replaces any older retained message on the same topic. When full, the
// oldest system message is dropped first; cycle events go only when nothing
// else is left. Not safe for concurrent use; the caller must synchronize.
type outbox struct {
	log      *slog.Logger
	capacity int
	msgs     []bufferedMsg
	dropped  int
	overflow bool
}

func newOutbox(capacity int, logger *slog.Logger) *outbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &outbox{log: logger, capacity: capacity}
}

func (o *outbox) push(msg bufferedMsg) {
	if msg.retained {
		o.msgs = slices.DeleteFunc(o.msgs, func(m bufferedMsg) bool {
			return m.retained && m.topic == msg.topic
		})
	}
	if len(o.msgs) >= o.capacity {
		victim := slices.IndexFunc(o.msgs, func(m bufferedMsg) bool { return !m.cycle })
		if victim < 0 {
			victim = 0
		}
		if !o.overflow {
			o.log.Warn("mqtt outbox full, dropping messages", "capacity", o.capacity)
			o.overflow = true
		}
		o.msgs = slices.Delete(o.msgs, victim, victim+1)
		o.dropped++
	}
	o.msgs = append(o.msgs, msg)
}

// drain returns the queued messages oldest first and empties the outbox.
func (o *outbox) drain() []bufferedMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	out := o.msgs
	o.msgs = nil
	o.overflow = false
	return out
}

func (o *outbox) len() int {
	return len(o.msgs)
}
