package signal

// ring is a bounded, time-ordered event buffer. Appending past capacity
// drops the oldest entry; pruning drops entries older than the window.
type ring struct {
	events []Event
	cap    int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{cap: capacity}
}

func (r *ring) append(ev Event) {
	if len(r.events) == r.cap {
		copy(r.events, r.events[1:])
		r.events = r.events[:len(r.events)-1]
	}
	r.events = append(r.events, ev)
}

// prune drops events with ts < cutoff. Events are time-ordered, so this is a
// single scan from the front.
func (r *ring) prune(cutoffMS int64) {
	i := 0
	for i < len(r.events) && r.events[i].TSMs < cutoffMS {
		i++
	}
	if i > 0 {
		r.events = append(r.events[:0], r.events[i:]...)
	}
}

func (r *ring) len() int { return len(r.events) }

// all returns the live slice; callers must not retain it across appends.
func (r *ring) all() []Event { return r.events }

// last returns up to n most recent events, newest last.
func (r *ring) last(n int) []Event {
	if n >= len(r.events) {
		return r.events
	}
	return r.events[len(r.events)-n:]
}
