package executor

// DefaultRingSize is the number of probe slots per backend.
const DefaultRingSize = 5

// Slot remembers the worker last started in it.
type Slot struct {
	done <-chan struct{}
}

// Busy reports whether the worker last held by the slot is still running.
func (s *Slot) Busy() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Hold records a newly started worker in the slot.
func (s *Slot) Hold(done <-chan struct{}) {
	s.done = done
}

// Ring is a fixed-size ring of slots that caps how many probes of one backend can be
// in flight. A Ring belongs to a single goroutine.
type Ring struct {
	slots []Slot
	next  int
}

// NewRing creates a ring with size slots. A size below one gets DefaultRingSize.
func NewRing(size int) *Ring {
	if size < 1 {
		size = DefaultRingSize
	}
	return &Ring{slots: make([]Slot, size)}
}

// Next advances the ring and returns the slot to use for the next probe.
func (r *Ring) Next() *Slot {
	s := &r.slots[r.next]
	r.next = (r.next + 1) % len(r.slots)
	return s
}

// InFlight counts the slots whose worker is still running.
func (r *Ring) InFlight() int {
	n := 0
	for i := range r.slots {
		if r.slots[i].Busy() {
			n++
		}
	}
	return n
}

// Size returns the number of slots.
func (r *Ring) Size() int {
	return len(r.slots)
}
