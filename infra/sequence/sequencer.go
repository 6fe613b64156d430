package sequence

import "sync/atomic"

// Sequencer hands out the order indexes of one journal.
// Indexes are strictly increasing within one open journal. The counter is
// not persisted: a reopen continues from the top entry, so orders of entries
// popped before the reopen are handed out again.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer whose first index is start.
// On an empty journal start = 0; on reopen start = last order + 1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Peek returns the index the next call to Next will hand out.
func (s *Sequencer) Peek() uint64 {
	return s.next.Load()
}

// Next returns the next index and advances the sequencer.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1) - 1
}

// Reset moves the sequencer so that the next index is v.
// Only used when a journal is cleared or rebuilt.
func (s *Sequencer) Reset(v uint64) {
	s.next.Store(v)
}
