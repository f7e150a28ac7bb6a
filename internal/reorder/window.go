// Package reorder implements the bounded sliding-window reorder buffer used
// to deliver per-speaker RTP payloads in strictly increasing sequence order
// despite out-of-order arrival, bounded loss, and modular sequence wrap.
package reorder

// OnReady is invoked once per logical sequence number, in increasing order,
// whenever the Window drains a contiguous run starting at its current base.
// It must not block: the Window calls it synchronously and inline from Add
// and Flush.
type OnReady func(payload any)

// Window is a fixed-capacity ring buffer keyed by a modular sequence number.
// It accepts (seq, payload) pairs via Add and emits payloads through OnReady
// in strictly increasing logical-sequence order. It is not safe for
// concurrent use; callers (typically one Voice Channel) must serialize
// access.
type Window struct {
	capacity int
	modulus  int64

	slots      []any
	startIndex int

	// baseSeq is the logical sequence slots[startIndex] would hold. A new
	// Window starts at 0; -1 means uninitialized, the state Flush leaves
	// behind, and the next Add anchors on whatever sequence it carries.
	baseSeq int64

	onReady OnReady
}

// New builds a Window with the given capacity (>=1) and modulus (>capacity,
// so a legitimate out-of-order arrival is never mistaken for a wrap-around
// jump beyond the window). onReady is called for every payload the window
// drains.
func New(capacity int, modulus int64, onReady OnReady) *Window {
	if capacity < 1 {
		panic("reorder: capacity must be >= 1")
	}
	if modulus <= int64(capacity) {
		panic("reorder: modulus must be > capacity")
	}
	return &Window{
		capacity: capacity,
		modulus:  modulus,
		slots:    make([]any, capacity),
		baseSeq:  0,
		onReady:  onReady,
	}
}

// Add submits a payload for the given raw sequence number. seq is reduced
// modulo the window's modulus before any comparison runs, so callers may
// pass a monotonically increasing wire counter without pre-wrapping it
// themselves.
//
// Add never fails. A packet within [base, base+capacity) is buffered (and,
// if it completes the contiguous prefix at start, drained). A packet
// outside that range triggers a flush-and-reseat: everything currently
// buffered is emitted in order, the window is cleared, and it re-anchors on
// the new packet.
func (w *Window) Add(seq int64, payload any) {
	s := seq % w.modulus
	if s < 0 {
		s += w.modulus
	}

	if w.baseSeq < 0 {
		w.baseSeq = s
		w.startIndex = 0
	}

	d := (s - w.baseSeq) % w.modulus
	if d < 0 {
		d += w.modulus
	}

	if d >= int64(w.capacity) {
		// Packet lies beyond window reach — too new to wait for the gap, or a
		// wraparound far enough out that it reads the same way. Drain what we
		// have and re-anchor on this packet rather than stall indefinitely.
		w.drainAll()
		w.baseSeq = s
		w.startIndex = 0
		d = 0
	}

	idx := (w.startIndex + int(d)) % w.capacity
	w.slots[idx] = payload

	w.drainPrefix()
}

// drainPrefix emits the contiguous run of occupied slots starting at
// startIndex, advancing base/startIndex past each one emitted.
func (w *Window) drainPrefix() {
	for w.slots[w.startIndex] != nil {
		w.emit(w.startIndex)
		w.startIndex = (w.startIndex + 1) % w.capacity
		w.baseSeq = (w.baseSeq + 1) % w.modulus
	}
}

// drainAll emits every currently occupied slot in logical order starting at
// startIndex, without touching base/startIndex bookkeeping (the caller is
// about to reseat both).
func (w *Window) drainAll() {
	for i := 0; i < w.capacity; i++ {
		idx := (w.startIndex + i) % w.capacity
		if w.slots[idx] != nil {
			w.emit(idx)
		}
	}
}

func (w *Window) emit(idx int) {
	payload := w.slots[idx]
	w.slots[idx] = nil
	w.onReady(payload)
}

// Flush emits every occupied slot in order and resets the window to its
// uninitialized state: the next Add anchors a fresh base regardless of what
// sequence it carries.
func (w *Window) Flush() {
	w.drainAll()
	w.baseSeq = -1
	w.startIndex = 0
}

// Buffered reports how many slots are currently occupied. Exposed for tests
// and introspection (P2/P4 in spec.md §8); not required for normal
// operation.
func (w *Window) Buffered() int {
	n := 0
	for _, v := range w.slots {
		if v != nil {
			n++
		}
	}
	return n
}
