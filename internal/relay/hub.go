package relay

import "sync"

// MinFrameCapacity is the minimum accumulator/hub buffer capacity
// (10 MiB), matching the original's JPEG_BUF_LEN.
const MinFrameCapacity = 10 * 1024 * 1024

// FrameHub is the synchronization object between the producer and
// every connected worker: a single shared "latest frame" slot plus the
// per-session ready flags, guarded by one mutex/condition pair. It
// plays the role of jpeg_buf/jpeg_size/jpeg_mutex/jpeg_cond in the
// original, generalized from a fixed global to an explicit value.
//
// Publication contract: the producer, holding the lock, overwrites buf
// and length, flips every registered session's ready flag to true, and
// broadcasts. Consumption contract: a worker, holding the lock, waits
// until its own ready flag is true, copies buf[:length] into its
// private scratch buffer, clears its own flag, and releases the lock
// before doing any network I/O. Neither side ever blocks on socket I/O
// while holding this lock.
type FrameHub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []byte
	length   int
	registry *ClientRegistry
	running  *Running
}

// NewFrameHub builds a hub with the given capacity (at least
// MinFrameCapacity), publishing to the sessions tracked by registry.
func NewFrameHub(capacity int, registry *ClientRegistry, running *Running) *FrameHub {
	if capacity < MinFrameCapacity {
		capacity = MinFrameCapacity
	}
	h := &FrameHub{
		buf:      make([]byte, capacity),
		registry: registry,
		running:  running,
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish copies frame into the hub under lock, flips every live
// session's ready flag to true (the single-transition model: there is
// no separate "clear all flags" phase when a new frame starts
// assembling, see REDESIGN FLAGS in SPEC_FULL.md), and wakes every
// waiter. frame must not exceed the hub's capacity.
func (h *FrameHub) Publish(frame []byte) {
	h.mu.Lock()
	copy(h.buf, frame)
	h.length = len(frame)
	for _, s := range h.registry.Snapshot() {
		s.setReady(true)
	}
	h.cond.Broadcast()
	h.mu.Unlock()
}

// WakeAll broadcasts without publishing a new frame, used during
// shutdown to unblock every worker stuck waiting in Next so it can
// observe that running has been cleared.
func (h *FrameHub) WakeAll() {
	h.mu.Lock()
	for _, s := range h.registry.Snapshot() {
		s.setReady(true)
	}
	h.cond.Broadcast()
	h.mu.Unlock()
}

// Next blocks session until either a frame has been published since
// its ready flag was last cleared, or shutdown is observed. On a
// normal wakeup it copies the current frame into session's scratch
// buffer (growing it as needed), clears the session's ready flag, and
// returns the frame length and true; this also happens after shutdown
// when the flag is set (WakeAll sets it). If shutdown is observed while
// the flag is clear, it returns (0, false) without touching the
// scratch buffer.
func (h *FrameHub) Next(session *ClientSession) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for !session.ready && h.running.Get() {
		h.cond.Wait()
	}
	if !session.ready {
		// Woke up (or never blocked) because shutdown was requested
		// while no publication was pending for this session.
		return 0, false
	}
	if cap(session.scratch) < h.length {
		session.scratch = make([]byte, h.length)
	}
	session.scratch = session.scratch[:h.length]
	copy(session.scratch, h.buf[:h.length])
	session.setReady(false)
	return h.length, true
}
