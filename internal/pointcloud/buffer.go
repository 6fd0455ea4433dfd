package pointcloud

import (
	"sync"
	"sync/atomic"
)

// Buffer double-buffers frames between a single publishing goroutine and
// readers on the render thread. Frames live in an arena of slots; a slot is
// recycled once its frame is neither current nor pending and no Handle
// references it.
//
// The buffer owns every published frame. Readers only ever see frames
// through handles.
type Buffer struct {
	mu      sync.Mutex
	slots   []slot
	current int // -1 when none
	pending int // -1 when none

	generation uint64
	stats      BufferStats
}

type slot struct {
	frame *Frame
	refs  int
}

// BufferStats counts buffer activity for diagnostics.
type BufferStats struct {
	Published  uint64 // frames accepted by Publish
	Superseded uint64 // pending frames replaced before any reader saw them
	Acquired   uint64 // handles handed out
	Slots      int    // arena size
	InUse      int    // slots holding a referenced frame
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{current: -1, pending: -1}
}

// Publish stores a copy of f as the pending frame. The copy is made before
// the lock is taken so the critical section is a slot assignment.
func (b *Buffer) Publish(f Frame) error {
	if err := f.validate(); err != nil {
		return err
	}
	owned := f.clone()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.generation++
	owned.Generation = b.generation

	i := b.freeSlotLocked()
	b.slots[i].frame = owned
	if b.pending >= 0 {
		b.stats.Superseded++
	}
	b.pending = i
	b.stats.Published++
	return nil
}

// freeSlotLocked returns a reusable slot index, growing the arena when
// every slot is pinned.
func (b *Buffer) freeSlotLocked() int {
	for i := range b.slots {
		if i == b.current || i == b.pending || b.slots[i].refs > 0 {
			continue
		}
		return i
	}
	b.slots = append(b.slots, slot{})
	return len(b.slots) - 1
}

// AcquireCurrent promotes the most recently published frame to current and
// returns a handle to it. When nothing newer was published since the last
// call, the existing current frame is returned again. The caller must
// Release the handle.
func (b *Buffer) AcquireCurrent() (*Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending >= 0 {
		b.current = b.pending
		b.pending = -1
	}
	if b.current < 0 {
		return nil, ErrEmptyState
	}
	s := &b.slots[b.current]
	s.refs++
	b.stats.Acquired++
	return &Handle{buf: b, slot: b.current, frame: s.frame}, nil
}

// HasFrame reports whether AcquireCurrent would succeed.
func (b *Buffer) HasFrame() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current >= 0 || b.pending >= 0
}

// Reset forgets the current and pending frames. Outstanding handles remain
// readable until released.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current, b.pending = -1, -1
	for i := range b.slots {
		if b.slots[i].refs == 0 {
			b.slots[i].frame = nil
		}
	}
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stats
	st.Slots = len(b.slots)
	for _, s := range b.slots {
		if s.refs > 0 {
			st.InUse++
		}
	}
	return st
}

func (b *Buffer) release(i int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.slots[i].refs > 0 {
		b.slots[i].refs--
	}
	if b.slots[i].refs == 0 && i != b.current && i != b.pending {
		b.slots[i].frame = nil
	}
}

// Handle is read-only access to an acquired frame.
type Handle struct {
	buf      *Buffer
	slot     int
	frame    *Frame
	released atomic.Bool
}

// Frame returns the acquired frame. It must not be modified.
func (h *Handle) Frame() *Frame {
	return h.frame
}

// Generation returns the publish generation of the acquired frame.
func (h *Handle) Generation() uint64 {
	return h.frame.Generation
}

// Release returns the handle to the buffer. Calling it more than once is a
// no-op.
func (h *Handle) Release() {
	if h == nil || h.released.Swap(true) {
		return
	}
	h.buf.release(h.slot)
}
