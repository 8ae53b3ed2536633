// Package ringbuffer implements the detector frame DMA ring buffer: a
// fixed-slot single-producer/single-consumer queue with zero heap
// traffic in steady state once the slot array is allocated.
//
// The teacher's internal/ringbuf package drained an eBPF kernel ring
// buffer and fell back to a "Mock Mode" consumer loop when no BPF
// object was attached; the same mock-when-hardware-absent idiom is
// kept here for SimulatorTransport (see the hal/generator package), while
// the buffer itself is restructured from a kernel map reader into the
// fixed-slot array spec §4.6 calls for.
package ringbuffer

import (
	"sync"

	"github.com/holee9/hnvue/internal/herrors"
)

// OverwritePolicy selects ring-full behavior.
type OverwritePolicy int

const (
	// DropOldest never blocks the producer; when full, the oldest
	// unread slot is reclaimed and its sequence reported as dropped.
	DropOldest OverwritePolicy = iota
	// BlockProducer blocks the producer until the consumer frees a slot.
	BlockProducer
)

// FrameHandler is invoked from the producer thread after a successful
// write, with a non-owning view of the frame. It must not retain view
// past return; if it needs the data it must copy it.
type FrameHandler func(view []byte, seq uint64)

type slot struct {
	data  []byte
	size  int
	seq   uint64
	valid bool
}

// RingBuffer is the fixed-depth SPSC frame queue.
type RingBuffer struct {
	depth     int
	frameSize int
	policy    OverwritePolicy

	slots []slot

	mu        sync.Mutex
	cond      *sync.Cond
	head      int // next read index
	tail      int // next write index
	count     int
	nextSeq   uint64
	droppedN  uint64
	closed    bool

	handlerMu sync.Mutex
	handler   FrameHandler
}

// New allocates depth slots of frameSize bytes each, once, up front.
func New(depth, frameSize int, policy OverwritePolicy) (*RingBuffer, error) {
	if depth <= 0 || frameSize <= 0 {
		return nil, herrors.New("ringbuffer.New", herrors.KindParam, nil)
	}
	rb := &RingBuffer{
		depth:     depth,
		frameSize: frameSize,
		policy:    policy,
		slots:     make([]slot, depth),
	}
	for i := range rb.slots {
		rb.slots[i].data = make([]byte, frameSize)
	}
	rb.cond = sync.NewCond(&rb.mu)
	return rb, nil
}

// RegisterFrameHandler installs the handler invoked after each
// successful Write. Only one handler may be registered; the component
// owns it (it is dropped, not retained, on Close).
func (rb *RingBuffer) RegisterFrameHandler(h FrameHandler) {
	rb.handlerMu.Lock()
	defer rb.handlerMu.Unlock()
	rb.handler = h
}

// Write copies data into the next slot and assigns it a monotonically
// increasing sequence number. Under DropOldest the producer never
// blocks; under BlockProducer it blocks until a slot frees.
func (rb *RingBuffer) Write(data []byte) (seq uint64, ok bool, err error) {
	if len(data) > rb.frameSize {
		return 0, false, herrors.New("ringbuffer.Write", herrors.KindParam, nil)
	}

	rb.mu.Lock()
	if rb.closed {
		rb.mu.Unlock()
		return 0, false, herrors.New("ringbuffer.Write", herrors.KindState, nil)
	}

	if rb.count == rb.depth {
		switch rb.policy {
		case DropOldest:
			rb.droppedN++
			rb.head = (rb.head + 1) % rb.depth
			rb.count--
		case BlockProducer:
			for rb.count == rb.depth && !rb.closed {
				rb.cond.Wait()
			}
			if rb.closed {
				rb.mu.Unlock()
				return 0, false, herrors.New("ringbuffer.Write", herrors.KindState, nil)
			}
		}
	}

	s := &rb.slots[rb.tail]
	n := copy(s.data, data)
	s.size = n
	s.seq = rb.nextSeq
	s.valid = true
	seq = rb.nextSeq
	rb.nextSeq++
	rb.tail = (rb.tail + 1) % rb.depth
	rb.count++
	rb.mu.Unlock()

	rb.cond.Broadcast()

	rb.handlerMu.Lock()
	h := rb.handler
	rb.handlerMu.Unlock()
	if h != nil {
		h(s.data[:n], seq)
	}

	return seq, true, nil
}

// Read is non-blocking: it returns ok=false immediately if the buffer
// is empty.
func (rb *RingBuffer) Read(dst []byte) (n int, seq uint64, ok bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		return 0, 0, false
	}

	s := &rb.slots[rb.head]
	n = copy(dst, s.data[:s.size])
	seq = s.seq
	s.valid = false
	rb.head = (rb.head + 1) % rb.depth
	rb.count--
	rb.cond.Broadcast()
	return n, seq, true
}

// IsEmpty reports whether the buffer currently holds zero frames.
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count == 0
}

// IsFull reports whether the buffer is at capacity.
func (rb *RingBuffer) IsFull() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count == rb.depth
}

// FrameBytes returns the fixed per-slot capacity frames are copied
// into, so a consumer can size its read buffer once at startup.
func (rb *RingBuffer) FrameBytes() int {
	return rb.frameSize
}

// AvailableCount returns the number of unread frames.
func (rb *RingBuffer) AvailableCount() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// DroppedCount returns the cumulative number of frames discarded under
// the DropOldest policy.
func (rb *RingBuffer) DroppedCount() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.droppedN
}

// Close releases any blocked producer/consumer and marks the buffer
// unusable for further writes.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	rb.closed = true
	rb.mu.Unlock()
	rb.cond.Broadcast()

	rb.handlerMu.Lock()
	rb.handler = nil
	rb.handlerMu.Unlock()
}
