package domain

import "github.com/gammazero/deque"

// UpdateBuffer holds deltas that cannot be applied yet, in arrival order.
// It is bounded: pushing past capacity evicts the oldest entry and reports
// ErrBufferOverflow, which the caller must treat as "resync required" --
// once an entry is lost the chain through the buffer cannot be trusted.
type UpdateBuffer struct {
	capacity int
	q        deque.Deque[*OrderBookDelta]
}

const DefaultUpdateBufferCapacity = 1000

func NewUpdateBuffer(capacity int) *UpdateBuffer {
	if capacity <= 0 {
		capacity = DefaultUpdateBufferCapacity
	}
	return &UpdateBuffer{capacity: capacity}
}

func (b *UpdateBuffer) Push(delta *OrderBookDelta) error {
	if b.q.Len() >= b.capacity {
		b.q.PopFront()
		b.q.PushBack(delta)
		return ErrBufferOverflow
	}
	b.q.PushBack(delta)
	return nil
}

// DrainApplicable removes and returns the longest contiguous run of buffered
// deltas continuing from afterSeq. Entries whose range ends at or before
// afterSeq are stale and dropped along the way. The run stops at the first
// delta that leaves a hole; anything after it stays buffered. Contiguity here
// is the range-window rule (start <= cursor+1 <= end); family-specific rules
// are re-checked by the strategy when the run is applied.
func (b *UpdateBuffer) DrainApplicable(afterSeq uint64) []*OrderBookDelta {
	var run []*OrderBookDelta
	cursor := afterSeq

	for b.q.Len() > 0 {
		head := b.q.Front()
		if head.RangeEnd <= cursor {
			b.q.PopFront()
			continue
		}
		if head.RangeStart > cursor+1 {
			break
		}
		b.q.PopFront()
		run = append(run, head)
		cursor = head.RangeEnd
	}

	return run
}

// PeekFront returns the oldest buffered delta without removing it, or nil.
func (b *UpdateBuffer) PeekFront() *OrderBookDelta {
	if b.q.Len() == 0 {
		return nil
	}
	return b.q.Front()
}

func (b *UpdateBuffer) Clear() {
	b.q.Clear()
}

func (b *UpdateBuffer) Len() int {
	return b.q.Len()
}

func (b *UpdateBuffer) Cap() int {
	return b.capacity
}
