package auditlog

import "sync"

// RingBuffer is a bounded, thread-safe FIFO of entries waiting to be
// mirrored. When full, the oldest entries are dropped to make room.
type RingBuffer struct {
	mu       sync.Mutex
	entries  []Entry
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	dropped int64
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RingBuffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Enqueue adds an entry, dropping the oldest if necessary. It reports whether
// something was dropped.
func (b *RingBuffer) Enqueue(entry Entry) (dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
		dropped = true
	}

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	b.count++
	return dropped
}

// Requeue puts entries back at the front, preserving their order. Entries
// that no longer fit are dropped; they are the oldest anyway.
func (b *RingBuffer) Requeue(entries []Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		if b.count >= b.capacity {
			b.dropped += int64(i + 1)
			return
		}
		b.tail = (b.tail - 1 + b.capacity) % b.capacity
		b.entries[b.tail] = entries[i]
		b.count++
	}
}

// DequeueBatch removes up to n entries from the buffer.
func (b *RingBuffer) DequeueBatch(n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}

	result := make([]Entry, n)
	for i := range n {
		result[i] = b.entries[b.tail]
		b.entries[b.tail] = Entry{}
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return result
}

// Len returns the current number of entries in the buffer.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns the total number of dropped entries.
func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
