package stream

import "sync"

// DefaultBufferSize is the capacity used when none is configured.
const DefaultBufferSize = 100

// Buffer keeps the most recent messages in arrival order. When an append
// would exceed its capacity the oldest messages are evicted first.
// Buffer is safe for concurrent use.
type Buffer struct {
	mu    sync.RWMutex
	items []Message
	head  int
	size  int
}

// NewBuffer creates a buffer holding at most capacity messages. A
// non-positive capacity selects DefaultBufferSize.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Buffer{items: make([]Message, capacity)}
}

// Append adds messages to the tail, evicting from the head until the buffer
// is back within capacity.
func (b *Buffer) Append(msgs ...Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.items)
	if len(msgs) > capacity {
		msgs = msgs[len(msgs)-capacity:]
	}
	for _, msg := range msgs {
		if b.size < capacity {
			b.items[(b.head+b.size)%capacity] = msg
			b.size++
			continue
		}
		b.items[b.head] = msg
		b.head = (b.head + 1) % capacity
	}
}

// Clear removes every message.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.items {
		b.items[i] = Message{}
	}
	b.head = 0
	b.size = 0
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.items)
}

// Snapshot returns a copy of the buffered messages, oldest first.
func (b *Buffer) Snapshot() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Message, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Last returns the most recent message, if any.
func (b *Buffer) Last() (Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return Message{}, false
	}
	return b.items[(b.head+b.size-1)%len(b.items)], true
}
