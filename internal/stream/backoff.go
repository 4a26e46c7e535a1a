package stream

import (
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultJitter       = time.Second
	DefaultMaxRetries   = 5
)

// Backoff computes reconnect delays as min(Initial*2^n + jitter, Max) where
// jitter is uniform in [0, Jitter).
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

// NewBackoff creates a backoff policy. Non-positive initial or max values
// fall back to the defaults and a negative jitter disables jitter.
func NewBackoff(initial, max, jitter time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if max < initial {
		max = initial
	}
	if jitter < 0 {
		jitter = 0
	}
	return &Backoff{
		Initial: initial,
		Max:     max,
		Jitter:  jitter,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the wait before the reconnection attempt that follows
// retry number n (n starts at 0).
func (b *Backoff) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	delay := b.Initial
	for i := 0; i < n && delay < b.Max; i++ {
		delay *= 2
	}
	if delay > b.Max {
		delay = b.Max
	}
	delay += b.jitter()
	if delay > b.Max {
		delay = b.Max
	}
	return delay
}

func (b *Backoff) jitter() time.Duration {
	if b.Jitter <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Duration(b.rand.Int63n(int64(b.Jitter)))
}
