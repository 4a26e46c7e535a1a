package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iamthamanic/multiagentultra/internal/common/logger"
	"github.com/stretchr/testify/require"
)

var errFakeClosed = errors.New("fake connection closed")

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stderr",
	})
	require.NoError(t, err)
	return log
}

// fakeConn is an in-memory Conn driven by the test.
type fakeConn struct {
	target  string
	inbound chan []byte
	drop    chan error
	closed  chan struct{}
	once    sync.Once
	// linger keeps frames readable after Close, like a transport that still
	// has buffered data when it is torn down.
	linger  bool

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn(target string) *fakeConn {
	return &fakeConn{
		target:  target,
		inbound: make(chan []byte, 16),
		drop:    make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	if c.linger {
		select {
		case data := <-c.inbound:
			return data, nil
		case err := <-c.drop:
			return nil, err
		}
	}
	select {
	case <-c.closed:
		return nil, errFakeClosed
	default:
	}
	select {
	case data := <-c.inbound:
		return data, nil
	case err := <-c.drop:
		return nil, err
	case <-c.closed:
		return nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(payload string) {
	c.inbound <- []byte(payload)
}

func (c *fakeConn) writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

// fakeDialer hands out fakeConns. Results queued with failNext are consumed
// first; after that every dial succeeds unless alwaysFail is set.
type fakeDialer struct {
	mu         sync.Mutex
	failures   []error
	alwaysFail error
	gate       chan struct{}
	// lingerOn is a target whose connections use fakeConn.linger.
	lingerOn   string
	targets    []string
	conns      []*fakeConn
}

func (d *fakeDialer) failNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, errs...)
}

func (d *fakeDialer) Dial(ctx context.Context, target string) (Conn, error) {
	d.mu.Lock()
	d.targets = append(d.targets, target)
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		return nil, err
	}
	if d.alwaysFail != nil {
		return nil, d.alwaysFail
	}
	conn := newFakeConn(target)
	conn.linger = target == d.lingerOn
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// fakeScheduler is a virtual clock: timers only fire when the test says so.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, delay: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeScheduler) all() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeTimer(nil), s.timers...)
}

// fireNext runs the oldest pending timer and returns its delay.
func (s *fakeScheduler) fireNext(t *testing.T) time.Duration {
	t.Helper()
	s.mu.Lock()
	var next *fakeTimer
	for _, timer := range s.timers {
		if !timer.stopped && !timer.fired {
			next = timer
			break
		}
	}
	require.NotNil(t, next, "no pending timer")
	next.fired = true
	s.mu.Unlock()

	next.f()
	return next.delay
}

// recorder is an Observer that remembers everything it receives.
type recorder struct {
	mu       sync.Mutex
	statuses []Status
	messages []Message
}

func (r *recorder) OnStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) OnMessage(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.statuses))
	for i, s := range r.statuses {
		out[i] = s.State
	}
	return out
}

func (r *recorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.messages))
	for i, msg := range r.messages {
		out[i] = msg.Kind
	}
	return out
}

func (r *recorder) lastStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return Status{}
	}
	return r.statuses[len(r.statuses)-1]
}
