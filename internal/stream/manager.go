// Package stream maintains a live event stream connection that reconnects
// with exponential backoff, buffers the most recent messages and notifies
// observers of every state change and message in order.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iamthamanic/multiagentultra/internal/common/config"
	"github.com/iamthamanic/multiagentultra/internal/common/logger"
	"github.com/iamthamanic/multiagentultra/internal/common/metrics"
	"github.com/iamthamanic/multiagentultra/internal/common/tracing"
	"go.uber.org/zap"
)

var (
	// ErrManagerClosed is returned by operations on a closed Manager.
	ErrManagerClosed = errors.New("stream manager is closed")
	// ErrNoTarget is returned by Reconnect when no target was ever supplied
	// or the manager was disconnected.
	ErrNoTarget = errors.New("no stream target to reconnect to")
)

// Config holds the reconnection and buffering policy of a Manager.
type Config struct {
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Jitter           time.Duration
	MaxRetries       int
	BufferSize       int
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the stock reconnection policy.
func DefaultConfig() Config {
	return Config{
		InitialDelay:     DefaultInitialDelay,
		MaxDelay:         DefaultMaxDelay,
		Jitter:           DefaultJitter,
		MaxRetries:       DefaultMaxRetries,
		BufferSize:       DefaultBufferSize,
		HandshakeTimeout: 10 * time.Second,
	}
}

// FromConfig converts the loaded stream section into a manager Config.
func FromConfig(cfg config.StreamConfig) Config {
	return Config{
		InitialDelay:     cfg.InitialDelayDuration(),
		MaxDelay:         cfg.MaxDelayDuration(),
		Jitter:           cfg.JitterDuration(),
		MaxRetries:       cfg.MaxRetries,
		BufferSize:       cfg.BufferSize,
		HandshakeTimeout: cfg.HandshakeTimeoutDuration(),
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithScheduler replaces the wall clock scheduler used for reconnect delays.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		m.scheduler = s
	}
}

// WithMetrics records state, message and reconnect metrics on mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithBuffer uses b instead of a buffer sized from Config.BufferSize.
func WithBuffer(b *Buffer) Option {
	return func(m *Manager) {
		m.buffer = b
	}
}

type notification struct {
	status *Status
	msg    *Message
}

type observerEntry struct {
	id  int
	obs Observer
}

// Manager owns at most one stream connection at a time.
//
// All connection state is guarded by mu. Dial and read goroutines carry the
// generation they were started under and are ignored once the generation
// moves on, so a replaced connection can never change state or deliver
// messages.
type Manager struct {
	cfg       Config
	backoff   *Backoff
	dialer    Dialer
	scheduler Scheduler
	buffer    *Buffer
	metrics   *metrics.Metrics
	logger    *logger.Logger

	mu         sync.Mutex
	status     Status
	gen        uint64
	conn       Conn
	timer      Timer
	cancelDial context.CancelFunc
	closed     bool

	qmu       sync.Mutex
	qcond     *sync.Cond
	queue     []notification
	observers []observerEntry
	nextID    int
	stopping  bool
	done      chan struct{}
}

// NewManager creates an idle manager and starts its notification dispatcher.
// Call Close to release it.
func NewManager(cfg Config, log *logger.Logger, opts ...Option) *Manager {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	backoff := NewBackoff(cfg.InitialDelay, cfg.MaxDelay, cfg.Jitter)
	cfg.InitialDelay, cfg.MaxDelay, cfg.Jitter = backoff.Initial, backoff.Max, backoff.Jitter

	m := &Manager{
		cfg:     cfg,
		backoff: backoff,
		logger:  log.WithFields(zap.String("component", "stream-manager")),
		status:  Status{State: Idle, MaxRetries: cfg.MaxRetries},
		done:    make(chan struct{}),
	}
	m.qcond = sync.NewCond(&m.qmu)
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = NewWebSocketDialer(cfg.HandshakeTimeout, nil)
	}
	if m.scheduler == nil {
		m.scheduler = SystemScheduler{}
	}
	if m.buffer == nil {
		m.buffer = NewBuffer(cfg.BufferSize)
	}
	m.cfg.BufferSize = m.buffer.Cap()
	m.metrics.SetStreamState(Idle.String(), stateNames())

	go m.dispatch()
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Status returns a copy of the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Buffer returns the message buffer the manager appends to.
func (m *Manager) Buffer() *Buffer {
	return m.buffer
}

// Messages returns the buffered messages, oldest first.
func (m *Manager) Messages() []Message {
	return m.buffer.Snapshot()
}

// LastMessage returns the most recently delivered message.
func (m *Manager) LastMessage() (Message, bool) {
	return m.buffer.Last()
}

// ClearMessages empties the message buffer.
func (m *Manager) ClearMessages() {
	m.buffer.Clear()
	m.metrics.SetBufferLength(0)
}

// Subscribe registers an observer and returns a function that removes it.
func (m *Manager) Subscribe(obs Observer) (unsubscribe func()) {
	m.qmu.Lock()
	m.nextID++
	id := m.nextID
	m.observers = append(m.observers, observerEntry{id: id, obs: obs})
	m.qmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.qmu.Lock()
			defer m.qmu.Unlock()
			for i, e := range m.observers {
				if e.id == id {
					m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Connect subscribes to target. It is a no-op when already open or
// connecting to the same target. Otherwise the current connection is torn
// down and released before the new one is dialed. An empty target is the
// same as Disconnect. Connect never blocks on the network.
func (m *Manager) Connect(target string) error {
	if target == "" {
		m.Disconnect()
		return nil
	}
	if err := ValidateTarget(target); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if m.status.Target == target && (m.status.State == Open || m.status.State == Connecting) {
		return nil
	}

	old := m.teardownLocked()
	m.applyLocked(Event{Type: EventConnect, Target: target})
	m.dialLocked(old)
	return nil
}

// Disconnect closes the connection and stops reconnecting. The pending
// reconnect timer is cancelled before the transport is released. Safe to
// call repeatedly and from any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	conn := m.teardownLocked()
	m.applyLocked(Event{Type: EventDisconnect})
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Reconnect resets the retry count and dials the current target again,
// whatever the current state.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if m.status.Target == "" {
		return ErrNoTarget
	}

	old := m.teardownLocked()
	m.applyLocked(Event{Type: EventReconnect})
	m.dialLocked(old)
	return nil
}

// Send writes payload to the connection. It returns false unless the
// connection is open and the write succeeded. Payloads are never queued.
func (m *Manager) Send(payload []byte) bool {
	m.mu.Lock()
	conn := m.conn
	open := m.status.State == Open
	m.mu.Unlock()

	if !open || conn == nil {
		return false
	}
	if err := conn.WriteMessage(payload); err != nil {
		m.logger.Warn("Failed to send stream payload", zap.Error(err))
		return false
	}
	return true
}

// SendJSON encodes v as JSON and sends it.
func (m *Manager) SendJSON(v interface{}) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("Failed to encode stream payload", zap.Error(err))
		return false
	}
	return m.Send(payload)
}

// Close disconnects, delivers pending notifications and stops the
// dispatcher. It must not be called from an Observer.
func (m *Manager) Close() {
	m.Disconnect()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.qmu.Lock()
	m.stopping = true
	m.qcond.Broadcast()
	m.qmu.Unlock()

	<-m.done
}

// teardownLocked invalidates the current connection, stops the reconnect
// timer and any dial in progress, and returns the transport still to be closed.
func (m *Manager) teardownLocked() Conn {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	conn := m.conn
	m.conn = nil
	m.applyLocked(Event{Type: EventClosing})
	return conn
}

// dialLocked starts a dial for the current target under the current
// generation. old, if set, is closed before dialing.
func (m *Manager) dialLocked(old Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	go m.dial(ctx, m.gen, m.status.Target, m.status.RetryCount, old)
}

func (m *Manager) dial(ctx context.Context, gen uint64, target string, retryCount int, old Conn) {
	if old != nil {
		_ = old.Close()
	}

	log := m.logger.WithTarget(target)
	log.Debug("Dialing stream", zap.Int("retry_count", retryCount))

	dialCtx, span := tracing.TraceDial(ctx, target, retryCount)
	conn, err := m.dialer.Dial(dialCtx, target)
	tracing.TraceDialResult(span, err)
	span.End()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if err != nil {
		m.failLocked(err)
		m.mu.Unlock()
		log.Warn("Stream connection failed", zap.Error(err))
		return
	}
	m.conn = conn
	m.applyLocked(Event{Type: EventOpened})
	m.mu.Unlock()

	log.Info("Stream connected")
	m.readLoop(gen, target, conn)
}

func (m *Manager) readLoop(gen uint64, target string, conn Conn) {
	log := m.logger.WithTarget(target)
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			if gen != m.gen {
				m.mu.Unlock()
				return
			}
			m.conn = nil
			m.failLocked(fmt.Errorf("connection lost: %w", err))
			m.mu.Unlock()

			_ = conn.Close()
			if IsNormalClosure(err) {
				log.Info("Stream closed by peer")
			} else {
				log.Warn("Stream connection lost", zap.Error(err))
			}
			return
		}

		msg, err := Decode(data)
		if err != nil {
			m.metrics.IncDecodeFailures()
			log.Warn("Dropping malformed stream message",
				zap.Error(err),
				zap.String("payload", truncatePayload(data)))
			continue
		}

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.buffer.Append(msg)
		m.metrics.ObserveMessage(string(msg.Kind), m.buffer.Len())
		m.enqueue(notification{msg: &msg})
		m.mu.Unlock()

		tracing.TraceStreamMessage(context.Background(), string(msg.Kind), target)
	}
}

// failLocked records a failed dial or dropped connection and schedules the
// next attempt when retries remain.
func (m *Manager) failLocked(err error) {
	next := Transition(m.status, Event{Type: EventFailed, Err: err}, m.cfg.MaxRetries)
	if next.State == ClosedRetrying {
		delay := m.backoff.Delay(next.RetryCount)
		next.NextRetry = delay
		gen := m.gen
		m.timer = m.scheduler.AfterFunc(delay, func() {
			m.retry(gen)
		})
	}
	m.setStatusLocked(next)
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.status.State != ClosedRetrying {
		return
	}
	m.timer = nil
	m.gen++
	m.applyLocked(Event{Type: EventRetryElapsed})
	m.metrics.IncReconnects()
	m.dialLocked(nil)
}

func (m *Manager) applyLocked(e Event) {
	m.setStatusLocked(Transition(m.status, e, m.cfg.MaxRetries))
}

func (m *Manager) setStatusLocked(next Status) {
	if next == m.status {
		return
	}
	prev := m.status
	m.status = next

	m.metrics.SetStreamState(next.State.String(), stateNames())
	if prev.State != next.State {
		fields := []zap.Field{
			zap.String("from", prev.State.String()),
			zap.String("to", next.State.String()),
			zap.Int("retry_count", next.RetryCount),
		}
		if next.Target != "" {
			fields = append(fields, zap.String("target", next.Target))
		}
		if next.State == ClosedRetrying || next.State == ClosedExhausted {
			fields = append(fields, zap.String("last_error", next.LastError), zap.Duration("next_retry", next.NextRetry))
		}
		m.logger.Info("Connection state changed", fields...)
	}

	s := next
	m.enqueue(notification{status: &s})
}

// enqueue queues n for the dispatcher. Notifications raised after Close has
// stopped the dispatcher are dropped.
func (m *Manager) enqueue(n notification) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if m.stopping {
		return
	}
	m.queue = append(m.queue, n)
	m.qcond.Signal()
}

// dispatch delivers queued notifications to observers one at a time.
func (m *Manager) dispatch() {
	defer close(m.done)
	for {
		m.qmu.Lock()
		for len(m.queue) == 0 && !m.stopping {
			m.qcond.Wait()
		}
		if len(m.queue) == 0 {
			m.qmu.Unlock()
			return
		}
		batch := m.queue
		m.queue = nil
		observers := make([]Observer, 0, len(m.observers))
		for _, e := range m.observers {
			observers = append(observers, e.obs)
		}
		m.qmu.Unlock()

		for _, n := range batch {
			for _, obs := range observers {
				m.deliver(obs, n)
			}
		}
	}
}

func (m *Manager) deliver(obs Observer, n notification) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Observer panicked", zap.Any("panic", r))
		}
	}()
	if n.status != nil {
		obs.OnStatus(*n.status)
	}
	if n.msg != nil {
		obs.OnMessage(*n.msg)
	}
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}

func truncatePayload(data []byte) string {
	const maxLen = 200
	if len(data) > maxLen {
		return string(data[:maxLen]) + "..."
	}
	return string(data)
}
