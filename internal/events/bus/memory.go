package bus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/iamthamanic/multiagentultra/internal/common/logger"
)

// subscriptionBuffer is the number of undelivered events a subscription may
// hold before new events for it are dropped.
const subscriptionBuffer = 256

// MemoryEventBus implements EventBus in-process. Each subscription has its
// own delivery goroutine, so a subscriber sees events in publish order.
type MemoryEventBus struct {
	subscriptions []*memorySubscription
	queues        map[string]*queueGroup
	mu            sync.RWMutex
	logger        *logger.Logger
	closed        bool
}

type delivery struct {
	ctx     context.Context
	subject string
	event   *Event
}

// memorySubscription represents an in-memory subscription
type memorySubscription struct {
	bus     *MemoryEventBus
	subject string
	pattern *regexp.Regexp // nil for exact subjects
	handler EventHandler
	queue   string // Empty for regular subscriptions
	inbox   chan delivery

	mu     sync.Mutex
	active bool
	once   sync.Once
}

// queueGroup round-robins events across its members
type queueGroup struct {
	subscribers []*memorySubscription
	nextIndex   int
}

// NewMemoryEventBus creates a new in-memory event bus
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		queues: make(map[string]*queueGroup),
		logger: log.WithFields(zap.String("component", "memory-bus")),
	}
}

// Publish hands the event to every matching subscription and to one member
// of every matching queue group.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	d := delivery{ctx: context.WithoutCancel(ctx), subject: subject, event: event}
	deliveredQueues := make(map[string]bool)

	for _, sub := range b.subscriptions {
		if !sub.IsValid() || !matches(subject, sub.subject, sub.pattern) {
			continue
		}
		if sub.queue != "" {
			key := queueKey(sub.queue, sub.subject)
			if !deliveredQueues[key] {
				deliveredQueues[key] = true
				if member := b.nextQueueMember(key); member != nil {
					b.offer(member, d)
				}
			}
			continue
		}
		b.offer(sub, d)
	}

	b.logger.Debug("Published event",
		zap.String("subject", subject),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))
	return nil
}

func (b *MemoryEventBus) offer(sub *memorySubscription, d delivery) {
	select {
	case sub.inbox <- d:
	default:
		b.logger.Warn("Subscriber is not keeping up, dropping event",
			zap.String("subject", d.subject),
			zap.String("subscription", sub.subject),
			zap.String("event_id", d.event.ID))
	}
}

// Subscribe creates a subscription to a subject pattern. Patterns support
// NATS wildcards: * matches one token and > matches the remaining tokens.
func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	return b.subscribe(subject, "", handler)
}

// QueueSubscribe creates a queue subscription for load balancing.
// Only one subscriber in the queue group receives each event.
func (b *MemoryEventBus) QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error) {
	return b.subscribe(subject, queue, handler)
}

func (b *MemoryEventBus) subscribe(subject, queue string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	sub := &memorySubscription{
		bus:     b,
		subject: subject,
		pattern: compilePattern(subject),
		handler: handler,
		queue:   queue,
		inbox:   make(chan delivery, subscriptionBuffer),
		active:  true,
	}
	b.subscriptions = append(b.subscriptions, sub)

	if queue != "" {
		key := queueKey(queue, subject)
		qg, ok := b.queues[key]
		if !ok {
			qg = &queueGroup{}
			b.queues[key] = qg
		}
		qg.subscribers = append(qg.subscribers, sub)
	}

	go sub.run()

	b.logger.Debug("Subscribed to subject",
		zap.String("subject", subject),
		zap.String("queue", queue))
	return sub, nil
}

// Close deactivates every subscription. Events already queued are dropped.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscriptions {
		sub.stop()
	}
	b.subscriptions = nil
	b.queues = make(map[string]*queueGroup)

	b.logger.Info("Memory event bus closed")
}

// IsConnected returns true until the bus is closed
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// nextQueueMember picks the next active member of a queue group. Caller holds b.mu.
func (b *MemoryEventBus) nextQueueMember(key string) *memorySubscription {
	qg, ok := b.queues[key]
	if !ok || len(qg.subscribers) == 0 {
		return nil
	}
	for i := 0; i < len(qg.subscribers); i++ {
		idx := (qg.nextIndex + i) % len(qg.subscribers)
		if sub := qg.subscribers[idx]; sub.IsValid() {
			qg.nextIndex = (idx + 1) % len(qg.subscribers)
			return sub
		}
	}
	return nil
}

func (b *MemoryEventBus) remove(s *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscriptions {
		if sub == s {
			b.subscriptions = append(b.subscriptions[:i], b.subscriptions[i+1:]...)
			break
		}
	}
	if s.queue != "" {
		if qg, ok := b.queues[queueKey(s.queue, s.subject)]; ok {
			for i, sub := range qg.subscribers {
				if sub == s {
					qg.subscribers = append(qg.subscribers[:i], qg.subscribers[i+1:]...)
					break
				}
			}
		}
	}
}

func (s *memorySubscription) run() {
	for d := range s.inbox {
		if !s.IsValid() {
			continue
		}
		if err := s.handler(d.ctx, d.event); err != nil {
			s.bus.logger.Error("Event handler error",
				zap.String("subject", d.subject),
				zap.String("queue", s.queue),
				zap.Error(err))
		}
	}
}

func (s *memorySubscription) stop() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	s.once.Do(func() { close(s.inbox) })
}

// Unsubscribe removes the subscription
func (s *memorySubscription) Unsubscribe() error {
	s.bus.remove(s)
	s.stop()
	return nil
}

// IsValid returns whether the subscription is still active
func (s *memorySubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func queueKey(queue, subject string) string {
	return queue + ":" + subject
}

// matches checks if a subject matches a pattern
func matches(subject, pattern string, regex *regexp.Regexp) bool {
	if regex == nil {
		return subject == pattern
	}
	return regex.MatchString(subject)
}

// compilePattern converts a NATS-style pattern to a regex, or nil when the
// pattern has no wildcards
func compilePattern(pattern string) *regexp.Regexp {
	if !strings.Contains(pattern, "*") && !strings.Contains(pattern, ">") {
		return nil
	}

	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^.]+`)
	escaped = strings.ReplaceAll(escaped, `>`, `.+`)

	regex, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil
	}
	return regex
}
