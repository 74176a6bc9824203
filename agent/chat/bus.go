// Package chat provides the in-process progress bus: a bounded,
// append-only message history with non-blocking fan-out to subscribers.
package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultCapacity is the default number of retained messages.
	DefaultCapacity = 100
	// DefaultMailboxSize is the per-subscriber buffer.
	DefaultMailboxSize = 64
)

// Kind classifies a message.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindFailure Kind = "failure"
	KindSkipped Kind = "skipped"
	KindHandoff Kind = "handoff"
)

// Message is immutable once published.
type Message struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Body      string    `json:"body"`
	Kind      Kind      `json:"kind,omitempty"`
	Cycle     int64     `json:"cycle,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber receives published messages on its own goroutine.
type Subscriber func(Message)

type subscription struct {
	id      uint64
	mailbox chan Message
	fn      Subscriber
}

// Bus is safe for concurrent use. Publish never blocks: a subscriber whose
// mailbox is full misses the message.
type Bus struct {
	mu          sync.RWMutex
	history     []Message
	capacity    int
	subs        map[uint64]*subscription
	nextID      uint64
	mailboxSize int
	closed      bool

	dropped atomic.Uint64
	onDrop  atomic.Pointer[func()]
	logger  *zap.Logger
}

// NewBus creates a bus retaining up to capacity messages.
func NewBus(capacity int, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		capacity:    capacity,
		subs:        make(map[uint64]*subscription),
		mailboxSize: DefaultMailboxSize,
		logger:      logger.With(zap.String("component", "chat_bus")),
	}
}

// OnDrop registers a hook called whenever a subscriber misses a message.
func (b *Bus) OnDrop(fn func()) {
	b.onDrop.Store(&fn)
}

// Publish appends msg to the history and notifies subscribers. Missing ID
// and Timestamp are filled in; the stored message is returned.
func (b *Bus) Publish(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Kind == "" {
		msg.Kind = KindInfo
	}

	b.mu.Lock()
	b.history = append(b.history, msg)
	b.trimLocked()
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.mailbox <- msg:
		default:
			b.dropped.Add(1)
			if fn := b.onDrop.Load(); fn != nil && *fn != nil {
				(*fn)()
			}
			b.logger.Debug("subscriber mailbox full, message dropped",
				zap.Uint64("subscription", s.id),
				zap.String("message_id", msg.ID),
			)
		}
	}
	return msg
}

// Say is shorthand for publishing an info message.
func (b *Bus) Say(source, body string) Message {
	return b.Publish(Message{Source: source, Body: body})
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is idempotent and safe to call from within fn.
func (b *Bus) Subscribe(fn Subscriber) func() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.nextID++
	s := &subscription{
		id:      b.nextID,
		mailbox: make(chan Message, b.mailboxSize),
		fn:      fn,
	}
	b.subs[s.id] = s
	b.mu.Unlock()

	go b.deliver(s)

	return func() { b.unsubscribe(s) }
}

func (b *Bus) unsubscribe(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; ok {
		delete(b.subs, s.id)
		close(s.mailbox)
	}
}

func (b *Bus) deliver(s *subscription) {
	for msg := range s.mailbox {
		b.invoke(s, msg)
	}
}

func (b *Bus) invoke(s *subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("chat subscriber panicked",
				zap.Uint64("subscription", s.id),
				zap.Any("recover", r),
			)
		}
	}()
	s.fn(msg)
}

// History returns a copy of the retained messages, oldest first.
func (b *Bus) History() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.history))
	copy(out, b.history)
	return out
}

// Recent returns up to limit of the newest messages, oldest first.
func (b *Bus) Recent(limit int) []Message {
	h := b.History()
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return h
}

// Len returns the number of retained messages.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}

// Capacity returns the history cap.
func (b *Bus) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.capacity
}

// SetCapacity changes the history cap, evicting the oldest messages if
// needed. Non-positive values restore the default.
func (b *Bus) SetCapacity(capacity int) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b.mu.Lock()
	b.capacity = capacity
	b.trimLocked()
	b.mu.Unlock()
}

// Restore replaces the history, keeping only the newest messages that fit.
// Subscribers are not notified.
func (b *Bus) Restore(msgs []Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append([]Message(nil), msgs...)
	b.trimLocked()
}

// Clear drops the retained history.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because of full mailboxes.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close removes every subscriber. Publishing after Close still records
// history.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.mailbox)
	}
}

func (b *Bus) trimLocked() {
	if over := len(b.history) - b.capacity; over > 0 {
		// Copy so the evicted prefix can be collected.
		b.history = append([]Message(nil), b.history[over:]...)
	}
}
