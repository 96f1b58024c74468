// Package realtime provides the in-process change feed: writers publish row
// changes, subscribers receive the ones matching their table, session and
// event filter.
package realtime

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/xiaot623/gogo/negotiator/internal/domain"
	"go.uber.org/zap"
)

// ErrOverflow is reported by a subscription that was dropped because its
// buffer filled up. Its channel is closed; the subscriber must resync.
var ErrOverflow = errors.New("subscription buffer overflow")

// DefaultBuffer is the per-subscription channel capacity.
const DefaultBuffer = 256

// Filter selects the changes a subscription receives. Empty Events means
// every event type.
type Filter struct {
	Table     domain.Table
	SessionID string
	Events    []domain.ChangeEvent
}

func (f Filter) matches(change domain.Change) bool {
	if change.Table != f.Table || change.SessionID != f.SessionID {
		return false
	}
	if len(f.Events) == 0 {
		return true
	}
	for _, ev := range f.Events {
		if ev == change.Event {
			return true
		}
	}
	return false
}

type topic struct {
	table     domain.Table
	sessionID string
}

// Subscription is a live registration on the broker.
type Subscription struct {
	ID     string
	filter Filter
	ch     chan domain.Change
	broker *Broker

	once sync.Once
	err  error // guarded by broker.mu
}

// C returns the channel changes are delivered on. It is closed on Cancel
// or overflow.
func (s *Subscription) C() <-chan domain.Change {
	return s.ch
}

// Err reports why the channel was closed: nil after Cancel, ErrOverflow
// after the broker dropped the subscription.
func (s *Subscription) Err() error {
	s.broker.mu.RLock()
	defer s.broker.mu.RUnlock()
	return s.err
}

// Cancel removes the subscription. Once Cancel returns no further change is
// sent on the channel. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.broker.remove(s, nil)
}

// Broker fans published changes out to matching subscriptions.
type Broker struct {
	mu     sync.RWMutex
	topics map[topic]map[string]*Subscription
	buffer int
	logger *zap.Logger
}

// NewBroker creates a broker. A buffer <= 0 selects DefaultBuffer.
func NewBroker(buffer int, logger *zap.Logger) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		topics: make(map[topic]map[string]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a subscription for the given filter.
func (b *Broker) Subscribe(filter Filter) *Subscription {
	sub := &Subscription{
		ID:     uuid.New().String(),
		filter: filter,
		ch:     make(chan domain.Change, b.buffer),
		broker: b,
	}

	key := topic{table: filter.Table, sessionID: filter.SessionID}
	b.mu.Lock()
	if b.topics[key] == nil {
		b.topics[key] = make(map[string]*Subscription)
	}
	b.topics[key][sub.ID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscription added",
		zap.String("subscription_id", sub.ID),
		zap.String("table", string(filter.Table)),
		zap.String("session_id", filter.SessionID))
	return sub
}

// Publish delivers a change to every matching subscription without
// blocking. Subscribers that cannot keep up are dropped with ErrOverflow.
func (b *Broker) Publish(change domain.Change) {
	key := topic{table: change.Table, sessionID: change.SessionID}

	var overflowed []*Subscription
	b.mu.RLock()
	for _, sub := range b.topics[key] {
		if !sub.filter.matches(change) {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range overflowed {
		b.logger.Warn("subscription overflowed, dropping",
			zap.String("subscription_id", sub.ID),
			zap.String("session_id", change.SessionID))
		b.remove(sub, ErrOverflow)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.topics {
		n += len(subs)
	}
	return n
}

// remove unregisters sub and closes its channel under the write lock, so no
// Publish can be mid-send on it, then drains what was left buffered.
func (b *Broker) remove(sub *Subscription, reason error) {
	sub.once.Do(func() {
		key := topic{table: sub.filter.Table, sessionID: sub.filter.SessionID}
		b.mu.Lock()
		if subs, ok := b.topics[key]; ok {
			delete(subs, sub.ID)
			if len(subs) == 0 {
				delete(b.topics, key)
			}
		}
		sub.err = reason
		close(sub.ch)
		b.mu.Unlock()

		// Discard anything still buffered so a late reader only sees the close.
		for range sub.ch {
		}
	})
}
