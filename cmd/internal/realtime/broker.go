// Package realtime contains huddle's in-process insert-event broker and the
// WebSocket gateway that serves it to clients.
package realtime

import (
	"errors"
	"log/slog"
	"sync"

	"huddle/cmd/internal/chat"
	"huddle/cmd/internal/session"
)

const (
	defaultSubQueueSize = 256
	minSubQueueSize     = 32
)

// Broker fans message-insert events out to subscriptions keyed on chat id
// sets. It implements session.Channel.
//
// Delivery guarantees:
//   - at-least-once for connected subscribers with queue headroom
//   - Publish never blocks: a full subscriber queue drops the event
//     (subscribers catch up on their next full refetch)
//   - one delivery goroutine per subscription, so a subscriber's callback
//     never runs concurrently with itself
type Broker struct {
	log       *slog.Logger
	queueSize int

	mu     sync.RWMutex
	closed bool
	// chat id -> subscriptions following it
	byChat map[string]map[*brokerSub]struct{}
}

// NewBroker constructs a Broker with a bounded per-subscription queue.
func NewBroker(log *slog.Logger, queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = defaultSubQueueSize
	}
	if queueSize < minSubQueueSize {
		queueSize = minSubQueueSize
	}
	return &Broker{
		log:       log,
		queueSize: queueSize,
		byChat:    make(map[string]map[*brokerSub]struct{}),
	}
}

// Subscribe registers onInsert for the given chat ids and starts its delivery
// goroutine. The returned subscription must be closed to release it.
func (b *Broker) Subscribe(chatIDs []string, onInsert func(chat.Message)) (session.Subscription, error) {
	if onInsert == nil {
		return nil, errors.New("realtime: nil callback")
	}

	sub := &brokerSub{
		broker:   b,
		chatIDs:  make(map[string]struct{}, len(chatIDs)),
		queue:    make(chan chat.Message, b.queueSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		onInsert: onInsert,
	}
	for _, id := range chatIDs {
		if id == "" {
			continue
		}
		sub.chatIDs[id] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New("realtime: broker closed")
	}
	for id := range sub.chatIDs {
		set := b.byChat[id]
		if set == nil {
			set = make(map[*brokerSub]struct{})
			b.byChat[id] = set
		}
		set[sub] = struct{}{}
	}
	b.mu.Unlock()

	go sub.run()
	return sub, nil
}

// Publish fans one insert event out to every subscription following its
// chat. Non-blocking; drops under backpressure.
func (b *Broker) Publish(msg chat.Message) {
	eventsPublished.Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.byChat[msg.ChatID] {
		select {
		case <-sub.done:
			continue
		default:
		}

		select {
		case sub.queue <- msg:
		default:
			eventsDropped.Inc()
			if b.log != nil {
				b.log.Warn("broker.deliver.drop", "chat_id", msg.ChatID, "message_id", msg.ID)
			}
		}
	}
}

// Close tears down the broker and every live subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make(map[*brokerSub]struct{})
	for _, set := range b.byChat {
		for sub := range set {
			subs[sub] = struct{}{}
		}
	}
	b.byChat = make(map[string]map[*brokerSub]struct{})
	b.mu.Unlock()

	for sub := range subs {
		sub.Close()
	}
}

// unsubscribe removes sub from the chat index.
func (b *Broker) unsubscribe(sub *brokerSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id := range sub.chatIDs {
		if set := b.byChat[id]; set != nil {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.byChat, id)
			}
		}
	}
}

// brokerSub is one live subscription.
//
// queue is never closed; done signals shutdown. This keeps Publish panic-safe
// under concurrent Close.
type brokerSub struct {
	broker   *Broker
	chatIDs  map[string]struct{}
	queue    chan chat.Message
	done     chan struct{}
	stopped  chan struct{}
	onInsert func(chat.Message)

	closeOnce sync.Once
}

// run is the single delivery goroutine for this subscription.
func (s *brokerSub) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			eventsDelivered.Inc()
			s.onInsert(msg)
		}
	}
}

// Close removes the subscription from the broker, stops delivery, and waits
// for the delivery goroutine to finish so no callback runs after it returns.
// Idempotent.
func (s *brokerSub) Close() {
	s.closeOnce.Do(func() {
		s.broker.unsubscribe(s)
		close(s.done)
		<-s.stopped
	})
}
