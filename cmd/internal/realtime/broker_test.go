package realtime

import (
	"sync"
	"testing"
	"time"

	"huddle/cmd/internal/chat"
)

func testMsg(id, chatID string) chat.Message {
	return chat.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  "u-sender",
		Body:      "body",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// collector accumulates delivered messages across goroutines.
type collector struct {
	mu   sync.Mutex
	msgs []chat.Message
	cond chan struct{}
}

func newCollector() *collector {
	return &collector{cond: make(chan struct{}, 64)}
}

func (c *collector) deliver(m chat.Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	select {
	case c.cond <- struct{}{}:
	default:
	}
}

func (c *collector) waitFor(t *testing.T, n int) []chat.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.msgs) >= n {
			out := append([]chat.Message(nil), c.msgs...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()

		select {
		case <-c.cond:
		case <-deadline:
			c.mu.Lock()
			got := len(c.msgs)
			c.mu.Unlock()
			t.Fatalf("timed out waiting for %d deliveries, got %d", n, got)
		}
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestBrokerDeliversToMatchingSubscription(t *testing.T) {
	b := NewBroker(nil, 0)
	defer b.Close()

	col := newCollector()
	sub, err := b.Subscribe([]string{"c1", "c2"}, col.deliver)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	b.Publish(testMsg("m1", "c1"))
	b.Publish(testMsg("m2", "c2"))

	got := col.waitFor(t, 2)
	seen := map[string]bool{}
	for _, m := range got {
		seen[m.ID] = true
	}
	if !seen["m1"] || !seen["m2"] {
		t.Fatalf("delivered = %v, want m1 and m2", got)
	}
}

func TestBrokerSkipsUnrelatedChats(t *testing.T) {
	b := NewBroker(nil, 0)
	defer b.Close()

	col := newCollector()
	sub, err := b.Subscribe([]string{"c1"}, col.deliver)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	b.Publish(testMsg("m-other", "c-other"))
	b.Publish(testMsg("m1", "c1"))

	got := col.waitFor(t, 1)
	if got[0].ID != "m1" {
		t.Fatalf("delivered %q, want m1 only", got[0].ID)
	}
	// Give the unrelated event a chance to (wrongly) arrive.
	time.Sleep(20 * time.Millisecond)
	if col.count() != 1 {
		t.Fatalf("delivered %d events, want 1", col.count())
	}
}

func TestBrokerFansOutToAllSubscribers(t *testing.T) {
	b := NewBroker(nil, 0)
	defer b.Close()

	cols := make([]*collector, 3)
	for i := range cols {
		cols[i] = newCollector()
		sub, err := b.Subscribe([]string{"c1"}, cols[i].deliver)
		if err != nil {
			t.Fatalf("Subscribe %d: %v", i, err)
		}
		defer sub.Close()
	}

	b.Publish(testMsg("m1", "c1"))

	for i, col := range cols {
		got := col.waitFor(t, 1)
		if got[0].ID != "m1" {
			t.Fatalf("subscriber %d got %q, want m1", i, got[0].ID)
		}
	}
}

func TestBrokerNoDeliveryAfterClose(t *testing.T) {
	b := NewBroker(nil, 0)
	defer b.Close()

	col := newCollector()
	sub, err := b.Subscribe([]string{"c1"}, col.deliver)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Close waits for the delivery goroutine, so no callback can run after it.
	sub.Close()
	before := col.count()

	b.Publish(testMsg("m1", "c1"))
	time.Sleep(20 * time.Millisecond)

	if col.count() != before {
		t.Fatal("no callback may run after Close returns")
	}
}

func TestBrokerSubscribeAfterCloseFails(t *testing.T) {
	b := NewBroker(nil, 0)
	b.Close()

	if _, err := b.Subscribe([]string{"c1"}, func(chat.Message) {}); err == nil {
		t.Fatal("Subscribe on a closed broker must fail")
	}
}

func TestBrokerNilCallbackRejected(t *testing.T) {
	b := NewBroker(nil, 0)
	defer b.Close()

	if _, err := b.Subscribe([]string{"c1"}, nil); err == nil {
		t.Fatal("nil callback must be rejected")
	}
}

func TestBrokerPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := NewBroker(nil, minSubQueueSize)
	defer b.Close()

	block := make(chan struct{})
	sub, err := b.Subscribe([]string{"c1"}, func(chat.Message) { <-block })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer func() {
		close(block)
		sub.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overfill the queue: the callback is stuck, so the excess must drop.
		for i := 0; i < minSubQueueSize*3; i++ {
			b.Publish(testMsg("m", "c1"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestBrokerCloseIsIdempotent(t *testing.T) {
	b := NewBroker(nil, 0)
	sub, err := b.Subscribe([]string{"c1"}, func(chat.Message) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	sub.Close()
	sub.Close()
	b.Close()
	b.Close()
}
