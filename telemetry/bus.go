// telemetry/bus.go
//
// In-process telemetry: a bounded, non-blocking pub/sub bus plus a per-topic
// ring of recent events. Publishers never block and never fail; a slow
// subscriber loses its oldest events, not the publisher's tick budget.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"quantloop/logs"
)

// Well-known topics.
const (
	TopicCycle     = "cycle"
	TopicPortfolio = "portfolio"
	TopicOps       = "ops"
)

// Event is one published telemetry item.
type Event struct {
	Topic   string
	Time    time.Time
	Payload interface{}
}

type subscriber struct {
	ch chan Event
}

// Subscription is a live feed of one topic. Close releases its buffer; an
// abandoned subscription otherwise keeps dropping its own oldest events and
// never affects anyone else.
type Subscription struct {
	bus   *Bus
	topic string
	sub   *subscriber
	once  sync.Once
}

// C is the receive channel. It is closed when the subscription is closed.
func (s *Subscription) C() <-chan Event { return s.sub.ch }

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s.topic, s.sub)
	})
}

// Bus fans events out to per-topic subscribers and keeps the last ringSize
// events per topic for late readers.
type Bus struct {
	mu    sync.RWMutex
	subs  map[string][]*subscriber
	rings map[string][]Event

	ringSize int
	bufSize  int

	closed  atomic.Bool
	dropped atomic.Uint64
}

func NewBus(ringSize, subscriberBuffer int) *Bus {
	if ringSize <= 0 {
		ringSize = 500
	}
	if subscriberBuffer <= 0 {
		subscriberBuffer = 64
	}
	return &Bus{
		subs:     make(map[string][]*subscriber),
		rings:    make(map[string][]Event),
		ringSize: ringSize,
		bufSize:  subscriberBuffer,
	}
}

// Publish delivers an event to every subscriber of the topic without ever
// blocking. When a subscriber's buffer is full its oldest event is discarded
// to make room; if the buffer is being drained concurrently the new event may
// be dropped instead. Either way the publisher returns immediately.
func (b *Bus) Publish(topic string, payload interface{}) {
	if b.closed.Load() {
		return
	}
	ev := Event{Topic: topic, Time: time.Now().UTC(), Payload: payload}

	b.mu.Lock()
	ring := append(b.rings[topic], ev)
	if len(ring) > b.ringSize {
		ring = ring[len(ring)-b.ringSize:]
	}
	b.rings[topic] = ring
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[topic] {
		select {
		case s.ch <- ev:
			continue
		default:
		}
		select {
		case <-s.ch:
			b.dropped.Add(1)
		default:
		}
		select {
		case s.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe attaches a bounded subscriber to a topic.
func (b *Bus) Subscribe(topic string) *Subscription {
	s := &subscriber{ch: make(chan Event, b.bufSize)}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()
	return &Subscription{bus: b, topic: topic, sub: s}
}

func (b *Bus) unsubscribe(topic string, target *subscriber) {
	b.mu.Lock()
	list := b.subs[topic]
	for i, s := range list {
		if s == target {
			b.subs[topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	// No publisher can hold a reference past this point, so closing is safe.
	close(target.ch)
}

// History returns a copy of the retained events for a topic, oldest first.
func (b *Bus) History(topic string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ring := b.rings[topic]
	out := make([]Event, len(ring))
	copy(out, ring)
	return out
}

// Dropped is the count of events discarded across all subscribers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close stops accepting publishes and closes every subscriber channel.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for topic, list := range b.subs {
		for _, s := range list {
			close(s.ch)
			n++
		}
		delete(b.subs, topic)
	}
	if d := b.dropped.Load(); d > 0 {
		logs.Debugf("[Telemetry] bus closed, %d subscribers released, %d events dropped lifetime", n, d)
	}
}
