package status

import (
	"sync"

	"go.uber.org/zap"
)

const subscriberBuffer = 64

// Broker is the in-process Transport. Subscribers get a buffered channel
// per topic; when a subscriber falls behind, the oldest buffered event is
// dropped in favor of the newest. Snapshots make that safe: the latest
// event alone carries the full state.
type Broker struct {
	log *zap.Logger

	mu     sync.RWMutex
	subs   map[string]map[int]chan Event
	nextID int
	closed bool
}

func NewBroker(log *zap.Logger) *Broker {
	return &Broker{
		log:  log,
		subs: make(map[string]map[int]chan Event),
	}
}

func (b *Broker) Publish(topic string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- ev:
		default:
			// Evict the oldest event and retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
				b.log.Warn("status subscriber dropped event", zap.String("topic", topic))
			}
		}
	}
}

func (b *Broker) Subscribe(topic string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Event)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subs[topic]; ok {
			if sub, ok := subs[id]; ok {
				delete(subs, id)
				close(sub)
			}
			if len(subs) == 0 {
				delete(b.subs, topic)
			}
		}
	}
	return ch, cancel
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.subs, topic)
	}
	return nil
}
