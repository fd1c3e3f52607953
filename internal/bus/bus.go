package bus

import "sync"

// backlogSize bounds how many not-yet-delivered events a subscriber
// may accumulate before it is dropped rather than risk blocking
// Broadcast.
const backlogSize = 256

type subscriber struct {
	ch     chan Event
	done   chan struct{}
	closed bool
}

// Bus is the concrete, process-local EventPublisher: Broadcast fans an
// event out to every current subscriber's buffered channel in a
// non-blocking send; a subscriber whose buffer is full is unsubscribed
// and its delivery goroutine stopped rather than letting it stall the
// publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[string]*subscriber
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers handler under id, replacing any existing
// subscription with the same id. handler is invoked from a dedicated
// goroutine, one event at a time, in the order Broadcast delivered
// them to this subscriber.
func (b *Bus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	if old, ok := b.subs[id]; ok {
		b.closeLocked(old)
	}
	sub := &subscriber{ch: make(chan Event, backlogSize), done: make(chan struct{})}
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-sub.ch:
				if !ok {
					return
				}
				handler(ev)
			case <-sub.done:
				return
			}
		}
	}()
}

// Unsubscribe removes id's subscription, if any.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		b.closeLocked(sub)
		delete(b.subs, id)
	}
}

func (b *Bus) closeLocked(sub *subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.done)
}

// Broadcast delivers event to every current subscriber. A subscriber
// whose backlog is full is dropped (unsubscribed) rather than allowed
// to block this call; delivery to every other subscriber is
// at-least-once as long as its backlog has room.
func (b *Bus) Broadcast(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			b.closeLocked(sub)
			delete(b.subs, id)
		}
	}
}

// SubscriberCount reports how many subscribers are currently registered.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
