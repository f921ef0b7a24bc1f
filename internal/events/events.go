// Package events is the broadcast channel between an authentication flow and
// the UI that renders it.
//
// A Bus is created by the owner of a flow and passed to it explicitly;
// subscribers attach and detach independently. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
package events

import (
	"sync"

	"github.com/dvcrn/copilot-proxy/internal/logger"
)

// Kind tags an Event.
type Kind string

const (
	KindDeviceAuthorization Kind = "device_authorization"
	KindProgress            Kind = "progress"
	KindComplete            Kind = "complete"
	KindError               Kind = "error"
	// KindCancelRequest is consumed by a running flow, never produced by it.
	KindCancelRequest Kind = "cancel_request"
)

// Event is a single notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind            Kind
	VerificationURI string
	UserCode        string
	Phase           string
	Message         string
	Err             error
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscription receives events on C until Unsubscribe is called.
type Subscription struct {
	C <-chan Event

	ch    chan Event
	bus   *Bus
	id    uint64
	kinds map[Kind]struct{}
	once  sync.Once
}

// Subscribe attaches a subscriber with the given buffer size. If kinds are
// given, only those kinds are delivered.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	sub.id = b.nextID
	b.nextID++
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe detaches the subscriber and closes C. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

func (s *Subscription) wants(k Kind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Publish delivers e to every interested subscriber without waiting.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.wants(e.Kind) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			logger.Get().Debug().Str("kind", string(e.Kind)).Msg("Dropped event for slow subscriber")
		}
	}
}

// RequestCancel asks a running flow on this bus to stop.
func (b *Bus) RequestCancel() {
	b.Publish(Event{Kind: KindCancelRequest})
}

// Subscribers returns the number of attached subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
