package i2p

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"i2pmgr/internal/control"
)

// EventType identifies an event published by the Manager.
type EventType string

const (
	EventStatusChanged       EventType = "status_changed"
	EventRunningChanged      EventType = "running_changed"
	EventReady               EventType = "ready"
	EventStopped             EventType = "stopped"
	EventError               EventType = "error"
	EventStatsChanged        EventType = "stats_changed"
	EventTunnelCreated       EventType = "tunnel_created"
	EventTunnelDestroyed     EventType = "tunnel_destroyed"
	EventTunnelStatusChanged EventType = "tunnel_status_changed"
)

// Event is a typed notification delivered to registered observers. Only the
// fields relevant to the Type are set.
type Event struct {
	Type EventType

	Status  Status // status_changed
	Running bool   // running_changed

	Success      bool   // ready
	ProxyAddress string // ready: host:port of the local SOCKS proxy, empty on failure

	Message string // error

	Stats  *control.NetworkStats // stats_changed
	Tunnel *control.TunnelInfo   // tunnel_*
}

// Bus fans events out to subscribers. Publishing never blocks the
// supervisory goroutine: a subscriber whose buffer is full misses the
// event.
type Bus struct {
	mu   sync.Mutex
	subs map[string]chan Event
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Event)}
}

// Subscribe registers an observer and returns its token plus the delivery
// channel. buffer <= 0 selects a default of 16.
func (b *Bus) Subscribe(buffer int) (string, <-chan Event) {
	if buffer <= 0 {
		buffer = 16
	}
	id := uuid.New().String()
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes an observer and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Bus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			logrus.Debugf("event %s dropped for slow subscriber %s", ev.Type, id)
		}
	}
}
