// Package event carries what happens on the modems to whoever listens:
// the archive, webhooks and WebSocket clients.
package event

import (
	"sync"
	"time"

	"github.com/pccr10001/gsmlink/internal/concat"
	"github.com/pccr10001/gsmlink/pkg/logger"
)

type Type string

const (
	ATCommand    Type = "at_command"
	Comms        Type = "comms"
	PIN          Type = "pin"
	Network      Type = "network"
	ReceivedData Type = "received_data"
	WriteData    Type = "write_data"
	ConfigStatus Type = "config_status"
	NewSMS       Type = "new_sms"
	StatusReport Type = "status_report"
	UnknownData  Type = "unknown_data"
)

// Event is one notification from a modem session.
type Event struct {
	Type    Type             `json:"type"`
	ModemID string           `json:"modem_id"`
	Port    string           `json:"port"`
	Time    time.Time        `json:"time"`
	Success bool             `json:"success"`
	Text    string           `json:"text,omitempty"`
	Command string           `json:"command,omitempty"`
	Result  string           `json:"result,omitempty"`
	Message *concat.Fragment `json:"message,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener with the given channel buffer. The returned
// cancel function unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber. A zero Time is set to now.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			logger.Log.Warnf("Event subscriber %d is full, dropping %s event from %s", id, e.Type, e.ModemID)
		}
	}
}

// Subscribers returns the number of registered listeners.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
