package stream

import (
	"sync"
	"sync/atomic"
)

// Message types pushed to dashboard clients.
const (
	TypeAlerts        = "alerts"
	TypeBanner        = "banner"
	TypeNotifications = "notifications"
	TypeToast         = "toast"
)

// Message is one frame on the dashboard stream.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Toast is a transient popup for a newly received SOS.
type Toast struct {
	AlertID  string `json:"alertId"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Severity string `json:"severity"`
}

const subscriberBuffer = 64

type Broadcaster struct {
	subscribers map[uint64]chan Message
	nextID      atomic.Uint64
	mu          sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]chan Message),
	}
}

func (b *Broadcaster) Subscribe() (uint64, <-chan Message) {
	id := b.nextID.Add(1)
	ch := make(chan Message, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(msgType string, data any) {
	msg := Message{Type: msgType, Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			// Skip slow subscribers
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, causing streams to exit gracefully
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
