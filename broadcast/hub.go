package broadcast

import (
	"context"
	"encoding/json"
)

// Subscriber receives the serialized notices for one document.
type Subscriber struct {
	DocID string
	Send  chan []byte
}

type notice struct {
	docID   string
	payload []byte
}

// Hub fans commit notices out to in-process subscribers, one send channel
// per subscriber. Slow subscribers are dropped rather than allowed to
// block the rest.
type Hub struct {
	subscribers map[string]map[*Subscriber]bool
	broadcast   chan notice
	register    chan *Subscriber
	unregister  chan *Subscriber
}

// NewHub returns a hub; call Run in its own goroutine before use.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Subscriber]bool),
		broadcast:   make(chan notice),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
	}
}

// Run processes subscriptions and fan-out until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, subs := range h.subscribers {
				for sub := range subs {
					close(sub.Send)
				}
			}
			return
		case sub := <-h.register:
			if h.subscribers[sub.DocID] == nil {
				h.subscribers[sub.DocID] = make(map[*Subscriber]bool)
			}
			h.subscribers[sub.DocID][sub] = true
		case sub := <-h.unregister:
			if subs := h.subscribers[sub.DocID]; subs[sub] {
				delete(subs, sub)
				close(sub.Send)
			}
		case n := <-h.broadcast:
			for sub := range h.subscribers[n.docID] {
				select {
				case sub.Send <- n.payload:
				default:
					delete(h.subscribers[n.docID], sub)
					close(sub.Send)
				}
			}
		}
	}
}

// Subscribe registers a subscriber for a document's notices.
func (h *Hub) Subscribe(docID string) *Subscriber {
	sub := &Subscriber{DocID: docID, Send: make(chan []byte, 256)}
	h.register <- sub
	return sub
}

// Unsubscribe removes the subscriber and closes its send channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.unregister <- sub
}

// Broadcast serializes the notice and fans it out to the document's
// subscribers.
func (h *Hub) Broadcast(_ context.Context, n Notice) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	h.broadcast <- notice{docID: n.DocID, payload: payload}
	return nil
}
