package game

import "sync"

const subscriberBuffer = 8

// Hub fans accepted state transitions out to session observers. Delivery is
// at-least-once: a slow subscriber can miss intermediate snapshots, but the
// session version it observes never goes backwards, so every delivered
// snapshot is safe to treat as the full current state.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[int]*subscriber
	next int
}

type subscriber struct {
	ch   chan Snapshot
	last int64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]*subscriber)}
}

// Subscribe returns a channel of snapshots for the session and a cancel
// function. The channel closes on cancel; cancelling twice is fine.
func (h *Hub) Subscribe(sessionID string) (<-chan Snapshot, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[int]*subscriber)
	}
	id := h.next
	h.next++
	sub := &subscriber{ch: make(chan Snapshot, subscriberBuffer)}
	h.subs[sessionID][id] = sub

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := h.subs[sessionID][id]; ok {
			delete(h.subs[sessionID], id)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			close(cur.ch)
		}
	}
	return sub.ch, cancel
}

// Publish delivers snap to every subscriber of its session. A snapshot older
// than one the subscriber already received is dropped; a full channel sheds
// its oldest pending snapshot so the latest state always lands.
func (h *Hub) Publish(snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[snap.Session.ID] {
		if snap.Session.Version < sub.last {
			continue
		}
		sub.last = snap.Session.Version
		select {
		case sub.ch <- snap:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
}
