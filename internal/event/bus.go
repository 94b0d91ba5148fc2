// Package event delivers session lifecycle events to in-process consumers.
// Events originate as outbox rows written in the same store transaction as
// the session change that caused them; the dispatcher then fans them out
// at-least-once, so consumers must tolerate duplicates.
package event

import (
	"sync"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/domain"
)

// Bus is an in-process fan-out of lifecycle events. Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	nextID int64
	subs   map[int64]subscriber
}

type subscriber struct {
	ch     chan domain.Event
	userID int64 // 0 subscribes to all users
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int64]subscriber)}
}

// Subscribe registers a consumer for one user's events (or every user's, with
// userID 0). The returned cancel func unregisters and closes the channel.
func (b *Bus) Subscribe(userID int64, buffer int) (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	sub := subscriber{ch: make(chan domain.Event, buffer), userID: userID}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Publish offers the event to every matching subscriber without blocking. A
// subscriber with a full buffer misses this delivery; the outbox will offer
// the event again on the next dispatch pass only if it was never marked
// dispatched, so slow consumers should size their buffers generously.
func (b *Bus) Publish(e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.userID != 0 && sub.userID != e.UserID {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
}
