// Package events fans plan execution events out to subscribers and streams
// them to websocket clients.
package events

import (
	"sync"

	"github.com/agentoven/conductor/pkg/models"
)

// bufferSize is how many undelivered events a subscriber may hold before
// further events are dropped for it.
const bufferSize = 32

// Hub broadcasts PlanEvents to subscribers of a plan.
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]chan models.PlanEvent // plan id → subscribers
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string][]chan models.PlanEvent)}
}

// Subscribe registers for events of one plan.
func (h *Hub) Subscribe(planID string) <-chan models.PlanEvent {
	ch := make(chan models.PlanEvent, bufferSize)
	h.mu.Lock()
	h.subs[planID] = append(h.subs[planID], ch)
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription.
func (h *Hub) Unsubscribe(planID string, ch <-chan models.PlanEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[planID]
	for i, s := range subs {
		if s == ch {
			h.subs[planID] = append(subs[:i], subs[i+1:]...)
			close(s)
			break
		}
	}
	if len(h.subs[planID]) == 0 {
		delete(h.subs, planID)
	}
}

// Publish delivers evt to every subscriber of evt.PlanID without blocking.
func (h *Hub) Publish(evt models.PlanEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[evt.PlanID] {
		select {
		case ch <- evt:
		default:
			// Drop if subscriber is too slow
		}
	}
}

// Subscribers returns the number of live subscriptions for a plan.
func (h *Hub) Subscribers(planID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[planID])
}

// Final reports whether evt is the plan-level terminal event.
func Final(evt models.PlanEvent) bool {
	return evt.StepID == "" && models.PlanStatus(evt.Status).Finished()
}
