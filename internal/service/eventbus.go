package service

import (
	"sync"
	"time"

	"github.com/bnema/arpipe/internal/domain"
)

// MarkerEvent is published after every marker job transition.
type MarkerEvent struct {
	Type      string              `json:"type"`
	ContentID string              `json:"content_id"`
	JobID     string              `json:"job_id"`
	Status    domain.MarkerStatus `json:"status"`
	Attempt   int                 `json:"attempt"`
	ErrorKind domain.ErrorKind    `json:"error_kind,omitempty"`
	Message   string              `json:"message,omitempty"`
	At        time.Time           `json:"at"`
}

type EventPublisher interface {
	Publish(contentID string, event MarkerEvent)
}

type EventBus struct {
	subscribers map[string][]chan MarkerEvent
	all         []chan MarkerEvent
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan MarkerEvent),
	}
}

func (eb *EventBus) Subscribe(contentID string) chan MarkerEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan MarkerEvent, 16)
	eb.subscribers[contentID] = append(eb.subscribers[contentID], ch)
	return ch
}

func (eb *EventBus) Unsubscribe(contentID string, ch chan MarkerEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[contentID]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[contentID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}

	if len(eb.subscribers[contentID]) == 0 {
		delete(eb.subscribers, contentID)
	}
}

// SubscribeAll receives events for every content item.
func (eb *EventBus) SubscribeAll() chan MarkerEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan MarkerEvent, 64)
	eb.all = append(eb.all, ch)
	return ch
}

func (eb *EventBus) UnsubscribeAll(ch chan MarkerEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for i, sub := range eb.all {
		if sub == ch {
			eb.all = append(eb.all[:i], eb.all[i+1:]...)
			close(ch)
			return
		}
	}
}

func (eb *EventBus) Publish(contentID string, event MarkerEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[contentID] {
		send(ch, event)
	}
	for _, ch := range eb.all {
		send(ch, event)
	}
}

func send(ch chan MarkerEvent, event MarkerEvent) {
	select {
	case ch <- event:
	default:
		// Drop event if subscriber is slow
	}
}

// Publishers fans an event out to several publishers in order.
type Publishers []EventPublisher

func (p Publishers) Publish(contentID string, event MarkerEvent) {
	for _, pub := range p {
		pub.Publish(contentID, event)
	}
}
