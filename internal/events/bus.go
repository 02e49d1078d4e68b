package events

import (
	"sync"

	"goalline/internal/domain"
)

// Bus is an in-process typed publish/subscribe hub. Publishing never
// blocks on a subscriber; handlers run synchronously on the publishing
// goroutine, so per-goal event order is preserved.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	timeline  map[int]func(domain.TimelineEvent)
	decisions map[int]func(goalID string, d domain.UserDecision)
	deleted   map[int]func(goalID string)
}

func NewBus() *Bus {
	return &Bus{
		timeline:  make(map[int]func(domain.TimelineEvent)),
		decisions: make(map[int]func(string, domain.UserDecision)),
		deleted:   make(map[int]func(string)),
	}
}

// OnTimelineEvent subscribes to appended timeline events. The returned
// function removes the subscription.
func (b *Bus) OnTimelineEvent(fn func(domain.TimelineEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.timeline[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.timeline, id)
	}
}

// OnUserDecisionCreated subscribes to newly opened decisions.
func (b *Bus) OnUserDecisionCreated(fn func(goalID string, d domain.UserDecision)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.decisions[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.decisions, id)
	}
}

// OnGoalDeleted subscribes to goal deletions.
func (b *Bus) OnGoalDeleted(fn func(goalID string)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.deleted[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.deleted, id)
	}
}

func (b *Bus) PublishTimeline(evt domain.TimelineEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.timeline {
		fn(evt)
	}
}

func (b *Bus) PublishDecisionCreated(goalID string, d domain.UserDecision) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.decisions {
		fn(goalID, d)
	}
}

func (b *Bus) PublishGoalDeleted(goalID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.deleted {
		fn(goalID)
	}
}
