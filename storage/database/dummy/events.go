package dummydb

import (
	"context"
	"sync"

	"github.com/trezcool/umahiri/core/competency"
)

// EventRecorder collects published events for assertions.
type EventRecorder struct {
	mu     sync.Mutex
	Rated  []competency.RatedEvent
	Viewed []competency.ViewedEvent
}

var _ competency.EventSink = (*EventRecorder)(nil) // interface compliance check

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

func (r *EventRecorder) RatingRated(_ context.Context, evt competency.RatedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rated = append(r.Rated, evt)
}

func (r *EventRecorder) RatingViewed(_ context.Context, evt competency.ViewedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Viewed = append(r.Viewed, evt)
}
