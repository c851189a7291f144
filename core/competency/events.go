package competency

import "context"

// RatedEvent is published after a rating is (re)graded; it carries the
// committed rating snapshot.
type RatedEvent struct {
	Rating       Rating
	ActingUserID int64
	Note         string
}

// ViewedEvent is published when a user views a rating.
type ViewedEvent struct {
	Rating       Rating
	ActingUserID int64
}

// EventSink receives domain events after they are committed. Sinks must
// not fail the operation; errors are theirs to log.
type EventSink interface {
	RatingRated(ctx context.Context, evt RatedEvent)
	RatingViewed(ctx context.Context, evt ViewedEvent)
}
