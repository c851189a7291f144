package logsvc

import (
	"context"
	"fmt"

	"github.com/trezcool/umahiri/core"
	"github.com/trezcool/umahiri/core/competency"
)

// LogEventSink publishes competency rating events to the application
// logger. It stands in for a message broker until one is needed.
type LogEventSink struct {
	logger core.Logger
}

var _ competency.EventSink = (*LogEventSink)(nil)

func NewLogEventSink(logger core.Logger) *LogEventSink {
	return &LogEventSink{logger: logger}
}

func (s *LogEventSink) RatingRated(_ context.Context, evt competency.RatedEvent) {
	s.logger.Info(fmt.Sprintf(
		"competency %d rated %d for user %d in course module %d by user %d",
		evt.Rating.CompetencyID, evt.Rating.Grade.Int, evt.Rating.UserID, evt.Rating.CourseModuleID, evt.ActingUserID,
	))
}

func (s *LogEventSink) RatingViewed(_ context.Context, evt competency.ViewedEvent) {
	s.logger.Info(fmt.Sprintf(
		"competency %d rating viewed for user %d in course module %d by user %d",
		evt.Rating.CompetencyID, evt.Rating.UserID, evt.Rating.CourseModuleID, evt.ActingUserID,
	))
}
