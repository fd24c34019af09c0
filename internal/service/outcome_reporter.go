package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// OutcomeReporter propagates a committed aggregate score to an external
// score-reporting integration (an LMS outcome sync). It is called after the
// score transaction commits; failures are logged, never rolled back into
// the grading state.
type OutcomeReporter interface {
	ReportScore(ctx context.Context, assessmentInstanceID uint) error
}

// LogOutcomeReporter is a basic reporter that logs score updates.
type LogOutcomeReporter struct {
	logger zerolog.Logger
}

// NewLogOutcomeReporter constructs a logging reporter.
func NewLogOutcomeReporter(logger zerolog.Logger) *LogOutcomeReporter {
	return &LogOutcomeReporter{logger: logger.With().Str("component", "outcome_reporter").Logger()}
}

// ReportScore logs the update and returns nil to indicate success.
func (l *LogOutcomeReporter) ReportScore(ctx context.Context, assessmentInstanceID uint) error {
	l.logger.Info().Uint("assessment_instance_id", assessmentInstanceID).Msg("assessment score updated")
	return nil
}

// ScoreUpdatedEvent is the message published for each committed aggregate
// score change.
type ScoreUpdatedEvent struct {
	AssessmentInstanceID uint      `json:"assessment_instance_id"`
	ReportedAt           time.Time `json:"reported_at"`
}

// NatsOutcomeReporter publishes score updates to a NATS subject consumed by
// the LMS outcome bridge.
type NatsOutcomeReporter struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewNatsOutcomeReporter constructs the NATS-backed reporter.
func NewNatsOutcomeReporter(conn *nats.Conn, subject string, logger zerolog.Logger) *NatsOutcomeReporter {
	if subject == "" {
		subject = "scores.updated"
	}
	return &NatsOutcomeReporter{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "outcome_reporter").Logger(),
		now:     time.Now,
	}
}

// ReportScore publishes the update event.
func (n *NatsOutcomeReporter) ReportScore(ctx context.Context, assessmentInstanceID uint) error {
	payload, err := json.Marshal(ScoreUpdatedEvent{
		AssessmentInstanceID: assessmentInstanceID,
		ReportedAt:           n.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal score event: %w", err)
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("publish score event: %w", err)
	}
	n.logger.Debug().Uint("assessment_instance_id", assessmentInstanceID).Msg("score update published")
	return nil
}
