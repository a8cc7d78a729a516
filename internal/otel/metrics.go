package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all MeetQuest metrics instruments.
type Metrics struct {
	SubmitDuration   metric.Float64Histogram
	AnswersAccepted  metric.Int64Counter
	AnswersRejected  metric.Int64Counter
	PuzzleRetries    metric.Int64Counter
	PuzzleForgiven   metric.Int64Counter
	QuestsStarted    metric.Int64Counter
	QuestsCompleted  metric.Int64Counter
	TicketsIssued    metric.Int64Counter
	PoolExhaustions  metric.Int64Counter
	HelpRequests     metric.Int64Counter
	ActiveSessions   metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.SubmitDuration, err = meter.Float64Histogram("meetquest.submit.duration",
		metric.WithDescription("Answer submission handling duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.AnswersAccepted, err = meter.Int64Counter("meetquest.answers.accepted",
		metric.WithDescription("Answers accepted, including forgiven puzzle answers"),
	)
	if err != nil {
		return nil, err
	}

	m.AnswersRejected, err = meter.Int64Counter("meetquest.answers.rejected",
		metric.WithDescription("Answers rejected by a validation rule"),
	)
	if err != nil {
		return nil, err
	}

	m.PuzzleRetries, err = meter.Int64Counter("meetquest.puzzle.retries",
		metric.WithDescription("Puzzle submissions that earned a retry hint"),
	)
	if err != nil {
		return nil, err
	}

	m.PuzzleForgiven, err = meter.Int64Counter("meetquest.puzzle.forgiven",
		metric.WithDescription("Puzzle answers accepted with the answer key shown"),
	)
	if err != nil {
		return nil, err
	}

	m.QuestsStarted, err = meter.Int64Counter("meetquest.quests.started",
		metric.WithDescription("Participants who registered for the quest"),
	)
	if err != nil {
		return nil, err
	}

	m.QuestsCompleted, err = meter.Int64Counter("meetquest.quests.completed",
		metric.WithDescription("Participants who finished every task"),
	)
	if err != nil {
		return nil, err
	}

	m.TicketsIssued, err = meter.Int64Counter("meetquest.tickets.issued",
		metric.WithDescription("Raffle tickets handed out"),
	)
	if err != nil {
		return nil, err
	}

	m.PoolExhaustions, err = meter.Int64Counter("meetquest.tickets.exhausted",
		metric.WithDescription("Completion attempts that found the pool empty"),
	)
	if err != nil {
		return nil, err
	}

	m.HelpRequests, err = meter.Int64Counter("meetquest.help.requests",
		metric.WithDescription("Help requests forwarded to organizers"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveSessions, err = meter.Int64UpDownCounter("meetquest.sessions.active",
		metric.WithDescription("Participants currently between start and completion"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
