// Package engine drives quest progression: it owns the per-participant
// state machine, routes answers through validation, and hands finishers
// to the raffle allocator. All mutations for one participant run under
// that participant's lock, so concurrent updates from the same chat
// cannot interleave.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/meetquest/internal/bus"
	otelx "github.com/basket/meetquest/internal/otel"
	"github.com/basket/meetquest/internal/persistence"
	"github.com/basket/meetquest/internal/quest"
	"github.com/basket/meetquest/internal/raffle"
)

// OutcomeKind classifies what the transport should tell the participant.
type OutcomeKind string

const (
	// OutcomeWelcome greets a newly registered (or re-registering)
	// participant who has not begun the tasks yet.
	OutcomeWelcome OutcomeKind = "WELCOME"

	// OutcomePrompt carries the task the participant should answer next.
	OutcomePrompt OutcomeKind = "PROMPT"

	// OutcomeRejected means the answer failed and the task is unchanged.
	OutcomeRejected OutcomeKind = "REJECTED"

	// OutcomeRetry means the puzzle answer was incomplete and another
	// submission is expected.
	OutcomeRetry OutcomeKind = "RETRY"

	// OutcomeCorrection means the puzzle was forgiven: the participant
	// advances and the answer key is shown with the next prompt.
	OutcomeCorrection OutcomeKind = "CORRECTION"

	// OutcomeCompleted means the quest is done and a ticket was issued.
	OutcomeCompleted OutcomeKind = "COMPLETED"

	// OutcomeAlreadyCompleted means the participant already holds a
	// ticket; nothing changes.
	OutcomeAlreadyCompleted OutcomeKind = "ALREADY_COMPLETED"

	// OutcomeNotStarted means the participant has no active task yet.
	OutcomeNotStarted OutcomeKind = "NOT_STARTED"

	// OutcomePoolExhausted means every task is answered but no tickets
	// remain. The session stays open on the last task.
	OutcomePoolExhausted OutcomeKind = "POOL_EXHAUSTED"
)

// Identity is what the transport knows about a participant.
type Identity struct {
	ID          int64
	DisplayName string
	FullName    string
	Handle      string
}

// Outcome is the engine's reply to one participant interaction.
type Outcome struct {
	Kind         OutcomeKind
	TaskIndex    int
	Prompt       string
	Reason       string
	Missing      []string
	AttemptsLeft int
	Correction   string
	Ticket       int
	DisplayName  string
}

// Config wires the engine's collaborators. Tracer and Metrics may be
// nil; no-op instruments are substituted.
type Config struct {
	Store     *persistence.Store
	Catalog   *quest.Catalog
	Allocator *raffle.Allocator
	Bus       *bus.Bus
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Metrics   *otelx.Metrics
}

type Engine struct {
	store     *persistence.Store
	catalog   *quest.Catalog
	allocator *raffle.Allocator
	bus       *bus.Bus
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *otelx.Metrics

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("engine: catalog is required")
	}
	if cfg.Allocator == nil {
		return nil, errors.New("engine: allocator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(otelx.TracerName)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		var err error
		metrics, err = otelx.NewMetrics(noop.NewMeterProvider().Meter(otelx.MeterName))
		if err != nil {
			return nil, fmt.Errorf("engine: build noop metrics: %w", err)
		}
	}
	return &Engine{
		store:     cfg.Store,
		catalog:   cfg.Catalog,
		allocator: cfg.Allocator,
		bus:       cfg.Bus,
		logger:    logger,
		tracer:    tracer,
		metrics:   metrics,
		locks:     map[int64]*sync.Mutex{},
	}, nil
}

// lockParticipant serializes all engine operations for one participant.
func (e *Engine) lockParticipant(id int64) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (e *Engine) publish(topic string, payload interface{}) {
	if e.bus != nil {
		e.bus.Publish(topic, payload)
	}
}

// Start registers the participant and returns a welcome. Calling it
// again never resets progress: a participant mid-quest gets their
// current task back, a finisher gets their ticket back.
func (e *Engine) Start(ctx context.Context, who Identity) (Outcome, error) {
	unlock := e.lockParticipant(who.ID)
	defer unlock()

	ctx, span := otelx.StartSpan(ctx, e.tracer, "engine.start",
		otelx.AttrParticipantID.Int64(who.ID),
	)
	defer span.End()

	p, err := e.store.GetParticipant(ctx, who.ID)
	if err != nil {
		return Outcome{}, err
	}
	if p == nil {
		if err := e.store.CreateParticipant(ctx, who.ID, who.DisplayName, who.FullName, who.Handle, time.Now()); err != nil {
			return Outcome{}, err
		}
		e.metrics.QuestsStarted.Add(ctx, 1)
		e.metrics.ActiveSessions.Add(ctx, 1)
		e.publish(bus.TopicQuestStarted, bus.QuestStartedEvent{
			ParticipantID: who.ID,
			DisplayName:   who.DisplayName,
		})
		e.logger.Info("participant registered", "participant", who.ID, "name", who.DisplayName)
		return Outcome{Kind: OutcomeWelcome, DisplayName: who.DisplayName}, nil
	}

	// Refresh identity fields without touching progress.
	if err := e.store.CreateParticipant(ctx, who.ID, who.DisplayName, who.FullName, who.Handle, p.StartedAt); err != nil {
		return Outcome{}, err
	}

	switch p.Stage {
	case persistence.StageCompleted:
		return e.completedOutcome(p), nil
	case persistence.StageInProgress:
		return e.promptOutcome(p.CurrentTask)
	default:
		return Outcome{Kind: OutcomeWelcome, DisplayName: who.DisplayName}, nil
	}
}

// Begin moves a registered participant onto the first task. Idempotent:
// a participant already underway gets their current prompt.
func (e *Engine) Begin(ctx context.Context, id int64) (Outcome, error) {
	unlock := e.lockParticipant(id)
	defer unlock()

	p, err := e.store.GetParticipant(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if p == nil {
		return Outcome{Kind: OutcomeNotStarted}, nil
	}

	switch p.Stage {
	case persistence.StageCompleted:
		return e.completedOutcome(p), nil
	case persistence.StageInProgress:
		return e.promptOutcome(p.CurrentTask)
	case persistence.StageIntroduced:
		if err := e.store.SetStage(ctx, id, persistence.StageIntroduced, persistence.StageInProgress, 0); err != nil {
			return Outcome{}, err
		}
		e.logger.Info("quest begun", "participant", id)
		return e.promptOutcome(0)
	default:
		return Outcome{Kind: OutcomeNotStarted}, nil
	}
}

// Submit validates an answer for the participant's current task and
// advances the session accordingly.
func (e *Engine) Submit(ctx context.Context, id int64, text string) (Outcome, error) {
	unlock := e.lockParticipant(id)
	defer unlock()

	started := time.Now()
	ctx, span := otelx.StartSpan(ctx, e.tracer, "engine.submit",
		otelx.AttrParticipantID.Int64(id),
	)
	defer func() {
		e.metrics.SubmitDuration.Record(ctx, time.Since(started).Seconds())
		span.End()
	}()

	p, err := e.store.GetParticipant(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if p == nil || p.Stage == persistence.StageIntroduced {
		return Outcome{Kind: OutcomeNotStarted}, nil
	}
	if p.Stage == persistence.StageCompleted {
		return e.completedOutcome(p), nil
	}

	index := p.CurrentTask
	span.SetAttributes(otelx.AttrTaskIndex.Int(index))

	verdict, err := e.catalog.Validate(index, text, p.Attempts)
	if err != nil {
		return Outcome{}, fmt.Errorf("validate answer for %d: %w", id, err)
	}
	span.SetAttributes(otelx.AttrVerdict.String(string(verdict.Kind)))

	switch verdict.Kind {
	case quest.VerdictRejected:
		e.metrics.AnswersRejected.Add(ctx, 1)
		e.logger.Info("answer rejected", "participant", id, "task", index)
		return Outcome{Kind: OutcomeRejected, TaskIndex: index, Reason: verdict.Reason}, nil

	case quest.VerdictPartialRetry:
		if err := e.store.SetAttempts(ctx, id, p.Attempts+1); err != nil {
			return Outcome{}, err
		}
		e.metrics.PuzzleRetries.Add(ctx, 1)
		e.logger.Info("answer retry granted", "participant", id, "task", index, "attempts_left", verdict.AttemptsLeft)
		return Outcome{
			Kind:         OutcomeRetry,
			TaskIndex:    index,
			Missing:      verdict.Missing,
			AttemptsLeft: verdict.AttemptsLeft,
		}, nil
	}

	// Accepted, possibly with a correction.
	forgiven := verdict.Kind == quest.VerdictAcceptedWithCorrection
	last := index == e.catalog.Count()-1
	nextTask := index + 1
	if last {
		// The cursor never leaves the catalog; completion is marked by
		// the ticket transaction instead.
		nextTask = index
	}
	if err := e.store.RecordAnswer(ctx, id, index, text, time.Now(), nextTask); err != nil {
		return Outcome{}, err
	}
	e.metrics.AnswersAccepted.Add(ctx, 1)
	if forgiven {
		e.metrics.PuzzleForgiven.Add(ctx, 1)
	}

	if !last {
		e.publish(bus.TopicQuestAdvanced, bus.QuestAdvancedEvent{
			ParticipantID: id,
			TaskIndex:     index,
			NextTask:      nextTask,
			Forgiven:      forgiven,
		})
		e.logger.Info("answer accepted", "participant", id, "task", index, "forgiven", forgiven)
		out, err := e.promptOutcome(nextTask)
		if err != nil {
			return Outcome{}, err
		}
		if forgiven {
			out.Kind = OutcomeCorrection
			out.Correction = verdict.Correction
		}
		return out, nil
	}

	return e.finish(ctx, id, p.DisplayName, verdict.Correction, forgiven)
}

// finish runs the completion critical section: allocate a ticket and
// mark the session completed atomically. On pool exhaustion the session
// stays in progress with the final answer recorded.
func (e *Engine) finish(ctx context.Context, id int64, displayName, correction string, forgiven bool) (Outcome, error) {
	ticket, err := e.allocator.Allocate(ctx, id, time.Now())
	if errors.Is(err, persistence.ErrPoolExhausted) {
		e.metrics.PoolExhaustions.Add(ctx, 1)
		e.publish(bus.TopicRaffleExhausted, bus.RaffleExhaustedEvent{
			ParticipantID: id,
			MaxTickets:    e.allocator.Max(),
		})
		e.logger.Warn("ticket pool exhausted", "participant", id, "max_tickets", e.allocator.Max())
		return Outcome{Kind: OutcomePoolExhausted, TaskIndex: e.catalog.Count() - 1}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	e.metrics.QuestsCompleted.Add(ctx, 1)
	e.metrics.TicketsIssued.Add(ctx, 1)
	e.metrics.ActiveSessions.Add(ctx, -1)
	e.publish(bus.TopicQuestCompleted, bus.QuestCompletedEvent{
		ParticipantID: id,
		DisplayName:   displayName,
		Ticket:        ticket,
	})
	e.logger.Info("quest completed", "participant", id, "ticket", ticket)

	out := Outcome{
		Kind:        OutcomeCompleted,
		TaskIndex:   e.catalog.Count() - 1,
		Ticket:      ticket,
		DisplayName: displayName,
	}
	if forgiven {
		out.Correction = correction
	}
	return out, nil
}

// Help records a help request and notifies organizers through the bus.
// Returns the request ID.
func (e *Engine) Help(ctx context.Context, who Identity, text string) (string, error) {
	p, err := e.store.GetParticipant(ctx, who.ID)
	if err != nil {
		return "", err
	}
	if p == nil {
		// Help is open to anyone, so register a session first.
		if err := e.store.CreateParticipant(ctx, who.ID, who.DisplayName, who.FullName, who.Handle, time.Now()); err != nil {
			return "", err
		}
	}

	requestID := uuid.NewString()
	if err := e.store.AddHelpRequest(ctx, requestID, who.ID, text, time.Now()); err != nil {
		return "", err
	}
	e.metrics.HelpRequests.Add(ctx, 1)
	e.publish(bus.TopicHelpRequested, bus.HelpRequestedEvent{
		RequestID:     requestID,
		ParticipantID: who.ID,
		DisplayName:   who.DisplayName,
		Handle:        who.Handle,
		Message:       text,
	})
	e.logger.Info("help requested", "participant", who.ID, "request", requestID)
	return requestID, nil
}

// Participant exposes the stored session for transports that need it.
func (e *Engine) Participant(ctx context.Context, id int64) (*persistence.Participant, error) {
	return e.store.GetParticipant(ctx, id)
}

// TaskCount returns the catalog length.
func (e *Engine) TaskCount() int {
	return e.catalog.Count()
}

func (e *Engine) promptOutcome(index int) (Outcome, error) {
	task, err := e.catalog.TaskAt(index)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: OutcomePrompt, TaskIndex: index, Prompt: task.Prompt}, nil
}

func (e *Engine) completedOutcome(p *persistence.Participant) Outcome {
	out := Outcome{Kind: OutcomeAlreadyCompleted, DisplayName: p.DisplayName}
	if p.Ticket != nil {
		out.Ticket = *p.Ticket
	}
	return out
}
