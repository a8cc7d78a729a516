package otel

import (
	"context"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.SubmitDuration == nil {
		t.Error("SubmitDuration is nil")
	}
	if m.AnswersAccepted == nil {
		t.Error("AnswersAccepted is nil")
	}
	if m.AnswersRejected == nil {
		t.Error("AnswersRejected is nil")
	}
	if m.PuzzleRetries == nil {
		t.Error("PuzzleRetries is nil")
	}
	if m.PuzzleForgiven == nil {
		t.Error("PuzzleForgiven is nil")
	}
	if m.QuestsStarted == nil {
		t.Error("QuestsStarted is nil")
	}
	if m.QuestsCompleted == nil {
		t.Error("QuestsCompleted is nil")
	}
	if m.TicketsIssued == nil {
		t.Error("TicketsIssued is nil")
	}
	if m.PoolExhaustions == nil {
		t.Error("PoolExhaustions is nil")
	}
	if m.HelpRequests == nil {
		t.Error("HelpRequests is nil")
	}
	if m.ActiveSessions == nil {
		t.Error("ActiveSessions is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	// Disabled OTel returns a noop meter; metrics must still build.
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}
