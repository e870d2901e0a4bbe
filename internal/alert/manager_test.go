package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"stationmon/internal/clock"
	"stationmon/internal/domain"
	"stationmon/internal/hub"
	"stationmon/internal/templatefmt"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []hub.Event
}

func (p *recordingPublisher) Publish(event hub.Event) hub.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	event.Seq = uint64(len(p.events) + 1)
	p.events = append(p.events, event)
	return event
}

func (p *recordingPublisher) kinds() []hub.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]hub.Kind, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Kind)
	}
	return out
}

func TestSeverityFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status domain.NodeStatus
		sensor domain.SensorType
		want   domain.AlertSeverity
	}{
		{domain.NodeStatusWarning, domain.SensorRadar, domain.SeverityMedium},
		{domain.NodeStatusCritical, domain.SensorRadar, domain.SeverityHigh},
		{domain.NodeStatusWarning, domain.SensorSmokeFire, domain.SeverityCritical},
		{domain.NodeStatusCritical, domain.SensorGas, domain.SeverityCritical},
	}
	for _, tt := range tests {
		if got := SeverityFor(tt.status, tt.sensor); got != tt.want {
			t.Fatalf("SeverityFor(%s, %s): expected %s, got %s", tt.status, tt.sensor, tt.want, got)
		}
	}
}

func TestRaiseCreatesAlertAndPublishes(t *testing.T) {
	t.Parallel()

	mgr, pub, _ := newTestManager(t)
	alert, err := mgr.Raise(radarTrigger(2.5, domain.NodeStatusWarning))
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if alert.ID != "alert-1" || alert.State != domain.AlertStateUnprocessed || alert.Severity != domain.SeverityMedium {
		t.Fatalf("unexpected alert %+v", alert)
	}
	if alert.Category != "radar" || alert.Source.StationID != "st-1" || alert.Source.SensorID != "XT-2-RADAR" {
		t.Fatalf("unexpected source/category %+v", alert)
	}
	if alert.Trigger.Threshold == nil || *alert.Trigger.Threshold != 2.0 {
		t.Fatalf("expected warning threshold snapshot, got %v", alert.Trigger.Threshold)
	}
	if alert.Message != "RADAR warning on node XT-2: 2.5 mm (threshold 2)" {
		t.Fatalf("unexpected message %q", alert.Message)
	}
	kinds := pub.kinds()
	if len(kinds) != 1 || kinds[0] != hub.KindAlertCreated {
		t.Fatalf("unexpected events %v", kinds)
	}

	second, err := mgr.Raise(radarTrigger(2.5, domain.NodeStatusWarning))
	if err != nil {
		t.Fatalf("raise second: %v", err)
	}
	if second.ID == alert.ID {
		t.Fatalf("expected no deduplication")
	}
	if got := len(mgr.List(Filter{})); got != 2 {
		t.Fatalf("expected 2 alerts, got %d", got)
	}
}

func TestRaiseRejectsNonAlarmingStatus(t *testing.T) {
	t.Parallel()

	mgr, _, _ := newTestManager(t)
	if _, err := mgr.Raise(radarTrigger(1, domain.NodeStatusOnline)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	t.Parallel()

	mgr, pub, clk := newTestManager(t)
	ctx := context.Background()
	alert, _ := mgr.Raise(radarTrigger(3.5, domain.NodeStatusCritical))

	clk.Advance(time.Minute)
	acked, err := mgr.Acknowledge(ctx, alert.ID, "op-1")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.AcknowledgedBy != "op-1" || acked.AcknowledgedAt == nil || !acked.AcknowledgedAt.Equal(clk.Now()) {
		t.Fatalf("unexpected ack fields %+v", acked)
	}
	if _, err := mgr.Start(ctx, alert.ID, ""); err != nil {
		t.Fatalf("start without actor: %v", err)
	}
	if _, err := mgr.Resolve(ctx, alert.ID, "op-2"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	closed, err := mgr.Close(ctx, alert.ID, "")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.State != domain.AlertStateClosed || closed.ClosedAt == nil {
		t.Fatalf("unexpected closed alert %+v", closed)
	}

	want := []hub.Kind{hub.KindAlertCreated, hub.KindAlertTransitioned, hub.KindAlertTransitioned, hub.KindAlertTransitioned, hub.KindAlertTransitioned}
	if got := pub.kinds(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestResolveDirectlyFromAcknowledged(t *testing.T) {
	t.Parallel()

	mgr, _, _ := newTestManager(t)
	ctx := context.Background()
	alert, _ := mgr.Raise(radarTrigger(2.5, domain.NodeStatusWarning))
	if _, err := mgr.Acknowledge(ctx, alert.ID, "op"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	resolved, err := mgr.Resolve(ctx, alert.ID, "op")
	if err != nil || resolved.State != domain.AlertStateResolved || resolved.StartedAt != nil {
		t.Fatalf("unexpected resolve result %+v err=%v", resolved, err)
	}
}

func TestIllegalTransitionsLeaveAlertUnchanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tests := []struct {
		name  string
		setup []string
		op    string
		actor string
		from  domain.AlertState
	}{
		{name: "start unprocessed", op: "start", actor: "op", from: domain.AlertStateUnprocessed},
		{name: "resolve unprocessed", op: "resolve", actor: "op", from: domain.AlertStateUnprocessed},
		{name: "close unprocessed", op: "close", from: domain.AlertStateUnprocessed},
		{name: "acknowledge without actor", op: "acknowledge", from: domain.AlertStateUnprocessed},
		{name: "acknowledge twice", setup: []string{"acknowledge"}, op: "acknowledge", actor: "op", from: domain.AlertStateAcknowledged},
		{name: "resolve without actor", setup: []string{"acknowledge"}, op: "resolve", from: domain.AlertStateAcknowledged},
		{name: "close acknowledged", setup: []string{"acknowledge"}, op: "close", from: domain.AlertStateAcknowledged},
		{name: "reopen closed", setup: []string{"acknowledge", "resolve", "close"}, op: "acknowledge", actor: "op", from: domain.AlertStateClosed},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mgr, _, _ := newTestManager(t)
			alert, _ := mgr.Raise(radarTrigger(2.5, domain.NodeStatusWarning))
			for _, step := range tt.setup {
				if _, err := apply(ctx, mgr, step, alert.ID, "op"); err != nil {
					t.Fatalf("setup %s: %v", step, err)
				}
			}
			before, _ := mgr.Get(alert.ID)

			_, err := apply(ctx, mgr, tt.op, alert.ID, tt.actor)
			var invalid *InvalidTransitionError
			if !errors.As(err, &invalid) || !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected InvalidTransitionError, got %v", err)
			}
			if invalid.From != tt.from {
				t.Fatalf("expected from %s, got %s", tt.from, invalid.From)
			}
			after, _ := mgr.Get(alert.ID)
			if !reflect.DeepEqual(before, after) {
				t.Fatalf("alert mutated by failed transition")
			}
		})
	}
}

func TestUnknownAlertIsNotFound(t *testing.T) {
	t.Parallel()

	mgr, _, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := mgr.Acknowledge(ctx, "missing", "op"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := mgr.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := mgr.AddNote(ctx, "missing", "op", "text"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddNote(t *testing.T) {
	t.Parallel()

	mgr, pub, _ := newTestManager(t)
	ctx := context.Background()
	alert, _ := mgr.Raise(radarTrigger(2.5, domain.NodeStatusWarning))

	if _, err := mgr.AddNote(ctx, alert.ID, "op", "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	updated, err := mgr.AddNote(ctx, alert.ID, "op", "crew dispatched")
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	if len(updated.Notes) != 1 || updated.Notes[0].Text != "crew dispatched" || updated.State != domain.AlertStateUnprocessed {
		t.Fatalf("unexpected alert after note %+v", updated)
	}
	if kinds := pub.kinds(); kinds[len(kinds)-1] != hub.KindAlertTransitioned {
		t.Fatalf("expected alert.transitioned after note, got %v", kinds)
	}

	for _, step := range []string{"acknowledge", "resolve", "close"} {
		if _, err := apply(ctx, mgr, step, alert.ID, "op"); err != nil {
			t.Fatalf("%s: %v", step, err)
		}
	}
	if _, err := mgr.AddNote(ctx, alert.ID, "op", "late"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on closed alert, got %v", err)
	}
}

func TestListFilter(t *testing.T) {
	t.Parallel()

	mgr, _, _ := newTestManager(t)
	ctx := context.Background()
	first, _ := mgr.Raise(radarTrigger(2.5, domain.NodeStatusWarning))
	_, _ = mgr.Raise(radarTrigger(3.5, domain.NodeStatusCritical))
	other := radarTrigger(3.5, domain.NodeStatusCritical)
	other.Node.ID = "XT-9"
	_, _ = mgr.Raise(other)
	_, _ = mgr.Acknowledge(ctx, first.ID, "op")

	if got := mgr.List(Filter{Severity: domain.SeverityHigh}); len(got) != 2 {
		t.Fatalf("expected 2 high alerts, got %d", len(got))
	}
	if got := mgr.List(Filter{State: domain.AlertStateAcknowledged}); len(got) != 1 || got[0].ID != first.ID {
		t.Fatalf("unexpected acknowledged list %+v", got)
	}
	if got := mgr.List(Filter{NodeID: "XT-9", Severity: domain.SeverityHigh}); len(got) != 1 {
		t.Fatalf("expected 1 alert for XT-9, got %d", len(got))
	}
	all := mgr.List(Filter{})
	if all[0].ID != "alert-1" || all[2].ID != "alert-3" {
		t.Fatalf("expected creation order, got %s..%s", all[0].ID, all[2].ID)
	}
}

func TestCustomTemplateAndRenderFallback(t *testing.T) {
	t.Parallel()

	tpl, err := templatefmt.ParseAlertTemplate("custom", "[{{ .Severity }}] {{ .NodeName }}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	mgr := NewManager(NewStore(), &recordingPublisher{}, Options{Template: tpl, Logger: discardLogger()})
	alert, _ := mgr.Raise(radarTrigger(2.5, domain.NodeStatusWarning))
	if alert.Message != "[medium] Joint 2" {
		t.Fatalf("unexpected custom message %q", alert.Message)
	}

	broken, _ := templatefmt.ParseAlertTemplate("broken", "{{ .Nope }}")
	mgr = NewManager(NewStore(), &recordingPublisher{}, Options{Template: broken, Logger: discardLogger()})
	alert, _ = mgr.Raise(radarTrigger(2.5, domain.NodeStatusWarning))
	if alert.Message != "radar warning on node XT-2" {
		t.Fatalf("unexpected fallback message %q", alert.Message)
	}
}

func TestConcurrentTransitionsOnlyOneWins(t *testing.T) {
	t.Parallel()

	mgr, _, _ := newTestManager(t)
	alert, _ := mgr.Raise(radarTrigger(2.5, domain.NodeStatusWarning))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := mgr.Acknowledge(context.Background(), alert.ID, fmt.Sprintf("op-%d", i)); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one acknowledge to succeed, got %d", wins)
	}
}

func apply(ctx context.Context, mgr *Manager, op, id, actor string) (domain.Alert, error) {
	switch op {
	case "acknowledge":
		return mgr.Acknowledge(ctx, id, actor)
	case "start":
		return mgr.Start(ctx, id, actor)
	case "resolve":
		return mgr.Resolve(ctx, id, actor)
	case "close":
		return mgr.Close(ctx, id, actor)
	default:
		return domain.Alert{}, fmt.Errorf("unknown op %q", op)
	}
}

func radarTrigger(value float64, status domain.NodeStatus) Trigger {
	warn, crit := 2.0, 3.0
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return Trigger{
		StationID: "st-1",
		LineID:    "ln-1",
		Node:      domain.Node{ID: "XT-2", Name: "Joint 2", LineID: "ln-1"},
		Sensor: domain.Sensor{
			ID:                "XT-2-RADAR",
			NodeID:            "XT-2",
			Type:              domain.SensorRadar,
			Unit:              "mm",
			WarningThreshold:  &warn,
			CriticalThreshold: &crit,
			CurrentValue:      &value,
			LastReading:       &at,
			Enabled:           true,
		},
		NodeStatus: status,
	}
}

func newTestManager(t *testing.T) (*Manager, *recordingPublisher, *clock.Manual) {
	t.Helper()

	pub := &recordingPublisher{}
	clk := clock.NewManual(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	var mu sync.Mutex
	next := 0
	mgr := NewManager(NewStore(), pub, Options{
		Clock:  clk,
		Logger: discardLogger(),
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			next++
			return fmt.Sprintf("alert-%d", next)
		},
	})
	return mgr, pub, clk
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
