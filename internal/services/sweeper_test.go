package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pkaramol/go-credits-backend/internal/config"
	"github.com/pkaramol/go-credits-backend/internal/domain"
)

// fakeWorkQueue serves a fixed backlog and records the transitions the
// sweeper applies.
type fakeWorkQueue struct {
	mu        sync.Mutex
	backlog   []*domain.RefundFailure
	claims    int
	resolved  []string
	released  []string
	escalated []string
	panicOn   bool
}

func (q *fakeWorkQueue) ClaimNextPending(_ context.Context, _, _ int) *domain.RefundFailure {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.panicOn {
		panic("store exploded")
	}
	q.claims++
	if len(q.backlog) == 0 {
		return nil
	}
	rec := q.backlog[0]
	q.backlog = q.backlog[1:]
	return rec
}

func (q *fakeWorkQueue) MarkResolved(_ context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resolved = append(q.resolved, key)
	return nil
}

func (q *fakeWorkQueue) ReleaseForRetry(_ context.Context, key, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = append(q.released, key)
	return nil
}

func (q *fakeWorkQueue) MarkEscalated(_ context.Context, key, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.escalated = append(q.escalated, key)
	return nil
}

type fakeAlertSink struct {
	mu     sync.Mutex
	names  []string
	labels []map[string]string
}

func (a *fakeAlertSink) RecordAlert(name string, labels map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.names = append(a.names, name)
	a.labels = append(a.labels, labels)
}

func newSweeper(credits CreditRefunder, q FailureWorkQueue, alerts *fakeAlertSink) *CreditRefundSweeper {
	return &CreditRefundSweeper{
		Credits:     credits,
		Failures:    q,
		Alerts:      alerts,
		Log:         zerolog.Nop(),
		Interval:    time.Minute,
		MaxPerRun:   25,
		MaxAttempts: 5,
	}
}

func TestRunOnce_SuccessResolves(t *testing.T) {
	q := &fakeWorkQueue{backlog: []*domain.RefundFailure{
		{RefundKey: "job:1", UserID: "u1", Amount: 10, Attempts: 2},
	}}
	alerts := &fakeAlertSink{}
	s := newSweeper(&fakeRefunder{}, q, alerts)

	s.RunOnce(context.Background())

	if len(q.resolved) != 1 || q.resolved[0] != "job:1" {
		t.Fatalf("resolved = %v, want [job:1]", q.resolved)
	}
	if len(q.released) != 0 || len(q.escalated) != 0 {
		t.Fatalf("no release/escalate expected: %v %v", q.released, q.escalated)
	}
	if len(alerts.names) != 0 {
		t.Fatalf("no alert expected on success")
	}
}

func TestRunOnce_FailureReleasesForRetry(t *testing.T) {
	q := &fakeWorkQueue{backlog: []*domain.RefundFailure{
		{RefundKey: "job:1", UserID: "u1", Amount: 10, Attempts: 1},
	}}
	s := newSweeper(&fakeRefunder{failures: 100}, q, &fakeAlertSink{})

	s.RunOnce(context.Background())

	if len(q.released) != 1 || q.released[0] != "job:1" {
		t.Fatalf("released = %v, want [job:1]", q.released)
	}
	if len(q.escalated) != 0 || len(q.resolved) != 0 {
		t.Fatalf("unexpected transitions: resolved=%v escalated=%v", q.resolved, q.escalated)
	}
}

func TestRunOnce_FinalFailureEscalatesAndAlertsOnce(t *testing.T) {
	// Attempts 4 with MaxAttempts 5: this failed run is the fifth and last.
	q := &fakeWorkQueue{backlog: []*domain.RefundFailure{
		{RefundKey: "job:1", UserID: "u1", Amount: 75, Attempts: 4},
	}}
	alerts := &fakeAlertSink{}
	s := newSweeper(&fakeRefunder{failures: 100}, q, alerts)

	s.RunOnce(context.Background())

	if len(q.escalated) != 1 || q.escalated[0] != "job:1" {
		t.Fatalf("escalated = %v, want [job:1]", q.escalated)
	}
	if len(alerts.names) != 1 {
		t.Fatalf("alerts fired %d times, want exactly 1", len(alerts.names))
	}
	if alerts.names[0] != AlertCreditRefundEscalated {
		t.Fatalf("alert name = %q", alerts.names[0])
	}
	l := alerts.labels[0]
	if l["refund_key"] != "job:1" || l["user_id"] != "u1" || l["amount"] != "75" || l["attempts"] != "5" {
		t.Fatalf("alert labels = %v", l)
	}
}

func TestRunOnce_DrainsUpToMaxPerRun(t *testing.T) {
	backlog := make([]*domain.RefundFailure, 10)
	for i := range backlog {
		backlog[i] = &domain.RefundFailure{RefundKey: "job", UserID: "u", Amount: 1}
	}
	q := &fakeWorkQueue{backlog: backlog}
	s := newSweeper(&fakeRefunder{}, q, &fakeAlertSink{})
	s.MaxPerRun = 3

	s.RunOnce(context.Background())

	if len(q.resolved) != 3 {
		t.Fatalf("processed %d records, want 3", len(q.resolved))
	}
	if len(q.backlog) != 7 {
		t.Fatalf("backlog = %d, want 7 left over", len(q.backlog))
	}
}

func TestRunOnce_StopsWhenQueueEmpty(t *testing.T) {
	q := &fakeWorkQueue{}
	s := newSweeper(&fakeRefunder{}, q, &fakeAlertSink{})

	s.RunOnce(context.Background())

	if q.claims != 1 {
		t.Fatalf("claims = %d, want 1 (stop on first empty claim)", q.claims)
	}
}

func TestRunOnce_OverlapCollapsed(t *testing.T) {
	s := newSweeper(&fakeRefunder{}, &fakeWorkQueue{}, &fakeAlertSink{})

	// Simulate an in-flight run; the overlapping call must return without
	// touching the queue.
	s.running.Store(true)
	q := s.Failures.(*fakeWorkQueue)
	s.RunOnce(context.Background())
	if q.claims != 0 {
		t.Fatalf("overlapping run must be a no-op, saw %d claims", q.claims)
	}

	s.running.Store(false)
	s.RunOnce(context.Background())
	if q.claims != 1 {
		t.Fatalf("claims = %d after guard released, want 1", q.claims)
	}
}

func TestRunOnce_RecoversFromPanic(t *testing.T) {
	q := &fakeWorkQueue{panicOn: true}
	s := newSweeper(&fakeRefunder{}, q, &fakeAlertSink{})

	// Must not propagate the panic.
	s.RunOnce(context.Background())

	// The run guard must have been released despite the panic.
	q.panicOn = false
	s.RunOnce(context.Background())
	if q.claims != 1 {
		t.Fatalf("guard not released after panic, claims = %d", q.claims)
	}
}

func TestStartStop_Lifecycle(t *testing.T) {
	q := &fakeWorkQueue{}
	s := newSweeper(&fakeRefunder{}, q, &fakeAlertSink{})
	s.Interval = 20 * time.Millisecond

	s.Start()
	s.Start() // second Start must not double-schedule
	time.Sleep(70 * time.Millisecond)
	s.Stop()
	s.Stop() // idempotent

	q.mu.Lock()
	claims := q.claims
	q.mu.Unlock()
	// One immediate run plus interval ticks. A double-scheduled sweeper
	// would roughly double this.
	if claims < 2 || claims > 6 {
		t.Fatalf("claims = %d, want a single schedule's worth (2..6)", claims)
	}

	// Nothing runs after Stop.
	time.Sleep(50 * time.Millisecond)
	q.mu.Lock()
	after := q.claims
	q.mu.Unlock()
	if after != claims {
		t.Fatalf("sweeper still running after Stop: %d -> %d", claims, after)
	}
}

func TestNewSweeperFromConfig(t *testing.T) {
	credits := &fakeRefunder{}
	q := &fakeWorkQueue{}
	alerts := &fakeAlertSink{}

	base := config.SweeperConfig{Enabled: true, Interval: time.Minute, MaxPerRun: 25, MaxAttempts: 5}

	if s := NewSweeperFromConfig(base, credits, q, alerts, zerolog.Nop()); s == nil {
		t.Fatalf("valid config must build a sweeper")
	} else if s.Interval != time.Minute || s.MaxPerRun != 25 || s.MaxAttempts != 5 {
		t.Fatalf("settings not applied: %+v", s)
	}

	for name, cfg := range map[string]config.SweeperConfig{
		"disabled":      {Enabled: false, Interval: time.Minute, MaxPerRun: 25, MaxAttempts: 5},
		"zero_interval": {Enabled: true, Interval: 0, MaxPerRun: 25, MaxAttempts: 5},
		"zero_per_run":  {Enabled: true, Interval: time.Minute, MaxPerRun: 0, MaxAttempts: 5},
		"zero_budget":   {Enabled: true, Interval: time.Minute, MaxPerRun: 25, MaxAttempts: 0},
	} {
		if s := NewSweeperFromConfig(cfg, credits, q, alerts, zerolog.Nop()); s != nil {
			t.Fatalf("%s: expected nil sweeper", name)
		}
	}
}
