package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thinkscotty/daybook/internal/ai"
	"github.com/thinkscotty/daybook/internal/config"
	"github.com/thinkscotty/daybook/internal/metrics"
	"github.com/thinkscotty/daybook/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	created  []models.RunRecord
	finished []models.RunRecord
}

func (f *fakeStore) CreateRun(rec *models.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *rec)
	return nil
}

func (f *fakeStore) FinishRun(rec *models.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, *rec)
	return nil
}

func (f *fakeStore) counts() (created, finished int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created), len(f.finished)
}

func (f *fakeStore) lastFinished() (models.RunRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.finished) == 0 {
		return models.RunRecord{}, false
	}
	return f.finished[len(f.finished)-1], true
}

type fakeCollector struct {
	snap  models.Snapshot
	block chan struct{}
	calls atomic.Int32
}

func (f *fakeCollector) Collect(ctx context.Context, kind models.RunKind) models.Snapshot {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	snap := f.snap
	snap.Kind = kind
	snap.TakenAt = time.Now()
	return snap
}

type fakeGenerator struct {
	gen    models.Generation
	err    error
	panics bool
	calls  atomic.Int32
}

func (f *fakeGenerator) Generate(ctx context.Context, req ai.Request) (models.Generation, error) {
	f.calls.Add(1)
	if f.panics {
		panic("generator exploded")
	}
	if err := ctx.Err(); err != nil {
		return models.Generation{}, err
	}
	if f.err != nil {
		return models.Generation{}, f.err
	}
	return f.gen, nil
}

func (f *fakeGenerator) Len() int { return 2 }

type fakeDeliverer struct {
	del   models.Delivery
	err   error
	calls atomic.Int32
}

func (f *fakeDeliverer) Deliver(ctx context.Context, text string) (models.Delivery, error) {
	f.calls.Add(1)
	if f.err != nil {
		return models.Delivery{}, f.err
	}
	return f.del, nil
}

func healthySnapshot() models.Snapshot {
	return models.Snapshot{
		Results: []models.SourceResult{
			{Source: "calendar", Status: models.SourceOK, Payload: map[string]any{"events_today": 1}},
			{Source: "news", Status: models.SourceSkipped},
		},
	}
}

type testEnv struct {
	s   *Scheduler
	st  *fakeStore
	col *fakeCollector
	gen *fakeGenerator
	del *fakeDeliverer
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Schedule.Timezone = "UTC"
	if mutate != nil {
		mutate(&cfg)
	}
	st := &fakeStore{}
	col := &fakeCollector{snap: healthySnapshot()}
	gen := &fakeGenerator{gen: models.Generation{Text: "digest text", ProviderName: "ollama"}}
	del := &fakeDeliverer{del: models.Delivery{Attempts: 1, Transport: "bot"}}
	s, err := New(cfg, st, col, gen, del, metrics.New(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &testEnv{s: s, st: st, col: col, gen: gen, del: del}
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNextAfter(t *testing.T) {
	loc := time.UTC
	base := time.Date(2025, time.June, 2, 8, 0, 0, 0, loc)

	tests := []struct {
		name string
		t    time.Time
		hhmm string
		want time.Time
	}{
		{"later today", base, "09:30", time.Date(2025, time.June, 2, 9, 30, 0, 0, loc)},
		{"already passed", base, "07:00", time.Date(2025, time.June, 3, 7, 0, 0, 0, loc)},
		{"exactly now rolls forward", base, "08:00", time.Date(2025, time.June, 3, 8, 0, 0, 0, loc)},
		{"month boundary", time.Date(2025, time.June, 30, 23, 0, 0, 0, loc), "07:00", time.Date(2025, time.July, 1, 7, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextAfter(tt.t, tt.hhmm, loc)
			if !got.Equal(tt.want) {
				t.Errorf("nextAfter(%v, %q) = %v, want %v", tt.t, tt.hhmm, got, tt.want)
			}
		})
	}
}

func TestNextAfterDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable:", err)
	}

	// Spring forward 2025: clocks jump 02:00 -> 03:00 on March 9. The 07:00
	// trigger must land at 07:00 local even though only 8 real hours pass.
	before := time.Date(2025, time.March, 8, 22, 0, 0, 0, loc)
	next := nextAfter(before, "07:00", loc)
	if next.Hour() != 7 || next.Minute() != 0 {
		t.Errorf("spring forward: next = %v, want 07:00 local", next)
	}
	if got := next.Sub(before); got != 8*time.Hour {
		t.Errorf("spring forward: elapsed = %v, want 8h", got)
	}

	// Fall back 2025: clocks repeat 01:00-02:00 on November 2, so 9 wall
	// hours take 10 real hours.
	before = time.Date(2025, time.November, 1, 22, 0, 0, 0, loc)
	next = nextAfter(before, "07:00", loc)
	if next.Hour() != 7 {
		t.Errorf("fall back: next = %v, want 07:00 local", next)
	}
	if got := next.Sub(before); got != 10*time.Hour {
		t.Errorf("fall back: elapsed = %v, want 10h", got)
	}
}

func TestRunNowDelivered(t *testing.T) {
	env := newTestEnv(t, nil)

	outcome, err := env.s.RunNow(context.Background(), models.KindMorning)
	if err != nil {
		t.Fatalf("RunNow() error: %v", err)
	}
	if outcome != models.OutcomeDelivered {
		t.Errorf("outcome = %v, want %v", outcome, models.OutcomeDelivered)
	}

	rec, ok := env.st.lastFinished()
	if !ok {
		t.Fatal("no finished run recorded")
	}
	if rec.Outcome != models.OutcomeDelivered {
		t.Errorf("record outcome = %v, want delivered", rec.Outcome)
	}
	if rec.Kind != models.KindMorning || rec.Trigger != models.TriggerManual {
		t.Errorf("record kind/trigger = %v/%v, want morning/manual", rec.Kind, rec.Trigger)
	}
	if rec.ProviderName != "ollama" {
		t.Errorf("provider = %q, want ollama", rec.ProviderName)
	}
	if rec.DeliveryAttempts != 1 {
		t.Errorf("delivery attempts = %d, want 1", rec.DeliveryAttempts)
	}
	if rec.FinishedAt == nil {
		t.Error("finished run has no finished_at")
	}
	if !strings.Contains(rec.SourceSummary, `"source":"calendar"`) ||
		!strings.Contains(rec.SourceSummary, `"status":"ok"`) {
		t.Errorf("source summary missing entries: %s", rec.SourceSummary)
	}
}

func TestRunNowAggregationPartial(t *testing.T) {
	env := newTestEnv(t, nil)
	env.col.snap = models.Snapshot{
		Results: []models.SourceResult{
			{Source: "calendar", Status: models.SourceOK},
			{Source: "news", Status: models.SourceFailed, Error: "news: upstream_unavailable: status 503"},
		},
	}

	outcome, err := env.s.RunNow(context.Background(), models.KindEvening)
	if err != nil {
		t.Fatalf("RunNow() error: %v", err)
	}
	if outcome != models.OutcomeAggregationPartial {
		t.Errorf("outcome = %v, want %v", outcome, models.OutcomeAggregationPartial)
	}
	if env.del.calls.Load() != 1 {
		t.Errorf("delivery calls = %d, want 1 (partial snapshots still deliver)", env.del.calls.Load())
	}
}

func TestRunNowGenerationFailed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gen.err = errors.New("all providers failed: ollama: unreachable: connection refused")

	outcome, err := env.s.RunNow(context.Background(), models.KindMorning)
	if err != nil {
		t.Fatalf("RunNow() error: %v", err)
	}
	if outcome != models.OutcomeGenerationFailed {
		t.Errorf("outcome = %v, want %v", outcome, models.OutcomeGenerationFailed)
	}
	if env.del.calls.Load() != 0 {
		t.Errorf("delivery calls = %d, want 0 after generation failure", env.del.calls.Load())
	}
	rec, _ := env.st.lastFinished()
	if !strings.Contains(rec.Error, "all providers failed") {
		t.Errorf("record error = %q, want provider failure", rec.Error)
	}
}

func TestRunNowDeliveryFailed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.del.err = errors.New("slack API error: invalid_auth")

	outcome, err := env.s.RunNow(context.Background(), models.KindMorning)
	if err != nil {
		t.Fatalf("RunNow() error: %v", err)
	}
	if outcome != models.OutcomeDeliveryFailed {
		t.Errorf("outcome = %v, want %v", outcome, models.OutcomeDeliveryFailed)
	}
}

func TestRunPanicIsRecovered(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gen.panics = true

	outcome, err := env.s.RunNow(context.Background(), models.KindMorning)
	if err != nil {
		t.Fatalf("RunNow() error: %v", err)
	}
	if outcome != models.OutcomeFailed {
		t.Errorf("outcome = %v, want %v", outcome, models.OutcomeFailed)
	}
	rec, ok := env.st.lastFinished()
	if !ok {
		t.Fatal("panicked run was not finalized")
	}
	if !strings.Contains(rec.Error, "panicked") {
		t.Errorf("record error = %q, want panic note", rec.Error)
	}
}

func TestSingleRunPerDigest(t *testing.T) {
	env := newTestEnv(t, nil)
	env.col.block = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.s.RunNow(context.Background(), models.KindMorning)
	}()

	waitFor(t, 2*time.Second, func() bool { return env.col.calls.Load() == 1 })

	if _, err := env.s.TriggerNow(context.Background(), models.KindMorning); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("TriggerNow during active run: err = %v, want ErrAlreadyRunning", err)
	}
	if _, err := env.s.RunNow(context.Background(), models.KindMorning); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("RunNow during active run: err = %v, want ErrAlreadyRunning", err)
	}

	close(env.col.block)
	<-done

	created, finished := env.st.counts()
	if created != 1 || finished != 1 {
		t.Errorf("run records created/finished = %d/%d, want 1/1", created, finished)
	}
}

func TestTriggerNowReturnsRunID(t *testing.T) {
	env := newTestEnv(t, nil)

	id, err := env.s.TriggerNow(context.Background(), models.KindEvening)
	if err != nil {
		t.Fatalf("TriggerNow() error: %v", err)
	}
	if id == "" {
		t.Fatal("TriggerNow() returned empty run ID")
	}

	waitFor(t, 2*time.Second, func() bool {
		_, finished := env.st.counts()
		return finished == 1
	})
	rec, _ := env.st.lastFinished()
	if rec.ID != id {
		t.Errorf("finished run ID = %q, want %q", rec.ID, id)
	}
	if rec.Trigger != models.TriggerManual {
		t.Errorf("trigger = %v, want manual", rec.Trigger)
	}
}

func TestRunBudgetOverrun(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Schedule.RunBudgetSeconds = 1
	})
	env.col.block = make(chan struct{}) // never closed; only the budget frees it

	start := time.Now()
	outcome, err := env.s.RunNow(context.Background(), models.KindMorning)
	if err != nil {
		t.Fatalf("RunNow() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("run took %v, want forced termination near the 1s budget", elapsed)
	}
	if outcome != models.OutcomeFailed {
		t.Errorf("outcome = %v, want %v", outcome, models.OutcomeFailed)
	}
	rec, _ := env.st.lastFinished()
	if !strings.Contains(rec.Error, "overrun") {
		t.Errorf("record error = %q, want overrun", rec.Error)
	}
}

func TestRunBudgetDerivation(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Aggregate.SourceTimeoutSeconds = 30
		cfg.Generation.ProviderTimeoutSeconds = 60
		cfg.Slack.Retries = 3
		cfg.Slack.BackoffSeconds = 2
		cfg.Schedule.RunBudgetSeconds = 0
	})

	// Two source waves (60) + 2 providers x 60 (120) + 4 delivery attempts
	// x 30 plus 14s backoff (134) + 30 margin.
	if got, want := env.s.runBudget(), 344*time.Second; got != want {
		t.Errorf("runBudget() = %v, want %v", got, want)
	}

	env2 := newTestEnv(t, func(cfg *config.Config) {
		cfg.Schedule.RunBudgetSeconds = 120
	})
	if got, want := env2.s.runBudget(), 120*time.Second; got != want {
		t.Errorf("runBudget() with override = %v, want %v", got, want)
	}
}

func TestEvaluateFiresWithinGrace(t *testing.T) {
	env := newTestEnv(t, nil)
	due := time.Date(2025, time.June, 2, 7, 0, 0, 0, time.UTC)
	env.s.now = func() time.Time { return due.Add(2 * time.Minute) }
	env.s.slots[models.KindMorning].due = due
	env.s.slots[models.KindEvening].due = time.Date(2025, time.June, 2, 21, 0, 0, 0, time.UTC)

	env.s.evaluate(context.Background())

	waitFor(t, 2*time.Second, func() bool {
		_, finished := env.st.counts()
		return finished == 1
	})
	rec, _ := env.st.lastFinished()
	if rec.Kind != models.KindMorning || rec.Trigger != models.TriggerSchedule {
		t.Errorf("fired kind/trigger = %v/%v, want morning/schedule", rec.Kind, rec.Trigger)
	}

	// The morning slot must already point at the next day.
	for _, st := range env.s.Status() {
		if st.Kind == models.KindMorning && st.NextDue.Day() != 3 {
			t.Errorf("morning next due = %v, want June 3", st.NextDue)
		}
	}
}

func TestEvaluateMissesOutsideGrace(t *testing.T) {
	env := newTestEnv(t, nil)
	due := time.Date(2025, time.June, 2, 7, 0, 0, 0, time.UTC)
	env.s.now = func() time.Time { return due.Add(10 * time.Minute) } // past the 300s grace
	env.s.slots[models.KindMorning].due = due
	env.s.slots[models.KindEvening].due = time.Date(2025, time.June, 2, 21, 0, 0, 0, time.UTC)

	env.s.evaluate(context.Background())

	// A missed trigger starts nothing and leaves no record.
	time.Sleep(50 * time.Millisecond)
	created, _ := env.st.counts()
	if created != 0 {
		t.Errorf("run records created = %d, want 0 for a missed trigger", created)
	}
	for _, st := range env.s.Status() {
		if st.Kind != models.KindMorning {
			continue
		}
		if st.State != StateIdle {
			t.Errorf("morning state = %v, want idle", st.State)
		}
		if st.NextDue.Day() != 3 {
			t.Errorf("morning next due = %v, want June 3", st.NextDue)
		}
	}
}

func TestEvaluateBeforeDueDoesNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	due := time.Date(2025, time.June, 2, 7, 0, 0, 0, time.UTC)
	env.s.now = func() time.Time { return due.Add(-time.Hour) }
	env.s.slots[models.KindMorning].due = due
	env.s.slots[models.KindEvening].due = due.Add(14 * time.Hour)

	env.s.evaluate(context.Background())

	time.Sleep(50 * time.Millisecond)
	if created, _ := env.st.counts(); created != 0 {
		t.Errorf("run records created = %d, want 0 before due time", created)
	}
}

func TestStatusTracksRuns(t *testing.T) {
	env := newTestEnv(t, nil)

	statuses := env.s.Status()
	if len(statuses) != 2 {
		t.Fatalf("Status() returned %d entries, want 2", len(statuses))
	}
	if statuses[0].Kind != models.KindMorning || statuses[1].Kind != models.KindEvening {
		t.Errorf("status order = %v, %v, want morning then evening", statuses[0].Kind, statuses[1].Kind)
	}
	for _, st := range statuses {
		if st.State != StateIdle {
			t.Errorf("%s initial state = %v, want idle", st.Kind, st.State)
		}
	}

	if _, err := env.s.RunNow(context.Background(), models.KindMorning); err != nil {
		t.Fatalf("RunNow() error: %v", err)
	}

	for _, st := range env.s.Status() {
		if st.Kind != models.KindMorning {
			continue
		}
		if st.State != StateCompleted {
			t.Errorf("morning state after run = %v, want completed", st.State)
		}
		if st.LastOutcome != models.OutcomeDelivered {
			t.Errorf("morning last outcome = %v, want delivered", st.LastOutcome)
		}
		if st.LastRunID == "" {
			t.Error("morning last run ID is empty")
		}
	}
}

func TestErrorTaxonomy(t *testing.T) {
	overrun := &Error{Kind: Overrun, Digest: models.KindMorning, Err: context.DeadlineExceeded}
	if got := overrun.Error(); !strings.Contains(got, "overrun") {
		t.Errorf("Error() = %q, want overrun mention", got)
	}
	if !IsKind(overrun, Overrun) {
		t.Error("IsKind(overrun, Overrun) = false, want true")
	}
	if IsKind(overrun, MissedTrigger) {
		t.Error("IsKind(overrun, MissedTrigger) = true, want false")
	}
	if !errors.Is(overrun, context.DeadlineExceeded) {
		t.Error("wrapped cause not reachable through errors.Is")
	}
}
