// Package scheduler drives the two daily digest runs. It recomputes wall-clock
// trigger times in the configured timezone, enforces a single in-flight run per
// digest, and walks each run through aggregation, generation, and delivery
// under a total time budget.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thinkscotty/daybook/internal/ai"
	"github.com/thinkscotty/daybook/internal/config"
	"github.com/thinkscotty/daybook/internal/metrics"
	"github.com/thinkscotty/daybook/internal/models"
)

const tickInterval = 30 * time.Second

// deliveryAttemptCeiling matches the delivery client's per-request HTTP
// timeout and bounds the worst-case time a single delivery attempt can take.
const deliveryAttemptCeiling = 30 * time.Second

// ErrAlreadyRunning is returned by manual triggers when a run for the same
// digest is still in flight.
var ErrAlreadyRunning = errors.New("digest run already in progress")

type ErrorKind string

const (
	// Overrun means a run was force-terminated by its time budget.
	Overrun ErrorKind = "overrun"
	// MissedTrigger means a scheduled trigger passed without starting a run.
	MissedTrigger ErrorKind = "missed_trigger"
)

type Error struct {
	Kind   ErrorKind
	Digest models.RunKind
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s digest %s: %v", e.Digest, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s digest %s", e.Digest, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func IsKind(err error, kind ErrorKind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

type DigestState string

const (
	StateIdle      DigestState = "idle"
	StateDue       DigestState = "due"
	StateRunning   DigestState = "running"
	StateCompleted DigestState = "completed"
	StateFailed    DigestState = "failed"
)

// DigestStatus is a point-in-time view of one digest's slot, as reported by
// the status endpoint.
type DigestStatus struct {
	Kind        models.RunKind    `json:"kind"`
	State       DigestState       `json:"state"`
	NextDue     time.Time         `json:"next_due"`
	LastRunID   string            `json:"last_run_id,omitempty"`
	LastOutcome models.RunOutcome `json:"last_outcome,omitempty"`
	ChangedAt   time.Time         `json:"changed_at"`
}

// RunStore persists run records across the lifetime of a run.
type RunStore interface {
	CreateRun(rec *models.RunRecord) error
	FinishRun(rec *models.RunRecord) error
}

// Collector gathers a snapshot from every registered source. It never fails;
// per-source problems are carried inside the snapshot.
type Collector interface {
	Collect(ctx context.Context, kind models.RunKind) models.Snapshot
}

// Generator turns a rendered request into digest text via the provider chain.
type Generator interface {
	Generate(ctx context.Context, req ai.Request) (models.Generation, error)
	Len() int
}

// Deliverer posts the finished digest to its destination.
type Deliverer interface {
	Deliver(ctx context.Context, text string) (models.Delivery, error)
}

type slot struct {
	state       DigestState
	due         time.Time
	changed     time.Time
	lastRunID   string
	lastOutcome models.RunOutcome
}

type Scheduler struct {
	cfg       config.Config
	store     RunStore
	collector Collector
	generator Generator
	deliverer Deliverer
	metrics   *metrics.Metrics
	loc       *time.Location

	mu    sync.Mutex // guards slots
	slots map[models.RunKind]*slot

	locks sync.Map // per-digest run locks: models.RunKind -> *sync.Mutex

	now func() time.Time
}

func New(cfg config.Config, store RunStore, collector Collector, generator Generator, deliverer Deliverer, m *metrics.Metrics) (*Scheduler, error) {
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return nil, fmt.Errorf("load schedule timezone: %w", err)
	}
	s := &Scheduler{
		cfg:       cfg,
		store:     store,
		collector: collector,
		generator: generator,
		deliverer: deliverer,
		metrics:   m,
		loc:       loc,
		slots:     make(map[models.RunKind]*slot, 2),
		now:       time.Now,
	}
	for _, kind := range models.Kinds() {
		s.slots[kind] = &slot{state: StateIdle}
	}
	return s, nil
}

// Run starts the scheduler loop. It evaluates both digests immediately, then
// every 30 seconds, until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	now := s.now().In(s.loc)
	s.mu.Lock()
	for _, kind := range models.Kinds() {
		st := s.slots[kind]
		st.due = nextAfter(now, s.clockFor(kind), s.loc)
		st.changed = now
		slog.Info("Digest scheduled", "kind", kind, "next_due", st.due)
	}
	s.mu.Unlock()

	slog.Info("Scheduler started", "timezone", s.cfg.Schedule.Timezone,
		"morning", s.cfg.Schedule.Morning, "evening", s.cfg.Schedule.Evening)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.evaluate(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.evaluate(ctx)
		}
	}
}

// evaluate advances each digest's slot one step: terminal states decay to
// idle, due triggers inside the grace window fire, and triggers past the
// window are recorded as missed and recomputed. Never blocks on a run.
func (s *Scheduler) evaluate(ctx context.Context) {
	now := s.now().In(s.loc)
	grace := s.grace()

	for _, kind := range models.Kinds() {
		s.mu.Lock()
		st := s.slots[kind]
		if st.state == StateCompleted || st.state == StateFailed {
			st.state = StateIdle
			st.changed = now
		}
		if st.state == StateRunning || st.state == StateDue {
			s.mu.Unlock()
			continue
		}
		due := st.due
		if now.Before(due) {
			s.mu.Unlock()
			continue
		}
		st.due = nextAfter(now, s.clockFor(kind), s.loc)
		if now.Sub(due) >= grace {
			st.changed = now
			s.mu.Unlock()
			s.noteMissed(kind, due, "trigger time passed outside the grace window")
			continue
		}
		st.state = StateDue
		st.changed = now
		s.mu.Unlock()
		go s.fire(ctx, kind)
	}
}

func (s *Scheduler) fire(ctx context.Context, kind models.RunKind) {
	mu, ok := s.lockRun(kind)
	if !ok {
		// A manual run won the race for this digest. The trigger is missed,
		// never queued behind the active run.
		s.demoteDue(kind)
		s.noteMissed(kind, s.now().In(s.loc), "previous run still in progress")
		return
	}
	defer mu.Unlock()

	rec, err := s.beginRun(kind, models.TriggerSchedule)
	if err != nil {
		slog.Error("Failed to start scheduled run", "kind", kind, "error", err)
		s.demoteDue(kind)
		return
	}
	s.executeRun(ctx, rec)
}

// TriggerNow starts a manual run for the given digest and returns its run ID
// without waiting for the pipeline to finish. Returns ErrAlreadyRunning if a
// run for that digest is in flight.
func (s *Scheduler) TriggerNow(ctx context.Context, kind models.RunKind) (string, error) {
	mu, ok := s.lockRun(kind)
	if !ok {
		return "", ErrAlreadyRunning
	}
	rec, err := s.beginRun(kind, models.TriggerManual)
	if err != nil {
		mu.Unlock()
		return "", err
	}
	// Detach from the caller: the HTTP request that triggered the run must not
	// cancel the pipeline when it returns.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer mu.Unlock()
		s.executeRun(runCtx, rec)
	}()
	return rec.ID, nil
}

// RunNow runs the full pipeline synchronously and reports the outcome. Used
// by the one-shot CLI mode.
func (s *Scheduler) RunNow(ctx context.Context, kind models.RunKind) (models.RunOutcome, error) {
	mu, ok := s.lockRun(kind)
	if !ok {
		return "", ErrAlreadyRunning
	}
	defer mu.Unlock()

	rec, err := s.beginRun(kind, models.TriggerManual)
	if err != nil {
		return "", err
	}
	return s.executeRun(ctx, rec), nil
}

func (s *Scheduler) Status() []DigestStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DigestStatus, 0, len(s.slots))
	for _, kind := range models.Kinds() {
		st := s.slots[kind]
		out = append(out, DigestStatus{
			Kind:        kind,
			State:       st.state,
			NextDue:     st.due,
			LastRunID:   st.lastRunID,
			LastOutcome: st.lastOutcome,
			ChangedAt:   st.changed,
		})
	}
	return out
}

// beginRun inserts the running record and moves the slot to running. The
// caller must already hold the digest's run lock.
func (s *Scheduler) beginRun(kind models.RunKind, trigger models.RunTrigger) (*models.RunRecord, error) {
	rec := &models.RunRecord{
		ID:        uuid.NewString(),
		Kind:      kind,
		Trigger:   trigger,
		StartedAt: s.now(),
		Outcome:   models.OutcomeRunning,
	}
	if err := s.store.CreateRun(rec); err != nil {
		return nil, fmt.Errorf("record run start: %w", err)
	}
	s.setState(kind, StateRunning, rec.ID)
	slog.Info("Digest run started", "kind", kind, "run_id", rec.ID, "trigger", trigger)
	return rec, nil
}

// executeRun walks one run through the pipeline and finalizes its record
// whatever happens, panics included.
func (s *Scheduler) executeRun(ctx context.Context, rec *models.RunRecord) models.RunOutcome {
	runCtx, cancel := context.WithTimeout(ctx, s.runBudget())
	defer cancel()

	var (
		snap   models.Snapshot
		gen    models.Generation
		del    models.Delivery
		runErr error
	)
	outcome := models.OutcomeFailed

	func() {
		defer func() {
			if r := recover(); r != nil {
				outcome = models.OutcomeFailed
				runErr = fmt.Errorf("run panicked: %v", r)
				slog.Error("Digest run panicked", "kind", rec.Kind, "run_id", rec.ID,
					"panic", r, "stack", string(debug.Stack()))
			}
		}()

		snap = s.collector.Collect(runCtx, rec.Kind)

		var err error
		gen, err = s.generator.Generate(runCtx, ai.Render(snap, s.cfg.Generation))
		if err != nil {
			outcome, runErr = s.failureFor(runCtx, rec.Kind, models.OutcomeGenerationFailed, err)
			return
		}

		del, err = s.deliverer.Deliver(runCtx, gen.Text)
		if err != nil {
			outcome, runErr = s.failureFor(runCtx, rec.Kind, models.OutcomeDeliveryFailed, err)
			return
		}

		if snap.Healthy() {
			outcome = models.OutcomeDelivered
		} else {
			outcome = models.OutcomeAggregationPartial
		}
	}()

	finished := s.now()
	rec.FinishedAt = &finished
	rec.Outcome = outcome
	rec.ProviderUsed = gen.ProviderUsed
	rec.ProviderName = gen.ProviderName
	rec.Degraded = gen.Degraded
	rec.DeliveryAttempts = del.Attempts
	rec.SourceSummary = summarizeSnapshot(snap)
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := s.store.FinishRun(rec); err != nil {
		slog.Error("Failed to finalize run record", "run_id", rec.ID, "error", err)
	}
	s.setTerminal(rec.Kind, outcome, rec.ID)
	if s.metrics != nil {
		s.metrics.RecordRun(string(rec.Kind), string(outcome), finished.Sub(rec.StartedAt))
	}

	if outcome.Completed() {
		slog.Info("Digest run finished", "kind", rec.Kind, "run_id", rec.ID,
			"outcome", outcome, "provider", gen.ProviderName, "degraded", gen.Degraded,
			"attempts", del.Attempts, "duration", finished.Sub(rec.StartedAt))
	} else {
		slog.Error("Digest run failed", "kind", rec.Kind, "run_id", rec.ID,
			"outcome", outcome, "error", runErr)
	}
	return outcome
}

// failureFor classifies a stage failure: budget expiry becomes an overrun,
// external cancellation a plain failure, anything else the stage's own
// outcome.
func (s *Scheduler) failureFor(runCtx context.Context, kind models.RunKind, stage models.RunOutcome, err error) (models.RunOutcome, error) {
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return models.OutcomeFailed, &Error{Kind: Overrun, Digest: kind, Err: err}
	case runCtx.Err() != nil:
		return models.OutcomeFailed, err
	default:
		return stage, err
	}
}

// runBudget returns the hard ceiling for one run. A configured
// run_budget_seconds wins; otherwise the budget is derived from the stage
// timeouts so a wedged provider can never stall a digest past its slot.
func (s *Scheduler) runBudget() time.Duration {
	if secs := s.cfg.Schedule.RunBudgetSeconds; secs > 0 {
		return time.Duration(secs) * time.Second
	}
	// Sources run concurrently but may queue behind the parallelism cap, so
	// allow two full source-timeout waves.
	aggregation := 2 * time.Duration(s.cfg.Aggregate.SourceTimeoutSeconds) * time.Second
	generation := time.Duration(s.generator.Len()) * time.Duration(s.cfg.Generation.ProviderTimeoutSeconds) * time.Second
	attempts := time.Duration(s.cfg.Slack.Retries + 1)
	backoffTotal := time.Duration((1<<uint(s.cfg.Slack.Retries))-1) * time.Duration(s.cfg.Slack.BackoffSeconds) * time.Second
	delivery := attempts*deliveryAttemptCeiling + backoffTotal
	return aggregation + generation + delivery + 30*time.Second
}

func (s *Scheduler) noteMissed(kind models.RunKind, due time.Time, reason string) {
	err := &Error{Kind: MissedTrigger, Digest: kind}
	slog.Warn("Missed digest trigger", "kind", kind, "due", due, "reason", reason, "error", err)
	if s.metrics != nil {
		s.metrics.RecordMissedRun(string(kind))
	}
}

// lockRun acquires the per-digest run mutex without blocking. Returns the
// mutex (caller must Unlock) and true if the lock was acquired.
func (s *Scheduler) lockRun(kind models.RunKind) (*sync.Mutex, bool) {
	val, _ := s.locks.LoadOrStore(kind, &sync.Mutex{})
	mu := val.(*sync.Mutex)
	if mu.TryLock() {
		return mu, true
	}
	return nil, false
}

func (s *Scheduler) setState(kind models.RunKind, state DigestState, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.slots[kind]
	st.state = state
	st.changed = s.now()
	if runID != "" {
		st.lastRunID = runID
	}
}

func (s *Scheduler) setTerminal(kind models.RunKind, outcome models.RunOutcome, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.slots[kind]
	if outcome.Completed() {
		st.state = StateCompleted
	} else {
		st.state = StateFailed
	}
	st.lastOutcome = outcome
	st.lastRunID = runID
	st.changed = s.now()
}

// demoteDue resets a due slot back to idle, leaving any state written by a
// concurrently started run untouched.
func (s *Scheduler) demoteDue(kind models.RunKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.slots[kind]
	if st.state == StateDue {
		st.state = StateIdle
		st.changed = s.now()
	}
}

func (s *Scheduler) clockFor(kind models.RunKind) string {
	if kind == models.KindMorning {
		return s.cfg.Schedule.Morning
	}
	return s.cfg.Schedule.Evening
}

func (s *Scheduler) grace() time.Duration {
	if s.cfg.Schedule.GraceSeconds > 0 {
		return time.Duration(s.cfg.Schedule.GraceSeconds) * time.Second
	}
	return 5 * time.Minute
}

// nextAfter returns the next wall-clock occurrence of hhmm in loc strictly
// after t. Building each candidate with time.Date keeps the wall-clock time
// stable across DST transitions.
func nextAfter(t time.Time, hhmm string, loc *time.Location) time.Time {
	hour, minute, err := config.ParseClock(hhmm)
	if err != nil {
		// Validation rejects bad clocks at boot; fall back to the top of the
		// next hour rather than spinning on a zero time.
		return t.Truncate(time.Hour).Add(time.Hour)
	}
	local := t.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	for !next.After(local) {
		next = time.Date(next.Year(), next.Month(), next.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

func summarizeSnapshot(snap models.Snapshot) string {
	if len(snap.Results) == 0 {
		return ""
	}
	entries := make([]models.SourceSummaryEntry, len(snap.Results))
	for i, r := range snap.Results {
		entries[i] = models.SourceSummaryEntry{
			Source:    r.Source,
			Status:    r.Status,
			ElapsedMS: r.Elapsed.Milliseconds(),
			Error:     r.Error,
		}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return ""
	}
	return string(data)
}
