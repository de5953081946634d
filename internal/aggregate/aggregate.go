// Package aggregate fans out to every registered source and folds whatever
// comes back into a single snapshot. Collect never fails: a broken source is
// a classified entry in the snapshot, not an error.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thinkscotty/daybook/internal/metrics"
	"github.com/thinkscotty/daybook/internal/models"
	"github.com/thinkscotty/daybook/internal/source"
)

type Aggregator struct {
	sources     []source.Source
	timeout     time.Duration
	parallelism int
	metrics     *metrics.Metrics
	now         func() time.Time
}

func New(sources []source.Source, timeout time.Duration, parallelism int, m *metrics.Metrics) *Aggregator {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Aggregator{
		sources:     sources,
		timeout:     timeout,
		parallelism: parallelism,
		metrics:     m,
		now:         time.Now,
	}
}

type fetchOutcome struct {
	payload map[string]any
	err     error
}

// Collect fetches every source concurrently and returns one result per
// source, in registration order. Each fetch gets its own deadline; a source
// that blows past it is abandoned and reported as timed out.
func (a *Aggregator) Collect(ctx context.Context, kind models.RunKind) models.Snapshot {
	started := a.now()
	results := make([]models.SourceResult, len(a.sources))

	sem := make(chan struct{}, a.parallelism)
	var wg sync.WaitGroup

	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src source.Source) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = a.fetchOne(ctx, src)
		}(i, src)
	}
	wg.Wait()

	snap := models.Snapshot{
		Kind:    kind,
		TakenAt: started,
		Results: results,
	}

	counts := snap.Counts()
	slog.Info("Aggregation complete",
		"kind", kind,
		"elapsed", a.now().Sub(started).Round(time.Millisecond),
		"ok", counts[models.SourceOK],
		"partial", counts[models.SourcePartial],
		"failed", counts[models.SourceFailed],
		"timeout", counts[models.SourceTimedOut],
		"skipped", counts[models.SourceSkipped])

	return snap
}

// fetchOne runs a single source under its own deadline. The fetch itself is
// pushed into a goroutine so that a source ignoring its context cannot hold
// the whole aggregation past the deadline.
func (a *Aggregator) fetchOne(ctx context.Context, src source.Source) models.SourceResult {
	name := src.Name()
	started := a.now()

	fetchCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan fetchOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		payload, err := src.Fetch(fetchCtx)
		done <- fetchOutcome{payload: payload, err: err}
	}()

	var outcome fetchOutcome
	select {
	case outcome = <-done:
	case <-fetchCtx.Done():
		outcome = fetchOutcome{err: fetchCtx.Err()}
	}

	result := models.SourceResult{
		Source:    name,
		Elapsed:   a.now().Sub(started),
		FetchedAt: a.now(),
	}

	switch {
	case outcome.err == nil:
		result.Status = models.SourceOK
		result.Payload = outcome.payload
	case errors.Is(outcome.err, source.ErrSkipped):
		result.Status = models.SourceSkipped
	case source.IsKind(outcome.err, source.Timeout) || errors.Is(outcome.err, context.DeadlineExceeded):
		result.Status = models.SourceTimedOut
		result.Error = outcome.err.Error()
	case outcome.payload != nil:
		result.Status = models.SourcePartial
		result.Payload = outcome.payload
		result.Error = outcome.err.Error()
	default:
		result.Status = models.SourceFailed
		result.Error = outcome.err.Error()
	}

	switch result.Status {
	case models.SourceOK, models.SourceSkipped:
		slog.Debug("Source fetched", "source", name, "status", result.Status, "elapsed", result.Elapsed.Round(time.Millisecond))
	default:
		slog.Warn("Source fetch degraded", "source", name, "status", result.Status, "elapsed", result.Elapsed.Round(time.Millisecond), "error", result.Error)
	}

	if a.metrics != nil {
		a.metrics.RecordSourceFetch(name, string(result.Status))
	}
	return result
}
