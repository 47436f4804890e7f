// Package syncloop polls collector source tables and feeds new rows to the
// activity log, remembering its position per source.
package syncloop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"example.com/flowstate/internal/domain"
	"example.com/flowstate/internal/normalize"
)

// Defaults applied by NewLoop.
const (
	DefaultBatchSize       = 50
	DefaultInitialLookback = 24 * time.Hour
	DefaultMaxBatches      = 20
)

// Source yields raw records newer than a checkpoint, oldest first.
type Source interface {
	Name() string
	Fetch(ctx context.Context, after domain.Checkpoint, limit int) ([]normalize.RawInputRecord, error)
}

// CheckpointStore persists the position of each source.
type CheckpointStore interface {
	Load(ctx context.Context, name string) (domain.Checkpoint, error)
	Save(ctx context.Context, name string, cp domain.Checkpoint) error
}

// Ingester is the subset of domain.Service used by the loop.
type Ingester interface {
	Ingest(ctx context.Context, raw normalize.RawInputRecord) (domain.IngestResult, error)
}

// Report summarises one source pass.
type Report struct {
	Source     string
	Fetched    int
	Synced     int
	Replayed   int
	Rejected   int
	Invalid    int
	Failed     int
	Checkpoint domain.Checkpoint
}

// Option configures a Loop.
type Option func(*Loop)

// WithBatchSize sets the number of rows fetched per query.
func WithBatchSize(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithInitialLookback sets how far back a source without checkpoint starts.
func WithInitialLookback(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.lookback = d
		}
	}
}

// WithMaxBatches bounds the number of batches drained per source and run.
func WithMaxBatches(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxBatches = n
		}
	}
}

// WithLogger overrides the loop logger.
func WithLogger(logger *log.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the clock.
func WithClock(clock func() time.Time) Option {
	return func(l *Loop) {
		if clock != nil {
			l.now = clock
		}
	}
}

// Loop runs sync passes over a fixed set of sources.
type Loop struct {
	ingester    Ingester
	checkpoints CheckpointStore
	sources     []Source
	batchSize   int
	lookback    time.Duration
	maxBatches  int
	logger      *log.Logger
	now         func() time.Time
}

// NewLoop constructs a Loop.
func NewLoop(ingester Ingester, checkpoints CheckpointStore, sources []Source, opts ...Option) *Loop {
	l := &Loop{
		ingester:    ingester,
		checkpoints: checkpoints,
		sources:     sources,
		batchSize:   DefaultBatchSize,
		lookback:    DefaultInitialLookback,
		maxBatches:  DefaultMaxBatches,
		logger:      log.New(log.Writer(), "[sync] ", log.LstdFlags),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RunOnce syncs every source once. A failing source does not stop the others;
// their errors are joined.
func (l *Loop) RunOnce(ctx context.Context) ([]Report, error) {
	reports := make([]Report, 0, len(l.sources))
	var errs error
	for _, src := range l.sources {
		start := l.now()
		report, err := l.syncSource(ctx, src)
		observeRun(src.Name(), l.now().Sub(start), report)
		reports = append(reports, report)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("sync %s: %w", src.Name(), err))
			continue
		}
		if report.Fetched > 0 {
			l.logger.Printf("%s: fetched=%d synced=%d replayed=%d rejected=%d invalid=%d failed=%d",
				report.Source, report.Fetched, report.Synced, report.Replayed, report.Rejected, report.Invalid, report.Failed)
		}
	}
	return reports, errs
}

func (l *Loop) syncSource(ctx context.Context, src Source) (Report, error) {
	report := Report{Source: src.Name()}

	cp, err := l.checkpoints.Load(ctx, src.Name())
	if err != nil {
		return report, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.IsZero() {
		cp = domain.Checkpoint{CreatedAt: l.now().UTC().Add(-l.lookback)}
		l.logger.Printf("%s: no checkpoint, starting from %s", src.Name(), cp.CreatedAt.Format(time.RFC3339))
	}
	report.Checkpoint = cp

	for i := 0; i < l.maxBatches; i++ {
		batch, err := src.Fetch(ctx, cp, l.batchSize)
		if err != nil {
			return report, fmt.Errorf("fetch: %w", err)
		}
		report.Fetched += len(batch)

		next, blocked := l.ingestBatch(ctx, batch, cp, &report)
		if next != cp {
			next.UpdatedAt = l.now().UTC()
			if err := l.checkpoints.Save(ctx, src.Name(), next); err != nil {
				return report, fmt.Errorf("save checkpoint: %w", err)
			}
			cp = next
			report.Checkpoint = cp
		}
		recordCheckpointLag(src.Name(), l.now().Sub(cp.CreatedAt))

		if blocked || len(batch) < l.batchSize {
			break
		}
	}
	return report, ctx.Err()
}

// ingestBatch ingests each record independently. The checkpoint follows every
// record with a final outcome until the first storage failure; records after it
// are still ingested and replay as duplicates on the next pass.
func (l *Loop) ingestBatch(ctx context.Context, batch []normalize.RawInputRecord, cp domain.Checkpoint, report *Report) (domain.Checkpoint, bool) {
	blocked := false
	for _, raw := range batch {
		if ctx.Err() != nil {
			return cp, true
		}
		res, err := l.ingester.Ingest(ctx, raw)
		switch {
		case err != nil && errors.Is(err, normalize.ErrMalformedRecord):
			report.Invalid++
		case err != nil:
			report.Failed++
			recordFailure(report.Source)
			l.logger.Printf("%s: record %s failed: %v", report.Source, raw.ID, err)
			blocked = true
			continue
		case res.Outcome == domain.OutcomeReplay:
			report.Replayed++
		case res.Outcome == domain.OutcomeRejected:
			report.Rejected++
		default:
			report.Synced++
		}
		if !blocked {
			cp = advance(cp, raw)
		}
	}
	return cp, blocked
}

func advance(cp domain.Checkpoint, raw normalize.RawInputRecord) domain.Checkpoint {
	next := domain.Checkpoint{CreatedAt: cp.CreatedAt, ID: raw.ID, UpdatedAt: cp.UpdatedAt}
	if !raw.Timestamp.IsZero() {
		next.CreatedAt = raw.Timestamp.UTC()
	}
	return next
}
