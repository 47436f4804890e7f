// Package domain defines the business logic for the activity log.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/flowstate/internal/normalize"
	"example.com/flowstate/internal/observability"
)

var (
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrDuplicateRawKey is returned by repositories when a raw record was already materialized.
	ErrDuplicateRawKey = errors.New("activity already exists for raw record")
)

// Outcome is the final disposition of an ingested raw record.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeReplay   Outcome = "replay"
	OutcomeRejected Outcome = "rejected"
	OutcomeInvalid  Outcome = "invalid"
)

// IngestResult reports what happened to one raw record.
type IngestResult struct {
	Activity *Activity
	Outcome  Outcome
	Reason   string
}

// Replay reports whether the record had already been materialized.
func (r IngestResult) Replay() bool {
	return r.Outcome == OutcomeReplay
}

// ActivityRepository captures persistence operations.
type ActivityRepository interface {
	FindByRawKey(ctx context.Context, rawKind, rawID string) (*Activity, error)
	Create(ctx context.Context, activity Activity) error
	Get(ctx context.Context, activityID string) (*Activity, error)
	List(ctx context.Context, filter ListFilter, cursor *Cursor, limit int) ([]Activity, *Cursor, error)
	ProjectCounts(ctx context.Context, userID string, since time.Time) ([]ProjectCount, error)
}

// RejectLog records raw records that were not materialized.
type RejectLog interface {
	Record(ctx context.Context, reject Reject) error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger overrides the logger used for data-quality warnings.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for ingestion timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithRejectLog records rejected and malformed raw records.
func WithRejectLog(rejects RejectLog) Option {
	return func(s *Service) {
		s.rejects = rejects
	}
}

// Service orchestrates activity workflows.
type Service struct {
	repo      ActivityRepository
	assembler *normalize.Assembler
	rejects   RejectLog
	logger    *log.Logger
	now       func() time.Time
}

// NewService constructs a Service.
func NewService(repo ActivityRepository, assembler *normalize.Assembler, opts ...Option) *Service {
	if assembler == nil {
		assembler = normalize.NewAssembler()
	}
	s := &Service{
		repo:      repo,
		assembler: assembler,
		logger:    log.New(log.Writer(), "[ingest] ", log.LstdFlags),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UserID is the owner of every activity this service writes. Reads default to it.
func (s *Service) UserID() string {
	return s.assembler.UserID()
}

// Ingest normalizes one raw record and persists the result. Malformed records
// return their *normalize.ValidationError alongside an OutcomeInvalid result;
// any other error is a storage failure and the record may be retried.
func (s *Service) Ingest(ctx context.Context, raw normalize.RawInputRecord) (IngestResult, error) {
	kind := rawKind(raw)

	record, outcome, ok, err := s.assembler.AssembleOutcome(raw)
	if err != nil {
		observability.RecordNormalizeOutcome(kind, string(OutcomeInvalid))
		if rejErr := s.reject(ctx, raw, normalize.RejectMalformed, err.Error()); rejErr != nil {
			return IngestResult{}, rejErr
		}
		return IngestResult{Outcome: OutcomeInvalid, Reason: normalize.RejectMalformed}, err
	}
	if !ok {
		observability.RecordNormalizeOutcome(kind, string(OutcomeRejected))
		if rejErr := s.reject(ctx, raw, normalize.RejectUnresolvedProject, "no project hint matched"); rejErr != nil {
			return IngestResult{}, rejErr
		}
		return IngestResult{Outcome: OutcomeRejected, Reason: normalize.RejectUnresolvedProject}, nil
	}

	if outcome.Attribution.MachineInferred {
		observability.RecordMachineInferred(kind)
		s.logger.Printf("raw record %s (kind=%s) carries no machine, recorded %q", raw.ID, kind, outcome.Attribution.Machine)
	}
	if outcome.Unlisted {
		observability.RecordUnlistedActivityType(record.ActivityType)
	}

	if raw.ID != "" {
		existing, err := s.repo.FindByRawKey(ctx, kind, raw.ID)
		if err != nil {
			return IngestResult{}, fmt.Errorf("lookup raw record %s: %w", raw.ID, err)
		}
		if existing != nil {
			observability.RecordNormalizeOutcome(kind, string(OutcomeReplay))
			return IngestResult{Activity: existing, Outcome: OutcomeReplay}, nil
		}
	}

	activity := Activity{
		ID:           uuid.NewString(),
		UserID:       record.UserID,
		ProjectName:  record.ProjectName,
		ActivityType: record.ActivityType,
		Description:  record.Description,
		Metadata:     record.Metadata,
		RawKind:      kind,
		RawID:        raw.ID,
		CreatedAt:    record.CreatedAt,
		IngestedAt:   s.now().UTC(),
	}

	if err := s.repo.Create(ctx, activity); err != nil {
		if errors.Is(err, ErrDuplicateRawKey) {
			existing, findErr := s.repo.FindByRawKey(ctx, kind, raw.ID)
			if findErr == nil && existing != nil {
				observability.RecordNormalizeOutcome(kind, string(OutcomeReplay))
				return IngestResult{Activity: existing, Outcome: OutcomeReplay}, nil
			}
		}
		return IngestResult{}, fmt.Errorf("persist activity: %w", err)
	}

	observability.RecordNormalizeOutcome(kind, string(OutcomeCreated))
	return IngestResult{Activity: &activity, Outcome: OutcomeCreated}, nil
}

// Classify assembles a raw record without persisting anything.
func (s *Service) Classify(raw normalize.RawInputRecord) (normalize.ActivityRecord, bool, error) {
	return s.assembler.Assemble(raw)
}

// GetActivity fetches by ID.
func (s *Service) GetActivity(ctx context.Context, activityID string) (*Activity, error) {
	activity, err := s.repo.Get(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	return activity, nil
}

// ListActivities fetches activities newest first with cursor pagination.
func (s *Service) ListActivities(ctx context.Context, filter ListFilter, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	return s.repo.List(ctx, filter, cursor, limit)
}

// ProjectSummary counts activity per project over the trailing window. A zero
// window covers the whole log.
func (s *Service) ProjectSummary(ctx context.Context, userID string, window time.Duration) ([]ProjectCount, error) {
	var since time.Time
	if window > 0 {
		since = s.now().UTC().Add(-window)
	}
	return s.repo.ProjectCounts(ctx, userID, since)
}

func (s *Service) reject(ctx context.Context, raw normalize.RawInputRecord, reason, detail string) error {
	if s.rejects == nil {
		return nil
	}
	err := s.rejects.Record(ctx, Reject{
		RawID:      raw.ID,
		RawKind:    rawKind(raw),
		Reason:     reason,
		Detail:     detail,
		Raw:        raw,
		RejectedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record reject: %w", err)
	}
	return nil
}

func rawKind(raw normalize.RawInputRecord) string {
	if raw.Kind == "" {
		return string(normalize.KindMemory)
	}
	return string(raw.Kind)
}
