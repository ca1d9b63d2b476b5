package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/agentrun/runtime/history"
)

// Store implements history.Store by delegating to a Mongo-backed Client. It
// adapts the store's lifecycle verbs (StartRun/CompleteRun/...) onto the
// client's single Upsert operation, mirroring how features/run/mongo/store.go
// layers a narrow run.Store surface over its own Mongo client.
type Store struct {
	client Client
}

// NewStore builds a Store over an already-constructed Client.
func NewStore(client Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("mongo: client is required")
	}
	return &Store{client: client}, nil
}

// NewStoreFromOptions constructs the underlying Client before wrapping it.
func NewStoreFromOptions(opts Options) (*Store, error) {
	client, err := New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(client)
}

// StartRun upserts a fresh record in the running state.
func (s *Store) StartRun(ctx context.Context, record history.Record) error {
	record.Status = history.StatusRunning
	now := time.Now().UTC()
	if record.StartedAt.IsZero() {
		record.StartedAt = now
	}
	record.UpdatedAt = now
	return s.client.Upsert(ctx, record)
}

// CompleteRun upserts the full terminal success record. Idempotent: applying
// the same terminal record twice leaves the same document in place.
func (s *Store) CompleteRun(ctx context.Context, record history.Record) error {
	record.Status = history.StatusCompleted
	record.UpdatedAt = time.Now().UTC()
	if record.FinishedAt.IsZero() {
		record.FinishedAt = record.UpdatedAt
	}
	return s.client.Upsert(ctx, record)
}

// FailRun upserts the full terminal failure record.
func (s *Store) FailRun(ctx context.Context, record history.Record) error {
	record.Status = history.StatusFailed
	record.UpdatedAt = time.Now().UTC()
	if record.FinishedAt.IsZero() {
		record.FinishedAt = record.UpdatedAt
	}
	return s.client.Upsert(ctx, record)
}

// MarkRunCompletedMinimal performs a reduced-schema success write: only the
// fields needed to close out the record, used when CompleteRun's full write
// failed partway through (§4.8 minimal finalization).
func (s *Store) MarkRunCompletedMinimal(ctx context.Context, runID string) error {
	now := time.Now().UTC()
	return s.client.Upsert(ctx, history.Record{
		RunID:      runID,
		Status:     history.StatusCompleted,
		UpdatedAt:  now,
		FinishedAt: now,
	})
}

// MarkRunFailedMinimal performs a reduced-schema failure write.
func (s *Store) MarkRunFailedMinimal(ctx context.Context, runID string, message string) error {
	now := time.Now().UTC()
	return s.client.Upsert(ctx, history.Record{
		RunID:        runID,
		Status:       history.StatusFailed,
		UpdatedAt:    now,
		FinishedAt:   now,
		ErrorMessage: message,
	})
}

// RecoverRunningRuns transitions every run still in StatusRunning to
// StatusInterrupted with the fixed recovery message (§4.8 startup recovery).
func (s *Store) RecoverRunningRuns(ctx context.Context) (int, error) {
	ids, err := s.client.RunningRunIDs(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	recovered := 0
	for _, id := range ids {
		rec, err := s.client.Load(ctx, id)
		if err != nil {
			if errors.Is(err, history.ErrNotFound) {
				continue
			}
			return recovered, err
		}
		rec.Status = history.StatusInterrupted
		rec.UpdatedAt = now
		rec.FinishedAt = now
		rec.ErrorMessage = history.RecoveryMessage
		if err := s.client.Upsert(ctx, rec); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// Load retrieves a single run's record.
func (s *Store) Load(ctx context.Context, runID string) (history.Record, error) {
	return s.client.Load(ctx, runID)
}

// List returns runs for the /api/history listing endpoint, always ordered
// most-recent-first by start time; opts.Sort is not applied.
func (s *Store) List(ctx context.Context, opts history.ListOptions) ([]history.Record, error) {
	return s.client.List(ctx, opts)
}

var _ history.Store = (*Store)(nil)
