package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store, used for tests and single-instance
// deployments that don't need durability across process restarts.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (s *MemoryStore) StartRun(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if record.StartedAt.IsZero() {
		record.StartedAt = now
	}
	record.UpdatedAt = now
	record.Status = StatusRunning
	s.records[record.RunID] = record
	return nil
}

func (s *MemoryStore) CompleteRun(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.Status = StatusCompleted
	record.UpdatedAt = time.Now().UTC()
	record.FinishedAt = record.UpdatedAt
	s.records[record.RunID] = record
	return nil
}

func (s *MemoryStore) FailRun(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.Status = StatusFailed
	record.UpdatedAt = time.Now().UTC()
	record.FinishedAt = record.UpdatedAt
	s.records[record.RunID] = record
	return nil
}

func (s *MemoryStore) MarkRunCompletedMinimal(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[runID]
	rec.RunID = runID
	rec.Status = StatusCompleted
	rec.UpdatedAt = time.Now().UTC()
	rec.FinishedAt = rec.UpdatedAt
	s.records[runID] = rec
	return nil
}

func (s *MemoryStore) MarkRunFailedMinimal(_ context.Context, runID string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[runID]
	rec.RunID = runID
	rec.Status = StatusFailed
	rec.ErrorMessage = message
	rec.UpdatedAt = time.Now().UTC()
	rec.FinishedAt = rec.UpdatedAt
	s.records[runID] = rec
	return nil
}

func (s *MemoryStore) RecoverRunningRuns(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.records {
		if rec.Status != StatusRunning {
			continue
		}
		rec.Status = StatusInterrupted
		rec.ErrorMessage = RecoveryMessage
		rec.UpdatedAt = time.Now().UTC()
		s.records[id] = rec
		n++
	}
	return n, nil
}

func (s *MemoryStore) Load(_ context.Context, runID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[runID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if opts.AnomaliesOnly && rec.Status != StatusFailed && rec.Status != StatusInterrupted {
			continue
		}
		all = append(all, rec)
	}

	switch opts.Sort {
	case "risk":
		sort.Slice(all, func(i, j int) bool {
			return riskScore(all[i]) > riskScore(all[j])
		})
	default:
		sort.Slice(all, func(i, j int) bool {
			return all[i].StartedAt.After(all[j].StartedAt)
		})
	}

	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []Record{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// riskScore ranks failed/interrupted runs above completed ones, and longer
// runs above shorter ones, as a simple proxy for operator attention.
func riskScore(rec Record) float64 {
	score := rec.ExecutionTime.Seconds()
	switch rec.Status {
	case StatusFailed:
		score += 1_000_000
	case StatusInterrupted:
		score += 500_000
	}
	return score
}
