package store

import (
	"context"
	"errors"
	"sync"

	"github.com/kiranshivaraju/sdkqual/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// Store is the run-history interface. All run persistence goes through here.
type Store interface {
	Ping(ctx context.Context) error
	CreateRun(ctx context.Context, run *models.Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, error)
	LatestRun(ctx context.Context, filter RunFilter) (*models.Run, error)
}

// RunFilter narrows run queries to one qualification key. Empty fields match
// everything.
type RunFilter struct {
	Namespace string
	Branch    string
	V4Version string
	Status    string
	Limit     int
}

func (f RunFilter) matches(r *models.Run) bool {
	return (f.Namespace == "" || f.Namespace == r.Namespace) &&
		(f.Branch == "" || f.Branch == r.Branch) &&
		(f.V4Version == "" || f.V4Version == r.V4Version) &&
		(f.Status == "" || f.Status == r.Status)
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f RunFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}

// MemoryStore keeps the most recent runs in memory. It is used when no
// database is configured. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	runs     []*models.Run // newest first
	capacity int
}

// NewMemoryStore creates a MemoryStore retaining at most capacity runs.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity < 1 {
		capacity = maxListLimit
	}
	return &MemoryStore{capacity: capacity}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateRun(_ context.Context, run *models.Run) error {
	cp := *run
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append([]*models.Run{&cp}, s.runs...)
	if len(s.runs) > s.capacity {
		s.runs = s.runs[:s.capacity]
	}
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.limit()
	out := make([]*models.Run, 0, min(limit, len(s.runs)))
	for _, r := range s.runs {
		if !filter.matches(r) {
			continue
		}
		cp := *r
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestRun(ctx context.Context, filter RunFilter) (*models.Run, error) {
	filter.Limit = 1
	runs, err := s.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}

var _ Store = (*MemoryStore)(nil)
