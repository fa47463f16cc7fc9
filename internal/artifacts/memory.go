package artifacts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/foundry-ml/foundry-go/internal/domain"
)

// MemoryStore is the in-process Store. Reads take no lock beyond the write
// mutex guarding the append; artifacts themselves are immutable once stored.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]domain.Artifact
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]domain.Artifact),
		now:  time.Now,
	}
}

// WithClock overrides the creation timestamp source. Intended for
// deterministic reruns and tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryStore) Put(ctx context.Context, req PutRequest) (domain.Artifact, error) {
	artifact, err := buildArtifact(req, s.now())
	if err != nil {
		return domain.Artifact{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[artifact.ID]; exists {
		return domain.Artifact{}, fmt.Errorf("%w: %s", ErrDuplicateArtifact, artifact.ID)
	}
	for _, parent := range artifact.Parents {
		if _, ok := s.byID[parent]; !ok {
			return domain.Artifact{}, fmt.Errorf("parent %w: %s", ErrNotFound, parent)
		}
	}
	s.byID[artifact.ID] = artifact
	return artifact, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	artifact, ok := s.byID[id]
	if !ok {
		return domain.Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return artifact, nil
}

func (s *MemoryStore) ListByRun(ctx context.Context, runID string) ([]domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Artifact
	for _, artifact := range s.byID {
		if artifact.RunID == runID {
			out = append(out, artifact)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
