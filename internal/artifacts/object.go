package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/foundry-ml/foundry-go/internal/domain"
	"github.com/foundry-ml/foundry-go/internal/platform/objectstore"
)

// ObjectStore keeps artifact payload bytes in S3-compatible object storage
// and the artifact index in memory. Payload reads always go back to the
// object store, which stays the source of truth for bytes.
type ObjectStore struct {
	bucket string
	store  objectstore.Store
	now    func() time.Time

	mu   sync.RWMutex
	byID map[string]domain.Artifact
}

func NewObjectStore(store objectstore.Store, bucket string) (*ObjectStore, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &ObjectStore{
		bucket: bucket,
		store:  store,
		now:    time.Now,
		byID:   make(map[string]domain.Artifact),
	}, nil
}

// WithClock overrides the creation timestamp source.
func (s *ObjectStore) WithClock(now func() time.Time) *ObjectStore {
	if now != nil {
		s.now = now
	}
	return s
}

func objectKey(artifactID string) string {
	return "runs/" + artifactID + ".json"
}

func (s *ObjectStore) Put(ctx context.Context, req PutRequest) (domain.Artifact, error) {
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

	body := []byte(artifact.Payload)
	err = s.store.Put(ctx, s.bucket, objectKey(artifact.ID), bytes.NewReader(body), int64(len(body)), "application/json")
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("put artifact payload: %w", err)
	}

	indexed := artifact
	indexed.Payload = nil
	s.byID[artifact.ID] = indexed
	return artifact, nil
}

func (s *ObjectStore) Get(ctx context.Context, id string) (domain.Artifact, error) {
	s.mu.RLock()
	artifact, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	reader, _, err := s.store.Get(ctx, s.bucket, objectKey(id))
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("get artifact payload: %w", err)
	}
	defer func() { _ = reader.Close() }()
	body, err := io.ReadAll(reader)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("read artifact payload: %w", err)
	}
	if sum := PayloadSHA256(body); sum != artifact.SHA256 {
		return domain.Artifact{}, fmt.Errorf("artifact %s payload sha256 mismatch: %s", id, sum)
	}
	artifact.Payload = json.RawMessage(body)
	return artifact, nil
}

func (s *ObjectStore) ListByRun(ctx context.Context, runID string) ([]domain.Artifact, error) {
	s.mu.RLock()
	var ids []string
	for id, artifact := range s.byID {
		if artifact.RunID == runID {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	out := make([]domain.Artifact, 0, len(ids))
	for _, id := range ids {
		artifact, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, artifact)
	}
	return out, nil
}
