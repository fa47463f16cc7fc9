// Package artifacts owns artifact persistence: append-only, versioned,
// lineage-tracked. Re-execution of a stage creates a new version; nothing is
// ever overwritten.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foundry-ml/foundry-go/internal/domain"
)

var (
	// ErrNotFound is returned for unknown artifact ids.
	ErrNotFound = errors.New("artifact not found")
	// ErrDuplicateArtifact is returned when a (run, stage, attempt) tuple is
	// written twice.
	ErrDuplicateArtifact = errors.New("duplicate artifact")
)

// PutRequest describes one artifact write.
type PutRequest struct {
	RunID   string
	Stage   string
	Attempt int
	Kind    domain.ArtifactKind
	Payload json.RawMessage
	Parents []string
}

// Store is the abstract artifact store the orchestration core writes through.
// Implementations must enforce append-only semantics.
type Store interface {
	Put(ctx context.Context, req PutRequest) (domain.Artifact, error)
	Get(ctx context.Context, id string) (domain.Artifact, error)
	ListByRun(ctx context.Context, runID string) ([]domain.Artifact, error)
}

// ArtifactID derives the coordinate-addressed artifact id. Given the same run
// id the scheme is deterministic, which keeps replays and reruns comparable.
func ArtifactID(runID, stage string, attempt int) string {
	return fmt.Sprintf("%s/%s/%d", runID, stage, attempt)
}

// PayloadSHA256 hashes an artifact payload.
func PayloadSHA256(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func buildArtifact(req PutRequest, now time.Time) (domain.Artifact, error) {
	runID := strings.TrimSpace(req.RunID)
	stage := strings.TrimSpace(req.Stage)
	if runID == "" {
		return domain.Artifact{}, errors.New("run id is required")
	}
	if stage == "" {
		return domain.Artifact{}, errors.New("stage name is required")
	}
	if req.Attempt < 1 {
		return domain.Artifact{}, errors.New("attempt must be >= 1")
	}
	if !req.Kind.Valid() {
		return domain.Artifact{}, fmt.Errorf("artifact kind unsupported: %q", string(req.Kind))
	}
	if len(req.Payload) == 0 {
		return domain.Artifact{}, errors.New("payload is required")
	}

	parents := make([]string, 0, len(req.Parents))
	for _, p := range req.Parents {
		if strings.TrimSpace(p) != "" {
			parents = append(parents, p)
		}
	}

	artifact := domain.Artifact{
		ID:        ArtifactID(runID, stage, req.Attempt),
		RunID:     runID,
		Stage:     stage,
		Attempt:   req.Attempt,
		Kind:      req.Kind,
		Payload:   append(json.RawMessage(nil), req.Payload...),
		SHA256:    PayloadSHA256(req.Payload),
		Parents:   parents,
		CreatedAt: now.UTC(),
	}
	if err := artifact.Validate(); err != nil {
		return domain.Artifact{}, err
	}
	return artifact, nil
}

// Lineage walks parent pointers from id back to the roots, returning every
// ancestor exactly once in breadth-first order (the artifact itself first).
// A dangling parent reference fails with ErrNotFound.
func Lineage(ctx context.Context, store Store, id string) ([]domain.Artifact, error) {
	seen := make(map[string]struct{})
	queue := []string{id}
	var out []domain.Artifact
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		artifact, err := store.Get(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("lineage of %q: %w", id, err)
		}
		out = append(out, artifact)
		queue = append(queue, artifact.Parents...)
	}
	return out, nil
}
