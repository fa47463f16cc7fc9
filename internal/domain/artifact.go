package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Artifact is the immutable, versioned output of one stage attempt. Lineage
// pointers in Parents mirror the pipeline dependency graph.
type Artifact struct {
	ID        string
	RunID     string
	Stage     string
	Attempt   int
	Kind      ArtifactKind
	Payload   json.RawMessage
	SHA256    string
	Parents   []string
	CreatedAt time.Time
}

func (a Artifact) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("artifact id is required")
	}
	if strings.TrimSpace(a.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(a.Stage) == "" {
		return errors.New("stage name is required")
	}
	if a.Attempt < 1 {
		return errors.New("attempt must be >= 1")
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("artifact kind unsupported: %q", string(a.Kind))
	}
	if strings.TrimSpace(a.SHA256) == "" {
		return errors.New("sha256 is required")
	}
	return nil
}
