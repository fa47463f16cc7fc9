package domain

import (
	"errors"
	"fmt"
	"strings"
)

// MutationOp is the operation a retry applies to one stage parameter.
type MutationOp string

const (
	MutationScale MutationOp = "scale"
	MutationAdd   MutationOp = "add"
	MutationSet   MutationOp = "set"
)

// ParamMutation adjusts a single stage parameter on retry, e.g. relaxing an
// outlier threshold or widening a hyperparameter grid.
type ParamMutation struct {
	Param string
	Op    MutationOp
	Value float64
}

func (m ParamMutation) Validate() error {
	if strings.TrimSpace(m.Param) == "" {
		return errors.New("mutation param is required")
	}
	switch m.Op {
	case MutationScale, MutationAdd, MutationSet:
		return nil
	default:
		return fmt.Errorf("mutation op unsupported: %q", string(m.Op))
	}
}

// RetryPolicy bounds a stage's attempts and describes the pure configuration
// mutation applied before each retry.
type RetryPolicy struct {
	MaxAttempts int
	Mutations   []ParamMutation
}

// Attempts returns the attempt budget, never less than one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	for i, m := range p.Mutations {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("mutation[%d]: %w", i, err)
		}
	}
	return nil
}

// MutateStage derives the stage configuration for the next attempt. It is a
// pure function: the input spec is never modified, and applying it to equal
// inputs yields equal outputs, keeping retry history replayable.
func (p RetryPolicy) MutateStage(stage StageSpec) StageSpec {
	next := stage
	params := make(map[string]float64, len(stage.Params))
	for k, v := range stage.Params {
		params[k] = v
	}
	for _, m := range p.Mutations {
		cur := params[m.Param]
		switch m.Op {
		case MutationScale:
			params[m.Param] = cur * m.Value
		case MutationAdd:
			params[m.Param] = cur + m.Value
		case MutationSet:
			params[m.Param] = m.Value
		}
	}
	next.Params = params
	return next
}
