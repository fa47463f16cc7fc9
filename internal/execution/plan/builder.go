package plan

import (
	"fmt"
	"sort"

	"github.com/foundry-ml/foundry-go/internal/domain"
	"github.com/foundry-ml/foundry-go/internal/execution/specvalidator"
)

// StageOrder returns the deterministic dispatch order for a pipeline spec:
// a topological sort of the dependency graph with lexicographic tie-breaks,
// so equal graphs always order identically.
func StageOrder(spec domain.PipelineSpec) ([]domain.StageSpec, error) {
	if err := specvalidator.ValidatePipelineSpec(spec); err != nil {
		return nil, err
	}

	stageMap := make(map[string]domain.StageSpec, len(spec.Stages))
	for _, stage := range spec.Stages {
		stageMap[stage.Name] = stage
	}

	inDegree := make(map[string]int, len(stageMap))
	adj := make(map[string][]string, len(stageMap))
	for name := range stageMap {
		inDegree[name] = 0
	}
	for _, dep := range spec.Dependencies {
		adj[dep.From] = append(adj[dep.From], dep.To)
		inDegree[dep.To]++
	}

	ready := make([]string, 0, len(stageMap))
	for name, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	ordered := make([]domain.StageSpec, 0, len(stageMap))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, stageMap[name])
		for _, neighbor := range adj[name] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				ready = append(ready, neighbor)
				sort.Strings(ready)
			}
		}
	}

	if len(ordered) != len(stageMap) {
		return nil, fmt.Errorf("dependency graph contains a cycle")
	}
	return ordered, nil
}
