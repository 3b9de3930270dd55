package marathon

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDependencyCycle is returned when app dependencies form a cycle.
var ErrDependencyCycle = errors.New("circular dependency detected")

// =============================================================================
// Startup Ordering
// =============================================================================

// StartupOrder sorts apps so every app comes after the apps it depends on,
// using Kahn's algorithm. Ties keep the input order. Dependencies on ids that
// are not part of apps are ignored, the backend resolves those itself.
//
// Example:
//
//	// web → api → db
//	ordered, err := StartupOrder(group.Apps)
//	// ordered: [db, api, web]
func StartupOrder(apps []*App) ([]*App, error) {
	if len(apps) == 0 {
		return apps, nil
	}

	index := make(map[string]int, len(apps))
	for i, a := range apps {
		index[a.ID] = i
	}

	inDegree := make([]int, len(apps))
	dependents := make([][]int, len(apps))
	for i, a := range apps {
		seen := make(map[int]bool, len(a.Dependencies))
		for _, dep := range a.Dependencies {
			j, ok := index[dep]
			if !ok || seen[j] {
				continue
			}
			seen[j] = true
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	queue := make([]int, 0, len(apps))
	for i := range apps {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	result := make([]*App, 0, len(apps))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		result = append(result, apps[i])

		for _, d := range dependents[i] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if len(result) < len(apps) {
		var stuck []string
		for i, a := range apps {
			if inDegree[i] > 0 {
				stuck = append(stuck, a.ID)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(stuck, ", "))
	}

	return result, nil
}
