package steps

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry = make(map[string]Step)
	mu       sync.RWMutex
)

// Site scoring variants and the step that implements each.
var siteVariants = map[string]string{
	"baseline": "09",
	"gravity":  "09b",
}

// Register adds a step to the registry.
func Register(step Step) {
	mu.Lock()
	defer mu.Unlock()
	registry[step.ID()] = step
}

// Get retrieves a step by ID.
func Get(id string) (Step, error) {
	mu.RLock()
	defer mu.RUnlock()

	step, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("unknown step: %s", id)
	}
	return step, nil
}

// All returns every registered step in pipeline order. IDs sort
// lexically into execution order (06b after 05, 09b after 09).
func All() []Step {
	mu.RLock()
	defer mu.RUnlock()

	all := make([]Step, 0, len(registry))
	for _, step := range registry {
		all = append(all, step)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID() < all[j].ID() })
	return all
}

// Plan returns the steps to run. With no explicit IDs it is every
// registered step except the site scoring variant that is not selected.
// Explicit IDs are validated and returned in pipeline order.
func Plan(ids []string, siteVariant string) ([]Step, error) {
	if len(ids) > 0 {
		seen := make(map[string]bool, len(ids))
		plan := make([]Step, 0, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			step, err := Get(id)
			if err != nil {
				return nil, err
			}
			plan = append(plan, step)
		}
		sort.Slice(plan, func(i, j int) bool { return plan[i].ID() < plan[j].ID() })
		return plan, nil
	}

	keep, ok := siteVariants[siteVariant]
	if !ok {
		return nil, fmt.Errorf("unknown site variant: %s", siteVariant)
	}

	var plan []Step
	for _, step := range All() {
		if isSiteStep(step.ID()) && step.ID() != keep {
			continue
		}
		plan = append(plan, step)
	}
	return plan, nil
}

func isSiteStep(id string) bool {
	for _, v := range siteVariants {
		if v == id {
			return true
		}
	}
	return false
}
