package cache

import "github.com/fyrsmithlabs/choresyncd/internal/model"

// Transition is one instance whose status changed between two
// snapshots of the remote instance set.
type Transition struct {
	Before model.Instance
	After  model.Instance
}

// Changes summarizes the difference between a "before" and "after"
// snapshot. Consumers use it to trigger side effects (notifications)
// without replaying the whole collection.
type Changes struct {
	Added       []model.Instance
	Removed     []model.Instance
	Transitions []Transition
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Transitions) == 0
}

// Diff compares two instance sets by id. Order does not matter.
func Diff(before, after []model.Instance) Changes {
	prev := make(map[string]model.Instance, len(before))
	for _, inst := range before {
		prev[inst.ID] = inst
	}

	var out Changes
	seen := make(map[string]bool, len(after))
	for _, inst := range after {
		seen[inst.ID] = true
		old, ok := prev[inst.ID]
		if !ok {
			out.Added = append(out.Added, inst)
			continue
		}
		if old.Status != inst.Status {
			out.Transitions = append(out.Transitions, Transition{Before: old, After: inst})
		}
	}
	for _, inst := range before {
		if !seen[inst.ID] {
			out.Removed = append(out.Removed, inst)
		}
	}
	return out
}
