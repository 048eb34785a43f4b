package orchestrator

import (
	"math"
	"sort"
)

// PlanningOptions controls goal selection.
type PlanningOptions struct {
	// UseEconomicDecision ranks items by value/cost instead of provider order.
	UseEconomicDecision bool `json:"use_economic_decision"`

	// MaxGoals caps the goal set; 0 means no cap.
	MaxGoals int `json:"max_goals"`
}

// Prioritize turns backlog items into the ordered goal set for a cycle.
//
// With economic ranking enabled items are ordered by value/cost descending with ties
// broken by ID ascending. Items without a finite positive ratio (zero, negative or
// non-finite cost, or a non-finite value) sort after every ranked item, by ID. The
// input slice is not modified.
func Prioritize(items []BacklogItem, opts PlanningOptions) []Goal {
	ordered := make([]BacklogItem, len(items))
	copy(ordered, items)

	if opts.UseEconomicDecision {
		sort.SliceStable(ordered, func(i, j int) bool {
			a, b := ordered[i], ordered[j]
			ra, aRanked := ratio(a)
			rb, bRanked := ratio(b)
			if aRanked != bRanked {
				return aRanked
			}
			if aRanked && ra != rb {
				return ra > rb
			}
			return a.ID < b.ID
		})
	}

	if opts.MaxGoals > 0 && len(ordered) > opts.MaxGoals {
		ordered = ordered[:opts.MaxGoals]
	}

	goals := make([]Goal, len(ordered))
	for i, item := range ordered {
		goals[i] = Goal{BacklogItem: item, Rank: i + 1}
	}
	return goals
}

// ratio returns value/cost and whether the item can be ranked by it.
func ratio(item BacklogItem) (float64, bool) {
	if !(item.Cost > 0) || math.IsInf(item.Cost, 0) {
		return 0, false
	}
	r := item.Value / item.Cost
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return r, true
}
