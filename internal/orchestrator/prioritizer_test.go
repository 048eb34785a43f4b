package orchestrator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrioritize_Economic(t *testing.T) {
	items := []BacklogItem{
		{ID: "low", Cost: 4, Value: 2},
		{ID: "high", Cost: 1, Value: 3},
		{ID: "tie-b", Cost: 2, Value: 2},
		{ID: "tie-a", Cost: 3, Value: 3},
		{ID: "free", Cost: 0, Value: 100},
		{ID: "neg", Cost: -1, Value: 5},
		{ID: "inf", Cost: math.Inf(1), Value: 1},
	}

	goals := Prioritize(items, PlanningOptions{UseEconomicDecision: true})

	assert.Equal(t, []string{"high", "tie-a", "tie-b", "low", "free", "inf", "neg"}, GoalIDs(goals))
	for i, g := range goals {
		assert.Equal(t, i+1, g.Rank)
	}
	assert.Equal(t, "low", items[0].ID, "input must not be reordered")
}

func TestPrioritize_Deterministic(t *testing.T) {
	items := []BacklogItem{
		{ID: "c", Cost: 1, Value: 1},
		{ID: "a", Cost: 1, Value: 1},
		{ID: "b", Cost: 1, Value: 1},
	}
	reversed := []BacklogItem{items[2], items[1], items[0]}

	opts := PlanningOptions{UseEconomicDecision: true}
	assert.Equal(t, GoalIDs(Prioritize(items, opts)), GoalIDs(Prioritize(reversed, opts)))
	assert.Equal(t, []string{"a", "b", "c"}, GoalIDs(Prioritize(items, opts)))
}

func TestPrioritize_NonFiniteValueRanksLast(t *testing.T) {
	items := []BacklogItem{
		{ID: "c", Cost: 1, Value: 1},
		{ID: "b", Cost: 1, Value: math.NaN()},
		{ID: "a", Cost: 1, Value: 1},
		{ID: "d", Cost: 1, Value: math.Inf(1)},
	}

	goals := Prioritize(items, PlanningOptions{UseEconomicDecision: true})

	assert.Equal(t, []string{"a", "c", "b", "d"}, GoalIDs(goals))
}

func TestPrioritize_ProviderOrder(t *testing.T) {
	items := []BacklogItem{
		{ID: "z", Cost: 10, Value: 1},
		{ID: "a", Cost: 1, Value: 10},
	}
	goals := Prioritize(items, PlanningOptions{})
	assert.Equal(t, []string{"z", "a"}, GoalIDs(goals))
}

func TestPrioritize_MaxGoals(t *testing.T) {
	items := []BacklogItem{
		{ID: "a", Cost: 1, Value: 1},
		{ID: "b", Cost: 1, Value: 5},
		{ID: "c", Cost: 1, Value: 3},
	}
	goals := Prioritize(items, PlanningOptions{UseEconomicDecision: true, MaxGoals: 2})
	require.Len(t, goals, 2)
	assert.Equal(t, []string{"b", "c"}, GoalIDs(goals))
}

func TestPrioritize_Empty(t *testing.T) {
	assert.Empty(t, Prioritize(nil, PlanningOptions{UseEconomicDecision: true}))
}
