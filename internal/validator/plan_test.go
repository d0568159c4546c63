package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPlan() Plan {
	return Plan{
		PlanID: "plan-1",
		Title:  "demo",
		Subtasks: []Subtask{
			{ID: "a", Prompt: "do a"},
			{ID: "b", Prompt: "do b", DependsOn: []string{"a"}},
		},
	}
}

func TestValidate_AcceptsValidPlan(t *testing.T) {
	err := Validate(validPlan(), Options{})
	require.NoError(t, err)
}

func TestValidate_AcceptsIDAlias(t *testing.T) {
	p := validPlan()
	p.PlanID = ""
	p.ID = "plan-1"
	require.NoError(t, Validate(p, Options{}))
}

func TestValidate_RejectsMissingPlanID(t *testing.T) {
	p := validPlan()
	p.PlanID = ""
	err := Validate(p, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "planId")
}

func TestValidate_RejectsEmptySubtasks(t *testing.T) {
	p := validPlan()
	p.Subtasks = nil
	err := Validate(p, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subtasks")
}

func TestValidate_RejectsDuplicateID(t *testing.T) {
	p := validPlan()
	p.Subtasks[1].ID = "a"
	err := Validate(p, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate subtask id")
}

func TestValidate_RejectsEmptyPrompt(t *testing.T) {
	p := validPlan()
	p.Subtasks[0].Prompt = ""
	err := Validate(p, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt")
}

func TestValidate_RejectsTooLongPrompt(t *testing.T) {
	p := validPlan()
	p.Subtasks[0].Prompt = string(make([]byte, 50))
	err := Validate(p, Options{MaxPromptChars: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too long")
}

func TestValidate_RejectsBlankRouting(t *testing.T) {
	p := validPlan()
	p.Subtasks[0].Routing = "   "
	err := Validate(p, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "routing")
}

func TestValidate_RejectsUnknownDependency(t *testing.T) {
	p := validPlan()
	p.Subtasks[1].DependsOn = []string{"missing"}
	err := Validate(p, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown id")
}

func TestValidate_RejectsEmptyDependencyEntry(t *testing.T) {
	p := validPlan()
	p.Subtasks[1].DependsOn = []string{""}
	err := Validate(p, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty id")
}

func TestValidate_RejectsCycle(t *testing.T) {
	p := Plan{
		PlanID: "plan-cycle",
		Subtasks: []Subtask{
			{ID: "a", Prompt: "a", DependsOn: []string{"b"}},
			{ID: "b", Prompt: "b", DependsOn: []string{"a"}},
		},
	}
	err := Validate(p, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidate_AcceptsDiamondDependencies(t *testing.T) {
	p := Plan{
		PlanID: "plan-diamond",
		Subtasks: []Subtask{
			{ID: "a", Prompt: "a"},
			{ID: "b", Prompt: "b", DependsOn: []string{"a"}},
			{ID: "c", Prompt: "c", DependsOn: []string{"a"}},
			{ID: "d", Prompt: "d", DependsOn: []string{"b", "c"}},
		},
	}
	assert.NoError(t, Validate(p, Options{}))
}
