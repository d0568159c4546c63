package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellwood/taskloom/internal/store"
	"github.com/ellwood/taskloom/internal/validator"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func linearPlan() validator.Plan {
	return validator.Plan{
		PlanID: "p1",
		Subtasks: []validator.Subtask{
			{ID: "a", Prompt: "do a"},
			{ID: "b", Prompt: "do b", DependsOn: []string{"a"}},
		},
	}
}

func TestEnqueue_InsertsPlanSubtasksAndEdges(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := Enqueue(ctx, s, linearPlan(), "", 3)
	require.NoError(t, err)
	assert.Equal(t, "p1", id)

	plan, err := store.GetTask(ctx, s.DB(), "p1")
	require.NoError(t, err)
	assert.Equal(t, store.KindPlan, plan.Kind)
	assert.Equal(t, store.StatusQueued, plan.Status)

	a, err := store.GetTask(ctx, s.DB(), "a")
	require.NoError(t, err)
	assert.Equal(t, "p1", a.PlanID)

	events, err := store.ListEvents(ctx, s.DB(), "p1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "enqueued plan", events[0].Message)
}

// Scenario 4 - idempotent enqueue.
func TestEnqueue_IdempotencyKeyReturnsSamePlanAndInsertsNothing(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id1, err := Enqueue(ctx, s, linearPlan(), "k1", 3)
	require.NoError(t, err)

	id2, err := Enqueue(ctx, s, linearPlan(), "k1", 3)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	var planCount int
	require.NoError(t, s.DB().QueryRowContext(ctx,
		`SELECT count(*) FROM tasks WHERE kind = 'plan' AND idempotency_key = 'k1'`).Scan(&planCount))
	assert.Equal(t, 1, planCount)

	events, err := store.ListEvents(ctx, s.DB(), id1)
	require.NoError(t, err)
	assert.Len(t, events, 1, "second enqueue must not append another event")
}

// Round-trip (b): enqueue then select yields a, then b once a succeeds.
func TestNextRunnable_RespectsDependencyOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := Enqueue(ctx, s, linearPlan(), "", 3)
	require.NoError(t, err)

	task, ok, err := NextRunnable(ctx, s.DB())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", task.ID)

	_, err = s.DB().ExecContext(ctx, `UPDATE tasks SET status = 'succeeded' WHERE id = 'a'`)
	require.NoError(t, err)

	task, ok, err = NextRunnable(ctx, s.DB())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", task.ID)
}

func TestNextRunnable_NoneWhenNothingRunnable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := Enqueue(ctx, s, linearPlan(), "", 3)
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `UPDATE tasks SET status = 'running' WHERE id = 'a'`)
	require.NoError(t, err)

	_, ok, err := NextRunnable(ctx, s.DB())
	require.NoError(t, err)
	assert.False(t, ok, "b is blocked on a, which is not yet succeeded")
}

// Scenario 2 - blocked propagation and plan-level failed rollup.
func TestReconcile_PropagatesBlockedThroughChainAndFailsPlan(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	plan := validator.Plan{
		PlanID: "p1",
		Subtasks: []validator.Subtask{
			{ID: "a", Prompt: "do a"},
			{ID: "b", Prompt: "do b", DependsOn: []string{"a"}},
			{ID: "c", Prompt: "do c", DependsOn: []string{"b"}},
		},
	}
	_, err := Enqueue(ctx, s, plan, "", 3)
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `UPDATE tasks SET status = 'failed', failure_kind = 'test' WHERE id = 'a'`)
	require.NoError(t, err)

	require.NoError(t, Reconcile(ctx, s))
	require.NoError(t, Reconcile(ctx, s))

	b, err := store.GetTask(ctx, s.DB(), "b")
	require.NoError(t, err)
	assert.Equal(t, store.StatusBlocked, b.Status)
	assert.Equal(t, "dependency_failed", b.BlockedReason)

	c, err := store.GetTask(ctx, s.DB(), "c")
	require.NoError(t, err)
	assert.Equal(t, store.StatusBlocked, c.Status)

	planRow, err := store.GetTask(ctx, s.DB(), "p1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, planRow.Status)
}

// Scenario 1 - all subtasks succeeded rolls the plan up to succeeded.
func TestReconcile_AllSucceededRollsPlanToSucceeded(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := Enqueue(ctx, s, linearPlan(), "", 3)
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `UPDATE tasks SET status = 'succeeded' WHERE kind = 'subtask'`)
	require.NoError(t, err)

	require.NoError(t, Reconcile(ctx, s))

	planRow, err := store.GetTask(ctx, s.DB(), "p1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, planRow.Status)
}

func TestPlanStatusFrom_PriorityOrder(t *testing.T) {
	cases := []struct {
		name   string
		in     []store.Status
		expect store.Status
	}{
		{"all succeeded", []store.Status{store.StatusSucceeded, store.StatusSucceeded}, store.StatusSucceeded},
		{"any running wins over queued", []store.Status{store.StatusRunning, store.StatusQueued}, store.StatusRunning},
		{"any queued wins over failed", []store.Status{store.StatusQueued, store.StatusFailed}, store.StatusQueued},
		{"terminal-non-success with none above", []store.Status{store.StatusFailed, store.StatusBlocked}, store.StatusFailed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expect, planStatusFrom(c.in))
		})
	}
}
