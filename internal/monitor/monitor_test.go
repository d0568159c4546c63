package monitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellwood/taskloom/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertSubtaskWithWorktree(t *testing.T, s *store.Store, id, worktreePath string) {
	t.Helper()
	now := store.Now()
	_, err := s.DB().ExecContext(context.Background(),
		`INSERT INTO tasks(id, kind, plan_id, status, worktree_path, attempt, max_attempts, created_at, updated_at)
		 VALUES(?, 'subtask', ?, 'succeeded', ?, 1, 3, ?, ?)`,
		id, id, worktreePath, now, now)
	require.NoError(t, err)
}

// Scenario 6 - monitor CI roll-up: a worktree whose remote is
// git@github.com:org/repo.git on branch orchestrator/t1 resolves PR #42
// and an aggregated failed CI state.
func TestOnce_DiscoversPRAndAggregatesCI(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	insertSubtaskWithWorktree(t, s, "t1", "/repos/app/.orchestrator/worktrees/t1")

	m := &Monitor{
		Git: func(ctx context.Context, dir string, args ...string) (string, error) {
			switch args[0] {
			case "rev-parse":
				return "orchestrator/t1", nil
			case "remote":
				return "git@github.com:org/repo.git", nil
			}
			return "", nil
		},
		ListPullRequests: func(ctx context.Context, repoSlug, branch string) ([]PullRequest, error) {
			assert.Equal(t, "org/repo", repoSlug)
			assert.Equal(t, "orchestrator/t1", branch)
			return []PullRequest{{Number: 42, URL: "https://github.com/org/repo/pull/42"}}, nil
		},
		ListChecks: func(ctx context.Context, repoSlug string, prNumber int) (CI, error) {
			assert.Equal(t, 42, prNumber)
			states := []string{"SUCCESS", "FAILURE"}
			return CI{
				State:  AggregateChecks(states),
				Detail: ChecksDetail(states),
				URL:    "link1",
			}, nil
		},
	}

	updated, err := m.Once(ctx, s.DB(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	task, err := store.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "orchestrator/t1", task.WorktreeBranch)
	assert.Equal(t, 42, task.PRNumber)
	assert.Equal(t, store.CIFailed, task.CIState)
	assert.Equal(t, "FAILURE,SUCCESS", task.CIDetail)
	assert.Equal(t, "link1", task.CIURL)
}

func TestOnce_SkipsTaskWithUnresolvableRemote(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	insertSubtaskWithWorktree(t, s, "t1", "/repos/app/.orchestrator/worktrees/t1")

	m := &Monitor{
		Git: func(ctx context.Context, dir string, args ...string) (string, error) {
			if args[0] == "rev-parse" {
				return "orchestrator/t1", nil
			}
			return "", assertErr("no remote configured")
		},
		ListPullRequests: func(ctx context.Context, repoSlug, branch string) ([]PullRequest, error) {
			t.Fatal("should not be called when the remote can't be resolved")
			return nil, nil
		},
		ListChecks: func(ctx context.Context, repoSlug string, prNumber int) (CI, error) {
			t.Fatal("should not be called when the remote can't be resolved")
			return CI{}, nil
		},
	}

	updated, err := m.Once(ctx, s.DB(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, updated)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestParseGitHubSlug(t *testing.T) {
	cases := map[string]string{
		"git@github.com:org/repo.git":   "org/repo",
		"git@github.com:org/repo":       "org/repo",
		"ssh://git@github.com/org/repo": "org/repo",
		"https://github.com/org/repo":   "org/repo",
		"https://gitlab.com/org/repo":   "",
		"":                              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseGitHubSlug(in), "input %q", in)
	}
}

func TestAggregateChecks(t *testing.T) {
	assert.Equal(t, store.CIFailed, AggregateChecks([]string{"SUCCESS", "FAILURE"}))
	assert.Equal(t, store.CIPassed, AggregateChecks([]string{"SUCCESS", "SKIPPED"}))
	assert.Equal(t, store.CIPending, AggregateChecks([]string{"SUCCESS", "PENDING"}))
	assert.Equal(t, store.CIUnknown, AggregateChecks(nil))
}

func TestChecksDetail_SortedUniqueOrFallback(t *testing.T) {
	assert.Equal(t, "FAILURE,SUCCESS", ChecksDetail([]string{"success", "FAILURE", "success"}))
	assert.Equal(t, "unknown", ChecksDetail(nil))
}
