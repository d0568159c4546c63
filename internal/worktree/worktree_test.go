package worktree

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner answers rev-parse checks from a set of "known repo" dirs and
// records every invocation so tests can assert on what git commands ran.
type fakeRunner struct {
	repos []string
	calls [][]string
}

func (f *fakeRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{dir}, args...))

	if len(args) >= 1 && args[0] == "rev-parse" {
		for _, r := range f.repos {
			if r == dir {
				if len(args) >= 2 && args[1] == "--abbrev-ref" {
					return "main", nil
				}
				return "true", nil
			}
		}
		return "", assertErr("not a repo")
	}

	if len(args) >= 2 && args[0] == "worktree" && args[1] == "add" {
		wtPath := args[2]
		if err := os.MkdirAll(wtPath, 0o755); err != nil {
			return "", err
		}
		f.repos = append(f.repos, wtPath)
		return "", nil
	}

	if len(args) >= 2 && args[0] == "worktree" && args[1] == "remove" {
		return "", nil
	}

	return "", nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestEnsure_NoWorktreeForNonRepo(t *testing.T) {
	dir := t.TempDir()
	m := &Manager{Runner: &fakeRunner{}}

	info, err := m.Ensure(context.Background(), "task-1", dir, "")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestEnsure_NoWorktreeForEmptyRepoPath(t *testing.T) {
	m := &Manager{Runner: &fakeRunner{}}
	info, err := m.Ensure(context.Background(), "task-1", "", "")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestEnsure_CreatesManagedWorktree(t *testing.T) {
	repo := t.TempDir()
	runner := &fakeRunner{repos: []string{repo}}
	m := &Manager{Runner: runner}

	info, err := m.Ensure(context.Background(), "task/weird id!!", repo, "")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, info.Managed)
	assert.Equal(t, "main", info.Branch)
	assert.Contains(t, info.Path, filepath.Join(repo, ".orchestrator", "worktrees"))
}

func TestEnsure_AdoptsConfiguredPathUnmanaged(t *testing.T) {
	repo := t.TempDir()
	configured := filepath.Join(t.TempDir(), "existing-wt")
	require.NoError(t, os.MkdirAll(configured, 0o755))

	runner := &fakeRunner{repos: []string{repo, configured}}
	m := &Manager{Runner: runner}

	info, err := m.Ensure(context.Background(), "task-1", repo, configured)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.False(t, info.Managed)
	assert.Equal(t, configured, info.Path)
}

func TestCleanup_NoOpWhenUnmanaged(t *testing.T) {
	repo := t.TempDir()
	runner := &fakeRunner{}
	m := &Manager{Runner: runner}

	err := m.Cleanup(context.Background(), repo, filepath.Join(repo, "somewhere"), false)
	require.NoError(t, err)
	assert.Empty(t, runner.calls)
}

func TestCleanup_RefusesPathOutsideManagedRoot(t *testing.T) {
	repo := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.MkdirAll(outside, 0o755))

	runner := &fakeRunner{}
	m := &Manager{Runner: runner}

	err := m.Cleanup(context.Background(), repo, outside, true)
	require.NoError(t, err)
	assert.Empty(t, runner.calls)
}

func TestCleanup_RemovesManagedWorktree(t *testing.T) {
	repo := t.TempDir()
	wt := filepath.Join(repo, ".orchestrator", "worktrees", "task-1")
	require.NoError(t, os.MkdirAll(wt, 0o755))

	runner := &fakeRunner{}
	m := &Manager{Runner: runner}

	err := m.Cleanup(context.Background(), repo, wt, true)
	require.NoError(t, err)
	assert.NotEmpty(t, runner.calls)
}

func TestSanitizeBranch(t *testing.T) {
	assert.Equal(t, "task", sanitizeBranch(""))
	assert.Equal(t, "task", sanitizeBranch("!!!"))
	assert.Equal(t, "a-b_c.d", sanitizeBranch("a b_c.d"))
}

func TestSanitizePath(t *testing.T) {
	assert.Equal(t, "task", sanitizePath(""))
	assert.Equal(t, "a-b", sanitizePath("a/b"))
}

func TestIsWithin(t *testing.T) {
	root := t.TempDir()
	child := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(child, 0o755))

	assert.True(t, isWithin(child, root))
	assert.True(t, isWithin(root, root))
	assert.False(t, isWithin(t.TempDir(), root))
}
