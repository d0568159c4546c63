// Package worktree manages per-subtask git worktrees: creating one under
// a repo's .orchestrator/worktrees directory (or adopting a caller-given
// path), and tearing it down once the subtask reaches a terminal state.
// Grounded directly on the original implementation's
// orchestrator/worktree.py, restyled after the teacher's
// CommandRunner-injectable GitCheckpointer in
// internal/executor/git_checkpointer.go.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gofrs/flock"
)

// CommandRunner executes a git command and returns combined output. The
// default implementation shells out via os/exec; tests inject a fake.
type CommandRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecCommandRunner runs git via os/exec.CommandContext.
type ExecCommandRunner struct{}

func (ExecCommandRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = fmt.Sprintf("git %s failed", strings.Join(args, " "))
		}
		return string(out), fmt.Errorf("%s", msg)
	}
	return string(out), nil
}

// Info describes a subtask's resolved worktree.
type Info struct {
	Path    string
	Branch  string
	Managed bool
}

// Manager creates and tears down task worktrees. A single Manager is
// safe for concurrent use by multiple workers in the same process; the
// flock guards creation across separate processes sharing a repo.
type Manager struct {
	Runner CommandRunner
}

// New returns a Manager using the real git CLI.
func New() *Manager {
	return &Manager{Runner: ExecCommandRunner{}}
}

// Ensure resolves the worktree a subtask should run in. repoPath must be
// a git repository or Ensure returns (nil, nil): no worktree, run
// in-place. If worktreePath is already set (an operator-pinned path), it
// is adopted as-is (unmanaged) unless it does not yet exist as a repo,
// in which case it is created at that path. Otherwise a managed worktree
// is created under repoPath/.orchestrator/worktrees/<sanitized task id>.
//
// Creation is serialized across processes by a flock file at
// repoPath/.orchestrator/.worktree.lock, since two workers racing to
// `git worktree add` the same repo can corrupt git's worktree metadata.
func (m *Manager) Ensure(ctx context.Context, taskID, repoPath, worktreePath string) (*Info, error) {
	repo := strings.TrimSpace(repoPath)
	if repo == "" {
		return nil, nil
	}
	if !m.isGitRepo(ctx, repo) {
		return nil, nil
	}

	lockDir := filepath.Join(repo, ".orchestrator")
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", lockDir, err)
	}
	lock := flock.New(filepath.Join(lockDir, ".worktree.lock"))
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock worktree creation: %w", err)
	}
	defer lock.Unlock()

	configured := strings.TrimSpace(worktreePath)
	if configured != "" {
		if !m.isGitRepo(ctx, configured) {
			branch := "orchestrator/" + sanitizeBranch(taskID)
			if _, err := m.Runner.Run(ctx, repo, "worktree", "add", configured, "-B", branch); err != nil {
				return nil, fmt.Errorf("git worktree add %s: %w", configured, err)
			}
		}
		branch := m.branchName(ctx, configured)
		return &Info{Path: configured, Branch: branch, Managed: false}, nil
	}

	wt := filepath.Join(repo, ".orchestrator", "worktrees", sanitizePath(taskID))
	if !m.isGitRepo(ctx, wt) {
		if err := os.MkdirAll(filepath.Dir(wt), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", filepath.Dir(wt), err)
		}
		branch := "orchestrator/" + sanitizeBranch(taskID)
		if _, err := m.Runner.Run(ctx, repo, "worktree", "add", wt, "-B", branch); err != nil {
			return nil, fmt.Errorf("git worktree add %s: %w", wt, err)
		}
	}
	branch := m.branchName(ctx, wt)
	return &Info{Path: wt, Branch: branch, Managed: true}, nil
}

// Cleanup removes a managed worktree. It is a no-op for unmanaged
// worktrees, missing paths, or paths outside the managed root - the
// last guard against ever recursively deleting something Ensure did not
// create.
func (m *Manager) Cleanup(ctx context.Context, repoPath, worktreePath string, managed bool) error {
	repo := strings.TrimSpace(repoPath)
	wt := strings.TrimSpace(worktreePath)
	if !managed || wt == "" || repo == "" {
		return nil
	}

	if _, err := os.Stat(wt); os.IsNotExist(err) {
		return nil
	}

	safeRoot := filepath.Join(repo, ".orchestrator", "worktrees")
	if !isWithin(wt, safeRoot) {
		return nil
	}

	if _, err := m.Runner.Run(ctx, repo, "worktree", "remove", "--force", wt); err != nil {
		// Git worktree metadata can go stale (e.g. the directory was
		// deleted out from under it); fall back to a plain directory
		// removal so cleanup still succeeds.
		_ = os.RemoveAll(wt)
	}
	return nil
}

func (m *Manager) isGitRepo(ctx context.Context, dir string) bool {
	if _, err := os.Stat(dir); err != nil {
		return false
	}
	_, err := m.Runner.Run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

func (m *Manager) branchName(ctx context.Context, dir string) string {
	out, err := m.Runner.Run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

var (
	branchDisallowed = regexp.MustCompile(`[^a-zA-Z0-9._/-]+`)
	pathDisallowed   = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// sanitizeBranch maps a task id to a safe git branch-name segment.
func sanitizeBranch(taskID string) string {
	s := strings.Trim(branchDisallowed.ReplaceAllString(taskID, "-"), "-/")
	if s == "" {
		return "task"
	}
	return s
}

// sanitizePath maps a task id to a safe single path-segment directory
// name.
func sanitizePath(taskID string) string {
	s := strings.Trim(pathDisallowed.ReplaceAllString(taskID, "-"), "-.")
	if s == "" {
		return "task"
	}
	return s
}

// isWithin reports whether path is root or a descendant of root, after
// resolving both to absolute form. Used to refuse to clean up anything
// outside the worktrees directory Ensure manages.
func isWithin(path, root string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}
