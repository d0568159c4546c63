// Package monitor discovers pull request and CI state for subtasks that
// ran in a git worktree, and writes that state back onto the task row.
// Discovery itself is injectable (ListPullRequests/ListChecks) so tests
// never shell out to gh; the default implementation does, grounded
// directly on the original implementation's orchestrator/monitor.py.
package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/ellwood/taskloom/internal/store"
)

// PullRequest is the subset of `gh pr list` a caller needs.
type PullRequest struct {
	Number int
	URL    string
}

// CI is the aggregated check-run state for one pull request.
type CI struct {
	State  store.CIState
	Detail string
	URL    string
}

// GitRunner executes a read-only git command in a worktree.
type GitRunner func(ctx context.Context, dir string, args ...string) (string, error)

// Monitor discovers PR/CI state for subtasks with a live worktree.
// ListPullRequests and ListChecks are struct fields so tests can inject
// fakes instead of shelling out to gh - the same dependency-injection
// shape the teacher uses for its *Interface-suffixed collaborators
// (e.g. WaveExecutorInterface).
type Monitor struct {
	Git             GitRunner
	ListPullRequests func(ctx context.Context, repoSlug, branch string) ([]PullRequest, error)
	ListChecks       func(ctx context.Context, repoSlug string, prNumber int) (CI, error)
}

// New returns a Monitor that shells out to git and the gh CLI.
func New() *Monitor {
	return &Monitor{
		Git:              runGit,
		ListPullRequests: ghListPullRequests,
		ListChecks:       ghListChecks,
	}
}

// Once runs one discovery pass. If taskID is non-empty, only that task
// is examined; otherwise every subtask with a non-empty worktree_path
// is. It returns the number of tasks whose PR/CI fields were updated.
func (m *Monitor) Once(ctx context.Context, db *sql.DB, taskID string) (int, error) {
	tasks, err := m.loadCandidates(ctx, db, taskID)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, t := range tasks {
		wt := strings.TrimSpace(t.WorktreePath)
		if wt == "" {
			continue
		}

		branch, err := m.Git(ctx, wt, "rev-parse", "--abbrev-ref", "HEAD")
		if err != nil {
			continue
		}
		branch = strings.TrimSpace(branch)
		if branch == "" {
			continue
		}
		if err := updateBranch(ctx, db, t.ID, branch); err != nil {
			return updated, err
		}

		slug, err := m.repoSlug(ctx, wt)
		if err != nil || slug == "" {
			continue
		}

		pr, err := m.discoverPR(ctx, slug, branch)
		if err != nil || pr == nil {
			continue
		}

		ci, err := m.ListChecks(ctx, slug, pr.Number)
		if err != nil {
			continue
		}

		if err := writePRAndCI(ctx, db, t.ID, *pr, ci); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

func (m *Monitor) discoverPR(ctx context.Context, repoSlug, branch string) (*PullRequest, error) {
	prs, err := m.ListPullRequests(ctx, repoSlug, branch)
	if err != nil {
		return nil, err
	}
	for _, pr := range prs {
		if pr.Number != 0 {
			// The original matches on headRefName == branch first, falling
			// back to the first result; ListPullRequests already filters
			// by --head branch, so any exact match suffices here.
			return &pr, nil
		}
	}
	if len(prs) > 0 {
		return &prs[0], nil
	}
	return nil, nil
}

func (m *Monitor) repoSlug(ctx context.Context, worktreePath string) (string, error) {
	remote, err := m.Git(ctx, worktreePath, "remote", "get-url", "origin")
	if err != nil {
		return "", err
	}
	slug := ParseGitHubSlug(strings.TrimSpace(remote))
	return slug, nil
}

func (m *Monitor) loadCandidates(ctx context.Context, db *sql.DB, taskID string) ([]store.Task, error) {
	if taskID != "" {
		t, err := store.GetTask(ctx, db, taskID)
		if err != nil {
			return nil, err
		}
		return []store.Task{t}, nil
	}

	rows, err := db.QueryContext(ctx, `SELECT `+store.TaskColumns+` FROM tasks WHERE kind = 'subtask' AND worktree_path IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Task
	for rows.Next() {
		t, err := store.ScanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func updateBranch(ctx context.Context, db *sql.DB, taskID, branch string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE tasks SET worktree_branch = ?, updated_at = ? WHERE id = ?`, branch, store.Now(), taskID)
	return err
}

func writePRAndCI(ctx context.Context, db *sql.DB, taskID string, pr PullRequest, ci CI) error {
	_, err := db.ExecContext(ctx, `
		UPDATE tasks
		SET pr_number = ?, pr_url = ?, ci_state = ?, ci_detail = ?, ci_url = ?, updated_at = ?
		WHERE id = ?`,
		pr.Number, pr.URL, ci.State, ci.Detail, nullIfEmpty(ci.URL), store.Now(), taskID)
	return err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// ParseGitHubSlug extracts "owner/repo" from a github.com remote URL in
// any of the three forms `git remote get-url` commonly returns. Other
// hosts return "" - broadening to other hosts is a future change, not
// guessed here, per the original's parse_github_repo.
func ParseGitHubSlug(remoteURL string) string {
	url := strings.TrimSpace(remoteURL)
	if url == "" {
		return ""
	}

	var slug string
	switch {
	case strings.HasPrefix(url, "git@github.com:"):
		slug = strings.TrimPrefix(url, "git@github.com:")
	case strings.HasPrefix(url, "ssh://git@github.com/"):
		slug = strings.TrimPrefix(url, "ssh://git@github.com/")
	case strings.HasPrefix(url, "https://github.com/"):
		slug = strings.TrimPrefix(url, "https://github.com/")
	default:
		return ""
	}

	slug = strings.TrimSuffix(slug, ".git")
	parts := make([]string, 0, 2)
	for _, p := range strings.Split(slug, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "/" + parts[1]
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = "git command failed"
		}
		return "", fmt.Errorf("%s", msg)
	}
	return string(out), nil
}

var failedCheckStates = map[string]bool{
	"FAILURE": true, "ERROR": true, "TIMED_OUT": true, "CANCELLED": true, "ACTION_REQUIRED": true,
}
var successCheckStates = map[string]bool{"SUCCESS": true, "SKIPPED": true, "NEUTRAL": true}
var pendingCheckStates = map[string]bool{"PENDING": true, "IN_PROGRESS": true, "QUEUED": true, "WAITING": true}

// AggregateChecks folds a set of gh check-run states into one CIState,
// in the original's priority order: any failure wins outright; else all
// states (ignoring blanks) must be success states to report passed; else
// any pending state reports pending; otherwise unknown.
func AggregateChecks(states []string) store.CIState {
	anyFailed := false
	allSuccess := true
	anyPending := false
	sawAny := false

	for _, raw := range states {
		s := strings.ToUpper(strings.TrimSpace(raw))
		if s == "" {
			continue
		}
		sawAny = true
		if failedCheckStates[s] {
			anyFailed = true
		}
		if !successCheckStates[s] {
			allSuccess = false
		}
		if pendingCheckStates[s] {
			anyPending = true
		}
	}

	switch {
	case anyFailed:
		return store.CIFailed
	case sawAny && allSuccess:
		return store.CIPassed
	case anyPending:
		return store.CIPending
	default:
		return store.CIUnknown
	}
}

// ChecksDetail renders the sorted, de-duplicated set of raw check
// states as a comma-joined summary string, falling back to "unknown"
// when empty - matching the original's ",".join(sorted(set(states))).
func ChecksDetail(states []string) string {
	seen := map[string]bool{}
	var unique []string
	for _, raw := range states {
		s := strings.ToUpper(strings.TrimSpace(raw))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		unique = append(unique, s)
	}
	if len(unique) == 0 {
		return "unknown"
	}
	sort.Strings(unique)
	return strings.Join(unique, ",")
}
