// Package worker implements the poll/claim/run/classify/retry loop that
// drives subtasks to completion. Grounded directly on the original
// implementation's orchestrator/daemon.py (run_daemon, _run_cmd,
// _mark_succeeded, _mark_failed), restyled after the teacher's
// signal.NotifyContext shutdown handling (internal/cmd/observe_ingest.go)
// and its uuid session-id convention (internal/cmd/run.go,
// generateSessionID).
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ellwood/taskloom/internal/classifier"
	"github.com/ellwood/taskloom/internal/queue"
	"github.com/ellwood/taskloom/internal/retry"
	"github.com/ellwood/taskloom/internal/runner"
	"github.com/ellwood/taskloom/internal/store"
	"github.com/ellwood/taskloom/internal/worktree"
)

// Logger receives a line of worker progress. Callers pass an
// eventlog.Logger; tests can pass a no-op.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Config controls worker-loop behavior, mirroring the original's
// DaemonConfig.
type Config struct {
	PollInterval time.Duration
	RunnerCmd    runner.Template
	LogDir       string
}

// Worker runs the loop against one store.
type Worker struct {
	Store     *store.Store
	Worktrees *worktree.Manager
	Config    Config
	Log       Logger
}

// New returns a Worker with a real git-backed worktree manager.
func New(s *store.Store, cfg Config, log Logger) *Worker {
	return &Worker{Store: s, Worktrees: worktree.New(), Config: cfg, Log: log}
}

// Run loops until ctx is canceled (typically by signal.NotifyContext in
// the caller), polling for runnable subtasks, claiming, running, and
// reconciling after every tick - the same shape as the original's
// run_daemon, minus its global signal.signal() registration, which
// callers now do once at the process level via context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	poll := w.Config.PollInterval
	if poll <= 0 {
		poll = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := queue.Reconcile(ctx, w.Store); err != nil {
			w.Log.Errorf("reconcile: %v", err)
		}

		task, ok, err := queue.NextRunnable(ctx, w.Store.DB())
		if err != nil {
			w.Log.Errorf("find runnable task: %v", err)
			if !sleep(ctx, poll) {
				return nil
			}
			continue
		}
		if !ok {
			if !sleep(ctx, poll) {
				return nil
			}
			continue
		}

		if err := w.attempt(ctx, task); err != nil {
			w.Log.Errorf("task %s: %v", task.ID, err)
		}

		if err := queue.Reconcile(ctx, w.Store); err != nil {
			w.Log.Errorf("reconcile: %v", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// attempt claims task, runs one attempt, classifies failure if any, and
// applies the retry gate or marks the task terminal.
func (w *Worker) attempt(ctx context.Context, task store.Task) error {
	claimed, nextAttempt, err := w.claim(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		return nil
	}

	sessionID := uuid.NewString()
	route := runner.ClassifyRoute(task.Routing)

	workdir := task.WorktreePath
	if route == runner.RouteCodex {
		wt, err := w.Worktrees.Ensure(ctx, task.ID, task.RepoPath, task.WorktreePath)
		if err != nil {
			w.Log.Warnf("worktree setup failed for %s: %v", task.ID, err)
		} else if wt != nil {
			workdir = wt.Path
			if err := w.persistWorktree(ctx, task.ID, wt); err != nil {
				return fmt.Errorf("persist worktree: %w", err)
			}
		}
	}
	if workdir == "" {
		workdir = task.RepoPath
	}
	if route == runner.RouteCodex {
		if _, err := runner.PreparePrompt(workdir, task.ID, task.Prompt); err != nil {
			w.Log.Warnf("prompt staging failed for %s: %v", task.ID, err)
		}
	}

	cmd := w.Config.RunnerCmd.Render(task.ID, task.Routing, task.Prompt, w.Store.Path())
	logFile := filepath.Join(w.Config.LogDir, fmt.Sprintf("%s.attempt%d.%s.log", task.ID, nextAttempt, sessionID))

	result := runner.Run(ctx, cmd, workdir, logFile)

	if result.LaunchErr != nil {
		return w.fail(ctx, task.ID, store.FailureAgent, fmt.Sprintf("launch error: %v; log=%s", result.LaunchErr, logFile), "", nextAttempt)
	}
	if result.RCPresent && result.ExitCode == 0 {
		return w.succeed(ctx, task.ID)
	}

	tail := classifier.Tail(result.Output, classifier.DefaultTailBytes)
	cls := classifier.Classify(tail, result.ExitCode, result.RCPresent)
	detail := fmt.Sprintf("%s; log=%s", cls.Detail, logFile)
	return w.fail(ctx, task.ID, cls.Kind, detail, tail, nextAttempt)
}

// claim transitions task from queued to running under the write-lock
// transaction, guarding against a second worker (or a stale poll
// result) claiming the same row twice.
func (w *Worker) claim(ctx context.Context, taskID string) (claimed bool, attempt int, err error) {
	err = w.Store.Immediate(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var status string
		var cur int
		var maxAttempts int
		row := conn.QueryRowContext(ctx, `SELECT status, attempt, max_attempts FROM tasks WHERE id = ?`, taskID)
		if e := row.Scan(&status, &cur, &maxAttempts); e != nil {
			return e
		}
		if status != string(store.StatusQueued) {
			return nil
		}

		now := store.Now()
		attempt = cur + 1
		if _, e := conn.ExecContext(ctx,
			`UPDATE tasks SET status = 'running', attempt = attempt + 1, updated_at = ? WHERE id = ?`,
			now, taskID); e != nil {
			return e
		}
		if e := store.AppendEvent(ctx, conn, taskID, now, store.LevelInfo,
			fmt.Sprintf("claimed for run (attempt %d/%d)", attempt, maxAttempts), ""); e != nil {
			return e
		}
		claimed = true
		return nil
	})
	return claimed, attempt, err
}

func (w *Worker) succeed(ctx context.Context, taskID string) error {
	return w.Store.Immediate(ctx, func(ctx context.Context, conn *sql.Conn) error {
		now := store.Now()
		if _, err := conn.ExecContext(ctx,
			`UPDATE tasks SET status = 'succeeded', failure_kind = NULL, failure_detail = NULL, updated_at = ? WHERE id = ?`,
			now, taskID); err != nil {
			return err
		}
		return store.AppendEvent(ctx, conn, taskID, now, store.LevelInfo, "succeeded", "")
	})
}

// fail records the failure, then asks the retry gate whether to requeue.
// The gate sees the stored detail plus the runner's output tail, so infra
// or flake signals in the output (e.g. "connection reset") count.
func (w *Worker) fail(ctx context.Context, taskID string, kind store.FailureKind, detail, output string, attempt int) error {
	err := w.Store.Immediate(ctx, func(ctx context.Context, conn *sql.Conn) error {
		now := store.Now()
		if _, err := conn.ExecContext(ctx,
			`UPDATE tasks SET status = 'failed', failure_kind = ?, failure_detail = ?, updated_at = ? WHERE id = ?`,
			kind, detail, now, taskID); err != nil {
			return err
		}
		return store.AppendEvent(ctx, conn, taskID, now, store.LevelError,
			fmt.Sprintf("failed: %s (%s)", kind, detail), "")
	})
	if err != nil {
		return err
	}

	var maxAttempts int
	row := w.Store.DB().QueryRowContext(ctx, `SELECT max_attempts FROM tasks WHERE id = ?`, taskID)
	if err := row.Scan(&maxAttempts); err != nil {
		return err
	}

	dec := retry.Decide(kind, detail+"\n"+output, attempt, maxAttempts)
	if dec.ShouldRetry {
		return w.Store.Immediate(ctx, func(ctx context.Context, conn *sql.Conn) error {
			now := store.Now()
			if _, err := conn.ExecContext(ctx,
				`UPDATE tasks SET status = 'queued', updated_at = ? WHERE id = ?`, now, taskID); err != nil {
				return err
			}
			return store.AppendEvent(ctx, conn, taskID, now, store.LevelWarn, "retry allowed: "+dec.Reason, "")
		})
	}

	if err := w.Store.Immediate(ctx, func(ctx context.Context, conn *sql.Conn) error {
		now := store.Now()
		return store.AppendEvent(ctx, conn, taskID, now, store.LevelWarn, "no retry: "+dec.Reason, "")
	}); err != nil {
		return err
	}

	var repoPath, worktreePath string
	var managed int
	row = w.Store.DB().QueryRowContext(ctx, `SELECT COALESCE(repo_path, ''), COALESCE(worktree_path, ''), worktree_managed FROM tasks WHERE id = ?`, taskID)
	if err := row.Scan(&repoPath, &worktreePath, &managed); err != nil {
		return err
	}
	if managed == 0 {
		return nil
	}
	if err := w.Worktrees.Cleanup(ctx, repoPath, worktreePath, managed != 0); err != nil {
		w.Log.Warnf("worktree cleanup failed for %s: %v", taskID, err)
	}
	return w.clearWorktree(ctx, taskID)
}

func (w *Worker) persistWorktree(ctx context.Context, taskID string, wt *worktree.Info) error {
	return w.Store.Immediate(ctx, func(ctx context.Context, conn *sql.Conn) error {
		now := store.Now()
		managed := 0
		if wt.Managed {
			managed = 1
		}
		_, err := conn.ExecContext(ctx,
			`UPDATE tasks SET worktree_path = ?, worktree_managed = ?, worktree_branch = ?, updated_at = ? WHERE id = ?`,
			wt.Path, managed, wt.Branch, now, taskID)
		return err
	})
}

func (w *Worker) clearWorktree(ctx context.Context, taskID string) error {
	return w.Store.Immediate(ctx, func(ctx context.Context, conn *sql.Conn) error {
		now := store.Now()
		_, err := conn.ExecContext(ctx,
			`UPDATE tasks SET worktree_path = NULL, worktree_managed = 0, worktree_branch = NULL, updated_at = ? WHERE id = ?`,
			now, taskID)
		return err
	})
}
