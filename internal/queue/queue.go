// Package queue implements plan intake, runnable-task selection, and the
// best-effort reconciliation pass (blocking dependents of failed
// subtasks, recomputing plan status from its subtasks). Grounded
// directly on the original implementation's orchestrator/queue.py.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ellwood/taskloom/internal/store"
	"github.com/ellwood/taskloom/internal/validator"
)

// Enqueue inserts a validated plan and its subtasks. If idempotencyKey is
// non-empty and a plan task already carries it, Enqueue returns that
// plan's id without inserting anything new.
func Enqueue(ctx context.Context, s *store.Store, plan validator.Plan, idempotencyKey string, maxAttempts int) (string, error) {
	planID := plan.EffectivePlanID()
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var resultID string
	err := s.Immediate(ctx, func(ctx context.Context, conn *sql.Conn) error {
		if idempotencyKey != "" {
			var existing string
			err := conn.QueryRowContext(ctx,
				`SELECT id FROM tasks WHERE idempotency_key = ? AND kind = 'plan'`, idempotencyKey).Scan(&existing)
			if err == nil {
				resultID = existing
				return nil
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("check idempotency key: %w", err)
			}
		}

		now := store.Now()
		if _, err := conn.ExecContext(ctx,
			`INSERT INTO tasks(id, kind, plan_id, title, status, max_attempts, idempotency_key, created_at, updated_at)
			 VALUES(?, 'plan', ?, ?, 'queued', ?, ?, ?, ?)`,
			planID, planID, plan.Title, maxAttempts, nullIfEmpty(idempotencyKey), now, now); err != nil {
			return fmt.Errorf("insert plan: %w", err)
		}

		for _, st := range plan.Subtasks {
			if _, err := conn.ExecContext(ctx,
				`INSERT INTO tasks(id, kind, plan_id, title, routing, prompt, repo, repo_path, status, max_attempts, created_at, updated_at)
				 VALUES(?, 'subtask', ?, ?, ?, ?, ?, ?, 'queued', ?, ?, ?)`,
				st.ID, planID, st.Title, st.Routing, st.Prompt, plan.Repo, firstNonEmpty(st.RepoPath, plan.RepoPath),
				maxAttempts, now, now); err != nil {
				return fmt.Errorf("insert subtask %s: %w", st.ID, err)
			}
			for _, dep := range st.DependsOn {
				if _, err := conn.ExecContext(ctx,
					`INSERT OR IGNORE INTO deps(task_id, depends_on) VALUES(?, ?)`, st.ID, dep); err != nil {
					return fmt.Errorf("insert dep %s -> %s: %w", st.ID, dep, err)
				}
			}
		}

		data, _ := json.Marshal(map[string]int{"subtasks": len(plan.Subtasks)})
		if err := store.AppendEvent(ctx, conn, planID, now, store.LevelInfo, "enqueued plan", string(data)); err != nil {
			return fmt.Errorf("log enqueue event: %w", err)
		}

		resultID = planID
		return nil
	})
	if err != nil {
		return "", err
	}
	return resultID, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// NextRunnable returns one queued subtask whose dependencies have all
// succeeded, oldest first, or (Task{}, false) if none is runnable right
// now. Selection alone does not claim the task; Worker does that under
// an Immediate transaction with a read-modify-write guard.
func NextRunnable(ctx context.Context, db *sql.DB) (store.Task, bool, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+store.TaskColumns+`
		FROM tasks t
		WHERE t.kind = 'subtask'
		  AND t.status = 'queued'
		  AND NOT EXISTS (
		    SELECT 1 FROM deps d
		    JOIN tasks td ON td.id = d.depends_on
		    WHERE d.task_id = t.id AND td.status != 'succeeded'
		  )
		ORDER BY t.created_at ASC
		LIMIT 1
	`)

	t, err := store.ScanTask(row)
	if err == sql.ErrNoRows {
		return store.Task{}, false, nil
	}
	if err != nil {
		return store.Task{}, false, err
	}
	return t, true, nil
}

// Reconcile runs the best-effort reconciliation pass:
//  1. blocks queued subtasks whose dependency is terminal-non-success
//  2. recomputes each plan's status from its subtasks
//
// Both steps are idempotent and safe to call on every poll tick.
func Reconcile(ctx context.Context, s *store.Store) error {
	return s.Immediate(ctx, func(ctx context.Context, conn *sql.Conn) error {
		if err := blockDependents(ctx, conn); err != nil {
			return err
		}
		return recomputePlans(ctx, conn)
	})
}

func blockDependents(ctx context.Context, conn *sql.Conn) error {
	rows, err := conn.QueryContext(ctx, `
		SELECT t.id
		FROM tasks t
		WHERE t.kind = 'subtask'
		  AND t.status = 'queued'
		  AND EXISTS (
		    SELECT 1 FROM deps d
		    JOIN tasks td ON td.id = d.depends_on
		    WHERE d.task_id = t.id AND td.status IN ('failed', 'blocked', 'canceled')
		  )
	`)
	if err != nil {
		return fmt.Errorf("find blocked candidates: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	now := store.Now()
	for _, id := range ids {
		if _, err := conn.ExecContext(ctx,
			`UPDATE tasks SET status = 'blocked', blocked_reason = 'dependency_failed', updated_at = ? WHERE id = ?`,
			now, id); err != nil {
			return fmt.Errorf("block %s: %w", id, err)
		}
		if err := store.AppendEvent(ctx, conn, id, now, store.LevelWarn, "blocked: dependency_failed", ""); err != nil {
			return err
		}
	}
	return nil
}

func recomputePlans(ctx context.Context, conn *sql.Conn) error {
	planRows, err := conn.QueryContext(ctx, `SELECT id FROM tasks WHERE kind = 'plan'`)
	if err != nil {
		return fmt.Errorf("list plans: %w", err)
	}
	var planIDs []string
	for planRows.Next() {
		var id string
		if err := planRows.Scan(&id); err != nil {
			planRows.Close()
			return err
		}
		planIDs = append(planIDs, id)
	}
	if err := planRows.Err(); err != nil {
		return err
	}
	planRows.Close()

	now := store.Now()
	for _, planID := range planIDs {
		statusRows, err := conn.QueryContext(ctx,
			`SELECT status FROM tasks WHERE kind = 'subtask' AND plan_id = ?`, planID)
		if err != nil {
			return fmt.Errorf("list subtask statuses for %s: %w", planID, err)
		}
		var statuses []store.Status
		for statusRows.Next() {
			var st string
			if err := statusRows.Scan(&st); err != nil {
				statusRows.Close()
				return err
			}
			statuses = append(statuses, store.Status(st))
		}
		if err := statusRows.Err(); err != nil {
			return err
		}
		statusRows.Close()

		if len(statuses) == 0 {
			continue
		}

		newStatus := planStatusFrom(statuses)

		var oldStatus string
		err = conn.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, planID).Scan(&oldStatus)
		if err != nil {
			return fmt.Errorf("read plan status for %s: %w", planID, err)
		}
		if store.Status(oldStatus) == newStatus {
			continue
		}

		if _, err := conn.ExecContext(ctx,
			`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, newStatus, now, planID); err != nil {
			return fmt.Errorf("update plan status for %s: %w", planID, err)
		}
		if err := store.AppendEvent(ctx, conn, planID, now, store.LevelInfo,
			fmt.Sprintf("plan status -> %s", newStatus), ""); err != nil {
			return err
		}
	}
	return nil
}

// planStatusFrom derives a plan's aggregate status from its subtasks'
// statuses, in the original's priority order: all succeeded beats any
// running beats any queued beats any terminal-non-success (failed,
// blocked, canceled); anything else (e.g. succeeded mixed with an
// unrecognized on-disk status) falls back to queued, matching the
// original's final else branch.
func planStatusFrom(statuses []store.Status) store.Status {
	all := func(want store.Status) bool {
		for _, s := range statuses {
			if s != want {
				return false
			}
		}
		return true
	}
	any := func(wants ...store.Status) bool {
		set := make(map[store.Status]bool, len(wants))
		for _, w := range wants {
			set[w] = true
		}
		for _, s := range statuses {
			if set[s] {
				return true
			}
		}
		return false
	}

	switch {
	case all(store.StatusSucceeded):
		return store.StatusSucceeded
	case any(store.StatusRunning):
		return store.StatusRunning
	case any(store.StatusQueued):
		return store.StatusQueued
	case any(store.StatusFailed, store.StatusBlocked, store.StatusCanceled):
		return store.StatusFailed
	default:
		return store.StatusQueued
	}
}
