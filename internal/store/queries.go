package store

import (
	"context"
	"database/sql"
	"fmt"
)

// TaskColumns is the fixed column order used by every SELECT ... FROM
// tasks across packages, so a single ScanTask can serve all of them.
const TaskColumns = `id, kind, plan_id, title, routing, prompt, repo, repo_path, worktree_path,
	status, blocked_reason, failure_kind, failure_detail, attempt, max_attempts, idempotency_key,
	worktree_managed, worktree_branch, pr_number, pr_url, ci_state, ci_detail, ci_url,
	created_at, updated_at`

const taskColumns = TaskColumns

// RowScanner is satisfied by both *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...interface{}) error
}

type rowScanner = RowScanner

// ScanTask scans one row shaped like TaskColumns into a Task.
func ScanTask(row RowScanner) (Task, error) {
	return scanTask(row)
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var (
		planID, title, routing, prompt, repo, repoPath, worktreePath                      sql.NullString
		blockedReason, failureKind, failureDetail, idempotencyKey, worktreeBranch          sql.NullString
		prURL, ciStateCol, ciDetail, ciURL                                                 sql.NullString
		prNumber                                                                           sql.NullInt64
		worktreeManaged                                                                    int64
	)

	err := row.Scan(
		&t.ID, &t.Kind, &planID, &title, &routing, &prompt, &repo, &repoPath, &worktreePath,
		&t.Status, &blockedReason, &failureKind, &failureDetail, &t.Attempt, &t.MaxAttempts, &idempotencyKey,
		&worktreeManaged, &worktreeBranch, &prNumber, &prURL, &ciStateCol, &ciDetail, &ciURL,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}

	t.PlanID = planID.String
	t.Title = title.String
	t.Routing = routing.String
	t.Prompt = prompt.String
	t.Repo = repo.String
	t.RepoPath = repoPath.String
	t.WorktreePath = worktreePath.String
	t.BlockedReason = blockedReason.String
	t.FailureKind = FailureKind(failureKind.String)
	t.FailureDetail = failureDetail.String
	t.IdempotencyKey = idempotencyKey.String
	t.WorktreeManaged = worktreeManaged != 0
	t.WorktreeBranch = worktreeBranch.String
	t.PRNumber = int(prNumber.Int64)
	t.PRURL = prURL.String
	t.CIState = CIState(ciStateCol.String)
	t.CIDetail = ciDetail.String
	t.CIURL = ciURL.String

	return t, nil
}

// GetTask reads one task row by id. Returns sql.ErrNoRows if absent.
func GetTask(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}, id string) (Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasks returns tasks optionally filtered by status, most recently
// updated first, capped at limit (0 means no cap). This backs the
// operator-facing "list" command; it is not used by any core component.
func ListTasks(ctx context.Context, db *sql.DB, status string, limit int) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendEvent inserts one append-only event row using the given executor
// (either *sql.DB or the *sql.Conn of an in-flight Immediate transaction,
// so event writes share the row update's transaction when required by
// spec.md's ordering guarantees).
func AppendEvent(ctx context.Context, exec interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}, taskID string, ts int64, level EventLevel, message string, data string) error {
	var dataArg interface{}
	if data != "" {
		dataArg = data
	}
	_, err := exec.ExecContext(ctx,
		`INSERT INTO events(task_id, ts, level, message, data) VALUES(?, ?, ?, ?, ?)`,
		taskID, ts, level, message, dataArg)
	return err
}

// ListEvents returns a task's event history, oldest first.
func ListEvents(ctx context.Context, db *sql.DB, taskID string) ([]Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, task_id, ts, level, message, COALESCE(data, '') FROM events WHERE task_id = ? ORDER BY ts ASC, id ASC`,
		taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TaskID, &e.TS, &e.Level, &e.Message, &e.Data); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
