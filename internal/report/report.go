// Package report renders a plan's task and event history as an HTML
// status digest: build a markdown summary, then hand it to goldmark the
// way the teacher's internal/parser.MarkdownParser wraps a
// goldmark.Markdown instance (internal/parser/markdown.go), just for
// rendering instead of parsing.
package report

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/ellwood/taskloom/internal/store"
)

// Renderer converts a plan's current state into an HTML digest.
type Renderer struct {
	markdown goldmark.Markdown
}

// New returns a Renderer using goldmark's default configuration plus raw
// HTML passthrough, so the <details> wrapper around each subtask's event
// log is rendered rather than omitted.
func New() *Renderer {
	return &Renderer{markdown: goldmark.New(goldmark.WithRendererOptions(html.WithUnsafe()))}
}

// Render builds the HTML status digest for planID: the plan row, its
// subtasks (with failure/CI/PR state), and each subtask's event log.
func (r *Renderer) Render(ctx context.Context, db *sql.DB, planID string) (string, error) {
	plan, err := store.GetTask(ctx, db, planID)
	if err != nil {
		return "", fmt.Errorf("load plan %s: %w", planID, err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+store.TaskColumns+` FROM tasks WHERE kind = 'subtask' AND plan_id = ? ORDER BY created_at ASC`,
		planID)
	if err != nil {
		return "", fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()

	var subtasks []store.Task
	for rows.Next() {
		t, err := store.ScanTask(rows)
		if err != nil {
			return "", err
		}
		subtasks = append(subtasks, t)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	md, err := renderMarkdown(ctx, db, plan, subtasks)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

func renderMarkdown(ctx context.Context, db *sql.DB, plan store.Task, subtasks []store.Task) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# Plan %s\n\n", plan.ID)
	if plan.Title != "" {
		fmt.Fprintf(&b, "**%s**\n\n", plan.Title)
	}
	fmt.Fprintf(&b, "- Status: `%s`\n", plan.Status)
	fmt.Fprintf(&b, "- Updated: %s\n\n", formatUnix(plan.UpdatedAt))

	fmt.Fprintf(&b, "## Subtasks (%d)\n\n", len(subtasks))
	for _, t := range subtasks {
		fmt.Fprintf(&b, "### %s", t.ID)
		if t.Title != "" {
			fmt.Fprintf(&b, " - %s", t.Title)
		}
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "- Status: `%s`", t.Status)
		if t.Status == store.StatusBlocked && t.BlockedReason != "" {
			fmt.Fprintf(&b, " (%s)", t.BlockedReason)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "- Attempt: %d/%d\n", t.Attempt, t.MaxAttempts)
		if t.FailureKind != "" {
			fmt.Fprintf(&b, "- Failure: `%s` - %s\n", t.FailureKind, t.FailureDetail)
		}
		if t.PRNumber != 0 {
			fmt.Fprintf(&b, "- PR: [#%d](%s)\n", t.PRNumber, t.PRURL)
		}
		if t.CIState != "" {
			fmt.Fprintf(&b, "- CI: `%s` (%s)\n", t.CIState, t.CIDetail)
		}

		events, err := store.ListEvents(ctx, db, t.ID)
		if err != nil {
			return "", fmt.Errorf("list events for %s: %w", t.ID, err)
		}
		if len(events) > 0 {
			b.WriteString("\n<details><summary>Events</summary>\n\n")
			for _, e := range events {
				fmt.Fprintf(&b, "- `%s` [%s] %s\n", formatUnix(e.TS), e.Level, e.Message)
			}
			b.WriteString("\n</details>\n")
		}
		b.WriteString("\n")
	}

	return b.String(), nil
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04:05 UTC")
}
