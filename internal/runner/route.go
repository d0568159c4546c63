// Package runner executes one subtask attempt: it classifies the
// subtask's routing into a dispatch family (the worker uses this to decide
// whether to prepare a worktree first), stages prompt files, and invokes
// the configured runner command. Grounded directly on the original
// implementation's orchestrator/runner.py.
package runner

import "strings"

// Route is the dispatch family a subtask's routing string selects.
// taskloom never branches retry or failure-classification semantics on
// Route - it exists only to pick whether the worker prepares a worktree
// before invoking the runner command, per the original's run_task.
type Route string

const (
	RouteCodex    Route = "codex"
	RouteReviewer Route = "reviewer"
	RouteDesigner Route = "designer"
	RouteTriage   Route = "triage"
	RouteUnknown  Route = "unknown"
)

var (
	codexAliases    = map[string]bool{"backend": true, "frontend": true, "coding": true, "implement": true}
	reviewerAliases = map[string]bool{"reviewer": true, "review": true, "claude-review": true}
	designerAliases = map[string]bool{"designer": true, "design": true, "gemini-design": true}
	triageAliases   = map[string]bool{"triage": true, "classify": true, "qwen-triage": true}
)

// ClassifyRoute maps a subtask's raw routing string to a Route, in the
// same precedence order as the original's _is_codex_route /
// _is_reviewer_route / _is_designer_route / _is_triage_route chain:
// codex first (prefix or exact alias), then reviewer, designer, triage
// (each an exact alias or a substring match), else RouteUnknown.
func ClassifyRoute(routing string) Route {
	r := strings.ToLower(strings.TrimSpace(routing))

	if strings.HasPrefix(r, "codex") || codexAliases[r] {
		return RouteCodex
	}
	if reviewerAliases[r] || strings.Contains(r, "review") {
		return RouteReviewer
	}
	if designerAliases[r] || strings.Contains(r, "design") {
		return RouteDesigner
	}
	if triageAliases[r] || strings.Contains(r, "triage") {
		return RouteTriage
	}
	return RouteUnknown
}
