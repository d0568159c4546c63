// Package validator performs structural and semantic validation of plan
// input. Validation is pure: it never touches the store.
package validator

import "fmt"

// DefaultMaxPromptChars is the default bound on a subtask's prompt length.
const DefaultMaxPromptChars = 20_000

// Plan is the free-form input shape a caller submits. Unknown fields are
// ignored (callers typically decode from JSON with encoding/json, which
// already discards unrecognized keys for a struct target).
type Plan struct {
	PlanID   string     `json:"planId"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Repo     string     `json:"repo"`
	RepoPath string     `json:"repoPath"`
	Subtasks []Subtask  `json:"subtasks"`
}

// Subtask is one node of the plan's dependency DAG.
type Subtask struct {
	ID        string   `json:"id"`
	Prompt    string   `json:"prompt"`
	Routing   string   `json:"routing"`
	DependsOn []string `json:"dependsOn"`
	Title     string   `json:"title"`
	RepoPath  string   `json:"repoPath"`
}

// EffectivePlanID returns PlanID if set, else ID (the "id" alias).
func (p Plan) EffectivePlanID() string {
	if p.PlanID != "" {
		return p.PlanID
	}
	return p.ID
}

// ValidationError identifies the offending path in a rejected plan.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func fail(path, format string, args ...interface{}) error {
	return &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// Options controls limits the validator enforces.
type Options struct {
	// MaxPromptChars bounds Subtask.Prompt length. Zero means
	// DefaultMaxPromptChars.
	MaxPromptChars int
}

// Validate checks plan against spec.md §4.2's acceptance rules:
//  1. non-empty planId (or its "id" alias)
//  2. non-empty ordered subtasks list
//  3. unique, non-empty subtask ids
//  4. non-empty prompt, bounded length
//  5. routing, when present, non-empty
//  6. dependsOn entries refer to subtask ids declared in the same plan
//  7. the dependency graph is acyclic (Kahn's algorithm)
//
// It returns the first violation found, in the order above.
func Validate(p Plan, opts Options) error {
	maxPrompt := opts.MaxPromptChars
	if maxPrompt <= 0 {
		maxPrompt = DefaultMaxPromptChars
	}

	if p.EffectivePlanID() == "" {
		return fail("planId", "is required")
	}

	if len(p.Subtasks) == 0 {
		return fail("subtasks", "must be a non-empty list")
	}

	ids := make(map[string]bool, len(p.Subtasks))
	var edges []edge

	for i, st := range p.Subtasks {
		path := fmt.Sprintf("subtasks[%d]", i)

		if st.ID == "" {
			return fail(path+".id", "is required")
		}
		if ids[st.ID] {
			return fail(path+".id", "duplicate subtask id: %s", st.ID)
		}
		ids[st.ID] = true

		if st.Prompt == "" {
			return fail(path+".prompt", "is required")
		}
		if len(st.Prompt) > maxPrompt {
			return fail(path+".prompt", "too long: %d > %d", len(st.Prompt), maxPrompt)
		}

		if st.Routing != "" && isBlank(st.Routing) {
			return fail(path+".routing", "must be a non-empty string when provided")
		}

		for _, dep := range st.DependsOn {
			if dep == "" {
				return fail(path+".dependsOn", "contains an empty id")
			}
			edges = append(edges, edge{from: st.ID, to: dep})
		}
	}

	for _, e := range edges {
		if !ids[e.to] {
			return fail(fmt.Sprintf("subtasks[%s].dependsOn", e.from), "refers to unknown id: %s", e.to)
		}
	}

	if err := assertDAG(ids, edges); err != nil {
		return err
	}

	return nil
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' {
			return false
		}
	}
	return true
}

type edge struct {
	from string // subtask id
	to   string // depends_on id
}

// assertDAG runs Kahn's algorithm on the forward graph depends_on -> task:
// an edge (from, to) means "from depends on to", so the forward adjacency
// edge for topological ordering runs to -> from. If the topological count
// differs from the node count, the graph has a cycle.
func assertDAG(ids map[string]bool, edges []edge) error {
	forward := make(map[string][]string, len(ids))
	indegree := make(map[string]int, len(ids))
	for id := range ids {
		indegree[id] = 0
	}
	for _, e := range edges {
		forward[e.to] = append(forward[e.to], e.from)
		indegree[e.from]++
	}

	queue := make([]string, 0, len(ids))
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	seen := 0
	for len(queue) > 0 {
		cur := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		seen++
		for _, next := range forward[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if seen != len(ids) {
		return fail("dependsOn", "has a cycle (DAG check failed)")
	}
	return nil
}
