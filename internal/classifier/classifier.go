// Package classifier maps a runner's (stdout+stderr tail, exit code) to a
// failure kind. It is a pure function with no I/O, grounded directly on
// the original implementation's orchestrator/failure.py and restyled after
// the teacher's compiled-once pattern bank in
// internal/executor/patterns.go (KnownPatterns / DetectErrorPattern).
package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ellwood/taskloom/internal/store"
)

// bank is one (kind, patterns) entry. Order among kinds is significant:
// the first kind whose pattern bank matches wins, scanned in the order
// lint, test, build, ci, agent.
type bank struct {
	kind     store.FailureKind
	patterns []*regexp.Regexp
}

// banks is compiled once at package init. Word-boundary patterns keep
// "ci" from matching "specific" and similar false positives.
var banks = []bank{
	{
		kind: store.FailureLint,
		patterns: compile(
			`\blint(?:ing)?\b`,
			`\bflake8\b`,
			`\beslint\b`,
			`\bruff\b`,
			`\bpylint\b`,
			`\bblack\b`,
			`\bstyle check\b`,
			`\bformat(?:ting)? check\b`,
		),
	},
	{
		kind: store.FailureTest,
		patterns: compile(
			`\btest(?:s)?\b.*\bfailed\b`,
			`\bpytest\b`,
			`\bjunit\b`,
			`\bnosetests\b`,
			`\bfailing test\b`,
			`\bassert(?:ion)?error\b`,
		),
	},
	{
		kind: store.FailureBuild,
		patterns: compile(
			`\bbuild\b.*\bfailed\b`,
			`\bcompile(?:r|d)?\b`,
			`\bcompilation\b`,
			`\bsyntax error\b`,
			`\blink(?:er)? error\b`,
			`\bmodule not found\b`,
			`\bfailed to build\b`,
		),
	},
	{
		kind: store.FailureCI,
		patterns: compile(
			`\bgithub actions\b`,
			`\bworkflow run\b`,
			`\bci\b`,
			`\bcheck run\b`,
			`\bstatus check\b`,
			`\bpipeline\b`,
		),
	},
	{
		kind: store.FailureAgent,
		patterns: compile(
			`\bcodex\b`,
			`\bopenclaw\b`,
			`\bagent\b`,
			`\bunsupported routing\b`,
			`\bbinary not found\b`,
			`\btimeout\b`,
			`\bpermission denied\b`,
		),
	},
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// DefaultTailBytes is the suggested bound callers should apply to
// stdout+stderr before calling Classify - the last ~20 KiB, per spec.md
// §4.4. Classify itself does not truncate; it trusts the caller.
const DefaultTailBytes = 20 * 1024

// Result is the outcome of classification.
type Result struct {
	Kind   store.FailureKind
	Detail string
}

// Classify maps (text, rc) to a failure kind with the precedence spec.md
// §4.4 defines:
//  1. rc in {126,127} -> agent (command-not-found / not-executable)
//  2. first pattern-bank match, scanned lint, test, build, ci, agent
//  3. rc present -> unknown with the rc; else unknown with "no failure
//     signal matched"
//
// rcPresent distinguishes "no exit code available" from rc==0, which
// callers should never pass here (0 means success, not failure).
func Classify(text string, rc int, rcPresent bool) Result {
	if rcPresent && (rc == 126 || rc == 127) {
		return Result{Kind: store.FailureAgent, Detail: fmt.Sprintf("runner rc=%d", rc)}
	}

	for _, b := range banks {
		for _, p := range b.patterns {
			if p.MatchString(text) {
				return Result{Kind: b.kind, Detail: "matched:" + strings.TrimPrefix(p.String(), "(?i)")}
			}
		}
	}

	if rcPresent {
		return Result{Kind: store.FailureUnknown, Detail: fmt.Sprintf("runner rc=%d", rc)}
	}
	return Result{Kind: store.FailureUnknown, Detail: "no failure signal matched"}
}

// Tail returns the last n bytes of s, a safe UTF-8 boundary if n falls
// inside a multi-byte rune. Callers use this to bound runner output
// before classification, per spec.md §4.4 and §9.
func Tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !isUTF8Boundary(s[cut]) {
		cut++
	}
	return s[cut:]
}

func isUTF8Boundary(b byte) bool {
	return b&0xC0 != 0x80
}
