// Package retry implements the hard gate on automatic re-attempts after a
// failed subtask run. It is a pure function with no I/O, grounded
// directly on the original implementation's orchestrator/retry_policy.py
// (decide_retry).
package retry

import (
	"fmt"
	"strings"

	"github.com/ellwood/taskloom/internal/store"
)

// Decision is the outcome of the retry gate.
type Decision struct {
	ShouldRetry bool
	Reason      string
}

// fixable is the bucket of failure kinds the original treats as
// automatically fixable by another LLM attempt without a stronger infra
// signal. "format" and "type" are the original's Python-flavored
// synonyms for lint/build issues; taskloom's classifier never emits
// them, so they are kept here only for parity with the original's set
// literal and are reached only for rows whose failure_kind was written
// by something other than the classifier.
var fixable = map[store.FailureKind]bool{
	store.FailureLint:           true,
	store.FailureKind("format"): true,
	store.FailureKind("type"):   true,
	store.FailureBuild:          true,
}

// requiresStrongSignal is the bucket that only retries automatically
// when the detail carries an infra-flake signal, per the original's
// test/ci branch.
var requiresStrongSignal = map[store.FailureKind]bool{
	store.FailureTest: true,
	store.FailureCI:   true,
}

// infraSignals are substrings in failure_detail that indicate a
// transient infrastructure issue rather than a genuine test/CI failure,
// taken verbatim from decide_retry's infra-signal list.
var infraSignals = []string{"connection reset", "rate limit", "502", "503"}

// flakeSignals are substrings that mark a failure as a safe one-shot
// rerun candidate regardless of kind, taken verbatim from decide_retry's
// flake bucket.
var flakeSignals = []string{"timeout", "flaky", "temporar"}

// Decide gates whether a failed subtask should be retried. attempt is
// the attempt number just completed (1-indexed); max_attempts bounds the
// total number of attempts, never exceeded regardless of signal.
func Decide(failureKind store.FailureKind, failureDetail string, attempt, maxAttempts int) Decision {
	if attempt >= maxAttempts {
		return Decision{false, fmt.Sprintf("attempt %d >= max_attempts %d", attempt, maxAttempts)}
	}

	fk := failureKind
	if fk == "" {
		fk = store.FailureUnknown
	}
	detail := strings.ToLower(failureDetail)

	if containsAny(detail, flakeSignals) {
		return Decision{true, "flaky/timeout signal"}
	}

	if fixable[fk] {
		return Decision{true, fmt.Sprintf("fixable failure_kind=%s", fk)}
	}

	if requiresStrongSignal[fk] {
		if containsAny(detail, infraSignals) {
			return Decision{true, "infra signal in CI/test"}
		}
		return Decision{false, "CI/test failures require classification / human gate"}
	}

	return Decision{false, fmt.Sprintf("unknown/untrusted failure_kind=%s", fk)}
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
