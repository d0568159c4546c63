package retry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ellwood/taskloom/internal/store"
)

func TestDecide_AttemptCeilingAlwaysWins(t *testing.T) {
	d := Decide(store.FailureLint, "", 3, 3)
	assert.False(t, d.ShouldRetry)
	assert.Contains(t, d.Reason, "attempt 3 >= max_attempts 3")
}

func TestDecide_FlakeSignalRetriesRegardlessOfKind(t *testing.T) {
	d := Decide(store.FailureUnknown, "connection timeout talking to runner", 1, 3)
	assert.True(t, d.ShouldRetry)
}

func TestDecide_FixableKindRetries(t *testing.T) {
	for _, k := range []store.FailureKind{store.FailureLint, store.FailureBuild} {
		d := Decide(k, "syntax error", 1, 3)
		assert.True(t, d.ShouldRetry, "kind=%s", k)
	}
}

func TestDecide_TestFailureNeedsInfraSignal(t *testing.T) {
	d := Decide(store.FailureTest, "assertion failed: expected 1 got 2", 1, 3)
	assert.False(t, d.ShouldRetry)

	d = Decide(store.FailureTest, "connection reset by peer", 1, 3)
	assert.True(t, d.ShouldRetry)
}

func TestDecide_CIFailureNeedsInfraSignal(t *testing.T) {
	d := Decide(store.FailureCI, "502 bad gateway from runner", 1, 3)
	assert.True(t, d.ShouldRetry)

	d = Decide(store.FailureCI, "checks failed", 1, 3)
	assert.False(t, d.ShouldRetry)
}

func TestDecide_UnknownKindRejectsByDefault(t *testing.T) {
	d := Decide(store.FailureAgent, "binary not found", 1, 3)
	assert.False(t, d.ShouldRetry)
	assert.Contains(t, d.Reason, "agent")
}

func TestDecide_EmptyKindTreatedAsUnknown(t *testing.T) {
	d := Decide("", "mystery failure", 1, 3)
	assert.False(t, d.ShouldRetry)
	assert.Contains(t, d.Reason, "unknown")
}
