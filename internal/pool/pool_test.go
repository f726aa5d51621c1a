package pool

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(cfg Config) *Pool {
	return New(cfg, prometheus.NewRegistry())
}

// Scenario 2 from spec.md §8: pool of 3 entries with request_count=[5,2,2]
// and last_used=[t0,t1,t0] (t0<t1) -> pick entry 3; after pick its counter
// becomes 3.
func TestPool_Pick_LeastUsedWithLastUsedTiebreak(t *testing.T) {
	p := newTestPool(DefaultConfig())
	t0 := time.Now().Add(-time.Hour)
	t1 := time.Now().Add(-time.Minute)

	p.Add("one")
	p.Add("two")
	p.Add("three")

	p.mu.Lock()
	p.entries["one"].RequestCount = 5
	p.entries["one"].LastUsed = t0
	p.entries["two"].RequestCount = 2
	p.entries["two"].LastUsed = t1
	p.entries["three"].RequestCount = 2
	p.entries["three"].LastUsed = t0
	p.mu.Unlock()

	picked, err := p.Pick()
	require.NoError(t, err)
	assert.Equal(t, "three", picked.Name)
	assert.Equal(t, uint64(3), picked.RequestCount)
}

// Scenario 3, with times scaled down: entry with failure_count=1,
// cooldown_until=now+30ms is not selected even when lowest-count; after
// 40ms it is.
func TestPool_Pick_CooldownGate(t *testing.T) {
	p := newTestPool(DefaultConfig())
	p.Add("cooling")
	p.Add("other")

	p.mu.Lock()
	p.entries["cooling"].RequestCount = 0
	p.entries["cooling"].FailureCount = 1
	p.entries["cooling"].CooldownUntil = time.Now().Add(30 * time.Millisecond)
	p.entries["other"].RequestCount = 10
	p.mu.Unlock()

	picked, err := p.Pick()
	require.NoError(t, err)
	assert.Equal(t, "other", picked.Name)

	time.Sleep(40 * time.Millisecond)

	picked2, err := p.Pick()
	require.NoError(t, err)
	assert.Equal(t, "cooling", picked2.Name)
}

// Scenario 4: with max_failures=5, 5 consecutive failures -> permanently
// disabled; a subsequent reset re-enables and clears counters.
func TestPool_PermanentDisableAndReset(t *testing.T) {
	p := newTestPool(Config{FailureCooldown: time.Second, MaxFailures: 5})
	p.Add("flaky")

	for i := 0; i < 5; i++ {
		p.ReportFailure("flaky")
	}

	e, ok := p.Get("flaky")
	require.True(t, ok)
	assert.True(t, e.PermanentlyDisabled)

	_, err := p.Pick()
	assert.ErrorIs(t, err, ErrNoHealthyAccount)

	require.True(t, p.Reset("flaky"))
	e2, ok := p.Get("flaky")
	require.True(t, ok)
	assert.False(t, e2.PermanentlyDisabled)
	assert.Equal(t, 0, e2.FailureCount)

	picked, err := p.Pick()
	require.NoError(t, err)
	assert.Equal(t, "flaky", picked.Name)
}

func TestPool_ReportSuccess_ClearsFailureState(t *testing.T) {
	p := newTestPool(DefaultConfig())
	p.Add("acct")
	p.ReportFailure("acct")

	e, _ := p.Get("acct")
	assert.Equal(t, 1, e.FailureCount)
	assert.False(t, e.CooldownUntil.IsZero())

	p.ReportSuccess("acct")
	e2, _ := p.Get("acct")
	assert.Equal(t, 0, e2.FailureCount)
	assert.True(t, e2.CooldownUntil.IsZero())
}

func TestPool_Pick_EmptyPoolErrors(t *testing.T) {
	p := newTestPool(DefaultConfig())
	_, err := p.Pick()
	assert.ErrorIs(t, err, ErrNoHealthyAccount)
}

func TestPool_Remove(t *testing.T) {
	p := newTestPool(DefaultConfig())
	p.Add("acct")
	assert.True(t, p.Remove("acct"))
	assert.False(t, p.Remove("acct"))
	_, ok := p.Get("acct")
	assert.False(t, ok)
}

func TestPool_PermanentlyDisabledIgnoresCooldownExpiry(t *testing.T) {
	p := newTestPool(Config{FailureCooldown: time.Millisecond, MaxFailures: 1})
	p.Add("acct")
	p.ReportFailure("acct")

	time.Sleep(5 * time.Millisecond)
	_, err := p.Pick()
	assert.ErrorIs(t, err, ErrNoHealthyAccount)
}
