package guard

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningSecret = "test-signing-secret-0123456789abcdef"

func newTestGuard(start time.Time) (*Guard, *time.Time) {
	current := start
	g := NewGuard(testSigningSecret)
	g.now = func() time.Time { return current }
	return g, &current
}

func TestRateLimitHourlyBoundary(t *testing.T) {
	g, now := newTestGuard(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	// store allows 5 per hour; the 5th call passes, the 6th is denied
	for i := 0; i < 5; i++ {
		d := g.Check("user-1", OpStore, "10.0.0.1")
		require.True(t, d.Allowed, "call %d", i+1)
	}

	d := g.Check("user-1", OpStore, "10.0.0.1")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "hourly")
	assert.Contains(t, d.Reason, "store")
	assert.Equal(t, 15, d.RemainingDaily)

	// After the hourly window resets the counter restarts at 1
	*now = now.Add(61 * time.Minute)
	d = g.Check("user-1", OpStore, "10.0.0.1")
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.RemainingHourly)
}

func TestRateLimitDailyBoundary(t *testing.T) {
	g, now := newTestGuard(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	// Exhaust the daily store ceiling of 20 across separate hours
	allowed := 0
	for hour := 0; hour < 4; hour++ {
		for i := 0; i < 5; i++ {
			if g.Check("user-1", OpStore, "10.0.0.1").Allowed {
				allowed++
			}
		}
		*now = now.Add(time.Hour)
	}
	require.Equal(t, 20, allowed)

	d := g.Check("user-1", OpStore, "10.0.0.1")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "daily")
}

func TestRateWindowsArePerPrincipalAndOperation(t *testing.T) {
	g, _ := newTestGuard(time.Now())

	for i := 0; i < 5; i++ {
		require.True(t, g.Check("user-1", OpStore, "10.0.0.1").Allowed)
	}
	assert.False(t, g.Check("user-1", OpStore, "10.0.0.1").Allowed)

	// A different principal and a different operation are unaffected
	assert.True(t, g.Check("user-2", OpStore, "10.0.0.1").Allowed)
	assert.True(t, g.Check("user-1", OpAccess, "10.0.0.1").Allowed)
}

func TestIPPolicyShortCircuitsWithoutCounting(t *testing.T) {
	g, _ := newTestGuard(time.Now())
	g.SetIPPolicy(func(ip string) bool { return ip != "1.2.3.4" })

	d := g.Check("user-1", OpStore, "1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "ip")

	// The denied call did not consume any allowance
	d = g.Check("user-1", OpStore, "10.0.0.1")
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.RemainingHourly)
}

func TestCustomLimits(t *testing.T) {
	g, _ := newTestGuard(time.Now())
	g.SetLimits(OpPayment, Limits{Hourly: 1, Daily: 2})

	assert.True(t, g.Check("user-1", OpPayment, "10.0.0.1").Allowed)
	assert.False(t, g.Check("user-1", OpPayment, "10.0.0.1").Allowed)
}

func TestCleanupDropsExpiredWindows(t *testing.T) {
	g, now := newTestGuard(time.Now())

	for i := 0; i < 10; i++ {
		g.Check(fmt.Sprintf("user-%d", i), OpStore, "10.0.0.1")
	}
	require.Len(t, g.windows, 10)

	g.Cleanup()
	assert.Len(t, g.windows, 10, "live windows must survive a sweep")

	*now = now.Add(25 * time.Hour)
	g.Cleanup()
	assert.Empty(t, g.windows)
}
