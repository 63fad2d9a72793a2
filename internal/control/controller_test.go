package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

func testConfig() Config {
	return Config{
		MinConcurrency:    1,
		MaxConcurrency:    8,
		BurstCeiling:      12,
		MinSamples:        3,
		MinSuccessStreak:  5,
		MinAdjustInterval: 10 * time.Second,
		BurstDwell:        45 * time.Second,
		CooldownDwell:     60 * time.Second,
	}
}

func newTestController(t *testing.T, start time.Time) (*Controller, *time.Time) {
	t.Helper()
	clock := start
	c := NewController(testConfig(), zaptest.NewLogger(t))
	c.now = func() time.Time { return clock }
	return c, &clock
}

func healthy() Outcome {
	return Outcome{Success: true, Latency: 200 * time.Millisecond}
}

func TestControllerEntersBurstOnSustainedHealth(t *testing.T) {
	c, _ := newTestController(t, time.Unix(1000, 0))

	for i := 0; i < 20; i++ {
		c.Observe(healthy())
	}
	require.Equal(t, ModeBurst, c.Mode())
	require.Equal(t, 12, c.Desired())
}

func TestControllerBurstRevertsAfterDwell(t *testing.T) {
	c, clock := newTestController(t, time.Unix(1000, 0))

	for i := 0; i < 20; i++ {
		c.Observe(healthy())
	}
	require.Equal(t, ModeBurst, c.Mode())

	*clock = clock.Add(46 * time.Second)
	require.Equal(t, ModeNormal, c.Mode())
	require.Equal(t, 8, c.Desired(), "burst reverts to the sustained ceiling")
}

func TestControllerCooldownOnBlockingStreak(t *testing.T) {
	c, _ := newTestController(t, time.Unix(1000, 0))

	// Warm up healthy so the block signal is the only trigger.
	for i := 0; i < 5; i++ {
		c.Observe(healthy())
	}

	blocked := Outcome{Success: false, Latency: 900 * time.Millisecond, Blocked: true}
	c.Observe(blocked)
	c.Observe(blocked)
	c.Observe(blocked)

	require.Equal(t, ModeCooldown, c.Mode())
	require.Equal(t, 1, c.Desired(), "cooldown drops to the concurrency floor")
}

func TestControllerCooldownRevertsAfterDwell(t *testing.T) {
	c, clock := newTestController(t, time.Unix(1000, 0))

	blocked := Outcome{Success: false, Blocked: true}
	for i := 0; i < 6; i++ {
		c.Observe(blocked)
	}
	require.Equal(t, ModeCooldown, c.Mode())

	// Still in cooldown before the dwell elapses.
	*clock = clock.Add(30 * time.Second)
	require.Equal(t, ModeCooldown, c.Mode())

	*clock = clock.Add(31 * time.Second)
	require.Equal(t, ModeNormal, c.Mode())
	require.Equal(t, 2, c.Desired(), "ramps one step up from the floor")
}

func TestControllerScaleDownOnDegradedLatency(t *testing.T) {
	cfg := testConfig()
	cfg.MinConcurrency = 4
	cfg.MaxConcurrency = 8
	c := NewController(cfg, zaptest.NewLogger(t))
	clock := time.Unix(1000, 0)
	c.now = func() time.Time { return clock }

	// Successful but slow: high latency must pull concurrency down without
	// tripping cooldown.
	slow := Outcome{Success: true, Latency: 6 * time.Second}
	for i := 0; i < 10; i++ {
		c.Observe(slow)
		clock = clock.Add(11 * time.Second)
	}
	require.Equal(t, ModeNormal, c.Mode())
	require.Equal(t, 4, c.Desired(), "clamped at the floor")
}

func TestControllerSnapshot(t *testing.T) {
	c, _ := newTestController(t, time.Unix(1000, 0))
	c.Observe(healthy())

	s := c.Snapshot()
	require.Equal(t, int64(1), s.ObservedTotal)
	require.Equal(t, 1, s.SuccessStreak)
	require.Greater(t, s.SuccessRate, 0.9)
}

func TestBackoffDelayIncreasesPerAttempt(t *testing.T) {
	p := NewBackoffPolicy(5)

	var prev time.Duration
	for attempt := 1; attempt <= 4; attempt++ {
		d := p.Delay(catalog.FailureBlocking, attempt)
		floor := time.Duration(8<<uint(attempt-1)) * time.Second
		require.GreaterOrEqual(t, d, floor, "attempt %d below exponential floor", attempt)
		require.Greater(t, d, prev)
		prev = d
	}
}

func TestBackoffClassOrdering(t *testing.T) {
	p := NewBackoffPolicy(3)

	blocking := p.Delay(catalog.FailureBlocking, 1)
	rateLimit := p.Delay(catalog.FailureRateLimit, 1)
	network := p.Delay(catalog.FailureNetwork, 1)
	generic := p.Delay(catalog.FailureGeneric, 1)

	// Jitter is at most 25% of the base, so the class bases cannot overlap.
	require.Greater(t, blocking, rateLimit)
	require.Greater(t, rateLimit, network)
	require.Greater(t, network, generic)
}

func TestBackoffRetryGating(t *testing.T) {
	p := NewBackoffPolicy(3)

	require.True(t, p.ShouldRetry(catalog.FailureNetwork, 1))
	require.True(t, p.ShouldRetry(catalog.FailureNetwork, 2))
	require.False(t, p.ShouldRetry(catalog.FailureNetwork, 3), "attempt ceiling reached")
	require.False(t, p.ShouldRetry(catalog.FailureParsing, 1), "parsing failures never retry")
	require.False(t, p.ShouldRetry(catalog.FailureValidation, 1))

	require.True(t, p.RotateOnRetry(catalog.FailureBlocking))
	require.False(t, p.RotateOnRetry(catalog.FailureRateLimit))
}
