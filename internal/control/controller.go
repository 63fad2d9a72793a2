// Package control implements the feedback loop governing crawl throughput:
// an adaptive concurrency controller fed by request outcomes, and a
// classified exponential backoff policy for failed fetches.
package control

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Mode is the controller's operating state.
type Mode string

// Controller modes.
const (
	ModeNormal   Mode = "normal"
	ModeBurst    Mode = "burst"
	ModeCooldown Mode = "cooldown"
)

// Outcome is one observed request result. The rolling aggregates derived from
// outcomes are the only input to scaling decisions.
type Outcome struct {
	Success bool
	Latency time.Duration
	Blocked bool
}

// Config holds the controller thresholds. Zero values are replaced by
// defaults in NewController.
type Config struct {
	MinConcurrency   int
	MaxConcurrency   int
	BurstCeiling     int
	ScaleUpStep      int
	ScaleDownStep    int
	EMAAlpha         float64
	MinSamples       int
	MinSuccessStreak int

	BurstDwell        time.Duration
	CooldownDwell     time.Duration
	MinAdjustInterval time.Duration
	InterRequestDelay time.Duration

	BurstSuccessRate   float64
	BurstMaxLatency    time.Duration
	BurstMaxErrorRate  float64
	CooldownErrorRate  float64
	CooldownBlockRate  float64
	CooldownErrStreak  int
	CooldownMinSuccess float64
	ScaleUpSuccessRate float64
	ScaleUpMaxLatency  time.Duration
}

func (c Config) withDefaults() Config {
	def := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	defDur := func(v *time.Duration, d time.Duration) {
		if *v <= 0 {
			*v = d
		}
	}
	defFloat := func(v *float64, d float64) {
		if *v <= 0 {
			*v = d
		}
	}
	def(&c.MinConcurrency, 1)
	def(&c.MaxConcurrency, 8)
	def(&c.BurstCeiling, 12)
	def(&c.ScaleUpStep, 1)
	def(&c.ScaleDownStep, 2)
	def(&c.MinSamples, 3)
	def(&c.MinSuccessStreak, 5)
	def(&c.CooldownErrStreak, 3)
	defDur(&c.BurstDwell, 45*time.Second)
	defDur(&c.CooldownDwell, 60*time.Second)
	defDur(&c.MinAdjustInterval, 10*time.Second)
	defDur(&c.InterRequestDelay, 500*time.Millisecond)
	defDur(&c.BurstMaxLatency, 1500*time.Millisecond)
	defDur(&c.ScaleUpMaxLatency, 2500*time.Millisecond)
	defFloat(&c.EMAAlpha, 0.2)
	defFloat(&c.BurstSuccessRate, 0.95)
	defFloat(&c.BurstMaxErrorRate, 0.02)
	defFloat(&c.CooldownErrorRate, 0.10)
	defFloat(&c.CooldownBlockRate, 0.05)
	defFloat(&c.CooldownMinSuccess, 0.70)
	defFloat(&c.ScaleUpSuccessRate, 0.90)
	return c
}

// State is a read-only snapshot of the controller for the status API.
type State struct {
	Mode          Mode    `json:"mode"`
	Desired       int     `json:"desired"`
	SuccessRate   float64 `json:"successRate"`
	BlockRate     float64 `json:"blockRate"`
	LatencyMillis float64 `json:"latencyMillis"`
	SuccessStreak int     `json:"successStreak"`
	ErrorStreak   int     `json:"errorStreak"`
	ObservedTotal int64   `json:"observedTotal"`
}

// Controller adjusts desired worker parallelism and inter-request pacing from
// observed outcomes. Shared across workers; tolerates eventually-consistent
// reads, but Observe itself is serialized.
type Controller struct {
	mu  sync.Mutex
	cfg Config

	desired   int
	mode      Mode
	modeSince time.Time

	successEMA float64
	latencyEMA float64 // milliseconds
	blockEMA   float64

	successStreak int
	errorStreak   int
	samples       int64
	lastAdjust    time.Time

	limiter *rate.Limiter
	now     func() time.Time
	logger  *zap.Logger
}

// NewController builds a controller starting at the minimum concurrency in
// normal mode.
func NewController(cfg Config, logger *zap.Logger) *Controller {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		cfg:        cfg,
		desired:    cfg.MinConcurrency,
		mode:       ModeNormal,
		successEMA: 1.0,
		now:        time.Now,
		logger:     logger,
	}
	c.modeSince = c.now()
	c.limiter = rate.NewLimiter(c.paceFor(c.desired), cfg.MaxConcurrency)
	return c
}

// Desired returns the current desired worker parallelism.
func (c *Controller) Desired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desired
}

// Mode returns the current operating mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeRevert(c.now())
	return c.mode
}

// Wait blocks for the controller-imposed inter-request delay.
func (c *Controller) Wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// Snapshot returns the current state for observability endpoints.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Mode:          c.mode,
		Desired:       c.desired,
		SuccessRate:   c.successEMA,
		BlockRate:     c.blockEMA,
		LatencyMillis: c.latencyEMA,
		SuccessStreak: c.successStreak,
		ErrorStreak:   c.errorStreak,
		ObservedTotal: c.samples,
	}
}

// Observe feeds one request outcome into the rolling aggregates and runs the
// scaling decision.
func (c *Controller) Observe(o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	alpha := c.cfg.EMAAlpha
	c.successEMA = ema(c.successEMA, boolTo01(o.Success), alpha)
	c.blockEMA = ema(c.blockEMA, boolTo01(o.Blocked), alpha)
	if o.Latency > 0 {
		ms := float64(o.Latency.Milliseconds())
		if c.latencyEMA == 0 {
			c.latencyEMA = ms
		} else {
			c.latencyEMA = ema(c.latencyEMA, ms, alpha)
		}
	}
	if o.Success {
		c.successStreak++
		c.errorStreak = 0
	} else {
		c.errorStreak++
		c.successStreak = 0
	}
	c.samples++

	c.evaluate(c.now())
}

func (c *Controller) evaluate(now time.Time) {
	c.maybeRevert(now)
	if c.samples < int64(c.cfg.MinSamples) {
		return
	}
	errRate := 1 - c.successEMA

	// Cooldown preempts everything else.
	if c.mode != ModeCooldown &&
		(errRate > c.cfg.CooldownErrorRate ||
			c.blockEMA > c.cfg.CooldownBlockRate ||
			c.errorStreak > c.cfg.CooldownErrStreak ||
			c.successEMA < c.cfg.CooldownMinSuccess) {
		c.enterMode(ModeCooldown, now)
		c.setDesired(c.cfg.MinConcurrency)
		return
	}
	if c.mode == ModeCooldown {
		return
	}

	if c.mode == ModeNormal &&
		c.successEMA > c.cfg.BurstSuccessRate &&
		c.latencyEMA < float64(c.cfg.BurstMaxLatency.Milliseconds()) &&
		errRate < c.cfg.BurstMaxErrorRate {
		c.enterMode(ModeBurst, now)
		c.setDesired(c.cfg.BurstCeiling)
		return
	}
	if c.mode == ModeBurst {
		return
	}

	// Normal-mode stepping, rate-limited to avoid oscillation.
	if now.Sub(c.lastAdjust) < c.cfg.MinAdjustInterval {
		return
	}
	switch {
	case c.successEMA > c.cfg.ScaleUpSuccessRate &&
		c.latencyEMA < float64(c.cfg.ScaleUpMaxLatency.Milliseconds()) &&
		errRate < c.cfg.BurstMaxErrorRate*2 &&
		c.successStreak >= c.cfg.MinSuccessStreak:
		c.setDesired(c.desired + c.cfg.ScaleUpStep)
		c.lastAdjust = now
	case c.successEMA < c.cfg.ScaleUpSuccessRate ||
		c.latencyEMA > float64(c.cfg.ScaleUpMaxLatency.Milliseconds()):
		c.setDesired(c.desired - c.cfg.ScaleDownStep)
		c.lastAdjust = now
	}
}

// maybeRevert applies the dwell-time auto-reverts. Caller holds the lock.
func (c *Controller) maybeRevert(now time.Time) {
	switch c.mode {
	case ModeBurst:
		if now.Sub(c.modeSince) >= c.cfg.BurstDwell {
			c.enterMode(ModeNormal, now)
			c.setDesired(c.cfg.MaxConcurrency)
		}
	case ModeCooldown:
		if now.Sub(c.modeSince) >= c.cfg.CooldownDwell {
			c.enterMode(ModeNormal, now)
			// Ramp back up one step from the floor.
			c.setDesired(c.cfg.MinConcurrency + c.cfg.ScaleUpStep)
			c.errorStreak = 0
		}
	}
}

func (c *Controller) enterMode(mode Mode, now time.Time) {
	if c.mode == mode {
		return
	}
	c.logger.Info("controller mode change",
		zap.String("from", string(c.mode)),
		zap.String("to", string(mode)),
		zap.Float64("success_rate", c.successEMA),
		zap.Float64("block_rate", c.blockEMA),
	)
	c.mode = mode
	c.modeSince = now
}

func (c *Controller) setDesired(n int) {
	limit := c.cfg.MaxConcurrency
	if c.mode == ModeBurst {
		limit = c.cfg.BurstCeiling
	}
	if n > limit {
		n = limit
	}
	if n < c.cfg.MinConcurrency {
		n = c.cfg.MinConcurrency
	}
	if n == c.desired {
		return
	}
	c.desired = n
	c.limiter.SetLimit(c.paceFor(n))
}

// paceFor converts desired parallelism into an aggregate request rate: each
// worker is paced to one request per InterRequestDelay.
func (c *Controller) paceFor(desired int) rate.Limit {
	perWorker := 1 / c.cfg.InterRequestDelay.Seconds()
	return rate.Limit(perWorker * float64(desired))
}

func ema(prev, sample, alpha float64) float64 {
	return prev*(1-alpha) + sample*alpha
}

func boolTo01(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
