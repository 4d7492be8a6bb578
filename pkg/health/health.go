// Package health manages liveness and readiness checks.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lewisedginton/nutrisync/pkg/logger"
)

// Check is a single health check that can succeed or fail.
type Check interface {
	Name() string
	// Check returns nil if healthy.
	Check(ctx context.Context) error
}

// CheckFunc adapts a plain function into a Check.
type CheckFunc struct {
	name string
	fn   func(context.Context) error
}

func NewCheckFunc(name string, fn func(context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

func (c *CheckFunc) Name() string                    { return c.name }
func (c *CheckFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// CheckResult is the outcome of one check execution.
type CheckResult struct {
	Name    string
	Healthy bool
	Error   string
	Latency time.Duration
}

// Status aggregates the results of a check pass.
type Status struct {
	Healthy bool
	Checks  []CheckResult
}

// Checker runs registered checks concurrently with a per-check timeout. A
// check only reports unhealthy after a configurable number of consecutive
// failures, so one transient blip does not flip the probe.
type Checker struct {
	checks           []Check
	timeout          time.Duration
	failureCount     map[string]int
	failureThreshold int
	log              logger.Logger
	mu               sync.RWMutex
}

type Option func(*Checker)

// WithTimeout sets the timeout for individual checks. Default 5s.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) { c.timeout = d }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Checker) { c.log = l }
}

// WithFailureThreshold sets the consecutive failures needed before a check
// reports unhealthy. Default 3.
func WithFailureThreshold(threshold int) Option {
	return func(c *Checker) {
		if threshold > 0 {
			c.failureThreshold = threshold
		}
	}
}

func New(opts ...Option) *Checker {
	c := &Checker{
		timeout:          5 * time.Second,
		failureThreshold: 3,
		failureCount:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add registers a check.
func (c *Checker) Add(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
}

// Run executes every registered check concurrently. With no checks
// registered the status is healthy.
func (c *Checker) Run(ctx context.Context) (*Status, error) {
	c.mu.RLock()
	checks := c.checks
	c.mu.RUnlock()

	if len(checks) == 0 {
		return &Status{Healthy: true, Checks: []CheckResult{}}, nil
	}

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(idx int, chk Check) {
			defer wg.Done()
			results[idx] = c.execute(ctx, chk)
		}(i, check)
	}
	wg.Wait()

	status := &Status{Healthy: true, Checks: results}
	var failed []string
	for _, result := range results {
		if !result.Healthy {
			status.Healthy = false
			failed = append(failed, result.Name)
		}
	}
	if !status.Healthy {
		return status, fmt.Errorf("health checks failed: %v", failed)
	}
	return status, nil
}

func (c *Checker) execute(parentCtx context.Context, check Check) CheckResult {
	ctx, cancel := context.WithTimeout(parentCtx, c.timeout)
	defer cancel()

	start := time.Now()
	err := check.Check(ctx)
	result := CheckResult{Name: check.Name(), Latency: time.Since(start)}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.failureCount[check.Name()] = 0
		result.Healthy = true
		return result
	}

	c.failureCount[check.Name()]++
	if c.failureCount[check.Name()] < c.failureThreshold {
		// Below the threshold a failure still reports healthy.
		result.Healthy = true
		return result
	}
	result.Error = err.Error()
	if c.log != nil {
		c.log.Warn("Health check failed",
			logger.StringField("check", check.Name()),
			logger.ErrorField(err),
			logger.IntField("failures", c.failureCount[check.Name()]))
	}
	return result
}
