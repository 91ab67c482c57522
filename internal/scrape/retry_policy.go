package scrape

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff. CAPTCHA
// failures use a longer base and cap since they signal rate-governed blocking
// rather than a transient fault.
type ExponentialRetryPolicy struct {
	maxAttempts      int
	baseDelay        time.Duration
	maxDelay         time.Duration
	captchaBaseDelay time.Duration
	captchaMaxDelay  time.Duration
}

// RetryConfig overrides the policy defaults; zero fields keep them.
type RetryConfig struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	CaptchaBaseDelay time.Duration
	CaptchaMaxDelay  time.Duration
}

// NewExponentialRetryPolicy builds a policy with sane defaults.
func NewExponentialRetryPolicy(cfg RetryConfig) *ExponentialRetryPolicy {
	p := &ExponentialRetryPolicy{
		maxAttempts:      3,
		baseDelay:        250 * time.Millisecond,
		maxDelay:         5 * time.Second,
		captchaBaseDelay: 2 * time.Second,
		captchaMaxDelay:  30 * time.Second,
	}
	if cfg.MaxAttempts > 0 {
		p.maxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.baseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.maxDelay = cfg.MaxDelay
	}
	if cfg.CaptchaBaseDelay > 0 {
		p.captchaBaseDelay = cfg.CaptchaBaseDelay
	}
	if cfg.CaptchaMaxDelay > 0 {
		p.captchaMaxDelay = cfg.CaptchaMaxDelay
	}
	return p
}

// ShouldRetry decides whether the error is retryable at this attempt.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// A deadline on the attempt itself is just a slow upstream; it retries
	// like any transient failure. The caller stops when its own context ends.
	return ClassifyFailure(err) != FailConfig
}

// Backoff returns the wait duration before the next attempt, picking the
// delay class from the error.
func (p *ExponentialRetryPolicy) Backoff(err error, attempt int) time.Duration {
	base, cap := p.baseDelay, p.maxDelay
	if ClassifyFailure(err) == FailCaptcha {
		base, cap = p.captchaBaseDelay, p.captchaMaxDelay
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(cap) {
		delay = float64(cap)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
