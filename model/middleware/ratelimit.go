// Package middleware provides reusable model.Client wrappers, mirroring
// features/model/middleware/ratelimit.go's AIMD-style adaptive limiter
// trimmed to a process-local token bucket (the cluster-coordinated variant
// there uses a Pulse replicated map, which this module instead dedicates to
// distributed event fan-out in stream/pulse).
package middleware

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/agentrun/runtime/model"
)

// AdaptiveRateLimiter applies an AIMD token bucket in front of a model.Client:
// it estimates each request's token cost, blocks the caller until capacity is
// available, multiplicatively backs off its tokens-per-minute budget when the
// provider reports a rate limit, and additively recovers it over time.
type AdaptiveRateLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64

	onBackoff func(newTPM float64)
	onProbe   func(newTPM float64)
}

// NewAdaptiveRateLimiter constructs a process-local limiter with the given
// initial and maximum tokens-per-minute budget.
func NewAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60_000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: initialTPM * 0.05,
	}
}

// OnBackoff registers a callback invoked whenever the limiter halves its
// budget in response to a provider rate-limit signal.
func (l *AdaptiveRateLimiter) OnBackoff(fn func(newTPM float64)) { l.onBackoff = fn }

// OnProbe registers a callback invoked whenever the limiter grows its
// budget back up after a quiet period.
func (l *AdaptiveRateLimiter) OnProbe(fn func(newTPM float64)) { l.onProbe = fn }

// Wait blocks until estimatedTokens of budget are available.
func (l *AdaptiveRateLimiter) Wait(ctx context.Context, estimatedTokens int) error {
	if estimatedTokens <= 0 {
		estimatedTokens = 1
	}
	return l.limiter.WaitN(ctx, estimatedTokens)
}

// Backoff halves the limiter's effective budget, not going below minTPM.
// Called after the wrapped client reports model.ErrRateLimited.
func (l *AdaptiveRateLimiter) Backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.currentTPM / 2
	if next < l.minTPM {
		next = l.minTPM
	}
	l.currentTPM = next
	l.limiter.SetLimit(rate.Limit(next / 60.0))
	l.limiter.SetBurst(int(next))
	if l.onBackoff != nil {
		l.onBackoff(next)
	}
}

// Recover additively grows the limiter's budget back toward maxTPM. Intended
// to be called periodically (e.g. once per successful request) by the
// wrapping client.
func (l *AdaptiveRateLimiter) Recover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentTPM >= l.maxTPM {
		return
	}
	next := l.currentTPM + l.recoveryRate
	if next > l.maxTPM {
		next = l.maxTPM
	}
	l.currentTPM = next
	l.limiter.SetLimit(rate.Limit(next / 60.0))
	l.limiter.SetBurst(int(next))
	if l.onProbe != nil {
		l.onProbe(next)
	}
}

// TPM reports the limiter's current effective tokens-per-minute budget.
func (l *AdaptiveRateLimiter) TPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

type limitedClient struct {
	next    model.Client
	limiter *AdaptiveRateLimiter
}

// Wrap returns a model.Client that rate-limits requests to next using
// limiter, estimating cost from the request's message/tool size and backing
// off on model.ErrRateLimited.
func Wrap(next model.Client, limiter *AdaptiveRateLimiter) model.Client {
	return &limitedClient{next: next, limiter: limiter}
}

func (c *limitedClient) Stream(ctx context.Context, req model.Request) (<-chan model.Delta, func() (model.Result, error)) {
	if err := c.limiter.Wait(ctx, estimateTokens(req)); err != nil {
		out := make(chan model.Delta)
		close(out)
		return out, func() (model.Result, error) { return model.Result{}, err }
	}
	out, await := c.next.Stream(ctx, req)
	return out, func() (model.Result, error) {
		res, err := await()
		switch {
		case isRateLimited(err):
			c.limiter.Backoff()
		case err == nil:
			c.limiter.Recover()
		}
		return res, err
	}
}

// estimateTokens is a rough pre-flight sizing heuristic (~4 chars/token)
// used only to reserve bucket capacity before the real usage is known.
func estimateTokens(req model.Request) int {
	chars := len(req.System)
	for _, m := range req.Messages {
		for _, part := range m.Content {
			if s, ok := part.(string); ok {
				chars += len(s)
			} else {
				chars += 64
			}
		}
	}
	est := chars/4 + req.MaxTokens
	if est <= 0 {
		est = 1
	}
	return est
}

func isRateLimited(err error) bool {
	return errors.Is(err, model.ErrRateLimited)
}
