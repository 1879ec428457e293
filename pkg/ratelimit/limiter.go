// Package ratelimit enforces upstream provider budgets (requests and tokens
// per minute) and owns the shared keep-alive HTTP pool.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is the sliding interval both budgets are measured over.
const window = time.Minute

// Limiter is a dual token-bucket limiter: one sliding 60-second window for
// requests, one for estimated tokens. Acquire waits for the larger of the two
// computed waits, then records the reservation.
type Limiter struct {
	mu           sync.Mutex
	requests     []time.Time
	tokens       []tokenUse
	rpm          int
	tpm          int
	safetyMargin float64
	now          func() time.Time
}

type tokenUse struct {
	at time.Time
	n  int
}

// NewLimiter creates a limiter for the given per-minute budgets. A safety
// margin below 1 reserves headroom against provider-side accounting skew;
// zero or negative margins fall back to the 0.9 default.
func NewLimiter(requestsPerMinute, tokensPerMinute int, safetyMargin float64) *Limiter {
	if safetyMargin <= 0 || safetyMargin > 1 {
		safetyMargin = 0.9
	}
	return &Limiter{
		rpm:          requestsPerMinute,
		tpm:          tokensPerMinute,
		safetyMargin: safetyMargin,
		now:          time.Now,
	}
}

// Acquire blocks until both budgets admit a request of the estimated token
// size, or the context is canceled. On success the reservation is recorded.
func (l *Limiter) Acquire(ctx context.Context, estimatedTokens int) error {
	for {
		wait := l.tryReserve(estimatedTokens)
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// tryReserve reserves budget if available and returns 0, or returns how long
// to wait before the next attempt.
func (l *Limiter) tryReserve(estimatedTokens int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	reqWait := l.requestWait(now)
	tokWait := l.tokenWait(now, estimatedTokens)

	wait := reqWait
	if tokWait > wait {
		wait = tokWait
	}
	if wait > 0 {
		return wait
	}

	l.requests = append(l.requests, now)
	if estimatedTokens > 0 {
		l.tokens = append(l.tokens, tokenUse{at: now, n: estimatedTokens})
	}
	return 0
}

// RecordUsage adjusts the most recent reservation to the actual token count.
// Called after the provider reports real usage.
func (l *Limiter) RecordUsage(actualTokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tokens) == 0 {
		if actualTokens > 0 {
			l.tokens = append(l.tokens, tokenUse{at: l.now(), n: actualTokens})
		}
		return
	}
	l.tokens[len(l.tokens)-1].n = actualTokens
}

func (l *Limiter) effectiveRPM() int { return effectiveLimit(l.rpm, l.safetyMargin) }
func (l *Limiter) effectiveTPM() int { return effectiveLimit(l.tpm, l.safetyMargin) }

// effectiveLimit applies the safety margin. A positive budget never truncates
// below 1; a budget of 1 must still admit one call per window.
func effectiveLimit(budget int, margin float64) int {
	if budget <= 0 {
		return 0
	}
	limit := int(float64(budget) * margin)
	if limit < 1 {
		return 1
	}
	return limit
}

func (l *Limiter) requestWait(now time.Time) time.Duration {
	limit := l.effectiveRPM()
	if l.rpm <= 0 || len(l.requests) < limit {
		return 0
	}
	// Oldest in-window request ages out first.
	return l.requests[len(l.requests)-limit].Add(window).Sub(now)
}

func (l *Limiter) tokenWait(now time.Time, estimated int) time.Duration {
	limit := l.effectiveTPM()
	if l.tpm <= 0 || estimated <= 0 {
		return 0
	}
	used := 0
	for _, t := range l.tokens {
		used += t.n
	}
	if used+estimated <= limit {
		return 0
	}
	// Wait until enough token spend ages out of the window.
	needed := used + estimated - limit
	freed := 0
	for _, t := range l.tokens {
		freed += t.n
		if freed >= needed {
			return t.at.Add(window).Sub(now)
		}
	}
	return window
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.requests) && l.requests[i].Before(cutoff) {
		i++
	}
	l.requests = l.requests[i:]
	j := 0
	for j < len(l.tokens) && l.tokens[j].at.Before(cutoff) {
		j++
	}
	l.tokens = l.tokens[j:]
}

// InWindow returns the current request and token counts inside the window.
// Used by status output and tests.
func (l *Limiter) InWindow() (requests, tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	for _, t := range l.tokens {
		tokens += t.n
	}
	return len(l.requests), tokens
}
