package poster

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultMinPostDelay is the shortest wait before any post. Posting right
// after a session is established is unreliable on several sites.
const DefaultMinPostDelay = 5 * time.Second

// PostTimeStore remembers the last successful post per (account, website).
type PostTimeStore interface {
	LastPost(ctx context.Context, accountID, website string) (time.Time, bool, error)
	// RecordPost stores at unless a newer time is already stored.
	RecordPost(ctx context.Context, accountID, website string, at time.Time) error
}

// RateLimiter decides when a task for an (account, website) pair may post.
type RateLimiter struct {
	store  PostTimeStore
	floor  time.Duration
	now    func() time.Time
	logger *zap.Logger
}

type RateLimiterOption func(*RateLimiter)

// WithMinPostDelay overrides DefaultMinPostDelay.
func WithMinPostDelay(d time.Duration) RateLimiterOption {
	return func(r *RateLimiter) {
		if d >= 0 {
			r.floor = d
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) RateLimiterOption {
	return func(r *RateLimiter) {
		r.now = now
	}
}

func NewRateLimiter(store PostTimeStore, logger *zap.Logger, opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		store:  store,
		floor:  DefaultMinPostDelay,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RateLimiter) MinPostDelay() time.Duration {
	return r.floor
}

func (r *RateLimiter) RecordSuccess(ctx context.Context, accountID, website string, at time.Time) {
	if err := r.store.RecordPost(ctx, accountID, website, at); err != nil {
		r.logger.Error("Failed to record post time",
			zap.String("account_id", accountID),
			zap.String("website", website),
			zap.Error(err))
	}
}

// NextAllowedTime returns the earliest time the pair may post again.
func (r *RateLimiter) NextAllowedTime(ctx context.Context, accountID, website string, minInterval time.Duration) time.Time {
	now := r.now()

	last, ok, err := r.store.LastPost(ctx, accountID, website)
	if err != nil {
		r.logger.Warn("Failed to read last post time, assuming none",
			zap.String("account_id", accountID),
			zap.String("website", website),
			zap.Error(err))
		ok = false
	}
	if !ok {
		return now.Add(r.floor)
	}

	elapsed := now.Sub(last)
	if elapsed > minInterval {
		return now.Add(r.floor)
	}

	wait := minInterval - elapsed
	if wait < r.floor {
		wait = r.floor
	}
	return now.Add(wait)
}
