package ratelimit

import (
	"context"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
)

// Rule is a quota: at most Limit requests per Window.
type Rule struct {
	Name   string        `mapstructure:"name"`
	Route  string        `mapstructure:"route"`
	Limit  int64         `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type Result struct {
	Allowed    bool
	Count      int64
	Limit      int64
	Remaining  int64
	ResetAfter time.Duration
}

// FirstDenied reports whether this is the first request over the limit in its window.
func (r Result) FirstDenied() bool {
	return !r.Allowed && r.Count == r.Limit+1
}

type Limiter struct {
	store    CounterStore
	breakers breaker.Executor
}

func NewLimiter(store CounterStore, breakers breaker.Executor) *Limiter {
	return &Limiter{store: store, breakers: breakers}
}

// Allow counts one request against rule. Store errors are returned, leaving the
// fail-open decision to the caller.
func (l *Limiter) Allow(ctx context.Context, client string, rule Rule) (Result, error) {
	key := Key{Client: client, Route: rule.Route, Window: rule.Window}
	var counter Counter
	err := l.breakers.Execute(ctx, breaker.RateLimit, func(ctx context.Context) error {
		c, err := l.store.Increment(ctx, key)
		counter = c
		return err
	})
	if err != nil {
		return Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit}, err
	}

	remaining := rule.Limit - counter.Count
	if remaining < 0 {
		remaining = 0
	}
	reset := counter.TTL
	if reset <= 0 {
		reset = rule.Window
	}
	return Result{
		Allowed:    counter.Count <= rule.Limit,
		Count:      counter.Count,
		Limit:      rule.Limit,
		Remaining:  remaining,
		ResetAfter: reset,
	}, nil
}
