// Package fallback provides a small ordered-resolver combinator. The debrid
// chain runs it sequentially with a success predicate; the stream aggregator
// runs it in parallel and keeps every settled outcome.
package fallback

import (
	"context"
	"errors"
	"sync"
)

// ErrExhausted is returned by Sequential when no attempt satisfied the
// success predicate.
var ErrExhausted = errors.New("all attempts exhausted")

// Attempt produces one candidate result.
type Attempt[R any] func(ctx context.Context) (R, error)

// Outcome is the settled result of one attempt.
type Outcome[R any] struct {
	Value R
	Err   error
}

// Sequential tries attempts strictly in order and returns the first value
// for which ok holds, along with its index. Attempts after the winner are
// never invoked. An attempt error moves on to the next attempt; the last
// error seen is wrapped into the ErrExhausted result.
func Sequential[R any](ctx context.Context, attempts []Attempt[R], ok func(R) bool) (R, int, error) {
	var zero R
	var lastErr error
	for i, attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return zero, -1, err
		}
		value, err := attempt(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if ok(value) {
			return value, i, nil
		}
	}
	if lastErr != nil {
		return zero, -1, errors.Join(ErrExhausted, lastErr)
	}
	return zero, -1, ErrExhausted
}

// Parallel runs every attempt concurrently and waits for all of them to
// settle. Outcomes are returned in attempt order, not arrival order, so the
// result is deterministic for a fixed attempt list.
func Parallel[R any](ctx context.Context, attempts []Attempt[R]) []Outcome[R] {
	outcomes := make([]Outcome[R], len(attempts))
	var wg sync.WaitGroup
	for i, attempt := range attempts {
		wg.Add(1)
		go func(slot int, attempt Attempt[R]) {
			defer wg.Done()
			value, err := attempt(ctx)
			outcomes[slot] = Outcome[R]{Value: value, Err: err}
		}(i, attempt)
	}
	wg.Wait()
	return outcomes
}
