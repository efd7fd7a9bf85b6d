// Package race provides a first-success-of-N combinator for fanning a
// request out to redundant destinations and taking whichever answers
// first. Both broadcast and confirmation polling are built on it.
package race

import (
	"context"
	"errors"
	"sync"
)

// Result pairs an attempt's outcome with the label of its origin.
type Result[T any] struct {
	Label string
	Value T
	Err   error
}

// Attempt is one labeled racer.
type Attempt[T any] struct {
	Label string
	Run   func(ctx context.Context) (T, error)
}

// First runs all attempts concurrently and returns the first successful
// result. Remaining attempts are cancelled and their outcomes discarded:
// the first success is authoritative. When every attempt fails the
// errors are joined into one.
func First[T any](ctx context.Context, attempts []Attempt[T]) (Result[T], error) {
	var zero Result[T]
	if len(attempts) == 0 {
		return zero, errors.New("race: no attempts")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan Result[T], len(attempts))
	var wg sync.WaitGroup
	for _, a := range attempts {
		wg.Add(1)
		go func(a Attempt[T]) {
			defer wg.Done()
			v, err := a.Run(ctx)
			results <- Result[T]{Label: a.Label, Value: v, Err: err}
		}(a)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var errs []error
	for res := range results {
		if res.Err == nil {
			return res, nil
		}
		errs = append(errs, res.Err)
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return zero, errors.Join(errs...)
}
