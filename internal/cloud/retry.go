package cloud

import (
	"context"
	"time"

	back "github.com/cenkalti/backoff/v4"
)

const (
	retryAttempts = 4
	retryInterval = 500 * time.Millisecond
	retryMax      = 10 * time.Second
)

func retryPolicy(ctx context.Context) back.BackOff {
	bf := back.NewExponentialBackOff()
	bf.InitialInterval = retryInterval
	bf.MaxInterval = retryMax
	return back.WithContext(back.WithMaxRetries(bf, retryAttempts), ctx)
}

// Retry runs op, backing off on transient platform faults. Any other error
// aborts the attempt loop immediately.
func Retry(ctx context.Context, op func() error) error {
	return retryWith(retryPolicy(ctx), op)
}

func retryWith(bf back.BackOff, op func() error) error {
	return back.Retry(func() error {
		err := op()
		switch {
		case err == nil:
			return nil
		case IsTransient(err):
			return err
		default:
			return back.Permanent(err)
		}
	}, bf)
}
