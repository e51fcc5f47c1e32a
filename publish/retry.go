package publish

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times with exponential backoff
// (base, 2*base, 4*base, ...). Only transient errors are retried; fatal and
// unknown errors return immediately. The context cancels the backoff sleep.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) || i == attempts-1 {
			return err
		}
		if serr := sleepCtx(ctx, delay); serr != nil {
			return err
		}
		delay *= 2
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
