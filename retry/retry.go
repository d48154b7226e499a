package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

type options struct {
	maxRetries uint64
	baseWait   time.Duration
	maxWait    time.Duration
}

// Option configures Do
type Option func(*options)

// WithMaxRetries sets how many times a failed call is retried. Zero means
// the function is called once.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = uint64(n)
		}
	}
}

// WithBaseWait sets the delay before the first retry. Each later retry
// doubles it, up to the maximum wait.
func WithBaseWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.baseWait = d
		}
	}
}

// WithMaxWait caps the delay between retries
func WithMaxWait(d time.Duration) Option {
	return func(o *options) {
		o.maxWait = d
	}
}

// Do calls fn until it succeeds, returns an error that is not recoverable,
// or the retries are used up. The last error is returned unchanged. If ctx
// is cancelled while waiting, ctx.Err() is returned.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	o := options{maxRetries: 3, baseWait: 50 * time.Millisecond, maxWait: 2 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	backoff := goretry.WithMaxRetries(o.maxRetries, goretry.NewExponential(o.baseWait))
	if o.maxWait > 0 {
		backoff = goretry.WithCappedDuration(o.maxWait, backoff)
	}
	return goretry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if IsRecoverable(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
}
