package uow

import (
	"context"

	"github.com/kirinyoku/tixpay/internal/repository"
)

const defaultMaxAttempts = 3

// AfterCommit is a function that runs after a successful transaction commit.
type AfterCommit func(ctx context.Context)

// Func is the body of a unit of work. Hooks registered through after run
// only once the transaction has committed.
type Func func(ctx context.Context, repos repository.Repos, after func(AfterCommit)) error

// UoW represents a unit of work.
type UoW struct {
	txer        repository.Txer
	retryable   func(error) bool
	maxAttempts int
}

type Option func(*UoW)

// WithRetry re-runs the whole unit of work when the store reports a
// transient conflict such as a serialization failure.
func WithRetry(retryable func(error) bool, maxAttempts int) Option {
	return func(u *UoW) {
		u.retryable = retryable
		if maxAttempts > 0 {
			u.maxAttempts = maxAttempts
		}
	}
}

func NewUoW(txer repository.Txer, opts ...Option) *UoW {
	u := &UoW{txer: txer, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Do runs fn inside the transaction. After a successful commit,
// it executes all after-commit hooks.
func (u *UoW) Do(ctx context.Context, fn Func) error {
	var err error

	for attempt := 1; ; attempt++ {
		var hooks []AfterCommit

		err = u.txer.InTx(ctx, func(ctx context.Context, repos repository.Repos) error {
			return fn(ctx, repos, func(h AfterCommit) {
				hooks = append(hooks, h)
			})
		})
		if err == nil {
			for _, h := range hooks {
				h(ctx)
			}
			return nil
		}

		if u.retryable == nil || !u.retryable(err) || attempt >= u.maxAttempts {
			return err
		}

		if ctx.Err() != nil {
			return err
		}
	}
}
