package uow

import (
	"context"
	"errors"
	"testing"

	"github.com/kirinyoku/tixpay/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedTxer struct {
	errs  []error
	calls int
}

func (s *scriptedTxer) InTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repos) error) error {
	s.calls++
	if err := fn(ctx, nil); err != nil {
		return err
	}
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

var errSerialization = errors.New("serialization failure")

func isSerialization(err error) bool { return errors.Is(err, errSerialization) }

func TestDoRunsHooksAfterCommit(t *testing.T) {
	txer := &scriptedTxer{}
	u := NewUoW(txer)

	var ran []string
	err := u.Do(context.Background(), func(ctx context.Context, _ repository.Repos, after func(AfterCommit)) error {
		after(func(context.Context) { ran = append(ran, "first") })
		after(func(context.Context) { ran = append(ran, "second") })
		ran = append(ran, "body")
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"body", "first", "second"}, ran)
}

func TestDoSkipsHooksOnError(t *testing.T) {
	u := NewUoW(&scriptedTxer{})
	boom := errors.New("boom")

	hooked := false
	err := u.Do(context.Background(), func(ctx context.Context, _ repository.Repos, after func(AfterCommit)) error {
		after(func(context.Context) { hooked = true })
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, hooked)
}

func TestDoRetriesRetryableCommitErrors(t *testing.T) {
	txer := &scriptedTxer{errs: []error{errSerialization, errSerialization}}
	u := NewUoW(txer, WithRetry(isSerialization, 3))

	hooks := 0
	err := u.Do(context.Background(), func(ctx context.Context, _ repository.Repos, after func(AfterCommit)) error {
		after(func(context.Context) { hooks++ })
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, txer.calls)
	assert.Equal(t, 1, hooks, "hooks from aborted attempts must not run")
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	txer := &scriptedTxer{errs: []error{errSerialization, errSerialization, errSerialization}}
	u := NewUoW(txer, WithRetry(isSerialization, 2))

	err := u.Do(context.Background(), func(context.Context, repository.Repos, func(AfterCommit)) error {
		return nil
	})

	assert.ErrorIs(t, err, errSerialization)
	assert.Equal(t, 2, txer.calls)
}
