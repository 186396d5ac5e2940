package odbxuv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoop(t *testing.T) {
	t.Run("runs tasks in order until idle", func(t *testing.T) {
		l := NewLoop()
		var order []int
		for i := 0; i < 3; i++ {
			require.Nil(t, l.Submit(func() error {
				order = append(order, i)
				return nil
			}))
		}
		require.True(t, l.Alive())
		require.Nil(t, l.Run(context.Background()))
		require.Equal(t, []int{0, 1, 2}, order)
		require.False(t, l.Alive())
	})
	t.Run("tasks may submit tasks", func(t *testing.T) {
		l := NewLoop()
		ran := false
		require.Nil(t, l.Submit(func() error {
			return l.Submit(func() error {
				ran = true
				return nil
			})
		}))
		require.Nil(t, l.Run(context.Background()))
		require.True(t, ran)
	})
	t.Run("hold keeps the loop alive", func(t *testing.T) {
		l := NewLoop()
		l.Hold()
		done := make(chan struct{})
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = l.Submit(func() error {
				close(done)
				return nil
			})
			l.Release()
		}()
		require.Nil(t, l.Run(context.Background()))
		<-done
	})
	t.Run("context cancellation", func(t *testing.T) {
		l := NewLoop()
		l.Hold()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, l.Run(ctx), context.DeadlineExceeded)
		l.Release()
	})
	t.Run("task errors go to the handler", func(t *testing.T) {
		var got []error
		l := NewLoop(WithTaskErrorHandler(func(err error) { got = append(got, err) }))
		boom := errors.New("boom")
		require.Nil(t, l.Submit(func() error { return boom }))
		require.Nil(t, l.Run(context.Background()))
		require.Equal(t, []error{boom}, got)
	})
	t.Run("stop terminates", func(t *testing.T) {
		l := NewLoop()
		l.Stop()
		require.ErrorIs(t, l.Submit(func() error { return nil }), ErrLoopTerminated)
		require.ErrorIs(t, l.Run(context.Background()), ErrLoopTerminated)
	})
	t.Run("single runner", func(t *testing.T) {
		l := NewLoop()
		l.Hold()
		started := make(chan struct{})
		require.Nil(t, l.Submit(func() error {
			close(started)
			return nil
		}))
		errc := make(chan error, 1)
		go func() { errc <- l.Run(context.Background()) }()
		<-started
		require.ErrorIs(t, l.Run(context.Background()), ErrLoopAlreadyRunning)
		l.Release()
		require.Nil(t, <-errc)
	})
	t.Run("over release panics", func(t *testing.T) {
		l := NewLoop()
		require.Panics(t, l.Release)
	})
}
