package qpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsTaskAndReturnsItsError(t *testing.T) {
	p := New(Config{Workers: 2})
	defer p.Close()

	var ran atomic.Bool
	err := p.Submit(context.Background(), TaskFunc(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}))
	require.NoError(t, err)
	assert.True(t, ran.Load())

	wantErr := errors.New("boom")
	err = p.Submit(context.Background(), TaskFunc(func(ctx context.Context) error {
		return wantErr
	}))
	assert.Equal(t, wantErr, err)

	stats := p.GetStats()
	assert.Equal(t, uint64(2), stats.Submitted)
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestTrySubmitRejectsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	p := New(Config{Workers: 1, QueueSize: 1})
	defer func() {
		close(block)
		p.Close()
	}()

	blocker := TaskFunc(func(ctx context.Context) error {
		<-block
		return nil
	})
	// Occupies the single worker.
	require.NoError(t, p.SubmitAsync(context.Background(), blocker))
	// Fills the one-slot queue.
	require.NoError(t, p.SubmitAsync(context.Background(), blocker))

	err := p.TrySubmit(context.Background(), TaskFunc(func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestSubmitRecoversFromPanic(t *testing.T) {
	var recovered interface{}
	p := New(Config{Workers: 1, PanicHandler: func(r interface{}) { recovered = r }})
	defer p.Close()

	err := p.Submit(context.Background(), TaskFunc(func(ctx context.Context) error {
		panic("kaboom")
	}))
	assert.Error(t, err)
	assert.Equal(t, "kaboom", recovered)
}

func TestCloseRejectsFurtherSubmits(t *testing.T) {
	p := New(Config{Workers: 1})
	require.NoError(t, p.Close())

	err := p.Submit(context.Background(), TaskFunc(func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.ErrorIs(t, p.Close(), ErrPoolClosed)
}

func TestCloseTimeoutReturnsErrorWhenTasksOutlast(t *testing.T) {
	p := New(Config{Workers: 1})
	require.NoError(t, p.SubmitAsync(context.Background(), TaskFunc(func(ctx context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})))

	err := p.CloseTimeout(10 * time.Millisecond)
	assert.Error(t, err)
}

func TestIsHealthyReflectsFailureRatio(t *testing.T) {
	p := New(Config{Workers: 1})
	defer p.Close()

	assert.True(t, p.IsHealthy())

	require.NoError(t, p.Submit(context.Background(), TaskFunc(func(ctx context.Context) error { return nil })))
	for i := 0; i < 3; i++ {
		_ = p.Submit(context.Background(), TaskFunc(func(ctx context.Context) error {
			return errors.New("fail")
		}))
	}
	assert.False(t, p.IsHealthy())
}
