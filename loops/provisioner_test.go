package loops

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireInstallsCurrentLoop(t *testing.T) {
	l, err := Acquire(NewBasicLoop, true, nil)
	require.NoError(t, err)
	assert.Same(t, l, Current())
	assert.Equal(t, OriginHarness, l.Origin())
	assert.True(t, l.Debug())

	require.NoError(t, Release(l, true))
	assert.Nil(t, Current())
}

func TestAcquireReturnsFactoryError(t *testing.T) {
	_, err := Acquire(func() (*Loop, error) { return nil, errors.New("unsupported") }, false, nil)
	assert.EqualError(t, err, "unsupported")
}

func TestReleaseDoesNotClearAnotherCurrentLoop(t *testing.T) {
	first, err := Acquire(NewBasicLoop, false, nil)
	require.NoError(t, err)
	second, err := Acquire(NewBasicLoop, false, nil)
	require.NoError(t, err)

	require.NoError(t, Release(first, true))
	assert.Same(t, second, Current())
	require.NoError(t, Release(second, true))
	assert.Nil(t, Current())
}

func TestReleaseIsIdempotent(t *testing.T) {
	l, err := Acquire(NewBasicLoop, false, nil)
	require.NoError(t, err)
	require.NoError(t, Release(l, true))
	require.NoError(t, Release(l, false))
}

func TestReleaseLetsFinishingTasksDrain(t *testing.T) {
	l, err := Acquire(NewBasicLoop, false, nil)
	require.NoError(t, err)
	c := l.CaptureWarnings()

	f := l.Go(func(ctx context.Context) (interface{}, error) {
		time.Sleep(DrainGracePeriod / 4)
		return "finished", nil
	})
	go func() { _, _ = f.Await(context.Background()) }()
	require.NoError(t, Release(l, false))

	assert.Len(t, Filter(c.Stop(), ResourceWarning), 0)
}

func TestReleaseCancelsHangingTasks(t *testing.T) {
	l, err := Acquire(NewBasicLoop, false, nil)
	require.NoError(t, err)
	c := l.CaptureWarnings()

	require.NoError(t, l.Background(func(ctx context.Context) { <-ctx.Done() }))
	require.NoError(t, Release(l, false))

	warnings := Filter(c.Stop(), ResourceWarning)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "1 background task(s) were cancelled")
	assert.Equal(t, 0, l.PendingTasks())
}

func TestFastReleaseSkipsWarnings(t *testing.T) {
	l, err := Acquire(NewBasicLoop, false, nil)
	require.NoError(t, err)
	c := l.CaptureWarnings()

	l.Go(func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, nil
	})
	start := time.Now()
	require.NoError(t, Release(l, true))

	assert.Less(t, time.Since(start), DrainGracePeriod)
	assert.Len(t, c.Stop(), 0)
}

func TestPassthroughUsesExistingLoop(t *testing.T) {
	existing, err := NewBasicLoop()
	require.NoError(t, err)
	defer Release(existing, true)

	var got *Loop
	require.NoError(t, Passthrough(existing, true, nil, func(l *Loop) error {
		got = l
		return nil
	}))
	assert.Same(t, existing, got)
	assert.False(t, existing.Closed())
}

func TestPassthroughAcquiresAndReleases(t *testing.T) {
	var got *Loop
	require.NoError(t, Passthrough(nil, true, nil, func(l *Loop) error {
		got = l
		assert.Same(t, l, Current())
		return nil
	}))
	require.NotNil(t, got)
	assert.True(t, got.Closed())
	assert.Nil(t, Current())
}

func TestPassthroughReleasesAfterPanic(t *testing.T) {
	var got *Loop
	assert.Panics(t, func() {
		_ = Passthrough(nil, true, nil, func(l *Loop) error {
			got = l
			panic("action failed")
		})
	})
	require.NotNil(t, got)
	assert.True(t, got.Closed())
}
