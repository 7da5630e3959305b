package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{Workers: 2, QueueSize: 10, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, JobTimeout: time.Second}
}

func TestDispatcher_RunsJobs(t *testing.T) {
	d := New(zerolog.Nop(), fastConfig())
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Submit(&Job{Kind: "test", Run: func(context.Context) error {
			n.Add(1)
			return nil
		}}))
	}
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, int32(5), n.Load())
}

func TestDispatcher_RetriesUpToLimit(t *testing.T) {
	d := New(zerolog.Nop(), fastConfig())
	var calls atomic.Int32
	failed := make(chan error, 1)

	require.NoError(t, d.Submit(&Job{
		Kind:       "test",
		MaxRetries: 3,
		Run: func(context.Context) error {
			calls.Add(1)
			return errors.New("db down")
		},
		OnFailure: func(err error) { failed <- err },
	}))
	require.NoError(t, d.Stop(context.Background()))

	assert.Equal(t, int32(4), calls.Load(), "one attempt plus three retries")
	select {
	case err := <-failed:
		assert.EqualError(t, err, "db down")
	default:
		t.Fatal("OnFailure not called")
	}
}

func TestDispatcher_RecoversAfterTransientError(t *testing.T) {
	d := New(zerolog.Nop(), fastConfig())
	var calls atomic.Int32
	require.NoError(t, d.Submit(&Job{
		Kind:       "test",
		MaxRetries: 3,
		Run: func(context.Context) error {
			if calls.Add(1) < 2 {
				return errors.New("transient")
			}
			return nil
		},
		OnFailure: func(error) { t.Error("job should have succeeded") },
	}))
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestDispatcher_PermanentErrorStopsRetries(t *testing.T) {
	d := New(zerolog.Nop(), fastConfig())
	var calls atomic.Int32
	require.NoError(t, d.Submit(&Job{
		Kind:       "test",
		MaxRetries: 5,
		Run: func(context.Context) error {
			calls.Add(1)
			return Permanent(errors.New("bad payload"))
		},
	}))
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := New(zerolog.Nop(), Config{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, d.Submit(&Job{Kind: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	require.NoError(t, d.Submit(&Job{Kind: "fill", Run: func(context.Context) error { return nil }}))
	err := d.Submit(&Job{Kind: "overflow", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	require.NoError(t, d.Stop(context.Background()))
	assert.ErrorIs(t, d.Submit(&Job{Kind: "late", Run: func(context.Context) error { return nil }}), ErrStopped)
}
