package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_RunsAndJoins(t *testing.T) {
	g := New(4, nil)
	var n atomic.Int32
	for i := 0; i < 3; i++ {
		require.True(t, g.Go("inc", func(context.Context) { n.Add(1) }))
	}
	require.NoError(t, g.Shutdown(context.Background()))
	assert.EqualValues(t, 3, n.Load())
}

func TestGroup_DropsWhenSaturated(t *testing.T) {
	g := New(1, nil)
	release := make(chan struct{})
	require.True(t, g.Go("block", func(context.Context) { <-release }))
	assert.False(t, g.Go("extra", func(context.Context) {}))
	close(release)
	require.NoError(t, g.Shutdown(context.Background()))
}

func TestGroup_RejectsAfterShutdown(t *testing.T) {
	g := New(2, nil)
	require.NoError(t, g.Shutdown(context.Background()))
	assert.False(t, g.Go("late", func(context.Context) {}))
}

func TestGroup_ShutdownTimeoutCancelsTasks(t *testing.T) {
	g := New(2, nil)
	cancelled := make(chan struct{})
	require.True(t, g.Go("slow", func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("task context was not cancelled")
	}
}

func TestGroup_RecoversPanics(t *testing.T) {
	g := New(1, nil)
	require.True(t, g.Go("boom", func(context.Context) { panic("x") }))
	require.NoError(t, g.Shutdown(context.Background()))
}
