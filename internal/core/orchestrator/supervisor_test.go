package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorOneTaskPerID(t *testing.T) {
	var running atomic.Int64
	s := NewSupervisor(func(n int) { running.Store(int64(n)) })
	defer s.Shutdown()

	release := make(chan struct{})
	block := func(ctx context.Context) {
		select {
		case <-release:
		case <-ctx.Done():
		}
	}

	assert.True(t, s.Go("a", block))
	assert.False(t, s.Go("a", block), "second task for the same id is refused")
	assert.True(t, s.Go("b", block))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, int64(2), running.Load())

	done := s.Done("a")
	close(release)
	<-done
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(0), running.Load())

	// The id is free again once its task returned.
	assert.True(t, s.Go("a", func(context.Context) {}))
}

func TestSupervisorCancel(t *testing.T) {
	s := NewSupervisor(nil)
	defer s.Shutdown()

	stopped := make(chan struct{})
	s.Go("a", func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})

	assert.True(t, s.Running("a"))
	assert.True(t, s.Cancel("a"))
	<-stopped
	assert.False(t, s.Cancel("missing"))
	assert.Nil(t, s.Done("missing"))
}

func TestSupervisorShutdownRefusesNewTasks(t *testing.T) {
	s := NewSupervisor(nil)

	var finished atomic.Int32
	for _, id := range []string{"a", "b", "c"} {
		s.Go(id, func(ctx context.Context) {
			<-ctx.Done()
			finished.Add(1)
		})
	}

	s.Shutdown()
	assert.Equal(t, int32(3), finished.Load())
	assert.False(t, s.Go("d", func(context.Context) {}))
	assert.Zero(t, s.Len())
}
