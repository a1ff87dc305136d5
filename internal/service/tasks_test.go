package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTaskSupervisorRunsSubmittedWork(t *testing.T) {
	s := NewTaskSupervisor(2, zap.NewNop())
	defer s.Shutdown(context.Background())

	var ran atomic.Bool
	h := s.Submit("test", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	require.NoError(t, h.Await(context.Background(), time.Second))
	assert.True(t, ran.Load())
	assert.True(t, h.Done())
}

func TestTaskHandleAwaitTimeout(t *testing.T) {
	s := NewTaskSupervisor(1, zap.NewNop())
	defer s.Shutdown(context.Background())

	release := make(chan struct{})
	h := s.Submit("slow", func(ctx context.Context) error {
		<-release
		return nil
	})

	err := h.Await(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, h.Done())

	close(release)
	require.NoError(t, h.Await(context.Background(), time.Second))
}

func TestTaskHandleAwaitReturnsTaskError(t *testing.T) {
	s := NewTaskSupervisor(1, zap.NewNop())
	defer s.Shutdown(context.Background())

	want := errors.New("boom")
	h := s.Submit("fails", func(ctx context.Context) error {
		return want
	})

	assert.ErrorIs(t, h.Await(context.Background(), time.Second), want)
}

func TestTaskSupervisorOverflowStillRuns(t *testing.T) {
	s := NewTaskSupervisor(1, zap.NewNop())
	defer s.Shutdown(context.Background())

	block := make(chan struct{})
	s.Submit("blocker", func(ctx context.Context) error {
		<-block
		return nil
	})

	var count atomic.Int32
	handles := make([]*TaskHandle, 0, defaultTaskQueueSize+10)
	for i := 0; i < defaultTaskQueueSize+10; i++ {
		handles = append(handles, s.Submit("n", func(ctx context.Context) error {
			count.Add(1)
			return nil
		}))
	}
	close(block)

	for _, h := range handles {
		require.NoError(t, h.Await(context.Background(), 2*time.Second))
	}
	assert.Equal(t, int32(defaultTaskQueueSize+10), count.Load())
}

func TestTaskSupervisorShutdownDrains(t *testing.T) {
	s := NewTaskSupervisor(2, zap.NewNop())

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		s.Submit("drain", func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
			return nil
		})
	}

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, int32(10), done.Load())

	// Post-shutdown submissions are rejected but safe to await.
	h := s.Submit("late", func(ctx context.Context) error {
		t.Fatal("should not run")
		return nil
	})
	assert.NoError(t, h.Await(context.Background(), time.Second))
}

func TestTaskHandleNilAwait(t *testing.T) {
	var h *TaskHandle
	assert.NoError(t, h.Await(context.Background(), time.Second))
	assert.True(t, h.Done())
}
