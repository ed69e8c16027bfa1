package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsTasks(t *testing.T) {
	p := NewPool(logrus.New(), 3, 10)
	require.NoError(t, p.Start(context.Background()))

	var n atomic.Int32

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func(context.Context) { n.Add(1) }))
	}

	require.Eventually(t, func() bool { return n.Load() == 10 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())
}

func TestPool_QueueFull(t *testing.T) {
	p := NewPool(logrus.New(), 1, 1)
	require.NoError(t, p.Start(context.Background()))

	block := make(chan struct{})
	running := make(chan struct{})

	require.NoError(t, p.Submit(func(context.Context) {
		close(running)
		<-block
	}))
	<-running

	require.NoError(t, p.Submit(func(context.Context) {}))
	assert.ErrorIs(t, p.Submit(func(context.Context) {}), ErrQueueFull)

	close(block)
	require.NoError(t, p.Stop())
}

func TestPool_SurvivesPanics(t *testing.T) {
	p := NewPool(logrus.New(), 1, 2)
	require.NoError(t, p.Start(context.Background()))

	done := make(chan struct{})

	require.NoError(t, p.Submit(func(context.Context) { panic("boom") }))
	require.NoError(t, p.Submit(func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not recover from panic")
	}

	require.NoError(t, p.Stop())
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := NewPool(logrus.New(), 1, 1)
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())

	assert.Error(t, p.Submit(func(context.Context) {}))
}
