package actor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallSerializesConcurrentCommands(t *testing.T) {
	m := New(8)
	defer m.Stop()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = Do(context.Background(), m, func() error {
				v := counter
				counter = v + 1
				return nil
			})
		}()
	}
	wg.Wait()

	got, err := Call(context.Background(), m, func() (int, error) { return counter, nil })
	require.NoError(t, err)
	assert.Equal(t, 100, got)
}

func TestCallRecoversPanics(t *testing.T) {
	m := New(1)
	defer m.Stop()

	err := Do(context.Background(), m, func() error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	v, err := Call(context.Background(), m, func() (string, error) { return "alive", nil })
	require.NoError(t, err)
	assert.Equal(t, "alive", v)
}

func TestCallAfterStop(t *testing.T) {
	m := New(1)
	m.Stop()
	m.Stop()

	err := Do(context.Background(), m, func() error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
	assert.False(t, m.Post(func() {}))
}

func TestCallHonoursCancelledContext(t *testing.T) {
	m := New(1)
	defer m.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := Do(ctx, m, func() error { ran = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestCallWaitsForStartedCommand(t *testing.T) {
	m := New(1)
	defer m.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	running := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	var got int
	var err error
	go func() {
		defer close(done)
		got, err = Call(ctx, m, func() (int, error) {
			close(running)
			<-release
			return 7, nil
		})
	}()

	<-running
	cancel()
	select {
	case <-done:
		t.Fatal("Call returned while the command was still running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-done
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestCallAbandonsQueuedCommand(t *testing.T) {
	m := New(1)
	defer m.Stop()

	release := make(chan struct{})
	require.True(t, m.Post(func() { <-release }))

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errc := make(chan error, 1)
	go func() {
		errc <- Do(ctx, m, func() error { ran.Store(true); return nil })
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	require.NoError(t, Do(context.Background(), m, func() error { return nil }))
	assert.False(t, ran.Load())
}
