package qualifier

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/sdkqual/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWaitingService() *Service {
	return New(nil, nil, nil, store.NewMemoryStore(1), Options{})
}

func TestWake_Coalesces(t *testing.T) {
	s := newWaitingService()
	s.setState(StateWait)

	assert.True(t, s.Wake())
	assert.False(t, s.Wake(), "second wake is already pending")
}

func TestWaitNext_DropsStaleWake(t *testing.T) {
	s := newWaitingService()
	s.setState(StateWait)
	require.True(t, s.Wake())
	// The loop left the wait before seeing the wake.
	s.setState(StatePoll)

	start := time.Now()
	require.NoError(t, s.waitNext(context.Background(), 100*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, StateIdle, s.Status().State)
	assert.Nil(t, s.Status().WaitUntil)
}

func TestWaitNext_WokenEarly(t *testing.T) {
	s := newWaitingService()

	done := make(chan error, 1)
	go func() { done <- s.waitNext(context.Background(), time.Hour) }()

	require.Eventually(t, func() bool { return s.Status().State == StateWait }, 5*time.Second, 5*time.Millisecond)
	require.True(t, s.Wake())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("wake did not end the wait")
	}
}

func TestWaitNext_Cancelled(t *testing.T) {
	s := newWaitingService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.waitNext(ctx, time.Hour), context.Canceled)
}
