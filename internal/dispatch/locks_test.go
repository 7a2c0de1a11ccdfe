package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockTableSerializesSameUser(t *testing.T) {
	lt := NewLockTable()
	unlock, err := lt.Acquire(context.Background(), 1)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := lt.Acquire(context.Background(), 1)
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire entered while the first was held")
	case <-time.After(30 * time.Millisecond):
	}

	// Other users are unaffected.
	other, err := lt.Acquire(context.Background(), 2)
	require.NoError(t, err)
	other()

	unlock()
	unlock() // extra calls are ignored
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func TestLockTableHonorsContext(t *testing.T) {
	lt := NewLockTable()
	unlock, err := lt.Acquire(context.Background(), 1)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = lt.Acquire(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}
