package dispatch

import (
	"context"
	"sync"
)

// LockTable hands out one mutual-exclusion slot per user id.
//
// Slots are created on first use and kept for the life of the process, so
// memory grows with the number of distinct users seen. That is fine for a
// single bot; a striped table keyed by hash(userID) mod K would bound it.
type LockTable struct {
	mu    sync.Mutex
	slots map[int64]chan struct{}
}

func NewLockTable() *LockTable {
	return &LockTable{slots: make(map[int64]chan struct{})}
}

func (t *LockTable) slot(userID int64) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[userID]
	if !ok {
		s = make(chan struct{}, 1)
		t.slots[userID] = s
	}
	return s
}

// Acquire blocks until the user's slot is free or ctx is done.
// The returned unlock must be called exactly once; extra calls are ignored.
func (t *LockTable) Acquire(ctx context.Context, userID int64) (unlock func(), err error) {
	s := t.slot(userID)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-s }) }, nil
}

// Len returns the number of users that ever held a slot.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
