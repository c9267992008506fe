package evm

import (
	"context"
	"sync"
)

// ReleaseFunc releases one specific acquisition of a Locker. It is safe
// to call more than once; later calls are no-ops.
type ReleaseFunc func(ctx context.Context) error

// Locker serializes transfer submissions from a single signing identity.
// Acquire blocks until the lock is held and returns a release handle
// bound to that acquisition, so a stale holder can never release a lock
// someone else has since taken over.
type Locker interface {
	Acquire(ctx context.Context) (ReleaseFunc, error)
}

// processLock is the in-process default, sufficient when one replica owns
// the signing key.
type processLock struct {
	ch chan struct{}
}

// NewProcessLock creates an in-process submission lock.
func NewProcessLock() Locker {
	return &processLock{ch: make(chan struct{}, 1)}
}

func (l *processLock) Acquire(ctx context.Context) (ReleaseFunc, error) {
	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func(context.Context) error {
			once.Do(func() { <-l.ch })
			return nil
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
