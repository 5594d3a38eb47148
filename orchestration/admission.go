package orchestration

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evolvai/evolv/core"
)

// admission gates concurrent goals at a global cap. Excess goals wait in
// FIFO order up to the admission timeout, then fail with a capacity error
// carrying a retry-after hint.
type admission struct {
	mu      sync.Mutex
	limit   int
	active  int
	waiters *list.List
	timeout time.Duration
}

func newAdmission(limit int, timeout time.Duration) *admission {
	if limit <= 0 {
		limit = 4
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &admission{
		limit:   limit,
		waiters: list.New(),
		timeout: timeout,
	}
}

// Acquire claims a goal slot, waiting in queue order when the cap is
// reached.
func (a *admission) Acquire(ctx context.Context) error {
	a.mu.Lock()
	if a.active < a.limit && a.waiters.Len() == 0 {
		a.active++
		a.mu.Unlock()
		return nil
	}
	grant := make(chan struct{})
	elem := a.waiters.PushBack(grant)
	a.mu.Unlock()

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		a.abandon(elem, grant)
		return ctx.Err()
	case <-timer.C:
		a.abandon(elem, grant)
		return &core.FrameworkError{
			Op:      "admission.Acquire",
			Kind:    "orchestration",
			Err:     core.ErrCapacity,
			Message: fmt.Sprintf("goal queue full, retry after %s", a.timeout),
		}
	}
}

// abandon removes a waiter. A grant that raced the timeout already holds
// a slot, so abandoning it is a release: the slot transfers to the next
// waiter instead of leaking.
func (a *admission) abandon(elem *list.Element, grant chan struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-grant:
		a.active--
		a.grantNextLocked()
	default:
		a.waiters.Remove(elem)
	}
}

// Release frees a slot and wakes the oldest waiter.
func (a *admission) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active--
	a.grantNextLocked()
}

func (a *admission) grantNextLocked() {
	if a.active >= a.limit {
		return
	}
	front := a.waiters.Front()
	if front == nil {
		return
	}
	a.waiters.Remove(front)
	a.active++
	close(front.Value.(chan struct{}))
}

// InFlight reports the number of admitted goals.
func (a *admission) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}
