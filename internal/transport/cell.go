package transport

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// WaitResult is the outcome of NotifyCell.Wait.
type WaitResult int

const (
	// WaitOK means a Notify woke the waiter.
	WaitOK WaitResult = iota
	// WaitNotEqual means the cell did not hold the expected value.
	WaitNotEqual
	// WaitTimedOut means the timeout elapsed first.
	WaitTimedOut
)

func (r WaitResult) String() string {
	switch r {
	case WaitOK:
		return "ok"
	case WaitNotEqual:
		return "not-equal"
	case WaitTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Cell states. CellClosed is terminal.
const (
	CellIdle   int32 = 0
	CellReady  int32 = 1
	CellClosed int32 = 2
)

// NotifyCell is a 32-bit word with futex semantics: Wait parks the calling
// goroutine while the word holds an expected value, Notify wakes parked
// waiters. Waiters never spin.
type NotifyCell struct {
	value atomic.Int32

	mu      sync.Mutex
	waiters list.List // of chan struct{}
}

// Load returns the current value.
func (c *NotifyCell) Load() int32 {
	return c.value.Load()
}

// Store sets the value without waking anyone.
func (c *NotifyCell) Store(v int32) {
	c.value.Store(v)
}

// Wait blocks while the cell holds expected, until Notify or timeout.
// A non-positive timeout waits forever.
func (c *NotifyCell) Wait(expected int32, timeout time.Duration) WaitResult {
	c.mu.Lock()
	// Checked under the lock so a Store+Notify between the check and the
	// enqueue cannot be lost.
	if c.value.Load() != expected {
		c.mu.Unlock()
		return WaitNotEqual
	}
	ch := make(chan struct{})
	elem := c.waiters.PushBack(ch)
	c.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ch:
		return WaitOK
	case <-expired:
		c.mu.Lock()
		defer c.mu.Unlock()
		select {
		case <-ch:
			// Notified concurrently with the timer.
			return WaitOK
		default:
			c.waiters.Remove(elem)
			return WaitTimedOut
		}
	}
}

// Notify wakes up to n waiters in arrival order and returns how many woke.
func (c *NotifyCell) Notify(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	woken := 0
	for woken < n {
		front := c.waiters.Front()
		if front == nil {
			break
		}
		close(c.waiters.Remove(front).(chan struct{}))
		woken++
	}
	return woken
}

// Waiters returns the number of parked goroutines.
func (c *NotifyCell) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiters.Len()
}
