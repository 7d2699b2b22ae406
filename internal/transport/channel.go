package transport

import (
	"errors"
	"sync"
)

var errChannelClosed = errors.New("channel closed")

// SharedChannel is the state one Caller and one Responder share: the
// request mailbox, the response region and the notify cell.
//
// The in-flight correlation id arbitrates the region. A response is only
// written while its id is in flight, so a late answer to a call that timed
// out can never overwrite the region a newer call is about to read.
type SharedChannel struct {
	mailbox *Mailbox
	region  *ResponseRegion
	cell    NotifyCell

	mu       sync.Mutex
	inflight uint32
	closed   bool
}

// NewSharedChannel creates a channel whose region holds capacity bytes.
func NewSharedChannel(capacity int) *SharedChannel {
	return &SharedChannel{
		mailbox: NewMailbox(),
		region:  NewResponseRegion(capacity),
	}
}

// Capacity returns the response region size.
func (c *SharedChannel) Capacity() int {
	return c.region.Capacity()
}

// Cell exposes the notify cell.
func (c *SharedChannel) Cell() *NotifyCell {
	return &c.cell
}

// begin marks id in flight and resets the cell to idle.
func (c *SharedChannel) begin(id uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errChannelClosed
	}
	c.inflight = id
	c.cell.Store(CellIdle)
	return nil
}

// abandon gives up on id. It reports true when the response had already
// been delivered and can still be read.
func (c *SharedChannel) abandon(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == id {
		c.inflight = 0
		return false
	}
	return !c.closed && c.cell.Load() == CellReady
}

// complete writes env for id and wakes the caller. It reports false when id
// is no longer in flight.
func (c *SharedChannel) complete(id uint32, env []byte) (bool, error) {
	c.mu.Lock()
	if c.closed || id == 0 || c.inflight != id {
		c.mu.Unlock()
		return false, nil
	}
	if err := c.region.Write(env); err != nil {
		c.mu.Unlock()
		return false, err
	}
	c.inflight = 0
	c.cell.Store(CellReady)
	c.mu.Unlock()

	c.cell.Notify(1)
	return true, nil
}

// read copies the delivered envelope out of the region.
func (c *SharedChannel) read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errChannelClosed
	}
	return c.region.Read()
}

// Close releases the channel. Pending and future calls fail, and a blocked
// caller is woken. The cell is left non-idle so a caller that has posted
// but not yet parked returns at once.
func (c *SharedChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.inflight = 0
	c.region.Reset()
	c.cell.Store(CellClosed)
	c.mu.Unlock()

	c.mailbox.Close()
	c.cell.Notify(1)
}

// Closed reports whether Close was called.
func (c *SharedChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
