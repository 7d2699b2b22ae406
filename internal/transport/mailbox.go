package transport

import (
	"sync"

	"github.com/woxQAQ/robokernel/pkg/protocol"
)

// RequestEnvelope is one host call crossing from the caller to the
// responder.
type RequestEnvelope struct {
	Kind          protocol.CallKind
	CorrelationID uint32
	Payload       []byte
}

// Mailbox is an unbounded FIFO of requests. Post never blocks; Ready holds
// at most one pending signal, so a reader drains everything per wake-up.
type Mailbox struct {
	mu     sync.Mutex
	queue  []RequestEnvelope
	ready  chan struct{}
	closed bool
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Post enqueues env. It reports false once the mailbox is closed.
func (m *Mailbox) Post(env RequestEnvelope) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, env)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready is signalled when requests are waiting.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.ready
}

// TakeAll removes and returns every queued request in post order.
func (m *Mailbox) TakeAll() []RequestEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	return out
}

// Len returns the number of queued requests.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close rejects further posts and drops queued requests.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.queue = nil
}
