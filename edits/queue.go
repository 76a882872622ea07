package edits

//
// Thread-safe FIFO of received-but-unprocessed datagrams.
//

import (
	"sync"
	"time"
)

// InboundQueue holds datagrams between the transport receive goroutines
// (producers, any number) and the single ingest worker (consumer). It keeps
// a per-sender count of queued datagrams so the NACK emitter can tell when
// apparent gaps might still be resolved by queued-but-unprocessed packets.
type InboundQueue struct {
	mu      sync.Mutex
	items   []Datagram
	pending map[SenderID]int

	// wake carries at most one token; Enqueue never blocks on it and
	// WaitForWork may observe spurious wakeups, which callers tolerate
	// by re-checking queue state.
	wake chan struct{}
}

// NewInboundQueue returns an empty queue ready for use.
func NewInboundQueue() *InboundQueue {
	return &InboundQueue{
		pending: make(map[SenderID]int),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue appends a datagram at the tail, bumps the sender's pending count,
// and wakes a consumer blocked in WaitForWork. Safe for concurrent use.
func (q *InboundQueue) Enqueue(sender SenderID, payload []byte) {
	q.mu.Lock()
	q.items = append(q.items, Datagram{Sender: sender, Payload: payload})
	q.pending[sender]++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// DequeueOldest removes and returns the head datagram, decrementing the
// originating sender's pending count. The second return is false when the
// queue is empty. Single-consumer: only the ingest worker calls this.
func (q *InboundQueue) DequeueOldest() (Datagram, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Datagram{}, false
	}
	d := q.items[0]
	q.items = q.items[1:]
	if q.pending[d.Sender] <= 1 {
		delete(q.pending, d.Sender)
	} else {
		q.pending[d.Sender]--
	}
	return d, true
}

// Len returns the number of queued datagrams.
func (q *InboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PendingCountFor returns how many not-yet-processed datagrams from the
// given sender are sitting in the queue.
func (q *InboundQueue) PendingCountFor(sender SenderID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[sender]
}

// WaitForWork blocks until the queue is non-empty or the timeout elapses,
// whichever comes first. It returns true if the queue looks non-empty. The
// caller must re-check queue state either way.
func (q *InboundQueue) WaitForWork(timeout time.Duration) bool {
	if q.Len() > 0 {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.wake:
		return q.Len() > 0
	case <-timer.C:
		return false
	}
}
