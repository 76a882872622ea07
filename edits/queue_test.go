package edits

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func Test_InboundQueue_strictFIFO(t *testing.T) {
	q := NewInboundQueue()
	alice := uuid.New()
	bob := uuid.New()

	q.Enqueue(alice, []byte("a"))
	q.Enqueue(bob, []byte("b"))
	q.Enqueue(alice, []byte("c"))

	for _, want := range []string{"a", "b", "c"} {
		d, ok := q.DequeueOldest()
		require.True(t, ok)
		require.Equal(t, want, string(d.Payload))
	}
	_, ok := q.DequeueOldest()
	require.False(t, ok)
}

func Test_InboundQueue_pendingCounts(t *testing.T) {
	q := NewInboundQueue()
	alice := uuid.New()
	bob := uuid.New()

	q.Enqueue(alice, []byte("a1"))
	q.Enqueue(alice, []byte("a2"))
	q.Enqueue(bob, []byte("b1"))

	require.Equal(t, 2, q.PendingCountFor(alice))
	require.Equal(t, 1, q.PendingCountFor(bob))
	require.Equal(t, 0, q.PendingCountFor(uuid.New()))

	q.DequeueOldest()
	require.Equal(t, 1, q.PendingCountFor(alice))
	q.DequeueOldest()
	require.Equal(t, 0, q.PendingCountFor(alice))
	require.Equal(t, 1, q.PendingCountFor(bob))
}

func Test_InboundQueue_waitTimesOutWhenEmpty(t *testing.T) {
	q := NewInboundQueue()
	start := time.Now()
	got := q.WaitForWork(20 * time.Millisecond)
	require.False(t, got)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func Test_InboundQueue_enqueueWakesWaiter(t *testing.T) {
	q := NewInboundQueue()
	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Enqueue(uuid.New(), []byte("x"))
	}()
	got := q.WaitForWork(time.Second)
	require.True(t, got)
	require.Equal(t, 1, q.Len())
}

func Test_InboundQueue_returnsImmediatelyWhenNonEmpty(t *testing.T) {
	q := NewInboundQueue()
	q.Enqueue(uuid.New(), []byte("x"))
	start := time.Now()
	require.True(t, q.WaitForWork(time.Second))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func Test_InboundQueue_concurrentProducers(t *testing.T) {
	q := NewInboundQueue()
	senders := []SenderID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	const perSender = 50

	var wg sync.WaitGroup
	for _, id := range senders {
		wg.Add(1)
		go func(id SenderID) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				q.Enqueue(id, []byte{byte(i)})
			}
		}(id)
	}
	wg.Wait()

	require.Equal(t, len(senders)*perSender, q.Len())
	for _, id := range senders {
		require.Equal(t, perSender, q.PendingCountFor(id))
	}

	drained := 0
	for {
		if _, ok := q.DequeueOldest(); !ok {
			break
		}
		drained++
	}
	require.Equal(t, len(senders)*perSender, drained)
	for _, id := range senders {
		require.Equal(t, 0, q.PendingCountFor(id))
	}
}
