package edits

//
// The ingest worker: the single consumer of the InboundQueue. It drains the
// queue one datagram at a time, applies edit records against the shared tree
// under its write lock, feeds sequence trackers, and runs periodic NACK
// sweeps so that a sweep happens at least once per interval even when no
// traffic arrives.
//

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// defaultNackInterval is how long the worker lets pass between NACK sweeps.
const defaultNackInterval = time.Second

// SharedTree is the spatial tree the edits apply to. The tree reports how
// many bytes each edit record consumed; record boundaries are not knowable
// without applying them.
type SharedTree interface {
	// HandlesEditPacketType reports whether the tree can apply packets
	// of the given type.
	HandlesEditPacketType(t PacketType) bool

	// ProcessEditPacketData applies one edit record. packet is the full
	// datagram and cursor the offset of the record within it; the tree
	// may need the outer context. Returns the number of bytes consumed;
	// zero or negative means the record is malformed.
	ProcessEditPacketData(t PacketType, packet []byte, cursor int, sender SenderID) int

	// LockForWrite and Unlock bracket each ProcessEditPacketData call.
	LockForWrite()
	Unlock()
}

// SessionRegistry maps sender identities to liveness and transport
// endpoints. It is owned by the surrounding server.
type SessionRegistry interface {
	IsAlive(sender SenderID) bool
	SetLastHeard(sender SenderID, at time.Time)
	Endpoint(sender SenderID) (net.Addr, bool)
}

// IngestWorker runs the processing loop. Exactly one goroutine executes it;
// that single-consumer constraint is what lets the registry and trackers go
// without locks.
type IngestWorker struct {
	queue    *InboundQueue
	tree     SharedTree
	sessions SessionRegistry
	codec    HeaderCodec
	nacker   *NackEmitter
	stats    *SenderStatsRegistry

	clock        clockwork.Clock
	log          Logger
	nackInterval time.Duration
	lastNackTime time.Time

	stopChan  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// WorkerOpt configures an IngestWorker.
type WorkerOpt func(*IngestWorker)

// WithClock replaces the wall clock; tests pass a fake.
func WithClock(c clockwork.Clock) WorkerOpt {
	return func(w *IngestWorker) { w.clock = c }
}

// WithWorkerLogger replaces the worker's logger.
func WithWorkerLogger(l Logger) WorkerOpt {
	return func(w *IngestWorker) { w.log = l }
}

// WithNackInterval overrides the time between NACK sweeps.
func WithNackInterval(d time.Duration) WorkerOpt {
	return func(w *IngestWorker) { w.nackInterval = d }
}

// NewIngestWorker wires a worker to its collaborators. nackType is the
// packet type stamped on outbound NACK datagrams.
func NewIngestWorker(queue *InboundQueue, tree SharedTree, sessions SessionRegistry,
	sender DatagramSender, codec HeaderCodec, nackType PacketType, opts ...WorkerOpt) *IngestWorker {
	w := &IngestWorker{
		queue:        queue,
		tree:         tree,
		sessions:     sessions,
		codec:        codec,
		stats:        NewSenderStatsRegistry(),
		clock:        clockwork.NewRealClock(),
		log:          logger,
		nackInterval: defaultNackInterval,
		stopChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.nacker = NewNackEmitter(sessions, sender, codec, nackType, w.log)
	w.lastNackTime = w.clock.Now()
	return w
}

// Stats exposes the registry, e.g. for a stats endpoint. Read it only from
// the worker goroutine or after Stop.
func (w *IngestWorker) Stats() *SenderStatsRegistry {
	return w.stats
}

// ResetStats clears aggregate and per-sender counters and re-arms the NACK
// sweep timer.
func (w *IngestWorker) ResetStats() {
	w.stats.Reset()
	w.lastNackTime = w.clock.Now()
}

// Start launches the worker goroutine. Subsequent calls are no-ops.
func (w *IngestWorker) Start() {
	w.startOnce.Do(func() {
		go func() {
			for w.process() {
			}
		}()
	})
}

// Stop signals the worker to exit. Shutdown is cooperative: the datagram
// being processed completes first.
func (w *IngestWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

func (w *IngestWorker) stopping() bool {
	select {
	case <-w.stopChan:
		return true
	default:
		return false
	}
}

// process runs one outer loop iteration and reports whether the loop should
// keep going. With the queue empty it either runs a due NACK sweep or waits
// for work, bounded by the time to the next sweep; with work available it
// drains one datagram at a time, re-checking sweep time after each since
// processing itself takes time.
func (w *IngestWorker) process() bool {
	if w.stopping() {
		return false
	}

	if w.queue.Len() == 0 {
		now := w.clock.Now()
		nextNack := w.lastNackTime.Add(w.nackInterval)
		if !now.Before(nextNack) {
			w.lastNackTime = now
			w.nacker.SendAll(w.stats, w.queue)
		} else {
			w.queue.WaitForWork(nextNack.Sub(now) + time.Millisecond)
		}
	}

	for w.queue.Len() > 0 {
		d, ok := w.queue.DequeueOldest()
		if !ok {
			break
		}
		if err := w.ingestOne(d); err != nil {
			w.log.Warnf("dropping datagram from %s: %v", d.Sender, err)
		}
		if w.clock.Now().Sub(w.lastNackTime) >= w.nackInterval {
			w.lastNackTime = w.clock.Now()
			w.nacker.SendAll(w.stats, w.queue)
		}
		if w.stopping() {
			return false
		}
	}
	return true
}

// ingestOne fully processes a single datagram: decode framing and sequence
// fields, apply each edit record under the tree write lock, and feed the
// sender's tracker. Data errors are returned for logging but never kill the
// loop.
func (w *IngestWorker) ingestOne(d Datagram) error {
	packetType, headerLen, err := w.codec.DecodeHeader(d.Payload)
	if err != nil {
		malformedDatagrams.Inc()
		return err
	}
	if !w.tree.HandlesEditPacketType(packetType) {
		unknownTypeDatagrams.Inc()
		w.log.Debugf("unhandled packet type %d from %s, ignoring", packetType, d.Sender)
		return nil
	}
	w.stats.CountReceived()

	r := newReader(d.Payload)
	if err := r.skip(headerLen); err != nil {
		malformedDatagrams.Inc()
		return err
	}
	sequence, err := r.readUint16()
	if err != nil {
		malformedDatagrams.Inc()
		return err
	}
	sentAt, err := r.readUint64()
	if err != nil {
		malformedDatagrams.Inc()
		return err
	}

	arrivedAt := w.clock.Now().UnixMicro()
	// transit time is recorded as-is; clock skew between sender and
	// receiver can make it negative or implausible.
	transitUsec := arrivedAt - int64(sentAt)

	var (
		editsInPacket int
		processUsec   int64
		lockWaitUsec  int64
		malformed     error
	)
	for r.remaining() > 0 {
		lockStart := w.clock.Now()
		w.tree.LockForWrite()
		processStart := w.clock.Now()
		consumed := w.tree.ProcessEditPacketData(packetType, d.Payload, r.off, d.Sender)
		w.tree.Unlock()
		processEnd := w.clock.Now()

		lockWaitUsec += processStart.Sub(lockStart).Microseconds()
		processUsec += processEnd.Sub(processStart).Microseconds()

		if consumed <= 0 {
			// A zero-consumed record would loop forever. Abort the rest
			// of this datagram; records already applied stand.
			malformedDatagrams.Inc()
			malformed = fmt.Errorf("%w: tree consumed %d bytes at offset %d", errMalformedEdit, consumed, r.off)
			break
		}
		if err := r.skip(consumed); err != nil {
			malformedDatagrams.Inc()
			malformed = fmt.Errorf("%w: tree consumed %d bytes past end at offset %d", errMalformedEdit, consumed, r.off)
			break
		}
		editsInPacket++
		editRecordsApplied.Inc()
	}

	if d.Sender != DefaultSenderID {
		w.sessions.SetLastHeard(d.Sender, w.clock.Now())
	}
	w.stats.Track(d.Sender, sequence, transitUsec, editsInPacket, processUsec, lockWaitUsec)
	return malformed
}
