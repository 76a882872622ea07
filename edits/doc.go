//
// Package edits implements the inbound edit-packet pipeline of an octree
// synchronization server: it queues UDP datagrams carrying octree mutation
// commands from many concurrent clients, applies them serially against a
// shared spatial tree, reconstructs per-sender sequence ordering despite
// loss and reordering, and emits NACK datagrams asking senders to
// retransmit sequence numbers that appear to be missing.
//
// The package owns the queue, the per-sender sequence trackers, the ingest
// worker loop, and the NACK emitter. The spatial tree itself, the session
// registry, and the datagram transport are collaborators supplied by the
// caller through the SharedTree, SessionRegistry and DatagramSender
// interfaces. Transport receive threads call InboundQueue.Enqueue; a single
// IngestWorker goroutine consumes the queue and performs NACK sweeps, so
// all per-sender tracking state is touched from exactly one goroutine.
//
package edits
