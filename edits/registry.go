package edits

//
// Sender identity to SequenceTracker mapping, plus pipeline-wide totals.
//

// SenderStatsRegistry owns the per-sender trackers and the aggregate
// counters for the whole pipeline. Trackers are created lazily on a
// sender's first datagram and evicted when the sender is discovered dead at
// NACK time. Only the ingest worker goroutine mutates the registry, which
// is what makes it lock-free.
type SenderStatsRegistry struct {
	trackers map[SenderID]*SequenceTracker

	receivedPackets   int64
	totalPackets      int64
	totalTransitUsec  int64
	totalProcessUsec  int64
	totalLockWaitUsec int64
	totalEdits        int64
}

// NewSenderStatsRegistry returns an empty registry.
func NewSenderStatsRegistry() *SenderStatsRegistry {
	return &SenderStatsRegistry{trackers: make(map[SenderID]*SequenceTracker)}
}

// CountReceived bumps the recognized-edit-packet counter. Datagrams of types
// the tree does not handle are never counted.
func (r *SenderStatsRegistry) CountReceived() {
	r.receivedPackets++
	packetsReceived.Inc()
}

// ReceivedPackets returns how many recognized edit datagrams have arrived
// since the last reset.
func (r *SenderStatsRegistry) ReceivedPackets() int64 {
	return r.receivedPackets
}

// Track feeds one datagram's tracking data into both the aggregate totals
// and the sender's own tracker, creating the tracker on first contact.
func (r *SenderStatsRegistry) Track(sender SenderID, sequence uint16, transitUsec int64, editCount int, processUsec, lockWaitUsec int64) {
	r.totalTransitUsec += transitUsec
	r.totalProcessUsec += processUsec
	r.totalLockWaitUsec += lockWaitUsec
	r.totalEdits += int64(editCount)
	r.totalPackets++

	tracker, ok := r.trackers[sender]
	if !ok {
		tracker = NewSequenceTracker()
		r.trackers[sender] = tracker
	}
	tracker.Track(sequence, transitUsec, editCount, processUsec, lockWaitUsec)
}

// Tracker returns the tracker for a sender, if one exists.
func (r *SenderStatsRegistry) Tracker(sender SenderID) (*SequenceTracker, bool) {
	t, ok := r.trackers[sender]
	return t, ok
}

// Senders returns a snapshot of the currently tracked sender identities.
// The slice is safe to iterate while trackers are evicted.
func (r *SenderStatsRegistry) Senders() []SenderID {
	out := make([]SenderID, 0, len(r.trackers))
	for id := range r.trackers {
		out = append(out, id)
	}
	return out
}

// Evict drops a sender's tracker. Routine cleanup for dead senders, not an
// error.
func (r *SenderStatsRegistry) Evict(sender SenderID) {
	delete(r.trackers, sender)
}

// TotalPackets returns the aggregate tracked-datagram count.
func (r *SenderStatsRegistry) TotalPackets() int64 { return r.totalPackets }

// TotalEdits returns the aggregate edit-record count.
func (r *SenderStatsRegistry) TotalEdits() int64 { return r.totalEdits }

// Reset zeroes all aggregate counters and forgets every tracker.
func (r *SenderStatsRegistry) Reset() {
	r.receivedPackets = 0
	r.totalPackets = 0
	r.totalTransitUsec = 0
	r.totalProcessUsec = 0
	r.totalLockWaitUsec = 0
	r.totalEdits = 0
	r.trackers = make(map[SenderID]*SequenceTracker)
}
