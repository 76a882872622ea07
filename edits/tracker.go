package edits

//
// Per-sender sequence tracking.
//
// Sequence numbers are 16-bit and wrap. The tracker keeps the last sequence
// number accepted as contiguous, a bounded set of sequence numbers believed
// lost, and cumulative timing stats for the sender. The gap arithmetic below
// moves both sequence values onto a signed continuous line before comparing
// them, so a wrap between the expected and incoming values does not read as
// a 65000-packet loss.
//

import "sort"

const (
	// uint16Range is the number of distinct 16-bit sequence values.
	uint16Range = 1 << 16

	// maxReasonableSequenceGap bounds how far ahead or behind an incoming
	// sequence may be before we treat it as stale rather than a loss. Must
	// stay below uint16Range/2 for the rollover correction to work.
	maxReasonableSequenceGap = 1000

	// maxMissingSequenceSize caps the missing set; pruning trades
	// completeness of loss tracking for bounded memory.
	maxMissingSequenceSize = 100
)

// SequenceTracker tracks sequence ordering and timing stats for a single
// sender. It is not safe for concurrent use; in this design only the ingest
// worker goroutine touches it.
type SequenceTracker struct {
	lastContiguous uint16
	missing        map[uint16]struct{}

	totalPackets      int64
	totalTransitUsec  int64
	totalProcessUsec  int64
	totalLockWaitUsec int64
	totalEdits        int64
}

// NewSequenceTracker returns a tracker that will take its first Track call's
// sequence number as the starting point, with no gap computed.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{missing: make(map[uint16]struct{})}
}

// Track feeds one datagram's decoded sequence number and timings into the
// tracker. transitUsec may be negative when sender and receiver clocks are
// skewed; it is accumulated as-is.
func (t *SequenceTracker) Track(sequence uint16, transitUsec int64, editCount int, processUsec, lockWaitUsec int64) {
	expected := sequence
	if t.totalPackets > 0 {
		expected = t.lastContiguous + 1
	}

	if sequence == expected { // on time
		t.lastContiguous = sequence
	} else { // out of order
		incoming := int(sequence)
		expect := int(expected)

		absGap := incoming - expect
		if absGap < 0 {
			absGap = -absGap
		}
		if absGap >= uint16Range-maxReasonableSequenceGap {
			// A rollover sits between incoming and expected. Shift the
			// larger value down a full range so both live on the same
			// signed line; one of them may dip negative.
			if incoming > expect {
				incoming -= uint16Range
			} else {
				expect -= uint16Range
			}
		} else if absGap > maxReasonableSequenceGap {
			// Too far to be loss or rollover; most likely a stale or
			// out-of-window packet. Drop it without touching any state.
			logger.Debugf("ignoring unreasonable sequence %d, last contiguous %d", sequence, t.lastContiguous)
			unreasonableGapCount.Inc()
			return
		}

		if incoming > expect { // early
			for missing := expect; missing < incoming; missing++ {
				m := missing
				if m < 0 {
					m += uint16Range
				}
				t.missing[uint16(m)] = struct{}{}
			}
			t.lastContiguous = sequence
		} else { // late, or a duplicate
			delete(t.missing, sequence)
			// lastContiguous never moves backward
		}
	}

	t.prune()

	t.totalTransitUsec += transitUsec
	t.totalProcessUsec += processUsec
	t.totalLockWaitUsec += lockWaitUsec
	t.totalEdits += int64(editCount)
	t.totalPackets++
}

// prune drops stale entries once the missing set outgrows its cap. An entry
// survives the window pass only if it lies inside (cutoff, lastContiguous]
// on the wrapped sequence circle; the two branches cover the cutoff landing
// before or after the wrap point. If the set is still over the cap after
// that (a single wide gap of fresh entries), the entries farthest behind
// lastContiguous go first until the cap holds.
func (t *SequenceTracker) prune() {
	if len(t.missing) <= maxMissingSequenceSize {
		return
	}
	cutoff := int(t.lastContiguous) - maxReasonableSequenceGap
	if cutoff >= 0 {
		c := uint16(cutoff)
		for m := range t.missing {
			if m > t.lastContiguous || m <= c {
				delete(t.missing, m)
			}
		}
	} else {
		c := uint16(cutoff + uint16Range)
		for m := range t.missing {
			if m > t.lastContiguous && m <= c {
				delete(t.missing, m)
			}
		}
	}

	if len(t.missing) <= maxMissingSequenceSize {
		return
	}
	byAge := make([]uint16, 0, len(t.missing))
	for m := range t.missing {
		byAge = append(byAge, m)
	}
	// distance behind lastContiguous in wraparound arithmetic; larger
	// means older
	sort.Slice(byAge, func(i, j int) bool {
		return t.lastContiguous-byAge[i] > t.lastContiguous-byAge[j]
	})
	for _, m := range byAge[:len(byAge)-maxMissingSequenceSize] {
		delete(t.missing, m)
	}
}

// LastContiguous returns the last sequence number accepted as in-order or
// after a forward gap-fill.
func (t *SequenceTracker) LastContiguous() uint16 {
	return t.lastContiguous
}

// MissingCount returns the current size of the missing set.
func (t *SequenceTracker) MissingCount() int {
	return len(t.missing)
}

// MissingSnapshot returns a sorted copy of the sequence numbers currently
// believed lost. The copy is safe to hold across later Track calls.
func (t *SequenceTracker) MissingSnapshot() []uint16 {
	out := make([]uint16, 0, len(t.missing))
	for m := range t.missing {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TotalPackets returns how many datagrams have been tracked.
func (t *SequenceTracker) TotalPackets() int64 { return t.totalPackets }

// TotalEdits returns the cumulative count of edit records seen.
func (t *SequenceTracker) TotalEdits() int64 { return t.totalEdits }

// TotalTransitUsec returns the accumulated transit time in microseconds.
// Negative contributions from skewed clocks are included.
func (t *SequenceTracker) TotalTransitUsec() int64 { return t.totalTransitUsec }

// TotalProcessUsec returns the accumulated in-lock processing time.
func (t *SequenceTracker) TotalProcessUsec() int64 { return t.totalProcessUsec }

// TotalLockWaitUsec returns the accumulated tree lock wait time.
func (t *SequenceTracker) TotalLockWaitUsec() int64 { return t.totalLockWaitUsec }
