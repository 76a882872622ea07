package edits

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// decodeNack unpacks one NACK datagram built with the given codec.
func decodeNack(t *testing.T, codec HeaderCodec, payload []byte) []uint16 {
	t.Helper()
	pt, n, err := codec.DecodeHeader(payload)
	require.NoError(t, err)
	require.Equal(t, TypeEntityNack, pt)
	count := int(binary.LittleEndian.Uint16(payload[n:]))
	require.Equal(t, n+2+2*count, len(payload))
	seqs := make([]uint16, 0, count)
	for i := 0; i < count; i++ {
		seqs = append(seqs, binary.LittleEndian.Uint16(payload[n+2+2*i:]))
	}
	return seqs
}

type nackHarness struct {
	emitter  *NackEmitter
	sessions *fakeSessions
	sender   *fakeSender
	codec    HeaderCodec
	stats    *SenderStatsRegistry
	queue    *InboundQueue
}

func newNackHarness(t *testing.T) *nackHarness {
	t.Helper()
	h := &nackHarness{
		sessions: newFakeSessions(),
		sender:   &fakeSender{},
		codec:    NewMinimalHeaderCodec(1),
		stats:    NewSenderStatsRegistry(),
		queue:    NewInboundQueue(),
	}
	h.emitter = NewNackEmitter(h.sessions, h.sender, h.codec, TypeEntityNack, nil)
	return h
}

// trackGap seeds a tracker with a forward gap so that the sequence numbers
// in (from, to) end up missing.
func (h *nackHarness) trackGap(sender SenderID, from, to uint16) {
	h.stats.Track(sender, from, 0, 0, 0, 0)
	h.stats.Track(sender, to, 0, 0, 0, 0)
}

func Test_NackEmitter_sendsMissingSequences(t *testing.T) {
	h := newNackHarness(t)
	alice := uuid.New()
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 7777}
	h.sessions.alive[alice] = true
	h.sessions.endpoints[alice] = addr
	h.trackGap(alice, 100, 105)

	sent := h.emitter.SendAll(h.stats, h.queue)
	require.Equal(t, 1, sent)
	require.Equal(t, addr, h.sender.sent[0].to)
	require.Equal(t, []uint16{101, 102, 103, 104}, decodeNack(t, h.codec, h.sender.sent[0].payload))
}

func Test_NackEmitter_skipsSenderWithQueuedDatagrams(t *testing.T) {
	h := newNackHarness(t)
	alice := uuid.New()
	h.sessions.alive[alice] = true
	h.sessions.endpoints[alice] = &net.UDPAddr{}
	h.trackGap(alice, 1, 5)

	// the queued datagram may carry the sequences that look missing
	h.queue.Enqueue(alice, []byte{0x01})

	require.Equal(t, 0, h.emitter.SendAll(h.stats, h.queue))
	require.Empty(t, h.sender.sent)

	// the tracker survives: the sender is only skipped, not evicted
	_, ok := h.stats.Tracker(alice)
	require.True(t, ok)

	// once the queue drains, the NACK goes out
	h.queue.DequeueOldest()
	require.Equal(t, 1, h.emitter.SendAll(h.stats, h.queue))
}

func Test_NackEmitter_evictsDeadSender(t *testing.T) {
	h := newNackHarness(t)
	alice := uuid.New()
	h.sessions.alive[alice] = false
	h.trackGap(alice, 1, 5)

	require.Equal(t, 0, h.emitter.SendAll(h.stats, h.queue))
	_, ok := h.stats.Tracker(alice)
	require.False(t, ok)
}

func Test_NackEmitter_skipsSenderWithoutEndpoint(t *testing.T) {
	h := newNackHarness(t)
	alice := uuid.New()
	h.sessions.alive[alice] = true
	h.trackGap(alice, 1, 5)

	require.Equal(t, 0, h.emitter.SendAll(h.stats, h.queue))
	_, ok := h.stats.Tracker(alice)
	require.True(t, ok)
}

func Test_NackEmitter_nothingMissingNothingSent(t *testing.T) {
	h := newNackHarness(t)
	alice := uuid.New()
	h.sessions.alive[alice] = true
	h.sessions.endpoints[alice] = &net.UDPAddr{}
	h.stats.Track(alice, 1, 0, 0, 0, 0)
	h.stats.Track(alice, 2, 0, 0, 0, 0)

	require.Equal(t, 0, h.emitter.SendAll(h.stats, h.queue))
}

func Test_NackEmitter_splitsAcrossDatagrams(t *testing.T) {
	h := newNackHarness(t)
	alice := uuid.New()
	h.sessions.alive[alice] = true
	h.sessions.endpoints[alice] = &net.UDPAddr{}
	h.trackGap(alice, 0, 11) // ten missing sequence numbers

	// header (2) + count (2) + 4 sequence numbers (8) per datagram
	h.emitter.maxSize = 12

	require.Equal(t, 3, h.emitter.SendAll(h.stats, h.queue))
	var all []uint16
	for _, d := range h.sender.sent {
		seqs := decodeNack(t, h.codec, d.payload)
		require.LessOrEqual(t, len(seqs), 4)
		all = append(all, seqs...)
	}
	require.Equal(t, []uint16{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, all)
}

func Test_NackEmitter_multipleSenders(t *testing.T) {
	h := newNackHarness(t)
	alice := uuid.New()
	bob := uuid.New()
	for _, id := range []SenderID{alice, bob} {
		h.sessions.alive[id] = true
		h.sessions.endpoints[id] = &net.UDPAddr{Port: 1000}
		h.trackGap(id, 10, 13)
	}

	require.Equal(t, 2, h.emitter.SendAll(h.stats, h.queue))
}
