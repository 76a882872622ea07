package edits

//
// NACK emission: for each tracked sender, pack the currently-missing
// sequence numbers into one or more datagrams and send them back, asking
// for retransmission. Best effort; the NACK itself is never acknowledged.
//

import (
	"encoding/binary"
	"net"
)

// maxNackDatagramSize caps each outbound NACK datagram.
const maxNackDatagramSize = 1450

// DatagramSender is the outbound side of the transport. Sends are
// fire-and-forget; a returned error is logged, not retried.
type DatagramSender interface {
	SendUnverified(to net.Addr, b []byte) (int, error)
}

// NackEmitter builds and sends NACK datagrams. It runs on the ingest worker
// goroutine, between datagram processing.
type NackEmitter struct {
	sessions SessionRegistry
	sender   DatagramSender
	codec    HeaderCodec
	nackType PacketType
	log      Logger

	// maxSize is maxNackDatagramSize unless a test shrinks it to force
	// multi-datagram packing.
	maxSize int
}

// NewNackEmitter returns an emitter stamping outbound datagrams with the
// given NACK packet type.
func NewNackEmitter(sessions SessionRegistry, sender DatagramSender, codec HeaderCodec,
	nackType PacketType, log Logger) *NackEmitter {
	if log == nil {
		log = logger
	}
	return &NackEmitter{
		sessions: sessions,
		sender:   sender,
		codec:    codec,
		nackType: nackType,
		log:      log,
		maxSize:  maxNackDatagramSize,
	}
}

// SendAll sweeps every tracked sender and returns the number of NACK
// datagrams sent. Dead senders are evicted from the registry. Senders that
// still have datagrams waiting in the queue are skipped without eviction:
// those datagrams may hold the very sequence numbers that look missing, so
// NACKing now would be premature.
func (e *NackEmitter) SendAll(stats *SenderStatsRegistry, queue *InboundQueue) int {
	sent := 0
	for _, sender := range stats.Senders() {
		if !e.sessions.IsAlive(sender) {
			stats.Evict(sender)
			continue
		}
		if queue.PendingCountFor(sender) > 0 {
			continue
		}
		tracker, ok := stats.Tracker(sender)
		if !ok {
			continue
		}
		missing := tracker.MissingSnapshot()
		if len(missing) == 0 {
			continue
		}
		addr, ok := e.sessions.Endpoint(sender)
		if !ok {
			e.log.Debugf("no endpoint for %s, skipping nack", sender)
			continue
		}
		sent += e.sendTo(addr, missing)
	}
	return sent
}

// sendTo packs the missing sequence numbers into datagrams of at most
// maxSize bytes: framing header, uint16 count, then count sequence numbers.
func (e *NackEmitter) sendTo(addr net.Addr, missing []uint16) int {
	sent := 0
	for len(missing) > 0 {
		buf := e.codec.AppendHeader(make([]byte, 0, e.maxSize), e.nackType)
		room := (e.maxSize - len(buf) - 2) / 2
		if room <= 0 {
			e.log.Errorf("nack datagram size %d leaves no room for sequence numbers", e.maxSize)
			return sent
		}
		n := len(missing)
		if n > room {
			n = room
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(n))
		for _, seq := range missing[:n] {
			buf = binary.LittleEndian.AppendUint16(buf, seq)
		}
		missing = missing[n:]

		if _, err := e.sender.SendUnverified(addr, buf); err != nil {
			e.log.Warnf("cannot send nack to %s: %v", addr, err)
		}
		sent++
		nackDatagramsSent.Inc()
	}
	return sent
}
