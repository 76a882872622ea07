package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/pborman/getopt/v2"
	"golang.org/x/sync/errgroup"

	"github.com/openvoxel/editsync/edits"
)

var (
	startTime = time.Now()
)

const (
	framingVersion  = 1
	maxDatagramSize = 1500
	sessionTimeout  = 30 * time.Second
)

// sessionTable is a minimal in-memory session registry: senders are known by
// the address their datagrams come from, and considered alive while we keep
// hearing from them.
type sessionTable struct {
	mu      sync.Mutex
	byAddr  map[string]edits.SenderID
	byID    map[edits.SenderID]*sessionEntry
	timeout time.Duration
}

type sessionEntry struct {
	addr      net.Addr
	lastHeard time.Time
}

func newSessionTable(timeout time.Duration) *sessionTable {
	return &sessionTable{
		byAddr:  make(map[string]edits.SenderID),
		byID:    make(map[edits.SenderID]*sessionEntry),
		timeout: timeout,
	}
}

// observe returns the sender identity for a remote address, creating a
// session on first contact.
func (s *sessionTable) observe(addr net.Addr) edits.SenderID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byAddr[addr.String()]; ok {
		return id
	}
	id := uuid.New()
	s.byAddr[addr.String()] = id
	s.byID[id] = &sessionEntry{addr: addr, lastHeard: time.Now()}
	return id
}

func (s *sessionTable) IsAlive(sender edits.SenderID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byID[sender]
	if !ok {
		return false
	}
	if time.Since(entry.lastHeard) > s.timeout {
		delete(s.byAddr, entry.addr.String())
		delete(s.byID, sender)
		return false
	}
	return true
}

func (s *sessionTable) SetLastHeard(sender edits.SenderID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.byID[sender]; ok {
		entry.lastHeard = at
	}
}

func (s *sessionTable) Endpoint(sender edits.SenderID) (net.Addr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byID[sender]
	if !ok {
		return nil, false
	}
	return entry.addr, true
}

// udpSender sends NACK datagrams back over the listening socket.
type udpSender struct {
	conn *net.UDPConn
}

func (u *udpSender) SendUnverified(to net.Addr, b []byte) (int, error) {
	return u.conn.WriteTo(b, to)
}

// demoTree is a stand-in spatial tree: each edit record is a uint16 length
// prefix followed by that many payload bytes. It exists so the pipeline can
// be run end to end without the real octree.
type demoTree struct {
	mu      sync.Mutex
	applied int64
}

func (t *demoTree) HandlesEditPacketType(pt edits.PacketType) bool {
	switch pt {
	case edits.TypeEntityAdd, edits.TypeEntityEdit, edits.TypeEntityErase:
		return true
	default:
		return false
	}
}

func (t *demoTree) ProcessEditPacketData(pt edits.PacketType, packet []byte, cursor int, sender edits.SenderID) int {
	remaining := len(packet) - cursor
	if remaining < 2 {
		return 0
	}
	recordLen := int(packet[cursor]) | int(packet[cursor+1])<<8
	if remaining < 2+recordLen {
		return 0
	}
	t.applied++
	return 2 + recordLen
}

func (t *demoTree) LockForWrite() { t.mu.Lock() }
func (t *demoTree) Unlock()       { t.mu.Unlock() }

func (t *demoTree) Applied() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applied
}

func receiveLoop(conn *net.UDPConn, sessions *sessionTable, queue *edits.InboundQueue) error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		queue.Enqueue(sessions.observe(addr), payload)
	}
}

func main() {
	optListen := getopt.StringLong("listen", 'l', "127.0.0.1:40102", "UDP address to listen on")
	optNackIvl := getopt.DurationLong("nack-interval", 'i', time.Second, "Interval between NACK sweeps")
	optVerbosity := getopt.Uint16Long("verbosity", 'v', uint16(4), "Verbosity level (1 to 5, 1 is lowest)")
	helpFlag := getopt.Bool('h', "Display help")

	getopt.Parse()

	if *helpFlag {
		getopt.Usage()
		os.Exit(0)
	}

	verbosityLevel := log.InfoLevel
	switch *optVerbosity {
	case uint16(1):
		verbosityLevel = log.FatalLevel
	case uint16(2):
		verbosityLevel = log.ErrorLevel
	case uint16(3):
		verbosityLevel = log.WarnLevel
	case uint16(4):
		verbosityLevel = log.InfoLevel
	default:
		verbosityLevel = log.DebugLevel
	}

	logger := &log.Logger{Level: verbosityLevel, Handler: &logHandler{Writer: os.Stderr}}
	edits.SetLogger(logger)

	addr, err := net.ResolveUDPAddr("udp", *optListen)
	if err != nil {
		fmt.Println("fatal: " + err.Error())
		os.Exit(1)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		fmt.Println("fatal: " + err.Error())
		os.Exit(1)
	}

	sessions := newSessionTable(sessionTimeout)
	queue := edits.NewInboundQueue()
	tree := &demoTree{}
	codec := edits.NewMinimalHeaderCodec(framingVersion)
	worker := edits.NewIngestWorker(queue, tree, sessions, &udpSender{conn: conn}, codec,
		edits.TypeEntityNack,
		edits.WithWorkerLogger(logger),
		edits.WithNackInterval(*optNackIvl))

	logger.Infof("listening on %s", conn.LocalAddr())
	worker.Start()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return receiveLoop(conn, sessions, queue)
	})
	g.Go(func() error {
		<-ctx.Done()
		worker.Stop()
		conn.Close()
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Errorf("server exited: %v", err)
		os.Exit(1)
	}
	logger.Infof("applied %d edit records, bye", tree.Applied())
}

type logHandler struct {
	io.Writer
}

func (h *logHandler) HandleLog(e *log.Entry) (err error) {
	var s string
	if e.Level == log.DebugLevel {
		s = fmt.Sprintf("%s", e.Message)
	} else if e.Level == log.ErrorLevel {
		s = fmt.Sprintf("[%14.6f] <!err> %s", time.Since(startTime).Seconds(), e.Message)
	} else {
		s = fmt.Sprintf("[%14.6f] <%s> %s", time.Since(startTime).Seconds(), e.Level, e.Message)
	}
	if len(e.Fields) > 0 {
		s += fmt.Sprintf(": %+v", e.Fields)
	}
	s += "\n"
	_, err = h.Writer.Write([]byte(s))
	return
}
