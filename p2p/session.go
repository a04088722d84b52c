package p2p

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/ethereum/go-ethereum/log"
)

// PeerInfo is the read-only snapshot of a session exposed to
// observers (spec.md §3).
type PeerInfo struct {
	ID            NodeID
	ClientVersion string
	RemoteHost    string
	ListenPort    uint16
	LastPing      time.Duration
	Caps          []Cap
	LocalAddr     net.Addr
	Notes         map[string]string
}

// Session owns one bidirectional TCP stream to a remote peer. See
// spec.md §3 for the full invariant list.
type Session struct {
	host Host
	conn net.Conn
	log  log.Logger

	mu             sync.Mutex
	node           *NodeRecord
	manualEndpoint *net.TCPAddr
	force          bool

	protocolVersion uint
	clientVersion   string
	remoteCaps      []Cap
	listenPort      uint16
	info            PeerInfo

	knownNodes   *bitset.BitSet
	capabilities map[string]*boundCapability

	accum []byte

	egress *egressQueue

	connectTime    time.Time
	pingSentAt     time.Time
	disconnectTime time.Time // zero value means "never"

	closeOnce sync.Once
	done      chan struct{}
}

const scratchBufferSize = 4096

func (s *Session) disconnectPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disconnectTime.IsZero()
}

// newSession builds a session around an already-connected socket. It
// is unexported: use NewInboundSession or NewOutboundSession.
func newSession(host Host, conn net.Conn, manual *net.TCPAddr, node *NodeRecord, force bool) *Session {
	s := &Session{
		host:           host,
		conn:           conn,
		log:            log.New("session", conn.RemoteAddr()),
		node:           node,
		manualEndpoint: manual,
		force:          force,
		knownNodes:     bitset.New(0),
		capabilities:   make(map[string]*boundCapability),
		connectTime:    time.Now(),
		done:           make(chan struct{}),
	}
	s.info = PeerInfo{
		ClientVersion: "?",
		RemoteHost:    manual.IP.String(),
		ListenPort:    uint16(manual.Port),
		Notes:         make(map[string]string),
	}
	if node != nil {
		s.info.ID = node.ID
	}
	s.egress = newEgressQueue(conn, s.log, func(err error) { s.dropped() })
	return s
}

// NewInboundSession wraps an accepted connection whose remote identity
// is not yet known.
func NewInboundSession(host Host, conn net.Conn) *Session {
	addr, _ := conn.RemoteAddr().(*net.TCPAddr)
	if addr == nil {
		addr = &net.TCPAddr{}
	}
	return newSession(host, conn, addr, nil, false)
}

// NewOutboundSession wraps a dialled connection where node is the
// record we expected to reach. force allows a Hello that reports a
// different identity to be accepted anyway (spec.md invariant 2).
func NewOutboundSession(host Host, conn net.Conn, node *NodeRecord, force bool) *Session {
	return newSession(host, conn, node.Address, node, force)
}

// ID returns the node's identity, or the zero NodeID if not yet known.
func (s *Session) ID() NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.node == nil {
		return NodeID{}
	}
	return s.node.ID
}

// Rating returns the current node rating, or 0 if the node is not yet
// known.
func (s *Session) Rating() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.node == nil {
		return 0
	}
	return s.node.Rating
}

// AddRating never decreases rating: it only ever adds delta to both
// the short-term rating and the long-term score on the node record
// (spec.md testable property 9).
func (s *Session) AddRating(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.node == nil || delta <= 0 {
		return
	}
	s.node.Rating += delta
	s.node.Score += delta
}

// Endpoint returns the best known address for the remote: the socket's
// remote address combined with the advertised listen port when the
// node is known, falling back to the manual endpoint.
func (s *Session) Endpoint() *net.TCPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.node != nil {
		if tcp, ok := s.conn.RemoteAddr().(*net.TCPAddr); ok {
			return &net.TCPAddr{IP: tcp.IP, Port: s.node.Address.Port}
		}
		return s.node.Address
	}
	return s.manualEndpoint
}

// PeerInfo returns a copy of the current observer snapshot.
func (s *Session) PeerInfo() PeerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Send enqueues an already-sealed, already-framed buffer for
// transmission. It is the public equivalent of the original's
// Session::send.
func (s *Session) Send(payload []byte) {
	if !validateFrame(payload) {
		s.log.Warn("INVALID PACKET CONSTRUCTED")
	}
	s.egress.enqueue(payload)
	egressTrafficMeter.Mark(int64(len(payload)))
}

// sealAndSend fills in the frame header via the Host's seal step and
// enqueues the result.
func (s *Session) sealAndSend(buf []byte) {
	s.host.Seal(buf)
	s.Send(buf)
}

// Start sends the initial Hello/Ping/GetPeers burst and begins the
// ingress loop. Mirrors original_source Session::start.
func (s *Session) Start() {
	buf, err := encodePacket(HelloPacket,
		s.host.ProtocolVersion(),
		s.host.ClientVersion(),
		s.localCaps(),
		s.host.ListenPort(),
		s.host.ID(),
	)
	if err != nil {
		s.log.Error("failed to encode hello", "err", err)
		s.dropped()
		return
	}
	s.sealAndSend(buf)
	s.Ping()
	s.GetPeers()

	s.mu.Lock()
	outbound := s.node != nil // only NewOutboundSession sets node before the Hello
	s.mu.Unlock()
	if outbound {
		egressConnectMeter.Mark(1)
	} else {
		ingressConnectMeter.Mark(1)
	}
	go s.readLoop()
}

func (s *Session) localCaps() []Cap {
	factories := s.host.Caps()
	caps := make([]Cap, 0, len(factories))
	for _, f := range factories {
		caps = append(caps, Cap{Name: f.Name(), Version: f.Version()})
	}
	return caps
}

// Ping sends a Ping packet and records the send time for the RTT
// measured on the matching Pong (spec.md §4.5).
func (s *Session) Ping() {
	buf, err := encodePacket(PingPacket)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.pingSentAt = time.Now()
	s.mu.Unlock()
	s.sealAndSend(buf)
}

// GetPeers sends a GetPeers packet.
func (s *Session) GetPeers() {
	buf, err := encodePacket(GetPeersPacket)
	if err != nil {
		return
	}
	s.sealAndSend(buf)
}

// Disconnect initiates a graceful shutdown: the first call sends a
// Disconnect packet and records the timestamp; any subsequent call
// forces an immediate close without flushing (spec.md §4.5).
func (s *Session) Disconnect(reason DisconnectReason) {
	s.log.Info("disconnecting", "reason", reason)

	s.mu.Lock()
	if s.node != nil {
		r := reason
		s.node.LastDisconnect = &r
	}
	already := !s.disconnectTime.IsZero()
	if !already {
		s.disconnectTime = time.Now()
	}
	s.mu.Unlock()

	if already {
		s.dropped()
		return
	}

	buf, err := encodePacket(DisconnectPacket, uint(reason))
	if err != nil {
		s.dropped()
		return
	}
	s.sealAndSend(buf)
}

// dropped closes the socket without sending a Disconnect packet.
// Idempotent: the underlying close only runs once per session.
func (s *Session) dropped() {
	s.closeOnce.Do(func() {
		s.log.Debug("closing connection")
		if id := s.ID(); !id.IsZero() {
			s.host.Unregister(id)
		}
		_ = s.conn.Close()
		close(s.done)
	})
}

// Close tears the session down from the outside (e.g. host shutdown).
// It replicates the original destructor's unconditional re-note of the
// node at Origin::Unknown (SPEC_FULL.md, supplemented feature 1) before
// closing the socket.
func (s *Session) Close() {
	id := s.ID()
	if !id.IsZero() {
		s.host.NoteNode(id, s.manualEndpoint, OriginUnknown, true, NodeID{})
	}
	s.dropped()
}

func (s *Session) String() string {
	return fmt.Sprintf("session %v %v", s.ID(), s.conn.RemoteAddr())
}
