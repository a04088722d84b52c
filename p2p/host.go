package p2p

import (
	"encoding/hex"
	"net"

	"github.com/bits-and-blooms/bitset"
)

// NodeID is the remote identity the core treats as opaque: a
// fixed-size byte string, 64 bytes wide to match cpp-ethereum's h512
// NodeId (see SPEC_FULL.md, "NodeID width"). The cryptographic scheme
// that produces or verifies these bytes is out of scope here.
type NodeID [64]byte

func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:4]) + "…"
}

// Origin ranks how much a NodeRecord's identity is trusted, ordered
// weakest to strongest. A Session's own node pointer may not be
// silently replaced by one of a weaker origin (spec.md invariant 2,
// enforced in handleHello); NoteNode itself is a plain upsert, since
// the Host has no way to tell a deliberate downgrade (a session
// ending) from an untrusted one.
type Origin int

const (
	OriginUnknown Origin = iota
	OriginSelfThird
	OriginPerfectThird
	OriginSelf
	OriginPerfect
)

// NodeRecord lives in the Host; a Session only ever holds a pointer
// to one.
type NodeRecord struct {
	ID             NodeID
	Address        *net.TCPAddr
	Origin         Origin
	Rating         int
	Score          int
	Index          uint
	LastDisconnect *DisconnectReason
}

// PeerCandidate is one entry the Host offers up for peer exchange.
type PeerCandidate struct {
	ID      NodeID
	Address *net.TCPAddr
	Index   uint
}

// Policy carries the host-wide settings the peer-exchange filters
// consult (spec.md §4.6 filter 2).
type Policy struct {
	LocalNetworking bool
}

// Host is everything a Session depends on but does not own
// (spec.md §6). The node/peer database, registration, and framing
// seal step all live on the other side of this interface.
type Host interface {
	HavePeer(id NodeID) bool
	LookupNode(id NodeID) *NodeRecord
	NoteNode(id NodeID, endpoint *net.TCPAddr, origin Origin, pending bool, replaces NodeID) *NodeRecord
	PotentialPeers(known *bitset.BitSet) []PeerCandidate
	Nodes() []PeerCandidate
	RegisterPeer(session *Session, caps []Cap) error
	Unregister(id NodeID)
	Seal(buf []byte)

	ProtocolVersion() uint
	ClientVersion() string
	Caps() []CapabilityFactory
	ListenPort() uint16
	ID() NodeID
	LocalAddresses() []net.IP
	Policy() Policy
}
