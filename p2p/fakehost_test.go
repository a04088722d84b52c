package p2p

import (
	"net"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// fakeHost is a minimal in-memory Host used only by this package's own
// tests, standing in for internal/hostdb.Table so the session logic
// can be exercised without a running listener.
type fakeHost struct {
	mu       sync.Mutex
	id       NodeID
	version  uint
	client   string
	port     uint16
	locals   []net.IP
	policy   Policy
	caps     []CapabilityFactory
	nodes    map[NodeID]*NodeRecord
	sessions map[NodeID]*Session
	nextIdx  uint

	registered []*Session
}

func newFakeHost(id NodeID) *fakeHost {
	return &fakeHost{
		id:       id,
		version:  2,
		client:   "test/0.0",
		nodes:    make(map[NodeID]*NodeRecord),
		sessions: make(map[NodeID]*Session),
	}
}

func (h *fakeHost) HavePeer(id NodeID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[id]
	return ok
}

func (h *fakeHost) LookupNode(id NodeID) *NodeRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nodes[id]
}

func (h *fakeHost) NoteNode(id NodeID, endpoint *net.TCPAddr, origin Origin, pending bool, replaces NodeID) *NodeRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !replaces.IsZero() {
		delete(h.nodes, replaces)
	}
	rec, ok := h.nodes[id]
	if !ok {
		rec = &NodeRecord{ID: id, Index: h.nextIdx}
		h.nextIdx++
		h.nodes[id] = rec
	}
	rec.Origin = origin
	if endpoint != nil {
		rec.Address = endpoint
	}
	return rec
}

func (h *fakeHost) PotentialPeers(known *bitset.BitSet) []PeerCandidate {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]PeerCandidate, 0, len(h.nodes))
	for id, rec := range h.nodes {
		if rec.Address == nil {
			continue
		}
		if known != nil && known.Test(rec.Index) {
			continue
		}
		out = append(out, PeerCandidate{ID: id, Address: rec.Address, Index: rec.Index})
	}
	return out
}

func (h *fakeHost) Nodes() []PeerCandidate {
	return h.PotentialPeers(nil)
}

func (h *fakeHost) RegisterPeer(session *Session, caps []Cap) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[session.ID()] = session
	h.registered = append(h.registered, session)
	return nil
}

func (h *fakeHost) Unregister(id NodeID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, id)
}

func (h *fakeHost) Seal(buf []byte) { SealFrame(buf) }

func (h *fakeHost) ProtocolVersion() uint     { return h.version }
func (h *fakeHost) ClientVersion() string     { return h.client }
func (h *fakeHost) Caps() []CapabilityFactory { return h.caps }
func (h *fakeHost) ListenPort() uint16        { return h.port }
func (h *fakeHost) ID() NodeID                { return h.id }
func (h *fakeHost) LocalAddresses() []net.IP  { return h.locals }
func (h *fakeHost) Policy() Policy            { return h.policy }

func randomNodeID(seed byte) NodeID {
	var id NodeID
	for i := range id {
		id[i] = seed
	}
	return id
}
