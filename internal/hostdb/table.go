// Package hostdb is a minimal concrete implementation of the p2p.Host
// interface: an in-memory node table plus live session bookkeeping.
// spec.md §1 explicitly treats the node/peer database as an external
// collaborator; this package is the supplement a complete, runnable
// repository needs behind that interface (see DESIGN.md).
package hostdb

import (
	"errors"
	"math/rand"
	"net"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/ethereum/go-ethereum/log"

	"github.com/makramibrahim/cpp-ethereum/p2p"
)

// Config describes the local identity a Table presents to the
// network, mirroring the fields original_source reads off Host in
// Session::start (m_clientVersion, m_public.port(), id()).
type Config struct {
	ID              p2p.NodeID
	ClientVersion   string
	ProtocolVersion uint
	ListenPort      uint16
	LocalAddresses  []net.IP
	LocalNetworking bool
}

// Table is a concrete p2p.Host: an in-memory node record table, the
// set of live sessions keyed by identity, and the registered
// capability factories. Grounded on the teacher's server.go
// (BlacklistMap's lock discipline, peersTable's address-keyed lookup).
type Table struct {
	cfg Config

	mu       sync.RWMutex
	nodes    map[p2p.NodeID]*p2p.NodeRecord
	sessions map[p2p.NodeID]*p2p.Session
	nextIdx  uint

	capsMu sync.RWMutex
	caps   []p2p.CapabilityFactory
}

func New(cfg Config) *Table {
	return &Table{
		cfg:      cfg,
		nodes:    make(map[p2p.NodeID]*p2p.NodeRecord),
		sessions: make(map[p2p.NodeID]*p2p.Session),
	}
}

// RegisterCapability adds a capability factory hosts will offer to
// every peer during the handshake.
func (t *Table) RegisterCapability(f p2p.CapabilityFactory) {
	t.capsMu.Lock()
	defer t.capsMu.Unlock()
	t.caps = append(t.caps, f)
}

func (t *Table) HavePeer(id p2p.NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sessions[id]
	return ok
}

func (t *Table) LookupNode(id p2p.NodeID) *p2p.NodeRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[id]
}

func (t *Table) NoteNode(id p2p.NodeID, endpoint *net.TCPAddr, origin p2p.Origin, pending bool, replaces p2p.NodeID) *p2p.NodeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !replaces.IsZero() {
		delete(t.nodes, replaces)
	}

	rec, ok := t.nodes[id]
	if !ok {
		rec = &p2p.NodeRecord{ID: id, Index: t.nextIdx}
		t.nextIdx++
		t.nodes[id] = rec
		log.Debug("noting new node", "id", id, "endpoint", endpoint, "origin", origin)
	}
	// noteNode is an upsert: it always takes the caller's word for the
	// current origin. Protecting a trusted record from being
	// downgraded by a gossiped tip is the session's job (for an
	// identity we already hold a record for, peers.go's filter 6 only
	// calls here to update the address, passing the record's existing
	// origin); the host itself must
	// still honor an unconditional downgrade such as the one Close
	// issues at Origin::Unknown when a session ends.
	rec.Origin = origin
	if endpoint != nil {
		rec.Address = endpoint
	}
	return rec
}

func (t *Table) PotentialPeers(known *bitset.BitSet) []p2p.PeerCandidate {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]p2p.PeerCandidate, 0, len(t.nodes))
	for id, rec := range t.nodes {
		if rec.Address == nil {
			continue
		}
		if known != nil && known.Test(rec.Index) {
			continue
		}
		out = append(out, p2p.PeerCandidate{ID: id, Address: rec.Address, Index: rec.Index})
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func (t *Table) Nodes() []p2p.PeerCandidate {
	return t.PotentialPeers(nil)
}

func (t *Table) RegisterPeer(session *p2p.Session, caps []p2p.Cap) error {
	id := session.ID()
	if id.IsZero() {
		return errors.New("hostdb: cannot register a session without an identity")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.sessions[id]; exists {
		return errors.New("hostdb: peer already registered")
	}
	t.sessions[id] = session
	return nil
}

// Unregister removes a session's registration, called by Session.dropped
// as it closes the connection, so a peer that disconnects can pass
// HavePeer's duplicate check on reconnect.
func (t *Table) Unregister(id p2p.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

// Seal fills in the placeholder frame header, delegated here so a
// future secure framing can replace it without touching the session
// (spec.md §4.2).
func (t *Table) Seal(buf []byte) {
	p2p.SealFrame(buf)
}

func (t *Table) ProtocolVersion() uint    { return t.cfg.ProtocolVersion }
func (t *Table) ClientVersion() string    { return t.cfg.ClientVersion }
func (t *Table) ListenPort() uint16       { return t.cfg.ListenPort }
func (t *Table) ID() p2p.NodeID           { return t.cfg.ID }
func (t *Table) LocalAddresses() []net.IP { return t.cfg.LocalAddresses }
func (t *Table) Policy() p2p.Policy {
	return p2p.Policy{LocalNetworking: t.cfg.LocalNetworking}
}

func (t *Table) Caps() []p2p.CapabilityFactory {
	t.capsMu.RLock()
	defer t.capsMu.RUnlock()
	out := make([]p2p.CapabilityFactory, len(t.caps))
	copy(out, t.caps)
	return out
}
