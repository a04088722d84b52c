package p2p

import (
	"math/rand"
	"net"
)

const maxPeersPerExchange = 10

// handleGetPeers implements the outbound half of spec.md §4.6: select
// up to 10 candidates the remote doesn't yet know about, encode them,
// and mark each as now-known-to-the-remote.
func (s *Session) handleGetPeers(r *packetReader) bool {
	s.mu.Lock()
	known := s.knownNodes
	s.mu.Unlock()

	candidates := s.host.PotentialPeers(known)
	if len(candidates) == 0 {
		return true
	}

	selected := randomSelection(candidates, maxPeersPerExchange)

	entries := make([]interface{}, 0, len(selected))
	s.mu.Lock()
	for _, c := range selected {
		entries = append(entries, peerAddrData{
			IP:   addrBytes(c.Address.IP),
			Port: uint16(c.Address.Port),
			ID:   c.ID,
		})
		s.knownNodes.Set(c.Index)
	}
	s.mu.Unlock()

	buf, err := encodePacket(PeersPacket, entries...)
	if err != nil {
		return false
	}
	s.sealAndSend(buf)
	return true
}

// addrBytes returns the 4-byte or 16-byte wire form of ip.
func addrBytes(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return []byte(v4)
	}
	return []byte(ip.To16())
}

// randomSelection returns up to n elements of candidates. When there
// are more than n, it Fisher-Yates shuffles a copy of the whole slice
// and keeps the first n ("shuffle and drop", spec.md §4.6); when there
// are n or fewer, candidates itself is returned in its original order.
func randomSelection(candidates []PeerCandidate, n int) []PeerCandidate {
	if len(candidates) <= n {
		return candidates
	}
	shuffled := make([]PeerCandidate, len(candidates))
	copy(shuffled, candidates)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:n]
}

// handlePeers implements the inbound half of spec.md §4.6: the
// ordered filter chain, each survivor rewarding the informant and
// landing a NoteNode call on the host.
func (s *Session) handlePeers(r *packetReader) bool {
	var informantOrigin Origin
	s.mu.Lock()
	if s.node != nil {
		informantOrigin = s.node.Origin
	}
	s.mu.Unlock()

	err := r.decodeRemaining(func() error {
		var entry peerAddrData
		if err := r.decode(&entry); err != nil {
			return err
		}
		return s.considerAdvertisedPeer(entry, informantOrigin)
	})
	if err != nil {
		s.Disconnect(BadProtocol)
		return false
	}
	return true
}

type addrFilterError struct{ msg string }

func (e *addrFilterError) Error() string { return e.msg }

var errBadPeerAddress = &addrFilterError{"peer advertised address of invalid size"}

// considerAdvertisedPeer applies the filter chain of spec.md §4.6,
// filter 1 through filter 9, in order, stopping at the first filter
// hit. Only filter 1 (an address of invalid size) returns an error; an
// entry dropped by filters 2-9 and an entry that survives and is noted
// both return nil.
func (s *Session) considerAdvertisedPeer(entry peerAddrData, informantOrigin Origin) error {
	// filter 1: address size
	if len(entry.IP) != 4 && len(entry.IP) != 16 {
		return errBadPeerAddress
	}
	addr := &net.TCPAddr{IP: net.IP(entry.IP), Port: int(entry.Port)}

	// filter 2: private address, host policy disallows local networking
	if addr.IP.IsPrivate() && !s.host.Policy().LocalNetworking {
		return nil
	}

	// filter 3: null identity
	if entry.ID.IsZero() {
		return nil
	}

	// filter 4: identity equals our own
	if entry.ID == s.host.ID() {
		return nil
	}

	// filter 5: identity equals the remote's own
	if entry.ID == s.ID() {
		return nil
	}

	// filter 6: host already has a record for this identity
	if existing := s.host.LookupNode(entry.ID); existing != nil {
		// Lazy NAT-learn shortcut, documented attack surface
		// (spec.md §4.6 filter 6, §9): if we only know a private
		// address for this node and the new one is public, take it.
		if existing.Address != nil && existing.Address.IP.IsPrivate() && !addr.IP.IsPrivate() {
			s.host.NoteNode(entry.ID, addr, existing.Origin, true, NodeID{})
		}
		return nil
	}

	// filter 7: zero port
	if addr.Port == 0 {
		return nil
	}

	// filter 8: matches one of our own listen addresses on our listen port
	if addr.Port == int(s.host.ListenPort()) {
		for _, local := range s.host.LocalAddresses() {
			if local.Equal(addr.IP) {
				return nil
			}
		}
	}

	// filter 9: any existing record shares the same {address, port}
	for _, c := range s.host.Nodes() {
		if c.Address != nil && c.Address.IP.Equal(addr.IP) && c.Address.Port == addr.Port {
			return nil
		}
	}

	s.AddRating(1000)
	origin := OriginSelfThird
	if informantOrigin == OriginPerfect {
		origin = OriginPerfectThird
	}
	s.host.NoteNode(entry.ID, addr, origin, true, NodeID{})
	return nil
}
