package p2p

import (
	"net"
	"time"
)

// handleHello implements spec.md §4.5. Field order matches helloData.
func (s *Session) handleHello(r *packetReader) bool {
	var hello helloData
	if err := r.decode(&hello.ProtocolVersion); err != nil {
		return s.badProtocol(err)
	}
	if err := r.decode(&hello.ClientVersion); err != nil {
		return s.badProtocol(err)
	}
	if err := r.decode(&hello.Caps); err != nil {
		return s.badProtocol(err)
	}
	if err := r.decode(&hello.ListenPort); err != nil {
		return s.badProtocol(err)
	}
	if err := r.decode(&hello.ID); err != nil {
		return s.badProtocol(err)
	}

	s.log.Info("hello", "client", hello.ClientVersion, "version", hello.ProtocolVersion, "caps", hello.Caps)

	// Supplemented from original_source: clear any stale disconnect
	// reason the moment a fresh Hello arrives, before validation.
	s.mu.Lock()
	if s.node != nil {
		s.node.LastDisconnect = nil
	}
	prevNode := s.node
	prevForce := s.force
	s.mu.Unlock()

	if s.host.HavePeer(hello.ID) {
		s.log.Warn("already connected to peer", "id", hello.ID)
		s.Disconnect(DuplicatePeer)
		return false
	}

	var replaces NodeID
	if prevNode != nil && prevNode.ID != hello.ID {
		if prevForce || prevNode.Origin <= OriginSelfThird {
			s.log.Warn("peer identity changed since last time, possible MitM, allowing anyway", "was", prevNode.ID, "now", hello.ID)
			replaces = prevNode.ID
		} else {
			s.log.Warn("peer identity changed since last time, possible MitM, disconnecting", "was", prevNode.ID, "now", hello.ID)
			s.Disconnect(UnexpectedIdentity)
			return false
		}
	}

	if hello.ID.IsZero() {
		s.Disconnect(NullIdentity)
		return false
	}

	remoteTCP, _ := s.conn.RemoteAddr().(*net.TCPAddr)
	var remoteIP net.IP
	if remoteTCP != nil {
		remoteIP = remoteTCP.IP
	}
	endpoint := &net.TCPAddr{IP: remoteIP, Port: int(hello.ListenPort)}

	node := s.host.NoteNode(hello.ID, endpoint, OriginSelf, false, replaces)

	s.mu.Lock()
	s.node = node
	s.protocolVersion = hello.ProtocolVersion
	s.clientVersion = hello.ClientVersion
	s.remoteCaps = hello.Caps
	s.listenPort = hello.ListenPort
	s.info.ID = hello.ID
	s.info.ClientVersion = hello.ClientVersion
	s.info.ListenPort = hello.ListenPort
	s.info.Caps = hello.Caps
	if remoteIP != nil {
		s.info.RemoteHost = remoteIP.String()
	}
	s.knownNodes.Set(node.Index)
	s.mu.Unlock()

	if hello.ProtocolVersion != s.host.ProtocolVersion() {
		s.Disconnect(IncompatibleProtocol)
		return false
	}

	if err := s.host.RegisterPeer(s, hello.Caps); err != nil {
		s.log.Warn("host rejected peer registration", "err", err)
		return false
	}

	s.mu.Lock()
	s.capabilities = matchCapabilities(s, hello.Caps, s.host.Caps())
	s.mu.Unlock()

	return true
}

func (s *Session) handleDisconnect(r *packetReader) bool {
	var reason uint
	reasonText := "unspecified"
	if err := r.decode(&reason); err == nil {
		reasonText = DisconnectReason(reason).String()
	}
	s.log.Info("disconnect", "reason", reasonText)
	s.dropped()
	return false
}

func (s *Session) handlePing(r *packetReader) bool {
	buf, err := encodePacket(PongPacket)
	if err != nil {
		return false
	}
	s.sealAndSend(buf)
	return true
}

func (s *Session) handlePong(r *packetReader) bool {
	s.mu.Lock()
	sentAt := s.pingSentAt
	s.mu.Unlock()
	if !sentAt.IsZero() {
		rtt := time.Since(sentAt)
		s.mu.Lock()
		s.info.LastPing = rtt
		s.mu.Unlock()
		s.log.Debug("latency", "ms", rtt.Milliseconds())
	}
	return true
}

// badProtocol sends Disconnect(BadProtocol) for a decode failure
// anywhere inside a handler and reports the session as failed.
func (s *Session) badProtocol(err error) bool {
	s.log.Warn("packet decode error", "err", err)
	s.Disconnect(BadProtocol)
	return false
}
