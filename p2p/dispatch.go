package p2p

// dispatch decodes the payload's packet type and routes it to a
// built-in handler or to a capability by offset range (spec.md §4.4).
// It returns false when the session must be dropped: any decode
// failure anywhere in the path, an unknown packet type, or a
// capability that returned false. Decode failures are caught here,
// mirroring the original's single generic catch block around the
// whole interpret() switch (spec.md §7, §9).
func (s *Session) dispatch(payload []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("panic decoding packet", "recover", r)
			s.Disconnect(BadProtocol)
			ok = false
		}
	}()

	typ, r, err := openPacket(payload)
	if err != nil {
		s.log.Warn("malformed packet", "err", err)
		s.Disconnect(BadProtocol)
		return false
	}

	switch typ {
	case HelloPacket:
		return s.handleHello(r)
	case DisconnectPacket:
		return s.handleDisconnect(r)
	case PingPacket:
		return s.handlePing(r)
	case PongPacket:
		return s.handlePong(r)
	case GetPeersPacket:
		return s.handleGetPeers(r)
	case PeersPacket:
		return s.handlePeers(r)
	default:
		return s.dispatchCapability(uint64(typ), r)
	}
}

func (s *Session) dispatchCapability(id uint64, r *packetReader) bool {
	s.mu.Lock()
	cap := capabilityFor(s.capabilities, id)
	s.mu.Unlock()
	if cap == nil {
		s.log.Debug("unknown packet type", "type", id)
		return false
	}
	return cap.handler.Interpret(id-cap.idOffset, r)
}
