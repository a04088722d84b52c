package hostdb

import (
	"net"

	"github.com/ethereum/go-ethereum/log"

	"github.com/makramibrahim/cpp-ethereum/p2p"
)

// Serve accepts inbound connections on listener and starts a session
// for each, until listener is closed. Mirrors the teacher's
// inboundPeerHandler, minus the fixed-size slot pool (spec.md treats
// peer-count limits as a Host policy, not a core concern).
func (t *Table) Serve(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		log.Info("accepted inbound connection", "remote", conn.RemoteAddr())
		session := p2p.NewInboundSession(t, conn)
		session.Start()
	}
}

// Dial connects out to addr, expecting to find node there, and starts
// a session. force allows the handshake to accept a different
// identity than expected (spec.md invariant 2, §4.5).
func (t *Table) Dial(node *p2p.NodeRecord, force bool) (*p2p.Session, error) {
	conn, err := net.DialTCP("tcp", nil, node.Address)
	if err != nil {
		return nil, err
	}
	session := p2p.NewOutboundSession(t, conn, node, force)
	session.Start()
	return session, nil
}
