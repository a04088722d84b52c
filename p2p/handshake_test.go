package p2p

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
)

// newTestSession builds an inbound session over one end of a net.Pipe,
// without starting its read loop, so handlers can be driven directly.
func newTestSession(t *testing.T, host Host) (*Session, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	return NewInboundSession(host, server), client
}

func helloPayload(t *testing.T, version uint, clientVersion string, caps []Cap, port uint16, id NodeID) []byte {
	t.Helper()
	buf, err := encodePacket(HelloPacket, version, clientVersion, caps, port, id)
	if err != nil {
		t.Fatalf("encodePacket: %v", err)
	}
	return buf[frameHeaderLen:]
}

func TestHandleHelloAcceptsFirstHandshake(t *testing.T) {
	host := newFakeHost(randomNodeID(0x01))
	session, client := newTestSession(t, host)
	defer client.Close()

	remote := randomNodeID(0x02)
	payload := helloPayload(t, host.ProtocolVersion(), "peer/1.0", nil, 30303, remote)

	_, r, err := openPacket(payload)
	if err != nil {
		t.Fatalf("openPacket: %v", err)
	}
	if !session.handleHello(r) {
		t.Fatal("handleHello rejected a well-formed first handshake")
	}
	if session.ID() != remote {
		t.Fatalf("session.ID() = %v, want %v", session.ID(), remote)
	}
	if !host.HavePeer(remote) {
		t.Fatal("host did not register the peer")
	}
}

func TestHandleHelloRejectsNullIdentity(t *testing.T) {
	host := newFakeHost(randomNodeID(0x01))
	session, client := newTestSession(t, host)
	defer client.Close()

	payload := helloPayload(t, host.ProtocolVersion(), "peer/1.0", nil, 30303, NodeID{})
	_, r, err := openPacket(payload)
	if err != nil {
		t.Fatalf("openPacket: %v", err)
	}
	if session.handleHello(r) {
		t.Fatal("handleHello accepted a null identity")
	}
}

func TestHandleHelloRejectsIncompatibleVersion(t *testing.T) {
	host := newFakeHost(randomNodeID(0x01))
	session, client := newTestSession(t, host)
	defer client.Close()

	remote := randomNodeID(0x02)
	payload := helloPayload(t, host.ProtocolVersion()+1, "peer/1.0", nil, 30303, remote)
	_, r, err := openPacket(payload)
	if err != nil {
		t.Fatalf("openPacket: %v", err)
	}
	if session.handleHello(r) {
		t.Fatal("handleHello accepted a mismatched protocol version")
	}
}

func TestHandleHelloRejectsDuplicatePeer(t *testing.T) {
	host := newFakeHost(randomNodeID(0x01))
	remote := randomNodeID(0x02)
	host.sessions[remote] = &Session{}

	session, client := newTestSession(t, host)
	defer client.Close()

	payload := helloPayload(t, host.ProtocolVersion(), "peer/1.0", nil, 30303, remote)
	_, r, err := openPacket(payload)
	if err != nil {
		t.Fatalf("openPacket: %v", err)
	}
	if session.handleHello(r) {
		t.Fatal("handleHello accepted a second handshake from an already-connected peer")
	}
}

func TestHandleHelloRejectsIdentityChangeWithoutForce(t *testing.T) {
	host := newFakeHost(randomNodeID(0x01))
	conn1, conn2 := net.Pipe()
	defer conn1.Close()
	defer conn2.Close()

	was := randomNodeID(0x02)
	node := &NodeRecord{ID: was, Origin: OriginPerfect, Address: &net.TCPAddr{Port: 1}}
	session := NewOutboundSession(host, conn1, node, false)

	now := randomNodeID(0x03)
	payload := helloPayload(t, host.ProtocolVersion(), "peer/1.0", nil, 30303, now)
	_, r, err := openPacket(payload)
	if err != nil {
		t.Fatalf("openPacket: %v", err)
	}
	if session.handleHello(r) {
		t.Fatal("handleHello accepted an identity change without force and above OriginSelfThird")
	}
	if node.LastDisconnect == nil || *node.LastDisconnect != UnexpectedIdentity {
		t.Fatalf("LastDisconnect = %v, want UnexpectedIdentity", node.LastDisconnect)
	}
}

func TestHandleHelloAcceptsIdentityChangeWithForce(t *testing.T) {
	host := newFakeHost(randomNodeID(0x01))
	conn1, conn2 := net.Pipe()
	defer conn1.Close()
	defer conn2.Close()

	was := randomNodeID(0x02)
	node := &NodeRecord{ID: was, Origin: OriginPerfect, Address: &net.TCPAddr{Port: 1}}
	session := NewOutboundSession(host, conn1, node, true)

	now := randomNodeID(0x03)
	payload := helloPayload(t, host.ProtocolVersion(), "peer/1.0", nil, 30303, now)
	_, r, err := openPacket(payload)
	if err != nil {
		t.Fatalf("openPacket: %v", err)
	}
	if !session.handleHello(r) {
		t.Fatal("handleHello rejected a forced identity change")
	}
	if session.ID() != now {
		t.Fatalf("session.ID() = %v, want %v", session.ID(), now)
	}
}

func TestHandleHelloAcceptsIdentityChangeBelowOriginSelfThird(t *testing.T) {
	host := newFakeHost(randomNodeID(0x01))
	conn1, conn2 := net.Pipe()
	defer conn1.Close()
	defer conn2.Close()

	was := randomNodeID(0x02)
	node := &NodeRecord{ID: was, Origin: OriginSelfThird, Address: &net.TCPAddr{Port: 1}}
	session := NewOutboundSession(host, conn1, node, false)

	now := randomNodeID(0x03)
	payload := helloPayload(t, host.ProtocolVersion(), "peer/1.0", nil, 30303, now)
	_, r, err := openPacket(payload)
	if err != nil {
		t.Fatalf("openPacket: %v", err)
	}
	if !session.handleHello(r) {
		t.Fatal("handleHello rejected an identity change from a weakly-trusted prior record")
	}
	if session.ID() != now {
		t.Fatalf("session.ID() = %v, want %v", session.ID(), now)
	}
}

func TestHandlePingRespondsWithPong(t *testing.T) {
	host := newFakeHost(randomNodeID(0x01))
	session, client := newTestSession(t, host)
	defer client.Close()

	if !session.handlePing(nil) {
		t.Fatal("handlePing returned false")
	}

	header := make([]byte, frameHeaderLen)
	if _, err := io.ReadFull(client, header); err != nil {
		t.Fatalf("reading pong header: %v", err)
	}
	if !hasSyncToken(header) {
		t.Fatal("pong frame is missing the sync token")
	}
	length := binary.BigEndian.Uint32(header[4:8])
	rest := make([]byte, length)
	if _, err := io.ReadFull(client, rest); err != nil {
		t.Fatalf("reading pong payload: %v", err)
	}

	frame := append(header, rest...)
	if !validateFrame(frame) {
		t.Fatalf("pong frame failed validation")
	}
	typ, _, err := openPacket(frame[frameHeaderLen:])
	if err != nil {
		t.Fatalf("openPacket: %v", err)
	}
	if typ != PongPacket {
		t.Fatalf("packet type = %v, want PongPacket", typ)
	}
}
