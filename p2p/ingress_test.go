package p2p

import "testing"

func TestProcessAccumulatedHandlesFragmentedFrames(t *testing.T) {
	host := newFakeHost(randomNodeID(0x01))
	session, client := newTestSession(t, host)
	defer client.Close()

	ping, err := encodePacket(PingPacket)
	if err != nil {
		t.Fatalf("encodePacket: %v", err)
	}
	getPeers, err := encodePacket(GetPeersPacket)
	if err != nil {
		t.Fatalf("encodePacket: %v", err)
	}
	SealFrame(ping)
	SealFrame(getPeers)

	full := append(append([]byte{}, ping...), getPeers...)

	// Split the two concatenated frames at an arbitrary byte boundary
	// that lands inside the first frame's header, to exercise the
	// "need more bytes" path as well as the "two frames at once" path.
	split := 3
	session.accum = append(session.accum, full[:split]...)
	if !session.processAccumulated() {
		t.Fatal("processAccumulated failed on a partial header")
	}
	if len(session.accum) != split {
		t.Fatalf("processAccumulated consumed bytes before a full frame arrived")
	}

	session.accum = append(session.accum, full[split:]...)
	if !session.processAccumulated() {
		t.Fatal("processAccumulated failed once both frames were complete")
	}
	if len(session.accum) != 0 {
		t.Fatalf("leftover accum = %d bytes, want 0", len(session.accum))
	}
}

func TestProcessAccumulatedRejectsBadSyncToken(t *testing.T) {
	host := newFakeHost(randomNodeID(0x01))
	session, client := newTestSession(t, host)
	defer client.Close()

	session.accum = []byte{0, 0, 0, 0, 0, 0, 0, 0}
	if session.processAccumulated() {
		t.Fatal("processAccumulated accepted a bad sync token")
	}
}
