package p2p

import "testing"

func TestEncodeOpenPacketRoundTrip(t *testing.T) {
	id := randomNodeID(7)
	caps := []Cap{{Name: "discard", Version: 1}, {Name: "eth", Version: 63}}

	buf, err := encodePacket(HelloPacket, uint(2), "test/1.0", caps, uint16(30303), id)
	if err != nil {
		t.Fatalf("encodePacket: %v", err)
	}

	typ, r, err := openPacket(buf[frameHeaderLen:])
	if err != nil {
		t.Fatalf("openPacket: %v", err)
	}
	if typ != HelloPacket {
		t.Fatalf("type = %v, want HelloPacket", typ)
	}

	var hello helloData
	if err := r.decode(&hello.ProtocolVersion); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if err := r.decode(&hello.ClientVersion); err != nil {
		t.Fatalf("decode client version: %v", err)
	}
	if err := r.decode(&hello.Caps); err != nil {
		t.Fatalf("decode caps: %v", err)
	}
	if err := r.decode(&hello.ListenPort); err != nil {
		t.Fatalf("decode listen port: %v", err)
	}
	if err := r.decode(&hello.ID); err != nil {
		t.Fatalf("decode id: %v", err)
	}

	if hello.ProtocolVersion != 2 || hello.ClientVersion != "test/1.0" || hello.ListenPort != 30303 {
		t.Fatalf("unexpected hello fields: %+v", hello)
	}
	if len(hello.Caps) != 2 || hello.Caps[0] != caps[0] || hello.Caps[1] != caps[1] {
		t.Fatalf("caps = %v, want %v", hello.Caps, caps)
	}
	if hello.ID != id {
		t.Fatalf("id mismatch")
	}
}

func TestDecodeRemainingStopsAtEOL(t *testing.T) {
	entries := []peerAddrData{
		{IP: []byte{1, 2, 3, 4}, Port: 1, ID: randomNodeID(1)},
		{IP: []byte{5, 6, 7, 8}, Port: 2, ID: randomNodeID(2)},
	}
	fields := make([]interface{}, len(entries))
	for i, e := range entries {
		fields[i] = e
	}
	buf, err := encodePacket(PeersPacket, fields...)
	if err != nil {
		t.Fatalf("encodePacket: %v", err)
	}

	_, r, err := openPacket(buf[frameHeaderLen:])
	if err != nil {
		t.Fatalf("openPacket: %v", err)
	}

	var got []peerAddrData
	err = r.decodeRemaining(func() error {
		var entry peerAddrData
		if err := r.decode(&entry); err != nil {
			return err
		}
		got = append(got, entry)
		return nil
	})
	if err != nil {
		t.Fatalf("decodeRemaining: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i, e := range entries {
		if string(got[i].IP) != string(e.IP) || got[i].Port != e.Port || got[i].ID != e.ID {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], e)
		}
	}
}

func TestCapString(t *testing.T) {
	c := Cap{Name: "eth", Version: 63}
	if c.String() != "eth/63" {
		t.Fatalf("String() = %q, want %q", c.String(), "eth/63")
	}
}
