package p2p

import "testing"

// namedFactory is a trivial CapabilityFactory parameterized by name, used
// to exercise offset assignment across multiple capabilities.
type namedFactory struct {
	name  string
	count uint64
}

func (f *namedFactory) Name() string         { return f.name }
func (f *namedFactory) Version() uint        { return 1 }
func (f *namedFactory) MessageCount() uint64 { return f.count }
func (f *namedFactory) NewInstance(session *Session) Capability {
	return &countingCapability{}
}

func TestMatchCapabilitiesOrdersByNameRegardlessOfAdvertisedOrder(t *testing.T) {
	host := newFakeHost(randomNodeID(0x01))
	session, client := newTestSession(t, host)
	defer client.Close()

	hostCaps := []CapabilityFactory{
		&namedFactory{name: "zeth", count: 2},
		&namedFactory{name: "abar", count: 5},
	}

	// Advertise in the reverse of name order, as a remote with a
	// different internal ordering might.
	remoteCaps := []Cap{{Name: "zeth", Version: 1}, {Name: "abar", Version: 1}}
	matched := matchCapabilities(session, remoteCaps, hostCaps)

	if matched["abar"].idOffset != baseMessageCount {
		t.Fatalf("abar idOffset = %d, want %d (first in name order)", matched["abar"].idOffset, baseMessageCount)
	}
	if matched["zeth"].idOffset != baseMessageCount+5 {
		t.Fatalf("zeth idOffset = %d, want %d (after abar's range)", matched["zeth"].idOffset, baseMessageCount+5)
	}

	// The other side of the connection advertises the same two caps in
	// the opposite order; it must derive the same offsets.
	reversed := matchCapabilities(session, []Cap{{Name: "abar", Version: 1}, {Name: "zeth", Version: 1}}, hostCaps)
	if reversed["abar"].idOffset != matched["abar"].idOffset || reversed["zeth"].idOffset != matched["zeth"].idOffset {
		t.Fatal("matchCapabilities produced different offsets depending on advertised order")
	}
}
