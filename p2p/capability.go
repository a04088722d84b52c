package p2p

import "sort"

// Capability is a bound sub-protocol handler instance attached to one
// Session. Capabilities are plug-ins; the core never reflects over
// their internals, only calls through this surface (spec.md §9).
type Capability interface {
	// MessageCount is the number of packet ids this capability
	// reserves, starting at its assigned idOffset.
	MessageCount() uint64

	// Interpret handles one packet already routed to this
	// capability. localID is the packet's type minus idOffset.
	// Returning false fails the session (spec.md §4.4).
	Interpret(localID uint64, payload *packetReader) bool
}

// CapabilityFactory is how the Host advertises which capabilities it
// supports and how to instantiate one bound to a session. Matches
// against a remote Cap by (Name, Version).
type CapabilityFactory interface {
	Name() string
	Version() uint
	MessageCount() uint64
	NewInstance(session *Session) Capability
}

// boundCapability pairs a live Capability with the bookkeeping the
// dispatcher needs to route packets to it.
type boundCapability struct {
	name     string
	handler  Capability
	idOffset uint64
	enabled  bool
}

// capsByName sorts a Cap slice by name, mirroring the teacher's
// matchProtocols (p2p/peer.go: sort.Sort(capsByName(caps))). Both ends
// of a session negotiate caps independently, so without a canonical
// order each side could derive different idOffset ranges for the same
// capability name.
type capsByName []Cap

func (c capsByName) Len() int           { return len(c) }
func (c capsByName) Swap(i, j int)      { c[i], c[j] = c[j], c[i] }
func (c capsByName) Less(i, j int) bool { return c[i].Name < c[j].Name }

// matchCapabilities intersects the remote's advertised caps with the
// host's supported factories and assigns contiguous id ranges starting
// at baseMessageCount, walking the caps in name order so both sides of
// a connection agree on which range belongs to which capability.
func matchCapabilities(session *Session, remoteCaps []Cap, hostCaps []CapabilityFactory) map[string]*boundCapability {
	caps := append([]Cap{}, remoteCaps...)
	sort.Sort(capsByName(caps))

	result := make(map[string]*boundCapability)
	offset := uint64(baseMessageCount)
outer:
	for _, cap := range caps {
		for _, factory := range hostCaps {
			if factory.Name() != cap.Name || factory.Version() != cap.Version {
				continue
			}
			if _, exists := result[cap.Name]; exists {
				continue outer
			}
			result[cap.Name] = &boundCapability{
				name:     cap.Name,
				handler:  factory.NewInstance(session),
				idOffset: offset,
				enabled:  true,
			}
			offset += factory.MessageCount()
			continue outer
		}
	}
	return result
}

// capabilityFor finds the enabled capability owning packet type id,
// if any.
func capabilityFor(caps map[string]*boundCapability, id uint64) *boundCapability {
	for _, c := range caps {
		if !c.enabled {
			continue
		}
		if id >= c.idOffset && id < c.idOffset+c.handler.MessageCount() {
			return c
		}
	}
	return nil
}
