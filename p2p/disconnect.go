package p2p

import "fmt"

// DisconnectReason is the integer sent on the wire in a Disconnect
// packet. Numeric assignment is stable and must match across peers
// (spec.md §6), so the order below must never change.
type DisconnectReason uint

const (
	DisconnectRequested DisconnectReason = iota
	TCPError
	BadProtocol
	UselessPeer
	TooManyPeers
	DuplicatePeer
	IncompatibleProtocol
	NullIdentity
	ClientQuit
	UnexpectedIdentity
)

var disconnectReasonText = map[DisconnectReason]string{
	DisconnectRequested:  "disconnect requested",
	TCPError:             "TCP error",
	BadProtocol:          "bad protocol",
	UselessPeer:          "useless peer",
	TooManyPeers:         "too many peers",
	DuplicatePeer:        "duplicate peer",
	IncompatibleProtocol: "incompatible protocol version",
	NullIdentity:         "null identity",
	ClientQuit:           "client quit",
	UnexpectedIdentity:   "unexpected identity",
}

func (r DisconnectReason) String() string {
	if s, ok := disconnectReasonText[r]; ok {
		return s
	}
	return fmt.Sprintf("unknown disconnect reason %d", uint(r))
}
