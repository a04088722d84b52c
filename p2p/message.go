package p2p

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// PacketType is the first element of every frame payload: an unsigned
// integer identifying how the rest of the list should be interpreted.
type PacketType uint64

// Built-in packet types, stable across the wire (spec.md §4.4).
const (
	HelloPacket PacketType = iota
	DisconnectPacket
	PingPacket
	PongPacket
	GetPeersPacket
	PeersPacket

	// baseMessageCount is the number of packet ids the built-in
	// handlers reserve. Capability id ranges are assigned starting
	// at this offset, matching devp2p's baseProtocolLength.
	baseMessageCount = 0x10
)

// Cap names one capability a peer advertises: a sub-protocol name and
// the version of it the peer speaks.
type Cap struct {
	Name    string
	Version uint
}

func (c Cap) String() string {
	return fmt.Sprintf("%s/%d", c.Name, c.Version)
}

// helloData is the payload of a Hello packet, in wire order.
type helloData struct {
	ProtocolVersion uint
	ClientVersion   string
	Caps            []Cap
	ListenPort      uint16
	ID              NodeID
}

// peerAddrData is one advertised peer inside a Peers packet.
type peerAddrData struct {
	IP   []byte // 4 bytes for IPv4, 16 for IPv6
	Port uint16
	ID   NodeID
}

// encodePacket builds an unsealed frame for the given packet type and
// fields. The first 8 bytes are a zero placeholder the Host's seal
// step fills in, per spec.md §4.2.
func encodePacket(typ PacketType, fields ...interface{}) ([]byte, error) {
	items := make([]interface{}, 0, len(fields)+1)
	items = append(items, uint64(typ))
	items = append(items, fields...)

	encoded, err := rlp.EncodeToBytes(items)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, frameHeaderLen+len(encoded))
	copy(buf[frameHeaderLen:], encoded)
	return buf, nil
}

// packetReader decodes the elements of a frame payload one at a time,
// after having already consumed the leading packet type. It mirrors
// the postrack/readMsg technique in the teacher's message.go, applied
// to a whole-payload list instead of a header-stripped one.
type packetReader struct {
	stream *rlp.Stream
}

// openPacket positions a packetReader just past the packet type and
// returns the type found.
func openPacket(payload []byte) (PacketType, *packetReader, error) {
	s := rlp.NewStream(bytes.NewReader(payload), uint64(len(payload)))
	if _, err := s.List(); err != nil {
		return 0, nil, err
	}
	typ, err := s.Uint()
	if err != nil {
		return 0, nil, err
	}
	return PacketType(typ), &packetReader{stream: s}, nil
}

func (r *packetReader) decode(val interface{}) error {
	return r.stream.Decode(val)
}

// decodeRemaining decodes every remaining element of the current list
// into items appended via append, stopping cleanly at rlp.EOL. It is
// used for the variable-length Peers packet.
func (r *packetReader) decodeRemaining(decodeOne func() error) error {
	for {
		err := decodeOne()
		if err == rlp.EOL {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
