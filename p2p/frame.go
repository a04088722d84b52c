package p2p

import (
	"bytes"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/rlp"
)

// syncToken is the 4-byte prefix that begins every on-wire frame. Any
// mismatch is treated as protocol corruption, never resynchronised.
var syncToken = [4]byte{0x22, 0x40, 0x08, 0x91}

const frameHeaderLen = 8

// frameStatus is the result of attempting to pull one frame out of an
// accumulation buffer.
type frameStatus int

const (
	frameNeedMore frameStatus = iota
	frameInvalid
	frameOK
)

// validateFrame reports whether buf is a complete, well-formed frame:
// token, length, a payload whose size exactly matches the declared
// length, and a payload whose own RLP structural size also equals the
// declared length — mirroring the original's checkPacket, which
// compares the declared length against r.actualSize() to reject a
// frame padded past its real RLP content.
func validateFrame(buf []byte) bool {
	if len(buf) < frameHeaderLen {
		return false
	}
	if !hasSyncToken(buf) {
		return false
	}
	length := binary.BigEndian.Uint32(buf[4:8])
	if uint32(len(buf)) != length+frameHeaderLen {
		return false
	}
	if length == 0 {
		return true
	}
	payload := buf[frameHeaderLen:]
	s := rlp.NewStream(bytes.NewReader(payload), uint64(len(payload)))
	raw, err := s.Raw()
	if err != nil {
		return false
	}
	return uint32(len(raw)) == length
}

func hasSyncToken(buf []byte) bool {
	return buf[0] == syncToken[0] && buf[1] == syncToken[1] && buf[2] == syncToken[2] && buf[3] == syncToken[3]
}

// extractFrame peeks the header of accum and reports whether a complete
// frame is present. On frameOK it returns the payload slice (aliasing
// accum) and the number of bytes the frame occupies including the
// header, which the caller drops from the front of accum.
func extractFrame(accum []byte) (payload []byte, consumed int, status frameStatus) {
	if len(accum) < frameHeaderLen {
		return nil, 0, frameNeedMore
	}
	if !hasSyncToken(accum) {
		return nil, 0, frameInvalid
	}
	length := binary.BigEndian.Uint32(accum[4:8])
	total := int(length) + frameHeaderLen
	if len(accum) < total {
		return nil, 0, frameNeedMore
	}
	return accum[frameHeaderLen:total], total, frameOK
}

// SealFrame fills in the 8-byte placeholder header at the front of buf
// with the synchronisation token and the big-endian length of
// everything after the header. This is the "seal" step spec.md
// delegates to the Host so a future secure framing can replace it
// without touching the session. Exported so Host implementations
// outside this package (e.g. internal/hostdb) can perform it.
func SealFrame(buf []byte) {
	copy(buf[0:4], syncToken[:])
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(buf)-frameHeaderLen))
}
