package p2p

import (
	"errors"
	"io"
	"net"
)

// readLoop drives asynchronous reads and hands complete frames to the
// dispatcher, one at a time, in the exact order bytes arrived
// (spec.md §4.3). It is the single reader for this session; nothing
// else ever touches s.accum.
func (s *Session) readLoop() {
	scratch := make([]byte, scratchBufferSize)
	for {
		n, err := s.conn.Read(scratch)
		if n > 0 {
			s.accum = append(s.accum, scratch[:n]...)
			ingressTrafficMeter.Mark(int64(n))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if isMiscError(err) {
				return
			}
			s.log.Warn("error reading", "err", err)
			s.dropped()
			return
		}

		if !s.processAccumulated() {
			return
		}

		if s.disconnectPending() {
			return
		}
	}
}

// processAccumulated drains every complete frame currently buffered.
// It returns false if the session should stop (disconnect initiated
// or dropped from inside dispatch).
func (s *Session) processAccumulated() bool {
	for len(s.accum) >= frameHeaderLen {
		payload, consumed, status := extractFrame(s.accum)
		switch status {
		case frameNeedMore:
			return true
		case frameInvalid:
			s.log.Warn("invalid synchronisation token")
			s.Disconnect(BadProtocol)
			return false
		}

		if !validateFrame(s.accum[:consumed]) {
			s.log.Warn("invalid message received")
			s.Disconnect(BadProtocol)
			return false
		}

		if !s.dispatch(payload) {
			s.dropped()
			return false
		}

		s.accum = s.accum[consumed:]

		if s.disconnectPending() {
			return false
		}
	}
	return true
}

// isMiscError reports whether err is the kind of transport noise the
// original treats as "ignore, this is not a real error" (its
// boost::asio::error::get_misc_category() check) — a closed local
// connection observed from a concurrent dropped().
func isMiscError(err error) bool {
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return errors.Is(netErr.Err, net.ErrClosed)
	}
	return errors.Is(err, net.ErrClosed)
}
