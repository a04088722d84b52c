package p2p

import (
	"net"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// egressQueue serialises writes on one socket: at most one buffer is
// ever in flight, and buffers are written in enqueue order. This is a
// direct translation of the original's write queue (original_source
// Session::writeImpl/Session::write) onto a goroutine instead of an
// asio completion callback — enqueue starts a writer goroutine only on
// the empty-to-non-empty transition, and that goroutine keeps draining
// the queue until it's empty, exactly mirroring the "pop head, if
// non-empty start the next write" contract.
type egressQueue struct {
	mu      sync.Mutex
	pending [][]byte
	writing bool

	conn net.Conn
	log  log.Logger

	onError func(error)
}

func newEgressQueue(conn net.Conn, logger log.Logger, onError func(error)) *egressQueue {
	return &egressQueue{conn: conn, log: logger, onError: onError}
}

// enqueue appends buf to the tail of the queue. Bytes from a single
// enqueue call are transmitted atomically and in order with respect to
// every other enqueue on the same queue.
func (q *egressQueue) enqueue(buf []byte) {
	q.mu.Lock()
	q.pending = append(q.pending, buf)
	start := !q.writing
	if start {
		q.writing = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
}

func (q *egressQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.writing = false
			q.mu.Unlock()
			return
		}
		buf := q.pending[0]
		q.mu.Unlock()

		_, err := q.conn.Write(buf)
		if err != nil {
			q.log.Warn("error sending", "err", err)
			q.mu.Lock()
			q.writing = false
			q.mu.Unlock()
			if q.onError != nil {
				q.onError(err)
			}
			return
		}

		q.mu.Lock()
		q.pending = q.pending[1:]
		q.mu.Unlock()
	}
}
