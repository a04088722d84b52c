package hostdb

import (
	"net"
	"testing"
	"time"

	"github.com/makramibrahim/cpp-ethereum/p2p"
)

func TestServeAcceptsInboundConnections(t *testing.T) {
	table := New(Config{ID: testID(1)})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not listen: %v", err)
	}
	go table.Serve(listener)
	defer listener.Close()

	conn, err := net.DialTimeout("tcp", listener.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("could not dial: %v", err)
	}
	defer conn.Close()

	// The accepted session immediately sends its Hello burst; receiving
	// a frame header is proof a session was actually started.
	header := make([]byte, 8)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(header); err != nil {
		t.Fatalf("never received a frame from the accepted session: %v", err)
	}
	if header[0] != 0x22 || header[1] != 0x40 {
		t.Fatalf("unexpected frame header: %x", header)
	}
}

func TestDialConnectsOutbound(t *testing.T) {
	table := New(Config{ID: testID(1)})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not listen: %v", err)
	}
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	addr := listener.Addr().(*net.TCPAddr)
	node := &p2p.NodeRecord{ID: testID(2), Address: addr}

	if _, err := table.Dial(node, true); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	select {
	case conn := <-accepted:
		conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("listener never saw the outbound connection")
	}
}
