package p2p

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

func TestEgressQueuePreservesOrder(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	q := newEgressQueue(client, log.New(), nil)
	q.enqueue([]byte("first"))
	q.enqueue([]byte("second"))
	q.enqueue([]byte("third"))

	want := "firstsecondthird"
	got := make([]byte, len(want))
	if _, err := io.ReadFull(server, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEgressQueueReportsErrorOnce(t *testing.T) {
	client, server := net.Pipe()
	server.Close() // any write to client now fails

	errs := make(chan error, 1)
	q := newEgressQueue(client, log.New(), func(err error) { errs <- err })
	q.enqueue([]byte("x"))

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("onError called with nil error")
		}
	case <-time.After(time.Second):
		t.Fatal("onError was never called")
	}

	select {
	case err := <-errs:
		t.Fatalf("onError called a second time: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
