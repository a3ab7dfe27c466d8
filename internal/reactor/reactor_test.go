package reactor

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rpcarback/buddyfs/internal/wire"
)

type recordingHandler struct {
	mu        sync.Mutex
	connected []wire.NetAddress
	received  []wire.Frame
}

func (h *recordingHandler) OnConnect(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = append(h.connected, p.Remote)
}

func (h *recordingHandler) OnReceive(p *Peer, f wire.Frame) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, f)
	return true
}

func (h *recordingHandler) OnDisconnect(p *Peer) {}
func (h *recordingHandler) OnAddressChanged(old, new wire.NetAddress) {}

func (h *recordingHandler) frames() []wire.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]wire.Frame, len(h.received))
	copy(out, h.received)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestReactorConnectAndDeliverFrame(t *testing.T) {
	serverHandler := &recordingHandler{}
	server := New(serverHandler, 0)
	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer server.Shutdown()

	clientHandler := &recordingHandler{}
	client := New(clientHandler, 0)
	defer client.Shutdown()

	serverAddr := wire.AddressFromTCP(server.Addr().(*net.TCPAddr))
	peer, err := client.Connect(serverAddr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, func() bool { return len(serverHandler.frames()) >= 0 && server.Sockets.Len() == 1 })

	client.Send(peer, wire.NewFrame(wire.PING, 7, []byte("hello")))

	waitFor(t, func() bool {
		for _, f := range serverHandler.frames() {
			if f.Cmd == wire.PING {
				return true
			}
		}
		return false
	})

	got := serverHandler.frames()
	var pingFrame *wire.Frame
	for i := range got {
		if got[i].Cmd == wire.PING {
			pingFrame = &got[i]
		}
	}
	if pingFrame == nil {
		t.Fatal("PING frame never observed by server handler")
	}
	if pingFrame.ReqID != 7 || string(pingFrame.Payload) != "hello" {
		t.Fatalf("unexpected frame: %+v", pingFrame)
	}
}

func TestInPortRekeysPeerMap(t *testing.T) {
	serverHandler := &recordingHandler{}
	server := New(serverHandler, 0)
	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer server.Shutdown()

	clientHandler := &recordingHandler{}
	client := New(clientHandler, 0)
	if err := client.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("client listen: %v", err)
	}
	defer client.Shutdown()

	serverAddr := wire.AddressFromTCP(server.Addr().(*net.TCPAddr))
	if _, err := client.Connect(serverAddr); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, func() bool {
		for _, p := range server.Sockets.Snapshot() {
			if p.Remote.Port == client.LocalPort() {
				return true
			}
		}
		return false
	})
}

func TestRateLimitBacklogsExcessBytes(t *testing.T) {
	serverHandler := &recordingHandler{}
	server := New(serverHandler, 0)
	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer server.Shutdown()

	clientHandler := &recordingHandler{}
	client := New(clientHandler, 64) // 64 bytes/sec, intentionally tiny
	defer client.Shutdown()

	serverAddr := wire.AddressFromTCP(server.Addr().(*net.TCPAddr))
	peer, err := client.Connect(serverAddr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	big := make([]byte, 1024)
	client.Send(peer, wire.NewFrame(wire.DATA_BLOCK, 1, big))

	// Immediately after enqueue, far more than the 64B/s quota is still
	// queued: the writer loop must not have blasted it all out at once.
	if p := peer.pending(); p < 512 {
		t.Fatalf("expected rate limiter to backlog most of the payload, pending=%d", p)
	}
}
