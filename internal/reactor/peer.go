package reactor

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rpcarback/buddyfs/internal/wire"
)

// DefaultRateLimit is the default per-connection egress budget, matching
// spec.md's SOCKET_BW_LIMIT default of 1 MB/s.
const DefaultRateLimit = 1 << 20

// Peer owns one socket, the remote address, the ingress framing state, the
// egress queue and its one-second rate-limit window. One mutex guards the
// egress queue, matching spec.md §5's "each peer has a mutex guarding its
// egress buffer".
type Peer struct {
	Conn   net.Conn
	Remote wire.NetAddress

	rateLimit int // bytes/second; NewPeer maps 0 or less to DefaultRateLimit

	mu          sync.Mutex
	egress      [][]byte
	closed      bool
	closeCh     chan struct{}
	windowStart time.Time
	windowBytes int

	// Compressed is negotiated during IN_PORT: once true, DATA_BLOCK
	// payloads above wire.CompressThreshold are snappy-encoded.
	Compressed bool

	Stats *Stats
}

// NewPeer wraps an established connection. Callers set Remote once it is
// known (post-accept the local ephemeral remote addr; post-IN_PORT the
// corrected advertised address).
func NewPeer(conn net.Conn, remote wire.NetAddress, rateLimit int, stats *Stats) *Peer {
	if rateLimit <= 0 {
		rateLimit = DefaultRateLimit
	}
	return &Peer{
		Conn:        conn,
		Remote:      remote,
		rateLimit:   rateLimit,
		closeCh:     make(chan struct{}),
		windowStart: time.Now(),
		Stats:       stats,
	}
}

// Enqueue appends a finalized frame to the egress queue. The writer loop
// drains it under the connection's own rate limit.
func (p *Peer) Enqueue(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("reactor: enqueue on closed peer")
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	p.egress = append(p.egress, buf)
	return nil
}

func (p *Peer) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, f := range p.egress {
		n += len(f)
	}
	return n
}

// writerLoop drains the egress queue honoring the per-second rate limit. It
// is spawned once per peer and exits when the peer is closed.
func (p *Peer) writerLoop() {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		if len(p.egress) == 0 {
			p.mu.Unlock()
			select {
			case <-p.closeCh:
				return
			case <-time.After(5 * time.Millisecond):
				continue
			}
		}
		frame := p.egress[0]

		now := time.Now()
		if now.Sub(p.windowStart) >= time.Second {
			if p.Stats != nil {
				p.Stats.ReportBandwidth(p.Remote, p.windowBytes)
			}
			p.windowStart = now
			p.windowBytes = 0
		}
		quota := p.rateLimit - p.windowBytes
		p.mu.Unlock()

		if quota <= 0 {
			// window exhausted: backpressure until the window rolls.
			if p.Stats != nil {
				atomic.AddInt64(&p.Stats.RateLimitHits, 1)
			}
			time.Sleep(time.Until(p.windowStart.Add(time.Second)))
			continue
		}

		toSend := frame
		if len(toSend) > quota {
			toSend = toSend[:quota]
		}
		n, err := p.Conn.Write(toSend)
		if err != nil {
			if isAgain(err) {
				continue
			}
			p.Close()
			return
		}

		p.mu.Lock()
		p.windowBytes += n
		if n == len(frame) {
			p.egress = p.egress[1:]
		} else {
			p.egress[0] = frame[n:]
		}
		p.mu.Unlock()
	}
}

// Close tears down the peer exactly once.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.closeCh)
	p.Conn.Close()
}

// IsClosed reports whether Close has already run.
func (p *Peer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func isAgain(err error) bool {
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}
