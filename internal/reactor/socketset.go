package reactor

import (
	"sync"

	"github.com/rpcarback/buddyfs/internal/wire"
)

// SocketSet is the process-wide peer map, keyed by remote address once the
// IN_PORT handshake has corrected the advertised port (spec.md §3 "Peer
// connection" lifecycle).
type SocketSet struct {
	mu    sync.RWMutex
	peers map[wire.NetAddress]*Peer
}

// NewSocketSet constructs an empty peer map.
func NewSocketSet() *SocketSet {
	return &SocketSet{peers: make(map[wire.NetAddress]*Peer)}
}

// Add registers a peer under addr, replacing any existing entry.
func (s *SocketSet) Add(addr wire.NetAddress, p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[addr] = p
}

// Remove deletes addr from the map if present.
func (s *SocketSet) Remove(addr wire.NetAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, addr)
}

// Get returns the peer keyed by addr, if any.
func (s *SocketSet) Get(addr wire.NetAddress) (*Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[addr]
	return p, ok
}

// Rekey moves a peer from its old key to a new one, used by the IN_PORT
// handshake once the advertised port is known. It returns false if old was
// not present.
func (s *SocketSet) Rekey(old, new wire.NetAddress) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[old]
	if !ok {
		return false
	}
	delete(s.peers, old)
	p.Remote = new
	s.peers[new] = p
	return true
}

// Snapshot copies the current peer list so callers can iterate without
// holding the map lock, matching spec.md §5's "clique members list is
// snapshot-copied before iteration".
func (s *SocketSet) Snapshot() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// Len reports the number of tracked peers.
func (s *SocketSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}
