// Package clique implements the pluggable membership runtime spec.md §4.4
// describes: a process-wide, ordered list of cliques that observe reactor
// connect/receive/disconnect events. Two concrete cliques are built on top
// of it — AlphaClique (§4.5) and FileStorageClique (§4.6) — both embedding
// the shared MemberSet helper from this file.
package clique

import (
	"sync"

	"github.com/rpcarback/buddyfs/internal/reactor"
	"github.com/rpcarback/buddyfs/internal/wire"
)

// Clique is the hook set spec.md §4.4 requires of every membership group.
// OnReceive returns whether the frame was handled; the runtime stops
// iterating its clique list at the first clique that returns true.
type Clique interface {
	OnConnect(p *reactor.Peer)
	OnReceive(p *reactor.Peer, f wire.Frame) bool
	OnDisconnect(p *reactor.Peer)
	OnAddressChanged(old, new wire.NetAddress)
}

// MemberSet is the address-set every clique variant embeds: an ordered,
// de-duplicated member list guarded by its own mutex, matching spec.md
// §3's "Clique: an ordered set of member addresses plus its own mutex."
type MemberSet struct {
	mu   sync.Mutex
	list []wire.NetAddress
}

// Add inserts addr if it isn't already a member (idempotent, per §4.4).
func (m *MemberSet) Add(addr wire.NetAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.list {
		if a == addr {
			return
		}
	}
	m.list = append(m.list, addr)
}

// Remove drops addr from the set, if present.
func (m *MemberSet) Remove(addr wire.NetAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.list {
		if a == addr {
			m.list = append(m.list[:i], m.list[i+1:]...)
			return
		}
	}
}

// Contains reports whether addr is a current member.
func (m *MemberSet) Contains(addr wire.NetAddress) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.list {
		if a == addr {
			return true
		}
	}
	return false
}

// Snapshot copies the member list, so iteration never races a concurrent
// Add/Remove/rewrite — spec.md §5's "snapshot-copied before iteration"
// ordering guarantee.
func (m *MemberSet) Snapshot() []wire.NetAddress {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wire.NetAddress, len(m.list))
	copy(out, m.list)
	return out
}

// Rewrite replaces every occurrence of old with updated — the address-
// change hook's effect on a single clique's member set.
func (m *MemberSet) Rewrite(old, updated wire.NetAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.list {
		if a == old {
			m.list[i] = updated
		}
	}
}

// Broadcast sends frame to every current member with a live connection in
// sockets.
func (m *MemberSet) Broadcast(sockets *reactor.SocketSet, r *reactor.Reactor, f wire.Frame) int {
	sent := 0
	for _, addr := range m.Snapshot() {
		if p, ok := sockets.Get(addr); ok {
			r.Send(p, f)
			sent++
		}
	}
	return sent
}

// Runtime is the process-wide, ordered clique list of spec.md §4.4. It
// implements reactor.Handler itself, so a Reactor can be constructed with
// exactly one handler (the runtime) which then fans out to every
// registered clique.
type Runtime struct {
	mu      sync.RWMutex
	cliques []Clique
	reactor *reactor.Reactor
}

// NewRuntime constructs an empty clique runtime. SetReactor must be called
// before any clique needs to dial out or broadcast.
func NewRuntime() *Runtime {
	return &Runtime{}
}

func (rt *Runtime) SetReactor(r *reactor.Reactor) { rt.reactor = r }

func (rt *Runtime) Reactor() *reactor.Reactor { return rt.reactor }

// Register appends c to the clique list. Order matters: OnReceive stops
// at the first clique that claims a frame.
func (rt *Runtime) Register(c Clique) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.cliques = append(rt.cliques, c)
}

// Unregister removes c, used when a file is deleted and its storage
// clique no longer needs to see traffic.
func (rt *Runtime) Unregister(c Clique) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i, existing := range rt.cliques {
		if existing == c {
			rt.cliques = append(rt.cliques[:i], rt.cliques[i+1:]...)
			return
		}
	}
}

func (rt *Runtime) snapshot() []Clique {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]Clique, len(rt.cliques))
	copy(out, rt.cliques)
	return out
}

func (rt *Runtime) OnConnect(p *reactor.Peer) {
	for _, c := range rt.snapshot() {
		c.OnConnect(p)
	}
}

func (rt *Runtime) OnReceive(p *reactor.Peer, f wire.Frame) bool {
	for _, c := range rt.snapshot() {
		if c.OnReceive(p, f) {
			return true
		}
	}
	return false
}

func (rt *Runtime) OnDisconnect(p *reactor.Peer) {
	for _, c := range rt.snapshot() {
		c.OnDisconnect(p)
	}
}

func (rt *Runtime) OnAddressChanged(old, new wire.NetAddress) {
	for _, c := range rt.snapshot() {
		c.OnAddressChanged(old, new)
	}
}
