package clique

import (
	"sync/atomic"
	"time"

	"github.com/rpcarback/buddyfs/internal/errno"
	"github.com/rpcarback/buddyfs/internal/fsnode"
	"github.com/rpcarback/buddyfs/internal/reactor"
	"github.com/rpcarback/buddyfs/internal/registry"
	"github.com/rpcarback/buddyfs/internal/wire"
)

// PromoteThreshold is the member count past which the alpha promotes a
// newly connected peer to alpha itself (spec.md §4.5).
const PromoteThreshold = 15

// AlphaClique is the process-wide leader-set overlay: spec.md §4.5's
// two-tier membership, bootstrap, and metadata-broadcast protocol.
type AlphaClique struct {
	MemberSet

	r       *reactor.Reactor
	reg     *registry.Registry
	tree    *fsnode.Tree
	localFn func() wire.NetAddress
	seeds   []wire.NetAddress

	isAlpha int32
	initing int32

	nextReqID  uint32
	reqTimeout time.Duration
}

// NewAlphaClique wires an alpha clique to its reactor, request registry,
// and filesystem tree. Per-file storage cliques for files materialized via
// LOCAL_FILES/MAKE_ALPHA/CREATE_REQ ingestion are built by tree's own
// CliqueFactory (see fsnode.NewTree), not by this clique directly.
func NewAlphaClique(r *reactor.Reactor, reg *registry.Registry, tree *fsnode.Tree, localFn func() wire.NetAddress, seeds []wire.NetAddress) *AlphaClique {
	return &AlphaClique{r: r, reg: reg, tree: tree, localFn: localFn, seeds: seeds, reqTimeout: 10 * time.Second}
}

// SetRequestTimeout overrides the deadline ResolveFS gives its FS_REQ
// round trip; defaults to 10 seconds.
func (a *AlphaClique) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		a.reqTimeout = d
	}
}

func (a *AlphaClique) IsAlpha() bool { return atomic.LoadInt32(&a.isAlpha) == 1 }

func (a *AlphaClique) setAlpha(v bool) {
	if v {
		atomic.StoreInt32(&a.isAlpha, 1)
	} else {
		atomic.StoreInt32(&a.isAlpha, 0)
	}
}

func (a *AlphaClique) allocReqID() uint32 { return atomic.AddUint32(&a.nextReqID, 1) }

// Bootstrap spawns the one-shot worker of spec.md §4.5: try every seed
// with a blocking connect; the first success sends HANDSHAKE and awaits
// HANDSHAKE_RESP (staying non-alpha); if every seed fails, self-promote.
func (a *AlphaClique) Bootstrap() {
	if !atomic.CompareAndSwapInt32(&a.initing, 0, 1) {
		return // a bootstrap attempt is already in flight
	}
	go a.bootstrapWorker()
}

func (a *AlphaClique) bootstrapWorker() {
	defer atomic.StoreInt32(&a.initing, 0)

	if len(a.seeds) == 0 {
		a.setAlpha(true)
		return
	}

	for _, seed := range a.seeds {
		peer, err := a.r.Connect(seed)
		if err != nil {
			continue
		}
		a.Add(seed)
		w := wire.NewWriter(wire.HANDSHAKE, a.allocReqID())
		a.r.Send(peer, w.Frame())
		return // exit code 0 equivalent: stays non-alpha, awaits HANDSHAKE_RESP
	}

	// every seed failed: exit code 1 equivalent, self-promote
	a.setAlpha(true)
}

func (a *AlphaClique) OnConnect(p *reactor.Peer) {}

func (a *AlphaClique) OnDisconnect(p *reactor.Peer) {
	if !a.Contains(p.Remote) {
		return
	}
	a.Remove(p.Remote)

	if !a.IsAlpha() {
		if atomic.LoadInt32(&a.initing) == 0 {
			a.Bootstrap()
		}
		return
	}

	// self is alpha: hand leadership to an arbitrary remaining member.
	for _, addr := range a.Snapshot() {
		if peer, ok := a.r.Sockets.Get(addr); ok {
			a.sendMakeAlpha(peer)
			return
		}
	}
}

func (a *AlphaClique) OnAddressChanged(old, new wire.NetAddress) { a.Rewrite(old, new) }

// OnReceive dispatches the alpha protocol commands; any other command
// returns false so the clique runtime tries the next clique in its list.
func (a *AlphaClique) OnReceive(p *reactor.Peer, f wire.Frame) bool {
	switch f.Cmd {
	case wire.HANDSHAKE:
		a.handleHandshake(p, f)
	case wire.HANDSHAKE_RESP:
		a.handleHandshakeResp(p, f)
	case wire.MAKE_ALPHA:
		a.handleMakeAlpha(p, f)
	case wire.LOCAL_FILES:
		a.handleLocalFiles(p, f)
	case wire.LIST_REQ:
		a.handleListReq(p, f)
	case wire.FS_REQ:
		a.handleFSReq(p, f)
	case wire.CREATE_REQ:
		a.handleCreateReq(p, f)
	case wire.FILE_UPDATE:
		a.handleFileUpdate(p, f)
	case wire.RM_FILE, wire.RM_DIR:
		a.handleRemove(p, f)
	case wire.RENAME:
		a.handleRename(p, f)
	case wire.FORWARD_REQ:
		a.handleForward(p, f)
	default:
		return false
	}
	return true
}

func (a *AlphaClique) handleHandshake(p *reactor.Peer, f wire.Frame) {
	a.Add(p.Remote)

	w := wire.NewWriter(wire.HANDSHAKE_RESP, f.ReqID)
	members := a.Snapshot()
	w.WriteU16(uint16(len(members)))
	w.WriteBool(a.IsAlpha())
	for _, m := range members {
		w.WriteAddress(m)
	}
	a.r.Send(p, w.Frame())

	a.MaybePromote(p)
}

func (a *AlphaClique) handleHandshakeResp(p *reactor.Peer, f wire.Frame) {
	r := wire.NewReader(prependHeader(f))
	count := r.ReadU16()
	isRemoteAlpha := r.ReadBool()
	for i := uint16(0); i < count; i++ {
		a.Add(r.ReadAddress())
	}

	if isRemoteAlpha {
		a.Add(p.Remote)
		a.sendLocalFiles(p)
		return
	}

	p.Close()
	a.Bootstrap()
}

func (a *AlphaClique) sendLocalFiles(p *reactor.Peer) {
	var paths []string
	collectLocalFilePaths(a.tree.Root(), "", &paths)

	w := wire.NewWriter(wire.LOCAL_FILES, a.allocReqID())
	w.WriteU32(uint32(len(paths)))
	for _, path := range paths {
		w.WriteASCIIZ(path)
	}
	a.r.Send(p, w.Frame())
}

func collectLocalFilePaths(folder *fsnode.Folder, prefix string, out *[]string) {
	for _, child := range folder.Children() {
		path := child.Name()
		if prefix != "" {
			path = prefix + "/" + child.Name()
		}
		if sub, ok := child.(*fsnode.Folder); ok {
			collectLocalFilePaths(sub, path, out)
			continue
		}
		*out = append(*out, path)
	}
}

func (a *AlphaClique) handleMakeAlpha(p *reactor.Peer, f wire.Frame) {
	a.Add(p.Remote)
	a.setAlpha(true)

	for _, addr := range a.Snapshot() {
		if _, ok := a.r.Sockets.Get(addr); !ok && addr != a.localFn() {
			a.r.Connect(addr)
		}
	}

	r := wire.NewReader(prependHeader(f))
	for !r.AtEnd() {
		rec := fsnode.ReadMetadata(r)
		if rec.Path == "" {
			break
		}
		a.ingestRecord(rec)
	}
}

func (a *AlphaClique) ingestRecord(rec fsnode.MetadataRecord) {
	brokenPaths := true
	n, errc := a.tree.AddObject(rec.Path, rec.Type, brokenPaths)
	if errc == errno.EEXIST {
		n, errc = a.tree.GetObject(rec.Path)
	}
	if errc.IsErr() || n == nil {
		return
	}
	n.SetMode(rec.Mode)
	n.SetMTime(rec.MTime)

	if file, ok := n.(*fsnode.File); ok {
		if c := file.Clique(); c != nil {
			for _, addr := range rec.Replicas {
				c.AddMember(addr)
			}
		}
	}
}

func (a *AlphaClique) handleLocalFiles(p *reactor.Peer, f wire.Frame) {
	r := wire.NewReader(prependHeader(f))
	n := r.ReadU32()
	for i := uint32(0); i < n; i++ {
		path := r.ReadASCIIZ(4096)
		node, errc := a.tree.AddObject(path, fsnode.TypeFile, true)
		if errc == errno.EEXIST {
			node, errc = a.tree.GetObject(path)
		}
		if errc.IsErr() || node == nil {
			continue
		}
		file, ok := node.(*fsnode.File)
		if !ok {
			continue
		}
		if c := file.Clique(); c != nil {
			c.AddMember(p.Remote)
		}
	}
}

func (a *AlphaClique) handleListReq(p *reactor.Peer, f wire.Frame) {
	path := readSinglePath(f)
	node, errc := a.tree.GetObject(path)

	w := wire.NewWriter(wire.LIST_RESP, f.ReqID)
	if errc.IsErr() {
		w.WriteI16(int16(errc))
		a.r.Send(p, w.Frame())
		return
	}
	folder, ok := node.(*fsnode.Folder)
	if !ok {
		w.WriteI16(int16(errno.ENOTDIR))
		a.r.Send(p, w.Frame())
		return
	}
	children := folder.Children()
	w.WriteI16(int16(len(children)))
	for _, c := range children {
		w.WriteASCIIZ(c.Name())
	}
	a.r.Send(p, w.Frame())
}

func (a *AlphaClique) handleFSReq(p *reactor.Peer, f wire.Frame) {
	path := readSinglePath(f)
	node, errc := a.tree.GetObject(path)

	w := wire.NewWriter(wire.FS_RESP, f.ReqID)
	if errc.IsErr() {
		w.WriteI32(int32(errc))
		a.r.Send(p, w.Frame())
		return
	}
	w.WriteI32(0)
	fsnode.WriteMetadata(w, nodeRecordFor(path, node))
	a.r.Send(p, w.Frame())
}

func nodeRecordFor(path string, n fsnode.Node) fsnode.MetadataRecord {
	rec := fsnode.MetadataRecord{Path: path, Type: n.Type(), Mode: n.Mode(), MTime: n.MTime(), CTime: n.CTime()}
	if file, ok := n.(*fsnode.File); ok {
		rec.Size = file.Size()
		if c := file.Clique(); c != nil {
			rec.Replicas = c.Members()
		}
	}
	return rec
}

func (a *AlphaClique) handleCreateReq(p *reactor.Peer, f wire.Frame) {
	r := wire.NewReader(prependHeader(f))
	origin := r.ReadAddress()
	typ := fsnode.ObjType(r.ReadByte())
	mode := r.ReadU32()
	path := r.ReadASCIIZ(4096)

	fanout := int16(0)
	if !a.Contains(p.Remote) {
		frame := wire.Frame{Cmd: wire.CREATE_REQ, ReqID: f.ReqID, Payload: f.Payload}
		for _, addr := range a.Snapshot() {
			if addr == p.Remote {
				continue
			}
			if peer, ok := a.r.Sockets.Get(addr); ok {
				a.r.Send(peer, frame)
				fanout++
			}
		}
	}

	node, errc := a.tree.AddObject(path, typ, false)
	if node != nil {
		node.SetMode(mode)
	}
	_ = origin

	w := wire.NewWriter(wire.CREATE_RESP, f.ReqID)
	w.WriteI16(fanout)
	w.WriteI32(int32(errc))
	a.r.Send(p, w.Frame())

	if errc.IsErr() {
		return
	}
	if file, ok := node.(*fsnode.File); ok {
		if c := file.Clique(); c != nil {
			c.AddMember(p.Remote)
		}
	}
}

func (a *AlphaClique) handleFileUpdate(p *reactor.Peer, f wire.Frame) {
	r := wire.NewReader(prependHeader(f))
	path := r.ReadASCIIZ(4096)
	mtime := r.ReadU32()
	size := r.ReadU32()
	forward := r.ReadBool()

	if forward && a.IsAlpha() && !a.Contains(p.Remote) {
		a.MemberSet.Broadcast(a.r.Sockets, a.r, f)
	}

	node, errc := a.tree.GetObject(path)
	if errc.IsErr() {
		return
	}
	node.SetMTime(int64(mtime))
	if file, ok := node.(*fsnode.File); ok {
		file.SetSize(size)
	}
}

func (a *AlphaClique) handleRemove(p *reactor.Peer, f wire.Frame) {
	path := readSinglePath(f)
	if a.IsAlpha() && (p == nil || !a.Contains(p.Remote)) {
		a.MemberSet.Broadcast(a.r.Sockets, a.r, f)
	}
	a.tree.RemoveObject(path)
}

func (a *AlphaClique) handleRename(p *reactor.Peer, f wire.Frame) {
	r := wire.NewReader(prependHeader(f))
	from := r.ReadASCIIZ(4096)
	to := r.ReadASCIIZ(4096)

	if a.IsAlpha() && (p == nil || !a.Contains(p.Remote)) {
		a.MemberSet.Broadcast(a.r.Sockets, a.r, f)
	}

	node, errc := a.tree.GetObject(from)
	if errc.IsErr() {
		return
	}
	a.tree.Move(node, to)
}

func (a *AlphaClique) handleForward(p *reactor.Peer, f wire.Frame) {
	r := wire.NewReader(prependHeader(f))
	from := r.ReadAddress()
	to := r.ReadAddress()

	if to == a.localFn() {
		if _, ok := a.r.Sockets.Get(from); !ok {
			a.r.Connect(from)
		}
		return
	}
	if peer, ok := a.r.Sockets.Get(to); ok {
		a.r.Send(peer, f)
	}
}

func (a *AlphaClique) sendMakeAlpha(p *reactor.Peer) {
	a.Add(p.Remote)
	w := wire.NewWriter(wire.MAKE_ALPHA, a.allocReqID())
	a.tree.WriteFullList(w)
	a.r.Send(p, w.Frame())
}

// MaybePromote implements the "peer count exceeds PromoteThreshold"
// leg of leader-set maintenance; called from handleHandshake once the
// handshaking peer has been added to the member set.
func (a *AlphaClique) MaybePromote(p *reactor.Peer) {
	if !a.IsAlpha() {
		return
	}
	if len(a.Snapshot()) <= PromoteThreshold {
		return
	}
	a.sendMakeAlpha(p)
}

// SendOnce delivers frame to the in-process loopback if self is alpha, or
// to the first alpha member with a live connection otherwise. If none can
// be reached, self promotes to alpha and dispatches locally.
func (a *AlphaClique) SendOnce(f wire.Frame, loopback func(wire.Frame)) {
	if a.IsAlpha() {
		loopback(f)
		return
	}
	for _, addr := range a.Snapshot() {
		if peer, ok := a.r.Sockets.Get(addr); ok {
			a.r.Send(peer, f)
			return
		}
	}
	a.setAlpha(true)
	loopback(f)
}

func readSinglePath(f wire.Frame) string {
	r := wire.NewReader(prependHeader(f))
	return r.ReadASCIIZ(4096)
}

// prependHeader reconstitutes a full frame buffer (header + payload) from
// an already-decoded Frame, so wire.Reader's cursor (which starts right
// after the header) can be reused to parse a handler's payload fields.
func prependHeader(f wire.Frame) []byte {
	w := wire.NewWriter(f.Cmd, f.ReqID)
	w.WriteRaw(f.Payload)
	return w.Finalize()
}

// Resolver adapts AlphaClique into fsnode.RemoteResolver: a synchronous
// FS_REQ round trip through the request registry, per spec.md §4.7's
// GetObject miss path.
type Resolver struct {
	ac *AlphaClique
}

func NewResolver(ac *AlphaClique) *Resolver { return &Resolver{ac: ac} }

func (res *Resolver) ResolveFS(path string) (fsnode.MetadataRecord, errno.Errno) {
	ac := res.ac
	var target *reactor.Peer
	for _, addr := range ac.Snapshot() {
		if peer, ok := ac.r.Sockets.Get(addr); ok {
			target = peer
			break
		}
	}
	if target == nil {
		return fsnode.MetadataRecord{}, errno.ENOENT
	}

	reqID := ac.allocReqID()
	ac.reg.Register(wire.FS_RESP, reqID, ac.reqTimeout)

	w := wire.NewWriter(wire.FS_REQ, reqID)
	w.WriteASCIIZ(path)
	ac.r.Send(target, w.Frame())

	resp, ok := ac.reg.Wait(reqID)
	if !ok {
		return fsnode.MetadataRecord{}, errno.ETIMEDOUT
	}

	r := wire.NewReader(prependHeader(resp))
	errc := errno.Errno(r.ReadI32())
	if errc.IsErr() {
		return fsnode.MetadataRecord{}, errc
	}
	return fsnode.ReadMetadata(r), errno.OK
}
