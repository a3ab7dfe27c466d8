package clique

import (
	"time"

	"github.com/rpcarback/buddyfs/internal/drm"
	"github.com/rpcarback/buddyfs/internal/errno"
	"github.com/rpcarback/buddyfs/internal/fsnode"
	"github.com/rpcarback/buddyfs/internal/reactor"
	"github.com/rpcarback/buddyfs/internal/wire"
)

// FileStorageClique is the per-file replica set of spec.md §4.6: one
// instance per File, tracking which peers hold a copy (or are currently
// downloading from one) and mediating OPEN/READ/DATA_BLOCK/DRM traffic
// for that single file.
type FileStorageClique struct {
	MemberSet

	r    *reactor.Reactor
	tree *fsnode.Tree
	file *fsnode.File
	drm  drm.DRM

	nextReqID uint32
}

// NewFileStorageClique builds the replica clique for file, wired to r for
// outbound sends, tree so its own RENAME handler can relink the file
// in-place, and drmMgr for DRM_REQ/UPDATE_DRM handling. It satisfies
// fsnode.StorageClique.
func NewFileStorageClique(r *reactor.Reactor, tree *fsnode.Tree, file *fsnode.File, drmMgr drm.DRM) *FileStorageClique {
	return &FileStorageClique{r: r, tree: tree, file: file, drm: drmMgr}
}

func (c *FileStorageClique) path() string { return c.file.Path() }

func (c *FileStorageClique) allocReqID() uint32 {
	c.nextReqID++
	return c.nextReqID
}

// Join connects to every member without a live connection; if sync, it
// blocks until every dial attempt has completed.
func (c *FileStorageClique) Join(sync bool) {
	dial := func(addr wire.NetAddress) {
		if _, ok := c.r.Sockets.Get(addr); ok {
			return
		}
		c.r.Connect(addr)
	}
	if sync {
		for _, addr := range c.Snapshot() {
			dial(addr)
		}
		return
	}
	for _, addr := range c.Snapshot() {
		go dial(addr)
	}
}

// AddMember satisfies fsnode.StorageClique by delegating to MemberSet.Add.
func (c *FileStorageClique) AddMember(addr wire.NetAddress) { c.Add(addr) }

// Members satisfies fsnode.StorageClique.
func (c *FileStorageClique) Members() []wire.NetAddress { return c.Snapshot() }

func (c *FileStorageClique) OnConnect(p *reactor.Peer)    {}
func (c *FileStorageClique) OnDisconnect(p *reactor.Peer) { c.Remove(p.Remote) }
func (c *FileStorageClique) OnAddressChanged(old, new wire.NetAddress) { c.Rewrite(old, new) }

// OnReceive handles the six commands spec.md §4.6 lists. Each handler except
// DATA_BLOCK first checks the frame's path against this clique's own file;
// DATA_BLOCK carries no path and is matched by the file's in-flight request
// id instead. Either way a clique list iterating many files lets
// non-matching frames pass through.
func (c *FileStorageClique) OnReceive(p *reactor.Peer, f wire.Frame) bool {
	switch f.Cmd {
	case wire.OPEN_REQ:
		return c.handleOpenReq(p, f)
	case wire.READ_REQ:
		return c.handleReadReq(p, f)
	case wire.DATA_BLOCK:
		return c.handleDataBlock(p, f)
	case wire.DRM_REQ:
		return c.handleDRMReq(p, f)
	case wire.UPDATE_DRM:
		return c.handleUpdateDRM(p, f)
	case wire.RENAME:
		return c.handleRename(p, f)
	}
	return false
}

func (c *FileStorageClique) matchesPath(path string) bool { return path == c.path() }

func (c *FileStorageClique) handleOpenReq(p *reactor.Peer, f wire.Frame) bool {
	r := wire.NewReader(prependHeader(f))
	path := r.ReadASCIIZ(4096)
	flags := r.ReadU32()
	if !c.matchesPath(path) {
		return false
	}

	w := wire.NewWriter(wire.OPEN_RESP, f.ReqID)
	if c.file.IsDownloading() == false && (flags&fsnode.OAccMode) != fsnode.ORdOnly && c.fileIsWriteLocked() {
		w.WriteI32(int32(errno.EBUSY))
		c.r.Send(p, w.Frame())
		return true
	}

	version := int32(0)
	if !c.file.IsDownloading() {
		version = c.file.Version()
	}
	w.WriteI32(version)
	w.WriteAddress(c.localSource())
	c.r.Send(p, w.Frame())
	c.Add(p.Remote)
	return true
}

// fileIsWriteLocked reports whether the file is presently open for local
// writing, which blocks a write-intent OPEN_REQ from another peer.
func (c *FileStorageClique) fileIsWriteLocked() bool {
	return c.file.IsWriting()
}

func (c *FileStorageClique) localSource() wire.NetAddress { return c.r.LocalAddr() }

func (c *FileStorageClique) handleReadReq(p *reactor.Peer, f wire.Frame) bool {
	r := wire.NewReader(prependHeader(f))
	path := r.ReadASCIIZ(4096)
	offset := r.ReadU32()
	if !c.matchesPath(path) {
		return false
	}

	size := fsnode.BlockSize
	if remaining := int(c.file.Size()) - int(offset); remaining < size {
		size = remaining
	}
	if size < 0 {
		size = 0
	}

	if c.file.IsDownloading() {
		received := c.file.Received()
		if offset+uint32(size) > received {
			pending := int64(offset) + int64(size) - int64(received)
			deadline := time.Now().Add(10*time.Second + time.Duration(pending>>24)*time.Second)
			for c.file.IsDownloading() && offset+uint32(size) > c.file.Received() {
				if time.Now().After(deadline) {
					return false // not-handled: let the caller retry later
				}
				time.Sleep(2 * time.Millisecond)
			}
		}
	}

	buf := make([]byte, size)
	n, errc := c.file.Read(buf, offset)
	if errc.IsErr() {
		return false
	}

	w := wire.NewWriter(wire.DATA_BLOCK, f.ReqID)
	w.WriteRaw(buf[:n])
	c.r.Send(p, w.Frame())
	return true
}

func (c *FileStorageClique) handleDataBlock(p *reactor.Peer, f wire.Frame) bool {
	if !c.file.IsDownloading() {
		return false
	}
	done, ok := c.file.AppendBlock(f.ReqID, f.Payload)
	if !ok {
		return false
	}
	if done {
		c.AddMember(c.localSource())
		return true
	}

	offset, needed := c.file.NextReadOffset()
	if !needed {
		return true
	}
	reqID := c.allocReqID()
	c.file.SetInflightID(reqID)

	w := wire.NewWriter(wire.READ_REQ, reqID)
	w.WriteASCIIZ(c.path())
	w.WriteU32(offset)
	if peer, ok := c.r.Sockets.Get(p.Remote); ok {
		c.r.Send(peer, w.Frame())
	}
	return true
}

func (c *FileStorageClique) handleDRMReq(p *reactor.Peer, f wire.Frame) bool {
	r := wire.NewReader(prependHeader(f))
	path := r.ReadASCIIZ(4096)
	if !c.matchesPath(path) {
		return false
	}

	w := wire.NewWriter(wire.DRM_RESP, f.ReqID)
	if c.drm != nil {
		c.drm.WriteDRM(c.file, w)
	}
	c.r.Send(p, w.Frame())
	return true
}

func (c *FileStorageClique) handleUpdateDRM(p *reactor.Peer, f wire.Frame) bool {
	r := wire.NewReader(prependHeader(f))
	path := r.ReadASCIIZ(4096)
	if !c.matchesPath(path) {
		return false
	}
	if c.drm != nil {
		c.drm.ReadDRM(c.file, r)
	}
	return true
}

// handleRename implements the single-hop, no-broadcast RENAME spec.md §4.6
// describes: a file storage clique that owns the old path relinks its own
// file in the tree directly, independent of whatever the alpha clique does
// with the folder-level broadcast.
func (c *FileStorageClique) handleRename(p *reactor.Peer, f wire.Frame) bool {
	r := wire.NewReader(prependHeader(f))
	from := r.ReadASCIIZ(4096)
	to := r.ReadASCIIZ(4096)
	if !c.matchesPath(from) {
		return false
	}
	if c.tree != nil {
		c.tree.Move(c.file, to)
	}
	return true
}

// DownloadFrom puts the file into downloading state and kicks off the
// first READ_REQ at offset 0, per spec.md §4.6.
func (c *FileStorageClique) DownloadFrom(source wire.NetAddress, version int32, size uint32) {
	reqID := c.allocReqID()
	c.file.BeginDownload(version, size, reqID)

	w := wire.NewWriter(wire.READ_REQ, reqID)
	w.WriteASCIIZ(c.path())
	w.WriteU32(0)

	if peer, ok := c.r.Sockets.Get(source); ok {
		c.r.Send(peer, w.Frame())
		return
	}
	peer, err := c.r.Connect(source)
	if err == nil {
		c.r.Send(peer, w.Frame())
	}
}

// NoDownload satisfies fsnode.StorageClique by delegating to the file.
func (c *FileStorageClique) NoDownload() { c.file.NoDownload() }
