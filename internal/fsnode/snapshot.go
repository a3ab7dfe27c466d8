package fsnode

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rpcarback/buddyfs/internal/drm"
	"github.com/rpcarback/buddyfs/internal/wire"
)

// SnapshotName is the on-disk file holding the local tree's persisted
// state, relative to the node's buddy directory.
const SnapshotName = "local_data"

// snapshotCmd mirrors ObjType 1:1 but keeps the wire tag independent
// of the in-memory enum, since a Command byte is what the frame header's
// type slot actually carries.
func snapshotCmd(typ ObjType) wire.Command {
	return wire.Command(typ)
}

// writeRecord appends one object's snapshot record to w, reusing the wire
// frame header ([type][length][reqid]) as the record header exactly as
// the broadcast/snapshot format in the system's on-disk layout specifies.
func writeRecord(w io.Writer, path string, n Node, drmMgr drm.DRM) error {
	fw := wire.NewWriter(snapshotCmd(n.Type()), 0)
	fw.WriteASCIIZ(path)
	fw.WriteU32(n.Mode())
	fw.WriteU32(uint32(n.MTime()))
	fw.WriteU32(uint32(n.CTime()))

	if f, ok := n.(*File); ok {
		isLocal := f.LocalSize() > 0 || f.Version() > 0
		fw.WriteBool(isLocal)
		if isLocal {
			fw.WriteI32(f.Version())
			fw.WriteU32(f.LocalSize())

			if drmMgr != nil {
				_ = drmMgr.WriteDRM(f, fw)
			}

			body := f.snapshotBody()
			if drmMgr != nil {
				enc, err := drmMgr.Encrypt(f, body)
				if err == nil {
					body = enc
				}
			}
			fw.WriteRaw(body)
		}
	}

	_, err := w.Write(fw.Finalize())
	return err
}

// snapshotBody returns the locally materialized content, for persisting
// into the snapshot's encrypted_body field.
func (f *File) snapshotBody() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, f.local)
	copy(out, f.data[:f.local])
	return out
}

// SaveLocal writes the whole tree to <dir>/local_data, via a temp file
// renamed into place so a concurrent LoadLocal (or a crash mid-write)
// never observes a half-written snapshot (Open Question 3).
func (t *Tree) SaveLocal(dir string) error {
	target := filepath.Join(dir, SnapshotName)
	tmp := target + ".tmp"

	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	t.mu.RLock()
	err = saveFolder(file, t.root, "", t.drm)
	t.mu.RUnlock()

	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, target)
}

func saveFolder(w io.Writer, folder *Folder, prefix string, drmMgr drm.DRM) error {
	for _, child := range folder.Children() {
		path := child.Name()
		if prefix != "" {
			path = prefix + "/" + child.Name()
		}
		if err := writeRecord(w, path, child, drmMgr); err != nil {
			return err
		}
		if sub, ok := child.(*Folder); ok {
			if err := saveFolder(w, sub, path, drmMgr); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadLocal reads <dir>/local_data (if present) and repopulates the tree.
// It runs once at startup, before the reactor starts accepting peers.
func (t *Tree) LoadLocal(dir string) error {
	raw, err := os.ReadFile(filepath.Join(dir, SnapshotName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pos := 0
	for pos+wire.HeaderSize <= len(raw) {
		// A file record carries the whole body, so it is bounded by the
		// snapshot file rather than by the wire's MaxFrameLen.
		length := wire.NewReader(raw[pos:]).Length()
		if length < wire.HeaderSize || pos+length > len(raw) {
			break
		}
		t.loadRecordLocked(wire.NewReader(raw[pos : pos+length]))
		pos += length
	}
	return nil
}

func (t *Tree) loadRecordLocked(r *wire.Reader) {
	typ := ObjType(r.Command())
	path := r.ReadASCIIZ(4096)
	mode := r.ReadU32()
	mtime := int64(r.ReadU32())
	ctime := int64(r.ReadU32())

	segs := splitPath(path)
	if len(segs) == 0 {
		return
	}

	dir := t.root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := dir.Get(seg)
		if !ok {
			nf := NewFolder(seg)
			dir.add(nf)
			dir = nf
			continue
		}
		sub, ok := child.(*Folder)
		if !ok {
			return
		}
		dir = sub
	}
	leaf := segs[len(segs)-1]

	switch typ {
	case TypeDir:
		nf := NewFolder(leaf)
		nf.SetMode(mode)
		nf.SetMTime(mtime)
		nf.ctime = ctime
		dir.add(nf)
	case TypeFile:
		f := NewFile(leaf, t.drm)
		f.SetMode(mode)
		f.SetMTime(mtime)
		f.ctime = ctime
		// Attach to the tree before touching DRM state: ReadDRM/Decrypt
		// key off the file's path, which only resolves once its parent
		// back-reference is set.
		dir.add(f)
		if t.newClique != nil {
			f.SetClique(t.newClique(f))
		}

		isLocal := r.ReadBool()
		if isLocal {
			f.version = r.ReadI32()
			size := r.ReadU32()
			f.size = size
			f.local = size
			f.received = size

			if t.drm != nil {
				_ = t.drm.ReadDRM(f, r)
			}
			body := r.ReadRaw(r.Length() - r.Tell())
			if t.drm != nil {
				if dec, err := t.drm.Decrypt(f, body); err == nil {
					body = dec
				}
			}
			f.data = make([]byte, size)
			copy(f.data, body)
			f.capacity = size
		}
	}
}
