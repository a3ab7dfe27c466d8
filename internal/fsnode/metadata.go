package fsnode

import "github.com/rpcarback/buddyfs/internal/wire"

// MetadataRecord is the materialized form of one path's metadata, as
// carried by FS_RESP, MAKE_ALPHA's bulk payload, and WriteFullList. It is
// the unit RemoteResolver returns and Tree.materialize consumes.
type MetadataRecord struct {
	Path     string
	Type     ObjType
	Mode     uint32
	MTime    int64
	CTime    int64
	Size     uint32
	Replicas []wire.NetAddress // files only
}

// WriteMetadata appends path's broadcast-format record to w: an ASCIIZ
// path, type byte, mode/mtime/ctime, and for files a size plus a replica
// list — the format MAKE_ALPHA and WriteFullList both share.
func WriteMetadata(w *wire.Writer, rec MetadataRecord) {
	w.WriteASCIIZ(rec.Path)
	w.WriteByte(byte(rec.Type))
	w.WriteU32(rec.Mode)
	w.WriteU32(uint32(rec.MTime))
	w.WriteU32(uint32(rec.CTime))
	if rec.Type == TypeFile {
		w.WriteU32(rec.Size)
		w.WriteI32(int32(len(rec.Replicas)))
		for _, addr := range rec.Replicas {
			w.WriteAddress(addr)
		}
	}
}

// ReadMetadata parses one broadcast-format record from r.
func ReadMetadata(r *wire.Reader) MetadataRecord {
	rec := MetadataRecord{
		Path:  r.ReadASCIIZ(4096),
		Type:  ObjType(r.ReadByte()),
		Mode:  r.ReadU32(),
		MTime: int64(r.ReadU32()),
		CTime: int64(r.ReadU32()),
	}
	if rec.Type == TypeFile {
		rec.Size = r.ReadU32()
		n := r.ReadI32()
		for i := int32(0); i < n; i++ {
			rec.Replicas = append(rec.Replicas, r.ReadAddress())
		}
	}
	return rec
}

// nodeToRecord builds the broadcast record for an already-materialized
// node, used by WriteFullList and by the snapshot writer's header fields.
func nodeToRecord(path string, n Node) MetadataRecord {
	rec := MetadataRecord{
		Path:  path,
		Type:  n.Type(),
		Mode:  n.Mode(),
		MTime: n.MTime(),
		CTime: n.CTime(),
	}
	if f, ok := n.(*File); ok {
		rec.Size = f.Size()
		if c := f.Clique(); c != nil {
			rec.Replicas = c.Members()
		}
	}
	return rec
}

// WriteFullList walks the tree depth-first from root, appending every
// object's broadcast record to w — the payload shape MAKE_ALPHA and
// FS_RESP's bulk variant both reuse.
func (t *Tree) WriteFullList(w *wire.Writer) {
	t.mu.RLock()
	root := t.root
	t.mu.RUnlock()
	writeFullListRecurse(w, root, "")
}

func writeFullListRecurse(w *wire.Writer, folder *Folder, prefix string) {
	for _, child := range folder.Children() {
		path := child.Name()
		if prefix != "" {
			path = prefix + "/" + child.Name()
		}
		WriteMetadata(w, nodeToRecord(path, child))
		if sub, ok := child.(*Folder); ok {
			writeFullListRecurse(w, sub, path)
		}
	}
}
