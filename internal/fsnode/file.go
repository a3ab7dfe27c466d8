package fsnode

import (
	"sync"

	"github.com/rpcarback/buddyfs/internal/drm"
	"github.com/rpcarback/buddyfs/internal/wire"
)

// BlockSize is the unit both download pacing (READ_REQ/DATA_BLOCK) and the
// write-shadow buffer grow by.
const BlockSize = 4096

// Open-mode bits, matching the O_ACCMODE mask a POSIX caller passes through
// the mount adapter.
const (
	ORdOnly  = 0
	OWrOnly  = 1
	ORdWr    = 2
	OAccMode = 3
)

// StorageClique is the narrow view of a per-file replica clique that a File
// needs; it is defined here (rather than imported from package clique) so
// clique can depend on fsnode without fsnode depending back on clique.
type StorageClique interface {
	Join(sync bool)
	Members() []wire.NetAddress
	AddMember(addr wire.NetAddress)
	DownloadFrom(source wire.NetAddress, version int32, size uint32)
	NoDownload()
}

// File is an FSObject that additionally owns a payload buffer, a
// write-shadow buffer, a per-handle open table, and a FileStorageClique.
type File struct {
	base

	mu sync.Mutex

	data     []byte
	capacity uint32
	size     uint32 // logical/advertised size
	local    uint32 // locally materialized size
	received uint32 // bytes received so far during an in-flight download

	wb     []byte // write-shadow buffer, populated on Open for write
	wbSize uint32

	opens      map[int]int // handle -> flags & OAccMode
	nextHandle int
	reads      int
	writing    bool

	version     int32
	downloading bool
	inflightID  uint32

	clique StorageClique
	drm    drm.DRM
}

// NewFile constructs a detached file named name, wired to drmMgr for
// content encryption and rights checks.
func NewFile(name string, drmMgr drm.DRM) *File {
	return &File{
		base:  newBase(name, TypeFile),
		opens: make(map[int]int),
		drm:   drmMgr,
	}
}

func (f *File) Path() string { return FullPath(f) }

// SetClique attaches the per-file replica clique; called once by whatever
// created the File (AddObject locally, or materialization of a remote
// metadata record).
func (f *File) SetClique(c StorageClique) {
	f.mu.Lock()
	f.clique = c
	f.mu.Unlock()
}

func (f *File) Clique() StorageClique {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clique
}

func (f *File) Version() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

func (f *File) Size() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// SetSize overrides the advertised logical size, used when a remote
// FILE_UPDATE reports a new size for a file this node only caches.
func (f *File) SetSize(size uint32) {
	f.mu.Lock()
	f.size = size
	f.mu.Unlock()
}

func (f *File) LocalSize() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *File) Received() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.received
}

func (f *File) IsDownloading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloading
}

// IsWriting reports whether the file is presently open for local writing
// (an OWrOnly/ORdWr handle is outstanding), used to deny a write-intent
// OPEN_REQ from another peer with EBUSY.
func (f *File) IsWriting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writing
}

func (f *File) InflightID() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inflightID
}

// BeginDownload puts the file into downloading state: version is set,
// received resets to zero, the buffer grows to hold size bytes rounded up
// to 512, and the in-flight id is stamped for the first READ_REQ.
func (f *File) BeginDownload(version int32, size uint32, reqID uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.version = version
	f.downloading = true
	f.received = 0
	f.local = size
	f.size = size
	roundedCap := ((size / 512) + 1) * 512
	if roundedCap > f.capacity {
		f.data = make([]byte, roundedCap)
		f.capacity = roundedCap
	}
	f.inflightID = reqID
}

// NoDownload leaves downloading state without discarding existing content.
func (f *File) NoDownload() {
	f.mu.Lock()
	f.downloading = false
	f.mu.Unlock()
}

// AppendBlock is called by the file storage clique's DATA_BLOCK handler: it
// appends bytes received at the current offset, advances received, and
// reports whether the download is now complete.
func (f *File) AppendBlock(reqID uint32, payload []byte) (done bool, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.downloading || reqID != f.inflightID {
		return false, false
	}
	end := f.received + uint32(len(payload))
	if end > uint32(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
		f.capacity = end
	}
	copy(f.data[f.received:end], payload)
	f.received = end
	if f.received >= f.size {
		f.downloading = false
	}
	return !f.downloading, true
}

// NextReadOffset reports the offset the next READ_REQ should ask for, and
// whether a next request is needed at all.
func (f *File) NextReadOffset() (offset uint32, needed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.downloading {
		return 0, false
	}
	return f.received, true
}

// SetInflightID records the request id of the READ_REQ currently awaiting
// a DATA_BLOCK reply.
func (f *File) SetInflightID(id uint32) {
	f.mu.Lock()
	f.inflightID = id
	f.mu.Unlock()
}
