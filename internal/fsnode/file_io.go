package fsnode

import (
	"time"

	"github.com/rpcarback/buddyfs/internal/drm"
	"github.com/rpcarback/buddyfs/internal/errno"
)

// pollInterval is how often a blocked Read rechecks download progress; the
// source used a tight sched_yield/usleep spin, which busy-waits a CPU for
// no benefit in Go — a short sleep gets the same "suspension point" the
// concurrency model describes without pinning a core.
const pollInterval = 2 * time.Millisecond

// Open records (handle -> flags & OAccMode); on a writable open it snapshots
// the current content into the write-shadow buffer, and on a readable open
// it bumps the read counter.
func (f *File) Open(flags int) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	mode := flags & OAccMode
	handle := f.nextHandle
	f.nextHandle++

	if mode == OWrOnly || mode == ORdWr {
		f.writing = true
		if f.capacity > 0 && f.local > 0 {
			f.wb = make([]byte, f.local)
			copy(f.wb, f.data[:f.local])
			f.wbSize = f.local
		} else {
			f.wb = nil
			f.wbSize = 0
		}
	}
	if mode == ORdOnly || mode == ORdWr {
		f.reads++
	}

	f.opens[handle] = mode
	return handle
}

// Close is Open's inverse for handle.
func (f *File) Close(handle int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	mode, ok := f.opens[handle]
	if !ok {
		return
	}
	if mode == OWrOnly || mode == ORdWr {
		f.writing = false
		f.wb = nil
		f.wbSize = 0
	}
	if mode == ORdOnly || mode == ORdWr {
		f.reads--
	}
	delete(f.opens, handle)
}

// Read clamps to the locally materialized size; if the file is still
// downloading and the requested range extends past what's been received,
// it busy-waits (short sleeps) up to a deadline of 10s plus one second per
// 16 MiB still outstanding. If the deadline passes it returns 0, ETIMEDOUT;
// if the wait ends earlier, it returns as much as became available.
func (f *File) Read(buf []byte, offset uint32) (int, errno.Errno) {
	f.mu.Lock()
	if f.data == nil || f.local == 0 {
		f.mu.Unlock()
		return 0, errno.OK
	}
	if offset > f.local {
		f.mu.Unlock()
		return 0, errno.OK
	}
	size := uint32(len(buf))
	if offset+size > f.local {
		size = f.local - offset
	}
	end := offset + size
	needWait := f.downloading && f.received < end
	pending := int64(end) - int64(f.received)
	f.mu.Unlock()

	if needWait {
		deadline := time.Now().Add(10*time.Second + time.Duration(pending/(1<<24))*time.Second)
		for {
			f.mu.Lock()
			stillWaiting := f.downloading && f.received < end
			f.mu.Unlock()
			if !stillWaiting {
				break
			}
			if time.Now().After(deadline) {
				return 0, errno.ETIMEDOUT
			}
			time.Sleep(pollInterval)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.received < end {
		if f.received < offset {
			size = 0
		} else {
			size = f.received - offset
		}
	}
	if size > 0 {
		copy(buf[:size], f.data[offset:offset+size])
	}
	return int(size), errno.OK
}

// Write consults the DRM collaborator (CanAppend past local size, else
// CanWrite), then grows the write-shadow buffer in BlockSize-sized chunks
// and copies buf in at offset.
func (f *File) Write(buf []byte, offset uint32, d drm.DRM) (int, errno.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()

	size := uint32(len(buf))
	end := offset + size

	if offset >= f.local {
		if !d.CanAppend(f) {
			return 0, errno.EACCES
		}
	} else if !d.CanWrite(f) {
		return 0, errno.EACCES
	}

	if end > uint32(len(f.wb)) {
		newCap := (end/BlockSize + 1) * BlockSize
		grown := make([]byte, newCap)
		copy(grown, f.wb[:f.wbSize])
		f.wb = grown
	}
	copy(f.wb[offset:end], buf)
	if end > f.wbSize {
		f.wbSize = end
	}
	return int(size), errno.OK
}

// Flush replaces the materialized content with the write-shadow buffer and
// clears downloading state; a subsequent metadata broadcast advertises the
// new size and mtime.
func (f *File) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.wb != nil {
		f.data = f.wb
		f.capacity = uint32(len(f.wb))
		f.received = f.wbSize
		f.local = f.wbSize
		f.size = f.wbSize
	} else {
		f.data = make([]byte, BlockSize)
		f.capacity = BlockSize
		f.received = 0
		f.local = 0
		f.size = 0
	}
	f.downloading = false
}
