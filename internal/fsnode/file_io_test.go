package fsnode

import (
	"bytes"
	"testing"

	"github.com/rpcarback/buddyfs/internal/drm"
	"github.com/rpcarback/buddyfs/internal/errno"
	"github.com/rpcarback/buddyfs/internal/wire"
)

func TestFileWriteFlushRead(t *testing.T) {
	d := drm.NewLocalDRM([]byte("secret"))
	f := NewFile("a.txt", d)

	h := f.Open(OWrOnly)
	defer f.Close(h)

	payload := []byte("hello buddy")
	n, errc := f.Write(payload, 0, d)
	if errc.IsErr() || n != len(payload) {
		t.Fatalf("write failed: n=%d err=%v", n, errc)
	}
	f.Flush()

	buf := make([]byte, len(payload))
	n, errc = f.Read(buf, 0)
	if errc.IsErr() {
		t.Fatalf("read failed: %v", errc)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Fatalf("read mismatch: got %q", buf[:n])
	}
}

func TestFileReadBeyondLocalSizeReturnsZero(t *testing.T) {
	f := NewFile("empty.txt", drm.NewLocalDRM([]byte("k")))
	buf := make([]byte, 10)
	n, errc := f.Read(buf, 0)
	if errc.IsErr() || n != 0 {
		t.Fatalf("expected 0, OK for empty file, got n=%d err=%v", n, errc)
	}
}

func TestFileReadReturnsReceivedBytesWhileDownloading(t *testing.T) {
	f := NewFile("big.bin", drm.NewLocalDRM([]byte("k")))
	f.BeginDownload(1, 4096, 7)
	// Only the first 10 of 4096 bytes arrive; a Read confined to those
	// bytes must not wait on the rest of the download.
	done, ok := f.AppendBlock(7, bytes.Repeat([]byte{1}, 10))
	if !ok || done {
		t.Fatalf("expected partial, non-terminal append: done=%v ok=%v", done, ok)
	}

	buf := make([]byte, 10)
	n, errc := f.Read(buf, 0)
	if errc.IsErr() || n != 10 {
		t.Fatalf("expected to read the 10 received bytes, got n=%d err=%v", n, errc)
	}
}

func TestFileAppendBlockCompletesDownload(t *testing.T) {
	f := NewFile("small.bin", drm.NewLocalDRM([]byte("k")))
	f.BeginDownload(1, 5, 3)

	done, ok := f.AppendBlock(3, []byte("hello"))
	if !ok {
		t.Fatal("expected matching in-flight id to be accepted")
	}
	if !done {
		t.Fatal("expected download to complete once received == size")
	}
	if f.IsDownloading() {
		t.Fatal("expected downloading cleared")
	}
}

func TestFileAppendBlockRejectsStaleRequestID(t *testing.T) {
	f := NewFile("small.bin", drm.NewLocalDRM([]byte("k")))
	f.BeginDownload(1, 5, 3)
	if _, ok := f.AppendBlock(999, []byte("hello")); ok {
		t.Fatal("expected stale request id to be rejected")
	}
}

func TestFileWriteDeniedSurfacesEACCES(t *testing.T) {
	f := NewFile("locked.txt", drm.NewLocalDRM([]byte("k")))
	_, errc := f.Write([]byte("x"), 0, denyAllDRM{})
	if errc != errno.EACCES {
		t.Fatalf("expected EACCES, got %v", errc)
	}
}

type denyAllDRM struct{}

func (denyAllDRM) CanRead(drm.Object) bool   { return false }
func (denyAllDRM) CanWrite(drm.Object) bool  { return false }
func (denyAllDRM) CanAppend(drm.Object) bool { return false }
func (denyAllDRM) CanRemove(drm.Object) bool { return false }

func (denyAllDRM) IsSiteAllowed(drm.Object, wire.NetAddress) bool { return false }
func (denyAllDRM) ReadDRM(drm.Object, *wire.Reader) error         { return nil }
func (denyAllDRM) WriteDRM(drm.Object, *wire.Writer) error        { return nil }
func (denyAllDRM) Encrypt(drm.Object, []byte) ([]byte, error)     { return nil, nil }
func (denyAllDRM) Decrypt(drm.Object, []byte) ([]byte, error)     { return nil, nil }
