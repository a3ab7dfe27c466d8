package fsnode

import (
	"testing"

	"github.com/rpcarback/buddyfs/internal/wire"
)

func TestMetadataRecordRoundTrip(t *testing.T) {
	rec := MetadataRecord{
		Path:  "a/b.txt",
		Type:  TypeFile,
		Mode:  0644,
		MTime: 1000,
		CTime: 999,
		Size:  42,
		Replicas: []wire.NetAddress{
			{IP: [4]byte{10, 0, 0, 1}, Port: 9000},
		},
	}

	w := wire.NewWriter(wire.MAKE_ALPHA, 1)
	WriteMetadata(w, rec)
	buf := w.Finalize()

	r := wire.NewReader(buf)
	got := ReadMetadata(r)

	if got.Path != rec.Path || got.Type != rec.Type || got.Mode != rec.Mode {
		t.Fatalf("mismatch: %+v", got)
	}
	if got.Size != rec.Size || len(got.Replicas) != 1 || got.Replicas[0] != rec.Replicas[0] {
		t.Fatalf("replica mismatch: %+v", got)
	}
}

func TestWriteFullListWalksEveryObject(t *testing.T) {
	tr := newTestTree()
	tr.AddObject("a/b.txt", TypeFile, true)
	tr.AddObject("a/c", TypeDir, true)

	w := wire.NewWriter(wire.MAKE_ALPHA, 1)
	tr.WriteFullList(w)
	buf := w.Finalize()

	r := wire.NewReader(buf)
	seen := map[string]bool{}
	for !r.AtEnd() {
		rec := ReadMetadata(r)
		if rec.Path == "" {
			break
		}
		seen[rec.Path] = true
	}
	for _, want := range []string{"a", "a/b.txt", "a/c"} {
		if !seen[want] {
			t.Fatalf("expected %q in full list, got %v", want, seen)
		}
	}
}
