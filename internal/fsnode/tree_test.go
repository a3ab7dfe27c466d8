package fsnode

import (
	"testing"

	"github.com/rpcarback/buddyfs/internal/drm"
	"github.com/rpcarback/buddyfs/internal/errno"
)

func newTestTree() *Tree {
	return NewTree(nil, nil, drm.NewLocalDRM([]byte("k")), func() bool { return true })
}

func TestAddObjectRejectsMissingIntermediateWithoutBrokenPaths(t *testing.T) {
	tr := newTestTree()
	if _, errc := tr.AddObject("a/b", TypeFile, false); errc != errno.ENOENT {
		t.Fatalf("expected ENOENT, got %v", errc)
	}
}

func TestAddObjectCreatesBrokenPaths(t *testing.T) {
	tr := newTestTree()
	n, errc := tr.AddObject("a/b/c", TypeFile, true)
	if errc.IsErr() {
		t.Fatalf("AddObject failed: %v", errc)
	}
	if FullPath(n) != "a/b/c" {
		t.Fatalf("path = %q", FullPath(n))
	}
}

func TestAddObjectDuplicateFails(t *testing.T) {
	tr := newTestTree()
	tr.AddObject("a", TypeDir, true)
	if _, errc := tr.AddObject("a", TypeDir, true); errc != errno.EEXIST {
		t.Fatalf("expected EEXIST, got %v", errc)
	}
}

func TestAddObjectBeneathFileFails(t *testing.T) {
	tr := newTestTree()
	tr.AddObject("a", TypeFile, true)
	if _, errc := tr.AddObject("a/b", TypeFile, true); errc != errno.ENOTDIR {
		t.Fatalf("expected ENOTDIR, got %v", errc)
	}
}

func TestGetObjectReturnsAddedObjectUntilRemoved(t *testing.T) {
	tr := newTestTree()
	want, _ := tr.AddObject("a/c", TypeFile, true)

	got, errc := tr.GetObject("a/c")
	if errc.IsErr() || got != want {
		t.Fatalf("expected to get back the added object, got %v err=%v", got, errc)
	}

	tr.RemoveObject("a/c")
	if _, errc := tr.GetObject("a/c"); errc != errno.ENOENT {
		t.Fatalf("expected ENOENT after remove, got %v", errc)
	}
}

func TestGetObjectMissResolvesThroughRemoteResolver(t *testing.T) {
	resolver := resolverFunc(func(path string) (MetadataRecord, errno.Errno) {
		return MetadataRecord{Path: path, Type: TypeFile, Mode: 0644}, errno.OK
	})
	tr := NewTree(resolver, nil, drm.NewLocalDRM([]byte("k")), func() bool { return false })

	n, errc := tr.GetObject("x/y")
	if errc.IsErr() {
		t.Fatalf("expected resolution to succeed, got %v", errc)
	}
	if FullPath(n) != "x/y" {
		t.Fatalf("path = %q", FullPath(n))
	}
}

func TestGetObjectMissAsAlphaFailsWithoutResolving(t *testing.T) {
	tr := newTestTree() // isAlpha always true
	if _, errc := tr.GetObject("nope"); errc != errno.ENOENT {
		t.Fatalf("expected ENOENT, got %v", errc)
	}
}

func TestRemoveObjectRecursesIntoChildren(t *testing.T) {
	tr := newTestTree()
	tr.AddObject("a/b/c", TypeFile, true)
	if errc := tr.RemoveObject("a"); errc.IsErr() {
		t.Fatalf("remove failed: %v", errc)
	}
	if _, errc := tr.GetObject("a/b/c"); errc != errno.ENOENT {
		t.Fatalf("expected children gone, got %v", errc)
	}
}

func TestMoveRelinksUnderNewParent(t *testing.T) {
	tr := newTestTree()
	n, _ := tr.AddObject("a/c", TypeFile, true)

	if errc := tr.Move(n, "d/e"); errc.IsErr() {
		t.Fatalf("move failed: %v", errc)
	}
	if FullPath(n) != "d/e" {
		t.Fatalf("path after move = %q", FullPath(n))
	}
	if _, errc := tr.GetObject("a/c"); errc != errno.ENOENT {
		t.Fatal("expected old path gone")
	}
}

func TestMoveCollisionRollsBackUnderOriginalParent(t *testing.T) {
	tr := newTestTree()
	n, _ := tr.AddObject("a/c", TypeFile, true)
	tr.AddObject("d/e", TypeFile, true) // occupies the destination

	if errc := tr.Move(n, "d/e"); errc != errno.EEXIST {
		t.Fatalf("expected EEXIST, got %v", errc)
	}
	if FullPath(n) != "a/c" {
		t.Fatalf("expected n to remain at its original path, got %q", FullPath(n))
	}
	if _, errc := tr.GetObject("a/c"); errc.IsErr() {
		t.Fatal("expected n still reachable at its original path after rollback")
	}
}

func TestExpireSliceRemovesExpiredNonLocalEntry(t *testing.T) {
	tr := NewTree(nil, nil, drm.NewLocalDRM([]byte("k")), func() bool { return false })
	n, _ := tr.AddObject("cached", TypeFile, true)
	n.SetExpire(1) // far in the past

	tr.ExpireSlice()
	if _, errc := tr.GetObject("cached"); errc != errno.ENOENT {
		t.Fatal("expected expired entry removed")
	}
}

func TestExpireSliceSkippedForAlpha(t *testing.T) {
	tr := newTestTree() // isAlpha true
	n, _ := tr.AddObject("cached", TypeFile, true)
	n.SetExpire(1)

	tr.ExpireSlice()
	if _, errc := tr.GetObject("cached"); errc.IsErr() {
		t.Fatal("alpha should never expire its own authoritative entries")
	}
}

func TestExpireSliceFolderSurvivesIfAnyChildNotExpired(t *testing.T) {
	tr := NewTree(nil, nil, drm.NewLocalDRM([]byte("k")), func() bool { return false })
	folder, _ := tr.AddObject("dir", TypeDir, true)
	folder.SetExpire(1)
	expired, _ := tr.AddObject("dir/old", TypeFile, true)
	expired.SetExpire(1)
	fresh, _ := tr.AddObject("dir/new", TypeFile, true)
	fresh.SetExpire(0)

	tr.ExpireSlice()

	if _, errc := tr.GetObject("dir"); errc.IsErr() {
		t.Fatal("expected folder to survive because one child never expires")
	}
	if _, errc := tr.GetObject("dir/old"); errc != errno.ENOENT {
		t.Fatal("expected the individually expired child to be gone regardless")
	}
	if _, errc := tr.GetObject("dir/new"); errc.IsErr() {
		t.Fatal("expected the fresh child to remain")
	}
}

type resolverFunc func(path string) (MetadataRecord, errno.Errno)

func (f resolverFunc) ResolveFS(path string) (MetadataRecord, errno.Errno) { return f(path) }
