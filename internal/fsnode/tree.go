package fsnode

import (
	"strings"
	"sync"
	"time"

	"github.com/rpcarback/buddyfs/internal/drm"
	"github.com/rpcarback/buddyfs/internal/errno"
)

// RemoteResolver is how Tree reaches outside itself on a GetObject miss: a
// non-alpha node synchronously asks the alpha clique for a path's metadata
// via FS_REQ and blocks on the request registry. Defined locally (rather
// than importing package clique) to keep the dependency one-directional —
// clique depends on fsnode, never the reverse.
type RemoteResolver interface {
	ResolveFS(path string) (MetadataRecord, errno.Errno)
}

// CliqueFactory builds the per-file replica clique for a newly materialized
// file, owned by whatever package wires the alpha/file-storage cliques
// together.
type CliqueFactory func(f *File) StorageClique

// Tree owns the single-root namespace and mediates every path lookup; it
// is the thing both the mount adapter and the clique packet handlers call
// into.
type Tree struct {
	mu   sync.RWMutex
	root *Folder

	resolver  RemoteResolver
	newClique CliqueFactory
	drm       drm.DRM
	isAlpha   func() bool
}

// NewTree constructs a tree with an empty root "/". resolver may be nil if
// this node never needs to resolve misses remotely (i.e. it is always
// alpha); newClique may be nil if file cliques are wired in later via
// File.SetClique.
func NewTree(resolver RemoteResolver, newClique CliqueFactory, drmMgr drm.DRM, isAlpha func() bool) *Tree {
	return &Tree{
		root:      NewFolder(""),
		resolver:  resolver,
		newClique: newClique,
		drm:       drmMgr,
		isAlpha:   isAlpha,
	}
}

func (t *Tree) Root() *Folder { return t.root }

// SetResolver wires the remote resolver after construction, used when the
// resolver itself depends on the tree it resolves into (the alpha clique
// needs a *Tree to build, and the tree's resolver is that same clique).
func (t *Tree) SetResolver(resolver RemoteResolver) {
	t.mu.Lock()
	t.resolver = resolver
	t.mu.Unlock()
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// walk descends from root following segs, returning the deepest folder
// reached and the remaining (unresolved) segments. If all segments resolve
// to a node, remaining is empty and found holds that node (folder or file).
func (t *Tree) walk(segs []string) (dir *Folder, found Node, remaining []string) {
	dir = t.root
	for i, seg := range segs {
		child, ok := dir.Get(seg)
		if !ok {
			return dir, nil, segs[i:]
		}
		if i == len(segs)-1 {
			return dir, child, nil
		}
		sub, ok := child.(*Folder)
		if !ok {
			// a file in the middle of the path blocks further descent
			return dir, nil, segs[i:]
		}
		dir = sub
	}
	return dir, nil, nil
}

// AddObject creates a new object of typ at path. If brokenPaths, missing
// intermediate folders are created as it walks; otherwise a missing
// intermediate folder is a failure. Adding a folder/file that already
// exists, or a child beneath an existing file, both fail with EEXIST /
// ENOTDIR respectively.
func (t *Tree) AddObject(path string, typ ObjType, brokenPaths bool) (Node, errno.Errno) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, errno.EINVAL
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	dir := t.root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := dir.Get(seg)
		if !ok {
			if !brokenPaths {
				return nil, errno.ENOENT
			}
			nf := NewFolder(seg)
			nf.SetMode(BrokenPathMode)
			dir.add(nf)
			dir = nf
			continue
		}
		sub, ok := child.(*Folder)
		if !ok {
			return nil, errno.ENOTDIR
		}
		dir = sub
	}

	leaf := segs[len(segs)-1]
	if _, exists := dir.Get(leaf); exists {
		return nil, errno.EEXIST
	}

	var n Node
	switch typ {
	case TypeDir:
		n = NewFolder(leaf)
	case TypeFile:
		f := NewFile(leaf, t.drm)
		if t.newClique != nil {
			f.SetClique(t.newClique(f))
		}
		n = f
	}
	dir.add(n)
	return n, errno.OK
}

// GetObject walks path; on a miss, a non-alpha node synchronously resolves
// it through the alpha clique and materializes the result before
// returning. A post-miss reattempt (after materialization) is treated as
// idempotent: if the add still fails, the subsequent lookup error is
// returned rather than recursing further.
func (t *Tree) GetObject(path string) (Node, errno.Errno) {
	segs := splitPath(path)
	if len(segs) == 0 {
		t.mu.RLock()
		defer t.mu.RUnlock()
		return t.root, errno.OK
	}

	t.mu.RLock()
	_, found, remaining := t.walk(segs)
	t.mu.RUnlock()

	if len(remaining) == 0 && found != nil {
		return found, errno.OK
	}

	if t.isAlpha != nil && t.isAlpha() {
		return nil, errno.ENOENT
	}
	if t.resolver == nil {
		return nil, errno.ENOENT
	}

	rec, errc := t.resolver.ResolveFS(path)
	if errc.IsErr() {
		return nil, errc
	}

	if err := t.materialize(rec); err.IsErr() {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	_, found, remaining = t.walk(segs)
	if len(remaining) != 0 || found == nil {
		return nil, errno.ENOENT
	}
	return found, errno.OK
}

// materialize inserts a remotely-resolved record into the tree, auto
// creating intermediate folders, and wires a file storage clique seeded
// with the record's replica set.
func (t *Tree) materialize(rec MetadataRecord) errno.Errno {
	t.mu.Lock()
	defer t.mu.Unlock()

	segs := splitPath(rec.Path)
	if len(segs) == 0 {
		return errno.EINVAL
	}

	dir := t.root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := dir.Get(seg)
		if !ok {
			nf := NewFolder(seg)
			nf.SetMode(BrokenPathMode)
			dir.add(nf)
			dir = nf
			continue
		}
		sub, ok := child.(*Folder)
		if !ok {
			return errno.ENOTDIR
		}
		dir = sub
	}

	leaf := segs[len(segs)-1]
	if _, exists := dir.Get(leaf); exists {
		return errno.OK // already materialized by a racing lookup
	}

	var n Node
	switch rec.Type {
	case TypeDir:
		nf := NewFolder(leaf)
		nf.SetMode(rec.Mode)
		nf.SetMTime(rec.MTime)
		n = nf
	case TypeFile:
		f := NewFile(leaf, t.drm)
		f.SetMode(rec.Mode)
		f.SetMTime(rec.MTime)
		f.size = rec.Size
		if t.newClique != nil {
			c := t.newClique(f)
			f.SetClique(c)
			for _, addr := range rec.Replicas {
				c.AddMember(addr)
			}
		}
		n = f
	}
	dir.add(n)
	return errno.OK
}

// RemoveObject recursively removes children first, then unlinks n from its
// parent. Files must have their content lock held across the unlink, which
// here is simply the file's own mutex since Go's GC makes an explicit
// destructor unnecessary.
func (t *Tree) RemoveObject(path string) errno.Errno {
	segs := splitPath(path)
	if len(segs) == 0 {
		return errno.EINVAL
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	_, found, remaining := t.walk(segs)
	if len(remaining) != 0 || found == nil {
		return errno.ENOENT
	}

	if folder, ok := found.(*Folder); ok {
		for _, child := range folder.Children() {
			removeLocked(folder, child)
		}
	}

	if f, ok := found.(*File); ok {
		f.mu.Lock()
		defer f.mu.Unlock()
	}

	parent := found.Parent()
	if parent != nil {
		parent.remove(found.Name())
	}
	return errno.OK
}

func removeLocked(parent *Folder, n Node) {
	if folder, ok := n.(*Folder); ok {
		for _, child := range folder.Children() {
			removeLocked(folder, child)
		}
	}
	parent.remove(n.Name())
}

// Move unlinks n from its parent, walks `to`'s directory prefix creating
// missing intermediate folders, renames n to the new leaf name, and
// relinks it there. A collision with an existing entry at the destination
// aborts the move and re-links n back under its original parent (Open
// Question 2: transactional rollback over leaving the object detached).
func (t *Tree) Move(n Node, to string) errno.Errno {
	segs := splitPath(to)
	if len(segs) == 0 {
		return errno.EINVAL
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	origParent := n.Parent()
	origName := n.Name()
	if origParent != nil {
		origParent.remove(origName)
	}

	dir := t.root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := dir.Get(seg)
		if !ok {
			nf := NewFolder(seg)
			nf.SetMode(BrokenPathMode)
			dir.add(nf)
			dir = nf
			continue
		}
		sub, ok := child.(*Folder)
		if !ok {
			if origParent != nil {
				n.setName(origName)
				origParent.add(n)
			}
			return errno.ENOTDIR
		}
		dir = sub
	}

	leaf := segs[len(segs)-1]
	if _, exists := dir.Get(leaf); exists {
		if origParent != nil {
			n.setName(origName)
			origParent.add(n)
		}
		return errno.EEXIST
	}

	n.setName(leaf)
	dir.add(n)
	return errno.OK
}

// ExpireSlice runs one cache-expiry pass over the whole tree. It is a
// no-op for an alpha node, which is the system's source of truth and
// never evicts its own metadata.
func (t *Tree) ExpireSlice() {
	if t.isAlpha != nil && t.isAlpha() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	recurseExpire(t.root, t.root, time.Now().Unix())
}

// recurseExpire mirrors the original FileSystem::RecurseExpire: a node is
// a candidate for expiry if it isn't local and its expire stamp is set and
// in the past. A folder only actually expires if every one of its
// children also independently expires (children are always visited, so
// they get the chance to evict themselves even when the folder survives).
// An expired node is spliced out of its parent's child list; root is never
// removed.
func recurseExpire(root *Folder, n Node, now int64) bool {
	expired := !isLocal(n) && n.Expire() > 0 && n.Expire() < now

	if expired {
		if folder, ok := n.(*Folder); ok {
			for _, child := range folder.Children() {
				expired = recurseExpire(root, child, now) && expired
			}
		}
	} else if folder, ok := n.(*Folder); ok {
		// Not itself a candidate, but children still get visited so they
		// can expire independently of their parent.
		for _, child := range folder.Children() {
			recurseExpire(root, child, now)
		}
	}

	if expired && n != Node(root) {
		if parent := n.Parent(); parent != nil {
			parent.remove(n.Name())
		}
	}
	return expired
}

// isLocal reports whether n is authoritative content on this node rather
// than cached remote metadata. A folder is never "local" on its own
// account — its expiry candidacy rests entirely on its expire stamp and
// its children's — while a file is local once its version is above zero.
// BeginDownload sets the version when a download starts, and LoadLocal
// restores it from the snapshot; Flush does not change it.
func isLocal(n Node) bool {
	f, ok := n.(*File)
	if !ok {
		return false
	}
	return f.Version() > 0
}
