// Package drm defines the rights-management collaborator interface BuddyFS's
// core calls into. The real rights layer is an external collaborator per
// spec.md §1 ("Out of scope... the DRM/rights layer"); this package only
// defines the narrow interface the core depends on, plus one default, always
// permissive implementation so the core has something concrete to exercise.
package drm

import "github.com/rpcarback/buddyfs/internal/wire"

// Object is the minimal view of an FSObject the DRM collaborator needs: just
// enough to key per-file state, without creating an import cycle back into
// internal/fsnode.
type Object interface {
	Path() string
}

// DRM is the collaborator interface consumed by the core, matching spec.md
// §6 exactly: CanRead/Write/Append/Remove, IsSiteAllowed, read/write of an
// opaque blob, and Encrypt/Decrypt of file content.
type DRM interface {
	CanRead(obj Object) bool
	CanWrite(obj Object) bool
	CanAppend(obj Object) bool
	CanRemove(obj Object) bool
	IsSiteAllowed(obj Object, addr wire.NetAddress) bool

	// ReadDRM/WriteDRM persist the opaque per-file blob into/out of a
	// frame cursor, used by DRM_REQ/DRM_RESP/UPDATE_DRM and by the
	// on-disk snapshot format.
	ReadDRM(obj Object, r *wire.Reader) error
	WriteDRM(obj Object, w *wire.Writer) error

	// Encrypt/Decrypt transform a file's content for at-rest storage or
	// for transmission, keyed by the object's identity.
	Encrypt(obj Object, plaintext []byte) ([]byte, error)
	Decrypt(obj Object, ciphertext []byte) ([]byte, error)
}
