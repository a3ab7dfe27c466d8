package drm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"

	"github.com/rpcarback/buddyfs/internal/wire"
)

// salt mirrors the teacher's pbkdf2 key-expansion salt (client/main.go's
// SALT constant) — a fixed, public salt is fine for PBKDF2 used as a KDF
// rather than a password hash.
const salt = "buddyfs"

// LocalDRM is the default, always-permissive rights provider. It exists so
// the core has a concrete collaborator to call, and it addresses Open
// Question 4 by deriving a distinct AES-256-CTR key per file from the
// node's pre-shared key and the file's path, instead of a single static
// key/IV for the whole node.
type LocalDRM struct {
	nodeKey []byte

	mu  sync.Mutex
	ivs map[string][]byte // per-path IV, the "opaque blob" persisted via ReadDRM/WriteDRM
}

// NewLocalDRM derives per-file keys from nodeKey, the pre-shared secret
// configured for this BuddyFS node.
func NewLocalDRM(nodeKey []byte) *LocalDRM {
	return &LocalDRM{nodeKey: nodeKey, ivs: make(map[string][]byte)}
}

func (d *LocalDRM) CanRead(obj Object) bool   { return true }
func (d *LocalDRM) CanWrite(obj Object) bool  { return true }
func (d *LocalDRM) CanAppend(obj Object) bool { return true }
func (d *LocalDRM) CanRemove(obj Object) bool { return true }

func (d *LocalDRM) IsSiteAllowed(obj Object, addr wire.NetAddress) bool { return true }

func (d *LocalDRM) keyFor(path string) []byte {
	return pbkdf2.Key(d.nodeKey, []byte(salt+path), 4096, 32, sha1.New)
}

func (d *LocalDRM) ivFor(path string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	iv, ok := d.ivs[path]
	if !ok {
		iv = make([]byte, aes.BlockSize)
		if _, err := rand.Read(iv); err != nil {
			// crypto/rand failing is unrecoverable; fall back to a
			// deterministic (but still per-file) IV rather than panic.
			copy(iv, d.keyFor(path)[:aes.BlockSize])
		}
		d.ivs[path] = iv
	}
	return iv
}

// ReadDRM loads the opaque IV blob for obj from a frame cursor (used when
// materializing a snapshot record or a DRM_RESP payload).
func (d *LocalDRM) ReadDRM(obj Object, r *wire.Reader) error {
	iv := r.ReadRaw(aes.BlockSize)
	if len(iv) != aes.BlockSize {
		return errors.New("drm: short IV blob")
	}
	d.mu.Lock()
	d.ivs[obj.Path()] = iv
	d.mu.Unlock()
	return nil
}

// WriteDRM persists obj's opaque IV blob into a frame cursor.
func (d *LocalDRM) WriteDRM(obj Object, w *wire.Writer) error {
	w.WriteRaw(d.ivFor(obj.Path()))
	return nil
}

func (d *LocalDRM) Encrypt(obj Object, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(d.keyFor(obj.Path()))
	if err != nil {
		return nil, errors.Wrap(err, "drm: new cipher")
	}
	out := make([]byte, len(plaintext))
	cipher.NewCTR(block, d.ivFor(obj.Path())).XORKeyStream(out, plaintext)
	return out, nil
}

func (d *LocalDRM) Decrypt(obj Object, ciphertext []byte) ([]byte, error) {
	// CTR mode is its own inverse.
	return d.Encrypt(obj, ciphertext)
}
