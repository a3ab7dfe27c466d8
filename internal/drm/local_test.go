package drm

import (
	"bytes"
	"testing"

	"github.com/rpcarback/buddyfs/internal/wire"
)

type fakeObject string

func (f fakeObject) Path() string { return string(f) }

func TestLocalDRMEncryptDecryptRoundTrip(t *testing.T) {
	d := NewLocalDRM([]byte("shared-secret"))
	obj := fakeObject("/a/b.txt")

	plaintext := []byte("hello, buddy")
	ciphertext, err := d.Encrypt(obj, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("ciphertext should not equal plaintext")
	}

	decoded, err := d.Decrypt(obj, ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decoded, plaintext) {
		t.Fatalf("round trip mismatch: got %q", decoded)
	}
}

func TestLocalDRMPerFileKeysDiffer(t *testing.T) {
	d := NewLocalDRM([]byte("shared-secret"))
	plaintext := []byte("same content, different files")

	a, _ := d.Encrypt(fakeObject("/a"), plaintext)
	b, _ := d.Encrypt(fakeObject("/b"), plaintext)
	if bytes.Equal(a, b) {
		t.Fatal("expected distinct ciphertext for distinct file paths")
	}
}

func TestDRMBlobRoundTripsThroughFrame(t *testing.T) {
	d := NewLocalDRM([]byte("shared-secret"))
	obj := fakeObject("/c")
	_ = d.ivFor(obj.Path()) // force an IV to exist

	w := wire.NewWriter(wire.DRM_RESP, 1)
	if err := d.WriteDRM(obj, w); err != nil {
		t.Fatalf("writedrm: %v", err)
	}
	buf := w.Finalize()

	d2 := NewLocalDRM([]byte("shared-secret"))
	r := wire.NewReader(buf)
	if err := d2.ReadDRM(obj, r); err != nil {
		t.Fatalf("readdrm: %v", err)
	}

	plaintext := []byte("round trip via restored IV")
	ciphertext, _ := d.Encrypt(obj, plaintext)
	decoded, err := d2.Decrypt(obj, ciphertext)
	if err != nil {
		t.Fatalf("decrypt with restored IV: %v", err)
	}
	if !bytes.Equal(decoded, plaintext) {
		t.Fatalf("mismatch after IV restore: %q", decoded)
	}
}
