package wire

import (
	"bytes"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter(CREATE_REQ, 0xCAFEBABE)
	addr := NetAddress{IP: [4]byte{10, 0, 0, 1}, Port: 9001}
	w.WriteByte(7).
		WriteU16(1234).
		WriteU32(5678).
		WriteI32(-42).
		WriteBool(true).
		WriteRaw([]byte{0xAA, 0xBB}).
		WriteASCIIZ("/a/b/c").
		WriteAddress(addr)
	buf := w.Finalize()

	r := NewReader(buf)
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if r.Command() != CREATE_REQ {
		t.Fatalf("command = %v, want CREATE_REQ", r.Command())
	}
	if r.RequestID() != 0xCAFEBABE {
		t.Fatalf("reqid = %x", r.RequestID())
	}
	if got := r.ReadByte(); got != 7 {
		t.Fatalf("byte = %d", got)
	}
	if got := r.ReadU16(); got != 1234 {
		t.Fatalf("u16 = %d", got)
	}
	if got := r.ReadU32(); got != 5678 {
		t.Fatalf("u32 = %d", got)
	}
	if got := r.ReadI32(); got != -42 {
		t.Fatalf("i32 = %d", got)
	}
	if got := r.ReadBool(); !got {
		t.Fatalf("bool = %v", got)
	}
	if got := r.ReadRaw(2); !bytes.Equal(got, []byte{0xAA, 0xBB}) {
		t.Fatalf("raw = %x", got)
	}
	if got := r.ReadASCIIZ(0); got != "/a/b/c" {
		t.Fatalf("ascii = %q", got)
	}
	if got := r.ReadAddress(); got != addr {
		t.Fatalf("address = %v, want %v", got, addr)
	}
	if !r.AtEnd() {
		t.Fatalf("expected cursor at end")
	}

	// re-serializing an equivalent frame from the same values must equal
	// the original bytes, per the encode/decode round-trip property.
	w2 := NewWriter(CREATE_REQ, 0xCAFEBABE)
	w2.WriteByte(7).WriteU16(1234).WriteU32(5678).WriteI32(-42).WriteBool(true).
		WriteRaw([]byte{0xAA, 0xBB}).WriteASCIIZ("/a/b/c").WriteAddress(addr)
	if !bytes.Equal(w2.Finalize(), buf) {
		t.Fatalf("re-serialization mismatch")
	}
}

func TestReaderShortBufferReturnsSentinel(t *testing.T) {
	w := NewWriter(PING, 1)
	w.WriteByte(1)
	buf := w.Finalize()

	r := NewReader(buf)
	r.ReadByte() // consume the one byte we wrote
	if got := r.ReadU32(); got != 0xFFFFFFFF {
		t.Fatalf("short u32 read = %x, want sentinel", got)
	}
	if got := r.ReadASCIIZ(0); got != "" {
		t.Fatalf("short ascii read = %q, want empty", got)
	}
	if !r.AtEnd() {
		t.Fatalf("expected cursor pinned at end after short read")
	}
}

func TestValidateBounds(t *testing.T) {
	short := []byte{1, 2, 3}
	if err := NewReader(short).Validate(); err != ErrShortBuffer {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}

	w := NewWriter(PING, 1)
	buf := w.Finalize()
	buf[1], buf[2], buf[3], buf[4] = 0, 0, 0xFF, 0xFF // declare a huge length
	if err := NewReader(buf).Validate(); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReforward(t *testing.T) {
	w := NewWriter(RENAME, 42)
	w.WriteASCIIZ("/a").WriteASCIIZ("/b")
	buf := w.Finalize()

	r := NewReader(buf)
	f := r.Reforward()
	if f.Cmd != RENAME || f.ReqID != 42 {
		t.Fatalf("reforward header mismatch: %+v", f)
	}
	w2 := NewWriter(f.Cmd, f.ReqID)
	w2.WriteRaw(f.Payload)
	if !bytes.Equal(w2.Finalize(), buf) {
		t.Fatalf("reforwarded frame does not reserialize to original bytes")
	}
}

func TestAddressCompareAndOrdering(t *testing.T) {
	a := NetAddress{IP: [4]byte{10, 0, 0, 1}, Port: 100}
	b := NetAddress{IP: [4]byte{10, 0, 0, 1}, Port: 200}
	c := NetAddress{IP: [4]byte{10, 0, 0, 2}, Port: 1}

	if a.Compare(b) >= 0 {
		t.Fatalf("a should sort before b")
	}
	if b.Compare(c) >= 0 {
		t.Fatalf("b should sort before c")
	}
	if a.Compare(a) != 0 {
		t.Fatalf("a should equal itself")
	}
	if !None.IsNone() {
		t.Fatalf("zero value must be None")
	}
}

func TestCompressRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("buddyfs data block payload"), 200)
	c := CompressPayload(payload)
	if len(c) >= len(payload) {
		t.Fatalf("expected compression to shrink a repetitive payload")
	}
	d, err := DecompressPayload(c)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(d, payload) {
		t.Fatalf("round trip mismatch")
	}
}
