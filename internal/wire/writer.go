package wire

import "encoding/binary"

// Writer builds one frame into a capacity-growing buffer. The header is
// reserved up front and patched in place by Finalize, matching the source
// Packet's PreWrite/EnsureCapacity behavior.
type Writer struct {
	buf []byte
}

// NewWriter starts a frame for cmd/reqID with room for payload appends.
func NewWriter(cmd Command, reqID uint32) *Writer {
	w := &Writer{buf: make([]byte, HeaderSize, 64)}
	w.buf[0] = byte(cmd)
	binary.BigEndian.PutUint32(w.buf[5:9], reqID)
	return w
}

func (w *Writer) WriteByte(b byte) *Writer {
	w.buf = append(w.buf, b)
	return w
}

func (w *Writer) WriteBool(v bool) *Writer {
	if v {
		return w.WriteByte(1)
	}
	return w.WriteByte(0)
}

func (w *Writer) WriteU16(v uint16) *Writer {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
	return w
}

func (w *Writer) WriteU32(v uint32) *Writer {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
	return w
}

func (w *Writer) WriteI32(v int32) *Writer {
	return w.WriteU32(uint32(v))
}

func (w *Writer) WriteI16(v int16) *Writer {
	return w.WriteU16(uint16(v))
}

func (w *Writer) WriteRaw(p []byte) *Writer {
	w.buf = append(w.buf, p...)
	return w
}

// WriteASCIIZ appends s followed by a NUL terminator.
func (w *Writer) WriteASCIIZ(s string) *Writer {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
	return w
}

// WriteAddress appends a NetAddress as [ip:u32][port:u16].
func (w *Writer) WriteAddress(addr NetAddress) *Writer {
	w.buf = append(w.buf, addr.IP[:]...)
	return w.WriteU16(addr.Port)
}

// Len reports the current buffer length, header included.
func (w *Writer) Len() int { return len(w.buf) }

// Finalize patches the length header in place and returns the complete wire
// bytes, ready to enqueue on a peer's egress buffer.
func (w *Writer) Finalize() []byte {
	binary.BigEndian.PutUint32(w.buf[1:5], uint32(len(w.buf)))
	return w.buf
}

// Frame returns the Frame this Writer has accumulated, without needing the
// caller to re-parse the finalized bytes.
func (w *Writer) Frame() Frame {
	cmd := Command(w.buf[0])
	reqID := binary.BigEndian.Uint32(w.buf[5:9])
	payload := make([]byte, len(w.buf)-HeaderSize)
	copy(payload, w.buf[HeaderSize:])
	return Frame{Cmd: cmd, ReqID: reqID, Payload: payload}
}
