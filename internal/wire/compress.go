package wire

import "github.com/golang/snappy"

// CompressThreshold is the payload size above which DATA_BLOCK frames are
// snappy-compressed once both peers have negotiated support for it in
// IN_PORT, mirroring the teacher's CompStream wrapper (std/comp.go) but
// applied per-frame rather than to the whole connection, since BuddyFS
// frames are already length-prefixed and self-contained.
const CompressThreshold = 1024

// CompressPayload snappy-encodes p, grounded on golang/snappy the same way
// the teacher's CompStream uses it for its tunneled byte stream.
func CompressPayload(p []byte) []byte {
	return snappy.Encode(nil, p)
}

// DecompressPayload reverses CompressPayload.
func DecompressPayload(p []byte) ([]byte, error) {
	return snappy.Decode(nil, p)
}
