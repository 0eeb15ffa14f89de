// Package codec defines the on-disk layout shared by all shard artifacts:
// little-endian length headers, 8-byte alignment padding, the document
// separator and sentinel bytes, and fixed-width suffix array entries.
package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
)

const (
	// HeaderSize is the size of one length header field.
	HeaderSize = 8

	// Alignment is the file size multiple every artifact is padded to.
	Alignment = 8

	// DocSeparator prefixes every document in a blob. It never occurs in
	// valid UTF-8, so it cannot collide with document content.
	DocSeparator byte = 0xFF

	// Sentinel terminates the indexed text. Like DocSeparator it is not a
	// valid UTF-8 byte, and it is unique within a blob.
	Sentinel byte = 0xFA
)

// EncodeHeader encodes a length header. Lengths are stored multiplied by 8.
func EncodeHeader(n uint64) [HeaderSize]byte {
	var b [HeaderSize]byte
	binary.LittleEndian.PutUint64(b[:], n*8)
	return b
}

// DecodeHeader is the inverse of EncodeHeader.
func DecodeHeader(b []byte) (uint64, error) {
	if len(b) < HeaderSize {
		return 0, fmt.Errorf("header too short: %d bytes", len(b))
	}
	v := binary.LittleEndian.Uint64(b[:HeaderSize])
	if v%8 != 0 {
		return 0, fmt.Errorf("header value %d is not a multiple of 8", v)
	}
	return v / 8, nil
}

// WriteHeader writes a length header for n to w.
func WriteHeader(w io.Writer, n uint64) error {
	h := EncodeHeader(n)
	_, err := w.Write(h[:])
	return err
}

// PadLen returns how many zero bytes bring n up to a multiple of Alignment.
func PadLen(n int64) int64 {
	if r := n % Alignment; r != 0 {
		return Alignment - r
	}
	return 0
}

// WritePadding writes the zero padding needed after written bytes.
func WritePadding(w io.Writer, written int64) (int64, error) {
	pad := PadLen(written)
	if pad == 0 {
		return 0, nil
	}
	var zeros [Alignment]byte
	n, err := w.Write(zeros[:pad])
	return int64(n), err
}

// Ratio returns the suffix array entry width in bytes for a text of length
// n: ceil(log2(n)/8), never less than one.
func Ratio(n uint64) int {
	if n <= 1 {
		return 1
	}
	r := (bits.Len64(n-1) + 7) / 8
	if r < 1 {
		r = 1
	}
	return r
}

// PutUint stores the low width bytes of v into dst, little-endian.
func PutUint(dst []byte, v uint64, width int) {
	for i := 0; i < width; i++ {
		dst[i] = byte(v)
		v >>= 8
	}
}

// Uint reads a width-byte little-endian unsigned integer.
func Uint(src []byte, width int) uint64 {
	switch width {
	case 8:
		return binary.LittleEndian.Uint64(src)
	case 4:
		return uint64(binary.LittleEndian.Uint32(src))
	}
	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(src[i])
	}
	return v
}

// AppendSentinel appends the sentinel byte to text.
func AppendSentinel(text []byte) []byte {
	return append(text, Sentinel)
}

// StripSentinel removes a trailing sentinel byte, if present.
func StripSentinel(text []byte) []byte {
	if n := len(text); n > 0 && text[n-1] == Sentinel {
		return text[:n-1]
	}
	return text
}
