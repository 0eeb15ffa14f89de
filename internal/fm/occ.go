// Package fm implements the rank structures behind FM-index backward
// search: the C array and sampled occurrence counts over a BWT.
package fm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Aman-CERP/fmindex/internal/codec"
)

// DefaultInterval is the BWT distance between occurrence checkpoints.
const DefaultInterval = 4096

// Table answers Occ(c, i) queries over one BWT.
type Table struct {
	// C[c] is the number of BWT bytes smaller than c.
	C [256]uint64

	interval    int
	length      uint64
	checkpoints []uint64 // (length/interval + 1) rows of 256 counts
}

// Build scans bwt once and samples cumulative counts every interval bytes.
func Build(bwt []byte, interval int) *Table {
	if interval <= 0 {
		interval = DefaultInterval
	}
	rows := len(bwt)/interval + 1
	t := &Table{
		interval:    interval,
		length:      uint64(len(bwt)),
		checkpoints: make([]uint64, rows*256),
	}

	var running [256]uint64
	for row := 0; row < rows; row++ {
		copy(t.checkpoints[row*256:(row+1)*256], running[:])
		start := row * interval
		end := min(start+interval, len(bwt))
		for _, b := range bwt[start:end] {
			running[b]++
		}
	}

	var sum uint64
	for c := 0; c < 256; c++ {
		t.C[c] = sum
		sum += running[c]
	}
	return t
}

// Len returns the BWT length the table was built for.
func (t *Table) Len() uint64 { return t.length }

// Interval returns the checkpoint spacing.
func (t *Table) Interval() int { return t.interval }

// Occ returns the number of occurrences of c in bwt[0:i].
func (t *Table) Occ(bwt []byte, c byte, i uint64) uint64 {
	row := i / uint64(t.interval)
	base := t.checkpoints[row*256+uint64(c)]
	start := row * uint64(t.interval)
	if start == i {
		return base
	}
	return base + uint64(bytes.Count(bwt[start:i], []byte{c}))
}

// Count returns the number of occurrences of c in the whole BWT.
func (t *Table) Count(c byte) uint64 {
	if c == 255 {
		return t.length - t.C[255]
	}
	return t.C[c+1] - t.C[c]
}

// Range runs backward search for pattern and returns the half-open rank
// range [lo, hi) of suffixes prefixed by it. An empty pattern matches
// every rank.
func (t *Table) Range(bwt []byte, pattern []byte) (lo, hi uint64) {
	lo, hi = 0, t.length
	for i := len(pattern) - 1; i >= 0 && lo < hi; i-- {
		c := pattern[i]
		lo = t.C[c] + t.Occ(bwt, c, lo)
		hi = t.C[c] + t.Occ(bwt, c, hi)
	}
	if lo > hi {
		hi = lo
	}
	return lo, hi
}

// WriteTo serializes the table: a length header, the interval, the C array
// and the checkpoint rows, all little-endian u64.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	var written int64
	h := codec.EncodeHeader(t.length)
	n, err := w.Write(h[:])
	written += int64(n)
	if err != nil {
		return written, err
	}

	buf := make([]byte, 8*(1+256))
	binary.LittleEndian.PutUint64(buf, uint64(t.interval))
	for c := 0; c < 256; c++ {
		binary.LittleEndian.PutUint64(buf[8+8*c:], t.C[c])
	}
	n, err = w.Write(buf)
	written += int64(n)
	if err != nil {
		return written, err
	}

	row := make([]byte, 8*256)
	for r := 0; r < len(t.checkpoints)/256; r++ {
		for c := 0; c < 256; c++ {
			binary.LittleEndian.PutUint64(row[8*c:], t.checkpoints[r*256+c])
		}
		n, err = w.Write(row)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Decode parses a table written by WriteTo and checks it against the
// expected BWT length.
func Decode(raw []byte, bwtLen uint64) (*Table, error) {
	fixed := codec.HeaderSize + 8*(1+256)
	if len(raw) < fixed {
		return nil, fmt.Errorf("occurrence table too short: %d bytes", len(raw))
	}
	length, err := codec.DecodeHeader(raw)
	if err != nil {
		return nil, err
	}
	if length != bwtLen {
		return nil, fmt.Errorf("occurrence table covers %d bytes, bwt has %d", length, bwtLen)
	}
	interval := int(binary.LittleEndian.Uint64(raw[codec.HeaderSize:]))
	if interval <= 0 {
		return nil, fmt.Errorf("invalid checkpoint interval %d", interval)
	}
	rows := int(length)/interval + 1
	if len(raw) != fixed+rows*256*8 {
		return nil, fmt.Errorf("occurrence table size %d, want %d", len(raw), fixed+rows*256*8)
	}

	t := &Table{interval: interval, length: length, checkpoints: make([]uint64, rows*256)}
	for c := 0; c < 256; c++ {
		t.C[c] = binary.LittleEndian.Uint64(raw[codec.HeaderSize+8+8*c:])
	}
	body := raw[fixed:]
	for i := range t.checkpoints {
		t.checkpoints[i] = binary.LittleEndian.Uint64(body[8*i:])
	}
	return t, nil
}
