package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
)

// Channel names one of the two index-aligned byte streams in a shard.
type Channel string

const (
	// ChannelData holds document text.
	ChannelData Channel = "data"
	// ChannelMeta holds per-document metadata records.
	ChannelMeta Channel = "meta"
)

// Channels lists every channel in build order.
var Channels = []Channel{ChannelData, ChannelMeta}

func (c Channel) BlobName() string   { return string(c) + ".blob" }
func (c Channel) OffsetName() string { return string(c) + ".offset" }
func (c Channel) SAName() string     { return string(c) + ".sa" }
func (c Channel) BWTName() string    { return string(c) + ".bwt" }
func (c Channel) OccName() string    { return string(c) + ".occ" }

// ManifestName is the shard manifest written after a completed build.
const ManifestName = "manifest.json"

// LockName is the advisory lock file held while a shard is being built.
const LockName = ".build.lock"

// CoreArtifacts returns the four artifacts produced by the prepare stage.
func CoreArtifacts() []string {
	return []string{
		ChannelData.BlobName(), ChannelData.OffsetName(),
		ChannelMeta.BlobName(), ChannelMeta.OffsetName(),
	}
}

// Generation identifies the on-disk layout of a shard.
type Generation int

const (
	// GenerationLegacy stores bare blob, SA and BWT bytes without headers.
	GenerationLegacy Generation = iota + 1
	// GenerationCurrent prefixes each artifact with a length header and
	// stores the SA entry width in a second SA header field.
	GenerationCurrent
)

func (g Generation) String() string {
	switch g {
	case GenerationLegacy:
		return "legacy"
	case GenerationCurrent:
		return "current"
	default:
		return "unknown"
	}
}

// SAHeaderSize is the size of the current generation SA header:
// entry bytes*8 followed by ratio*8.
const SAHeaderSize = 2 * HeaderSize

// Layout describes where the indexed bytes of one channel live.
type Layout struct {
	Generation Generation

	// TextLength is the number of indexed bytes, sentinel included.
	// SA and BWT both have exactly TextLength entries.
	TextLength uint64

	// Ratio is the SA entry width in bytes.
	Ratio int

	BlobHeader int64
	SAHeader   int64
	BWTHeader  int64
}

// ContentLength is the document span of the text, sentinel excluded.
func (l *Layout) ContentLength() uint64 {
	if l.TextLength == 0 {
		return 0
	}
	return l.TextLength - 1
}

// DetectLayout inspects the blob of channel ch in dir and returns its
// layout. The first byte of a legacy blob is always DocSeparator, while a
// current header's first byte has its low three bits clear, so the two
// cannot be confused.
func DetectLayout(dir string, ch Channel) (*Layout, error) {
	return DetectBlob(filepath.Join(dir, ch.BlobName()))
}

// DetectBlob is DetectLayout for a blob file given by path.
func DetectBlob(blobPath string) (*Layout, error) {
	f, err := os.Open(blobPath)
	if err != nil {
		return nil, fmerrors.IOError("open blob", err).WithDetail("path", blobPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmerrors.IOError("stat blob", err).WithDetail("path", blobPath)
	}
	size := info.Size()
	if size == 0 {
		return nil, fmerrors.CorruptIndexError(blobPath, "empty blob")
	}

	head := make([]byte, HeaderSize)
	n, err := f.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return nil, fmerrors.IOError("read blob header", err).WithDetail("path", blobPath)
	}
	head = head[:n]

	if head[0] == DocSeparator || head[0] == Sentinel {
		return legacyLayout(f, blobPath, size)
	}
	return currentLayout(f, blobPath, head, size)
}

func legacyLayout(f *os.File, path string, size int64) (*Layout, error) {
	tailLen := int64(Alignment)
	if size < tailLen {
		tailLen = size
	}
	tail := make([]byte, tailLen)
	if _, err := f.ReadAt(tail, size-tailLen); err != nil && err != io.EOF {
		return nil, fmerrors.IOError("read blob tail", err).WithDetail("path", path)
	}
	base := size - tailLen
	end := size
	for end > base && tail[end-base-1] == 0 {
		end--
	}
	if end == base || tail[end-base-1] != Sentinel {
		return nil, fmerrors.CorruptIndexError(path, "legacy blob does not end with the sentinel")
	}
	n := uint64(end)
	return &Layout{
		Generation: GenerationLegacy,
		TextLength: n,
		Ratio:      Ratio(n),
	}, nil
}

func currentLayout(f *os.File, path string, head []byte, size int64) (*Layout, error) {
	n, err := DecodeHeader(head)
	if err != nil {
		return nil, fmerrors.CorruptIndexError(path, err.Error())
	}
	end := int64(HeaderSize) + int64(n)
	if n == 0 || end > size || size-end >= Alignment {
		return nil, fmerrors.CorruptIndexError(path,
			fmt.Sprintf("header length %d does not match file size %d", n, size))
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, end-1); err != nil {
		return nil, fmerrors.IOError("read blob sentinel", err).WithDetail("path", path)
	}
	if last[0] != Sentinel {
		return nil, fmerrors.CorruptIndexError(path, "blob does not end with the sentinel")
	}
	return &Layout{
		Generation: GenerationCurrent,
		TextLength: n,
		Ratio:      Ratio(n),
		BlobHeader: HeaderSize,
		SAHeader:   SAHeaderSize,
		BWTHeader:  HeaderSize,
	}, nil
}

// CheckSA validates the SA file at path against the layout and, for the
// current generation, adopts the entry width recorded in its header.
func (l *Layout) CheckSA(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmerrors.IOError("open suffix array", err).WithDetail("path", path)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmerrors.IOError("stat suffix array", err).WithDetail("path", path)
	}

	if l.Generation == GenerationCurrent {
		var head [SAHeaderSize]byte
		if _, err := f.ReadAt(head[:], 0); err != nil {
			return fmerrors.CorruptIndexError(path, "short suffix array header")
		}
		entryBytes := binary.LittleEndian.Uint64(head[:HeaderSize]) / 8
		ratio := int(binary.LittleEndian.Uint64(head[HeaderSize:]) / 8)
		if ratio < 1 || ratio > 8 || entryBytes != l.TextLength*uint64(ratio) {
			return fmerrors.CorruptIndexError(path,
				fmt.Sprintf("suffix array header (%d bytes, width %d) does not match text length %d",
					entryBytes, ratio, l.TextLength))
		}
		l.Ratio = ratio
	}

	want := l.SAHeader + int64(l.TextLength)*int64(l.Ratio)
	if info.Size() < want || info.Size()-want >= 2*Alignment {
		return fmerrors.CorruptIndexError(path,
			fmt.Sprintf("suffix array size %d, want %d entries of %d bytes", info.Size(), l.TextLength, l.Ratio))
	}
	return nil
}

// CheckBWT validates the BWT file at path against the layout.
func (l *Layout) CheckBWT(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmerrors.IOError("open bwt", err).WithDetail("path", path)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmerrors.IOError("stat bwt", err).WithDetail("path", path)
	}
	if l.Generation == GenerationCurrent {
		head := make([]byte, HeaderSize)
		if _, err := f.ReadAt(head, 0); err != nil {
			return fmerrors.CorruptIndexError(path, "short bwt header")
		}
		n, err := DecodeHeader(head)
		if err != nil || n != l.TextLength {
			return fmerrors.CorruptIndexError(path,
				fmt.Sprintf("bwt header length %d does not match text length %d", n, l.TextLength))
		}
	}
	want := l.BWTHeader + int64(l.TextLength)
	if info.Size() < want || info.Size()-want >= Alignment {
		return fmerrors.CorruptIndexError(path,
			fmt.Sprintf("bwt size %d, want %d", info.Size(), want))
	}
	return nil
}

// WriteSAHeader writes the current generation SA header for n entries of
// width ratio.
func WriteSAHeader(w io.Writer, n uint64, ratio int) error {
	if err := WriteHeader(w, n*uint64(ratio)); err != nil {
		return err
	}
	return WriteHeader(w, uint64(ratio))
}
