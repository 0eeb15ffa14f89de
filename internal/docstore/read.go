package docstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/fmindex/internal/codec"
)

// DecodeOffsets decodes an offset array.
func DecodeOffsets(raw []byte) ([]uint64, error) {
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("offset array size %d is not a multiple of 8", len(raw))
	}
	offsets := make([]uint64, len(raw)/8)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint64(raw[8*i:])
	}
	return offsets, nil
}

// ReadChannel loads the entries of one channel of the shard in dir. Each
// entry keeps its leading separator byte.
func ReadChannel(dir string, ch codec.Channel) ([][]byte, error) {
	layout, err := codec.DetectLayout(dir, ch)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(filepath.Join(dir, ch.BlobName()))
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, ch.OffsetName()))
	if err != nil {
		return nil, err
	}
	offsets, err := DecodeOffsets(raw)
	if err != nil {
		return nil, err
	}

	content := blob[layout.BlobHeader : layout.BlobHeader+int64(layout.ContentLength())]
	entries := make([][]byte, len(offsets))
	for i, off := range offsets {
		end := uint64(len(content))
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		if off > end || end > uint64(len(content)) {
			return nil, fmt.Errorf("offset %d out of range: [%d, %d) in %d bytes", i, off, end, len(content))
		}
		entries[i] = content[off:end]
	}
	return entries, nil
}
