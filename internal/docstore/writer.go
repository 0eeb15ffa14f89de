package docstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/fmindex/internal/codec"
)

// channelWriter appends entries to one channel's blob and offset files.
type channelWriter struct {
	blobFile *os.File
	offFile  *os.File
	blob     *bufio.Writer
	offsets  *bufio.Writer
	header   bool
	pos      uint64
	count    int
}

// newChannelWriter creates blobPath and offPath. With header set, the blob
// reserves room for its length header, which finish fills in.
func newChannelWriter(blobPath, offPath string, header bool) (*channelWriter, error) {
	blobFile, err := os.Create(blobPath)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", blobPath, err)
	}
	offFile, err := os.Create(offPath)
	if err != nil {
		blobFile.Close()
		return nil, fmt.Errorf("create %s: %w", offPath, err)
	}
	w := &channelWriter{
		blobFile: blobFile,
		offFile:  offFile,
		blob:     bufio.NewWriterSize(blobFile, 4<<20),
		offsets:  bufio.NewWriterSize(offFile, 1<<20),
		header:   header,
	}
	if header {
		var placeholder [codec.HeaderSize]byte
		if _, err := w.blob.Write(placeholder[:]); err != nil {
			w.close()
			return nil, err
		}
	}
	return w, nil
}

func (w *channelWriter) add(entry []byte) error {
	var off [8]byte
	binary.LittleEndian.PutUint64(off[:], w.pos)
	if _, err := w.offsets.Write(off[:]); err != nil {
		return err
	}
	if _, err := w.blob.Write(entry); err != nil {
		return err
	}
	w.pos += uint64(len(entry))
	w.count++
	return nil
}

// finish flushes both files. For header blobs it appends the sentinel,
// pads to alignment and writes the final length header.
func (w *channelWriter) finish() error {
	defer w.close()

	if w.header {
		if err := w.blob.WriteByte(codec.Sentinel); err != nil {
			return err
		}
		textLen := w.pos + 1
		if _, err := codec.WritePadding(w.blob, codec.HeaderSize+int64(textLen)); err != nil {
			return err
		}
		if err := w.blob.Flush(); err != nil {
			return err
		}
		h := codec.EncodeHeader(textLen)
		if _, err := w.blobFile.WriteAt(h[:], 0); err != nil {
			return err
		}
	} else if err := w.blob.Flush(); err != nil {
		return err
	}
	if err := w.offsets.Flush(); err != nil {
		return err
	}
	if err := w.blobFile.Sync(); err != nil {
		return err
	}
	return w.offFile.Sync()
}

func (w *channelWriter) close() {
	_ = w.blobFile.Close()
	_ = w.offFile.Close()
}

// pairWriter writes the data and metadata channels side by side so the two
// stay index-aligned.
type pairWriter struct {
	data *channelWriter
	meta *channelWriter
}

func newPairWriter(dir, suffix string, header bool) (*pairWriter, error) {
	data, err := newChannelWriter(
		filepath.Join(dir, codec.ChannelData.BlobName()+suffix),
		filepath.Join(dir, codec.ChannelData.OffsetName()+suffix), header)
	if err != nil {
		return nil, err
	}
	meta, err := newChannelWriter(
		filepath.Join(dir, codec.ChannelMeta.BlobName()+suffix),
		filepath.Join(dir, codec.ChannelMeta.OffsetName()+suffix), header)
	if err != nil {
		data.close()
		return nil, err
	}
	return &pairWriter{data: data, meta: meta}, nil
}

func (p *pairWriter) add(r record) error {
	if err := p.data.add(r.data); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if err := p.meta.add(r.meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func (p *pairWriter) finish() error {
	derr := p.data.finish()
	merr := p.meta.finish()
	if derr != nil {
		return derr
	}
	return merr
}

func (p *pairWriter) abort() {
	p.data.close()
	p.meta.close()
}
