// Package docstore turns line-delimited JSON corpora into the document and
// metadata blobs and offset arrays of a shard.
package docstore

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
)

// Format is the compression of a corpus file.
type Format int

const (
	FormatPlain Format = iota + 1
	FormatGzip
	FormatZstd
)

func (f Format) String() string {
	switch f {
	case FormatPlain:
		return "plain"
	case FormatGzip:
		return "gzip"
	case FormatZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// inputPattern selects corpus files during the directory walk.
const inputPattern = "*.json*"

// Input is one corpus file.
type Input struct {
	// Path is the absolute path on disk.
	Path string
	// RelPath is the slash-separated path relative to the data dir. It is
	// the sort key and the "path" recorded in each metadata record.
	RelPath string
	Format  Format
}

// DetectFormat maps a file name to its compression by extension.
func DetectFormat(name string) (Format, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return FormatGzip, nil
	case strings.HasSuffix(name, ".zst"), strings.HasSuffix(name, ".zstd"):
		return FormatZstd, nil
	case strings.HasSuffix(name, ".jsonl"), strings.HasSuffix(name, ".json"):
		return FormatPlain, nil
	default:
		return 0, fmerrors.UnsupportedFormatError(name)
	}
}

// ListInputs walks dataDir for corpus files and returns them sorted by
// relative path. Any matched file with an unknown extension fails the
// whole listing.
func ListInputs(dataDir string) ([]Input, error) {
	var inputs []Input
	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(inputPattern, d.Name()); !ok {
			return nil
		}
		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			return err
		}
		format, err := DetectFormat(d.Name())
		if err != nil {
			return err
		}
		inputs = append(inputs, Input{
			Path:    path,
			RelPath: filepath.ToSlash(rel),
			Format:  format,
		})
		return nil
	})
	if err != nil {
		if fmerrors.GetCode(err) != "" {
			return nil, err
		}
		return nil, fmerrors.IOError("list corpus files", err).WithDetail("path", dataDir)
	}

	sort.Slice(inputs, func(i, j int) bool { return inputs[i].RelPath < inputs[j].RelPath })
	return inputs, nil
}

// Open returns a decompressing reader over the file's lines.
func (in Input) Open() (io.ReadCloser, error) {
	f, err := os.Open(in.Path)
	if err != nil {
		return nil, fmerrors.IOError("open corpus file", err).WithDetail("path", in.Path)
	}

	switch in.Format {
	case FormatPlain:
		return f, nil
	case FormatGzip:
		zr, err := gzip.NewReader(bufio.NewReader(f))
		if err != nil {
			f.Close()
			return nil, fmerrors.New(fmerrors.ErrCodeParseFailed, "open gzip stream", err).WithDetail("path", in.Path)
		}
		return &stackedReader{Reader: zr, closers: []func() error{zr.Close, f.Close}}, nil
	case FormatZstd:
		zr, err := zstd.NewReader(bufio.NewReader(f))
		if err != nil {
			f.Close()
			return nil, fmerrors.New(fmerrors.ErrCodeParseFailed, "open zstd stream", err).WithDetail("path", in.Path)
		}
		return &stackedReader{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			f.Close,
		}}, nil
	default:
		f.Close()
		return nil, fmerrors.UnsupportedFormatError(in.Path)
	}
}

// stackedReader closes a decompressor and its underlying file in order.
type stackedReader struct {
	io.Reader
	closers []func() error
}

func (s *stackedReader) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// line is one raw corpus line with its 0-based physical line number.
type line struct {
	num  int
	data []byte
}

// lineReader yields lines of arbitrary length, skipping blank ones.
type lineReader struct {
	r    *bufio.Reader
	next int
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 1<<20)}
}

// readBatch reads up to max non-blank lines. It returns io.EOF only when
// no lines were read.
func (lr *lineReader) readBatch(max int) ([]line, error) {
	var batch []line
	for len(batch) < max {
		data, err := lr.r.ReadBytes('\n')
		if len(data) > 0 {
			num := lr.next
			lr.next++
			trimmed := trimLine(data)
			if len(trimmed) > 0 {
				batch = append(batch, line{num: num, data: trimmed})
			}
		}
		if err == io.EOF {
			if len(batch) == 0 {
				return nil, io.EOF
			}
			return batch, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", lr.next, err)
		}
	}
	return batch, nil
}

func trimLine(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r' || b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	return b
}
