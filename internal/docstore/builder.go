package docstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/fmindex/internal/codec"
	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
)

const (
	// ManyFilesThreshold is the largest input file count handled by the
	// sequential strategy. Larger corpora use the map/reduce strategy.
	ManyFilesThreshold = 50

	// DefaultBatchSize is the number of lines parsed per parallel batch.
	DefaultBatchSize = 65536

	tmpSuffix  = ".tmp"
	scratchDir = "prepare-scratch"
)

// Config configures a Builder.
type Config struct {
	DataDir string
	SaveDir string
	// TempDir holds per-file scratch artifacts. Defaults to SaveDir.
	TempDir string

	// Workers bounds parse and map concurrency. Defaults to NumCPU.
	Workers   int
	BatchSize int

	// ManyFilesThreshold overrides the package default when positive.
	ManyFilesThreshold int

	// OnFile, when set, is called after each input file is processed.
	OnFile func(done, total int, relPath string)
}

// Stats summarizes a prepare run.
type Stats struct {
	Files     int
	Documents int
	// DataBytes and MetaBytes are text lengths, sentinel included.
	DataBytes uint64
	MetaBytes uint64
	Strategy  string
	Skipped   bool
}

// Builder runs the prepare stage for one shard.
type Builder struct {
	cfg Config
}

// NewBuilder creates a Builder, filling defaults.
func NewBuilder(cfg Config) *Builder {
	if cfg.TempDir == "" {
		cfg.TempDir = cfg.SaveDir
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ManyFilesThreshold <= 0 {
		cfg.ManyFilesThreshold = ManyFilesThreshold
	}
	return &Builder{cfg: cfg}
}

// Exists reports whether all four prepare artifacts are present in dir.
func Exists(dir string) bool {
	for _, name := range codec.CoreArtifacts() {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// Prepare builds the document and metadata blobs and offsets. It is a no-op
// when all four artifacts already exist. Output is written under temporary
// names and renamed into place only after every artifact is complete.
func (b *Builder) Prepare(ctx context.Context) (*Stats, error) {
	if Exists(b.cfg.SaveDir) {
		slog.Info("prepare skipped, artifacts exist", slog.String("dir", b.cfg.SaveDir))
		return &Stats{Skipped: true, Strategy: "skipped"}, nil
	}

	inputs, err := ListInputs(b.cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(b.cfg.SaveDir, 0o755); err != nil {
		return nil, fmerrors.IOError("create save dir", err).WithDetail("path", b.cfg.SaveDir)
	}

	var stats *Stats
	if len(inputs) <= b.cfg.ManyFilesThreshold {
		stats, err = b.prepareSequential(ctx, inputs)
	} else {
		stats, err = b.prepareMapReduce(ctx, inputs)
	}
	if err != nil {
		b.removeTemp()
		return nil, err
	}

	for _, name := range codec.CoreArtifacts() {
		path := filepath.Join(b.cfg.SaveDir, name)
		if err := os.Rename(path+tmpSuffix, path); err != nil {
			return nil, fmerrors.IOError("publish "+name, err)
		}
	}

	slog.Info("prepare complete",
		slog.String("strategy", stats.Strategy),
		slog.Int("files", stats.Files),
		slog.Int("documents", stats.Documents),
		slog.Uint64("data_bytes", stats.DataBytes),
		slog.Uint64("meta_bytes", stats.MetaBytes))
	return stats, nil
}

func (b *Builder) removeTemp() {
	for _, name := range codec.CoreArtifacts() {
		_ = os.Remove(filepath.Join(b.cfg.SaveDir, name+tmpSuffix))
	}
	_ = os.RemoveAll(filepath.Join(b.cfg.TempDir, scratchDir))
}

// prepareSequential handles few-file corpora: files in order, lines parsed
// in parallel batches and written in (file, line) order.
func (b *Builder) prepareSequential(ctx context.Context, inputs []Input) (*Stats, error) {
	pw, err := newPairWriter(b.cfg.SaveDir, tmpSuffix, true)
	if err != nil {
		return nil, fmerrors.IOError("create artifacts", err)
	}
	for i, in := range inputs {
		if err := b.appendFile(ctx, in, b.cfg.Workers, pw.add); err != nil {
			pw.abort()
			return nil, err
		}
		if b.cfg.OnFile != nil {
			b.cfg.OnFile(i+1, len(inputs), in.RelPath)
		}
	}
	docs := pw.data.count
	dataLen, metaLen := pw.data.pos+1, pw.meta.pos+1
	if err := pw.finish(); err != nil {
		return nil, fmerrors.IOError("finish artifacts", err)
	}
	return &Stats{
		Files:     len(inputs),
		Documents: docs,
		DataBytes: dataLen,
		MetaBytes: metaLen,
		Strategy:  "few-files",
	}, nil
}

// appendFile parses every line of in and passes the records to sink in
// line order.
func (b *Builder) appendFile(ctx context.Context, in Input, workers int, sink func(record) error) error {
	rc, err := in.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	lr := newLineReader(rc)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := lr.readBatch(b.cfg.BatchSize)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmerrors.New(fmerrors.ErrCodeParseFailed, "read "+in.RelPath, err).WithDetail("path", in.RelPath)
		}
		records, err := parseBatch(ctx, in.RelPath, batch, workers)
		if err != nil {
			return err
		}
		for _, r := range records {
			if err := sink(r); err != nil {
				return fmerrors.IOError("write artifacts", err)
			}
		}
	}
}

// parseBatch parses lines concurrently in contiguous chunks, one per worker,
// keeping results in input order.
func parseBatch(ctx context.Context, relPath string, batch []line, workers int) ([]record, error) {
	records := make([]record, len(batch))
	if workers <= 1 || len(batch) < 2*workers {
		for i, l := range batch {
			r, err := parseLine(relPath, l.num, l.data)
			if err != nil {
				return nil, err
			}
			records[i] = r
		}
		return records, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	chunk := (len(batch) + workers - 1) / workers
	for start := 0; start < len(batch); start += chunk {
		end := min(start+chunk, len(batch))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if i%1024 == 0 && gctx.Err() != nil {
					return gctx.Err()
				}
				r, err := parseLine(relPath, batch[i].num, batch[i].data)
				if err != nil {
					return err
				}
				records[i] = r
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// scratchPart is the map output of one input file.
type scratchPart struct {
	dir     string
	docs    int
	dataLen uint64
	metaLen uint64
}

// prepareMapReduce handles many-file corpora. Each file is parsed into its
// own scratch directory in parallel; the reduce step places every file's
// bytes at its cumulative offset in presized final files and rebases its
// offsets by the same amount.
func (b *Builder) prepareMapReduce(ctx context.Context, inputs []Input) (*Stats, error) {
	root := filepath.Join(b.cfg.TempDir, scratchDir)
	defer os.RemoveAll(root)

	parts := make([]scratchPart, len(inputs))
	done := make(chan string, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for i, in := range inputs {
		g.Go(func() error {
			dir := filepath.Join(root, fmt.Sprintf("%06d", i))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmerrors.IOError("create scratch dir", err).WithDetail("path", dir)
			}
			pw, err := newPairWriter(dir, "", false)
			if err != nil {
				return fmerrors.IOError("create scratch artifacts", err)
			}
			if err := b.appendFile(gctx, in, 1, pw.add); err != nil {
				pw.abort()
				return err
			}
			parts[i] = scratchPart{dir: dir, docs: pw.data.count, dataLen: pw.data.pos, metaLen: pw.meta.pos}
			if err := pw.finish(); err != nil {
				return fmerrors.IOError("finish scratch artifacts", err)
			}
			done <- in.RelPath
			return nil
		})
	}

	var progressDone chan struct{}
	if b.cfg.OnFile != nil {
		progressDone = make(chan struct{})
		go func() {
			defer close(progressDone)
			n := 0
			for rel := range done {
				n++
				b.cfg.OnFile(n, len(inputs), rel)
			}
		}()
	}
	err := g.Wait()
	close(done)
	if progressDone != nil {
		<-progressDone
	}
	if err != nil {
		return nil, err
	}

	stats := &Stats{Files: len(inputs), Strategy: "many-files"}
	for _, p := range parts {
		stats.Documents += p.docs
	}

	dataLen, err := b.reduceChannel(ctx, codec.ChannelData, parts, func(p scratchPart) uint64 { return p.dataLen })
	if err != nil {
		return nil, err
	}
	metaLen, err := b.reduceChannel(ctx, codec.ChannelMeta, parts, func(p scratchPart) uint64 { return p.metaLen })
	if err != nil {
		return nil, err
	}
	stats.DataBytes, stats.MetaBytes = dataLen, metaLen
	return stats, nil
}

// reduceChannel assembles one channel's final blob and offsets from the
// scratch parts and returns the text length.
func (b *Builder) reduceChannel(ctx context.Context, ch codec.Channel, parts []scratchPart, length func(scratchPart) uint64) (uint64, error) {
	byteBase := make([]uint64, len(parts))
	docBase := make([]int, len(parts))
	var total uint64
	docs := 0
	for i, p := range parts {
		byteBase[i] = total
		docBase[i] = docs
		total += length(p)
		docs += p.docs
	}
	textLen := total + 1

	blobPath := filepath.Join(b.cfg.SaveDir, ch.BlobName()+tmpSuffix)
	offPath := filepath.Join(b.cfg.SaveDir, ch.OffsetName()+tmpSuffix)
	blob, err := os.Create(blobPath)
	if err != nil {
		return 0, fmerrors.IOError("create blob", err).WithDetail("path", blobPath)
	}
	defer blob.Close()
	offsets, err := os.Create(offPath)
	if err != nil {
		return 0, fmerrors.IOError("create offsets", err).WithDetail("path", offPath)
	}
	defer offsets.Close()

	end := int64(codec.HeaderSize) + int64(textLen)
	if err := blob.Truncate(end + codec.PadLen(end)); err != nil {
		return 0, fmerrors.IOError("presize blob", err)
	}
	if err := offsets.Truncate(int64(docs) * 8); err != nil {
		return 0, fmerrors.IOError("presize offsets", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for i, p := range parts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := copyAt(blob, int64(codec.HeaderSize)+int64(byteBase[i]), filepath.Join(p.dir, ch.BlobName())); err != nil {
				return err
			}
			return rebaseOffsets(offsets, int64(docBase[i])*8, filepath.Join(p.dir, ch.OffsetName()), byteBase[i])
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmerrors.IOError("reduce "+string(ch), err)
	}

	if _, err := blob.WriteAt([]byte{codec.Sentinel}, end-1); err != nil {
		return 0, fmerrors.IOError("write sentinel", err)
	}
	h := codec.EncodeHeader(textLen)
	if _, err := blob.WriteAt(h[:], 0); err != nil {
		return 0, fmerrors.IOError("write header", err)
	}
	if err := blob.Sync(); err != nil {
		return 0, fmerrors.IOError("sync blob", err)
	}
	if err := offsets.Sync(); err != nil {
		return 0, fmerrors.IOError("sync offsets", err)
	}
	return textLen, nil
}

// copyAt copies the file at src into dst starting at off.
func copyAt(dst *os.File, off int64, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(io.NewOffsetWriter(dst, off), f)
	return err
}

// rebaseOffsets adds base to every offset in src and writes them to dst at off.
func rebaseOffsets(dst *os.File, off int64, src string, base uint64) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 8*8192)
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			chunk := buf[:n-n%8]
			for j := 0; j < len(chunk); j += 8 {
				binary.LittleEndian.PutUint64(chunk[j:], binary.LittleEndian.Uint64(chunk[j:])+base)
			}
			if _, werr := dst.WriteAt(chunk, off); werr != nil {
				return werr
			}
			off += int64(len(chunk))
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
