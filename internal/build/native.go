package build

import (
	"bufio"
	"bytes"
	"container/heap"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/fmindex/internal/codec"
	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
	"github.com/Aman-CERP/fmindex/internal/mmapfile"
)

// NativeWorker is the in-process ConstructionWorker. It honours the same
// request contract and file layout as an external worker, so `fmindex
// worker` can expose it as one.
type NativeWorker struct{}

// openText maps a blob and returns the file, its layout and the indexed
// text (sentinel included).
func openText(path string) (*mmapfile.File, *codec.Layout, []byte, error) {
	layout, err := codec.DetectBlob(path)
	if err != nil {
		return nil, nil, nil, err
	}
	f, err := mmapfile.Open(path, false)
	if err != nil {
		return nil, nil, nil, err
	}
	text := f.Bytes()[layout.BlobHeader : layout.BlobHeader+int64(layout.TextLength)]
	return f, layout, text, nil
}

// partName is the file name of the part covering [start, end) file offsets.
func partName(start, end int64) string {
	return fmt.Sprintf("%d-%d", start, end)
}

func (w *NativeWorker) MakePart(ctx context.Context, req PartRequest) error {
	f, layout, _, err := openText(req.DataFile)
	if err != nil {
		return fmerrors.ConstructionWorkerError("make-part", err)
	}
	defer f.Close()

	data := f.Bytes()
	fileEnd := layout.BlobHeader + int64(layout.TextLength)
	if req.Start < layout.BlobHeader || req.End > fileEnd || req.Start >= req.End {
		return fmerrors.ConstructionWorkerError("make-part",
			fmt.Errorf("range [%d, %d) outside text [%d, %d)", req.Start, req.End, layout.BlobHeader, fileEnd))
	}

	sa, err := sortSuffixes(data[req.Start:req.End])
	if err != nil {
		return fmerrors.ConstructionWorkerError("make-part", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	base := uint64(req.Start - layout.BlobHeader)
	path := filepath.Join(req.PartsDir, partName(req.Start, req.End))
	if err := writeEntries(path, req.Ratio, len(sa), func(i int) uint64 { return base + uint64(sa[i]) }); err != nil {
		return fmerrors.ConstructionWorkerError("make-part", err)
	}
	slog.Debug("part sorted", slog.String("part", path), slog.Int("suffixes", len(sa)))
	return nil
}

// writeEntries writes n fixed-width entries produced by at to path.
func writeEntries(path string, width, n int, at func(int) uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriterSize(f, 1<<20)
	buf := make([]byte, width)
	for i := 0; i < n; i++ {
		codec.PutUint(buf, at(i), width)
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Close()
}

// part is a sorted list of the suffix positions one partition owns. The
// entries are mapped from disk, not held on the heap.
type part struct {
	start, end int64
	entries    []byte
	width      int
	file       *mmapfile.File
}

func (p *part) len() int        { return len(p.entries) / p.width }
func (p *part) at(i int) uint64 { return codec.Uint(p.entries[i*p.width:], p.width) }
func (p *part) slice(lo, hi int) *part {
	return &part{start: p.start, end: p.end, entries: p.entries[lo*p.width : hi*p.width], width: p.width}
}

// listParts reads part names from dir, sorted by start offset.
func listParts(dir string) ([]*part, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var parts []*part
	for _, e := range ents {
		s, t, ok := strings.Cut(e.Name(), "-")
		if !ok || e.IsDir() {
			continue
		}
		start, err1 := strconv.ParseInt(s, 10, 64)
		end, err2 := strconv.ParseInt(t, 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		parts = append(parts, &part{start: start, end: end})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].start < parts[j].start })
	return parts, nil
}

// suffixOrder compares suffixes truncated to hack bytes, breaking ties by
// position so the order is total.
type suffixOrder struct {
	text []byte
	hack int
}

func (o suffixOrder) window(a uint64) []byte {
	return o.text[a:min(a+uint64(o.hack), uint64(len(o.text)))]
}

func (o suffixOrder) less(a, b uint64) bool {
	if c := bytes.Compare(o.window(a), o.window(b)); c != 0 {
		return c < 0
	}
	return a < b
}

// tied reports whether a and b share at least hack leading bytes.
func (o suffixOrder) tied(a, b uint64) bool {
	wa, wb := o.window(a), o.window(b)
	return len(wa) == o.hack && bytes.Equal(wa, wb)
}

func (w *NativeWorker) Merge(ctx context.Context, req MergeRequest) error {
	if req.HackSize <= 0 {
		return fmerrors.ConstructionWorkerError("merge", fmt.Errorf("hack size must be positive, got %d", req.HackSize))
	}
	f, layout, text, err := openText(req.DataFile)
	if err != nil {
		return fmerrors.ConstructionWorkerError("merge", err)
	}
	defer f.Close()

	parts, err := listParts(req.PartsDir)
	if err != nil {
		return fmerrors.ConstructionWorkerError("merge", err)
	}
	if len(parts) == 0 {
		return fmerrors.ConstructionWorkerError("merge", fmt.Errorf("no parts in %s", req.PartsDir))
	}
	defer func() {
		for _, p := range parts {
			_ = p.file.Close()
		}
	}()

	// Part x owns the suffixes starting before part x+1 starts; the
	// overlap beyond that is only there to resolve comparisons.
	ownedDir := filepath.Join(req.PartsDir, "owned")
	if err := os.MkdirAll(ownedDir, 0o755); err != nil {
		return fmerrors.ConstructionWorkerError("merge", err)
	}
	r := bufio.NewReaderSize(nil, 64<<10)
	bw := bufio.NewWriterSize(nil, 64<<10)
	for x, p := range parts {
		owned := p.end
		if x+1 < len(parts) {
			owned = parts[x+1].start
		}
		name := partName(p.start, p.end)
		err := filterOwned(r, bw, filepath.Join(req.PartsDir, name), filepath.Join(ownedDir, name), req.Ratio,
			uint64(p.start-layout.BlobHeader), uint64(owned-layout.BlobHeader))
		if err != nil {
			return fmerrors.ConstructionWorkerError("merge", err)
		}
		if p.file, err = mmapfile.Open(filepath.Join(ownedDir, name), false); err != nil {
			return fmerrors.ConstructionWorkerError("merge", err)
		}
		p.entries, p.width = p.file.Bytes(), req.Ratio
	}

	order := suffixOrder{text: text, hack: req.HackSize}
	runs := splitRuns(parts, max(req.Threads, 1), order)

	g, gctx := errgroup.WithContext(ctx)
	for t, run := range runs {
		g.Go(func() error {
			name := fmt.Sprintf("%04d", t)
			return mergeRun(gctx, run, order, req.Ratio,
				filepath.Join(req.MergedDir, name), filepath.Join(req.BWTDir, name))
		})
	}
	if err := g.Wait(); err != nil {
		return fmerrors.ConstructionWorkerError("merge", err)
	}
	slog.Debug("parts merged", slog.Int("parts", len(parts)), slog.Int("runs", len(runs)))
	return nil
}

// filterOwned streams the entries of the part file src whose position is in
// [lo, hi) to dst. r and w are reset and reused across parts.
func filterOwned(r *bufio.Reader, w *bufio.Writer, src, dst string, width int, lo, hi uint64) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.Size()%int64(width) != 0 {
		return fmt.Errorf("part %s size %d is not a multiple of %d", src, info.Size(), width)
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	r.Reset(in)
	w.Reset(out)
	buf := make([]byte, width)
	for {
		if _, err := io.ReadFull(r, buf); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("read part %s: %w", src, err)
		}
		if pos := codec.Uint(buf, width); pos >= lo && pos < hi {
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return out.Close()
}

// splitRuns cuts every part at the same pivot suffixes so that run t holds
// only suffixes smaller than those of run t+1. Pivots are sampled evenly
// from the largest part.
func splitRuns(parts []*part, threads int, order suffixOrder) [][]*part {
	largest := parts[0]
	for _, p := range parts {
		if p.len() > largest.len() {
			largest = p
		}
	}
	if largest.len() < threads {
		threads = max(largest.len(), 1)
	}

	cuts := make([][]int, len(parts))
	for x, p := range parts {
		cuts[x] = make([]int, threads+1)
		cuts[x][threads] = p.len()
		for t := 1; t < threads; t++ {
			pivot := largest.at(t * largest.len() / threads)
			cuts[x][t] = sort.Search(p.len(), func(i int) bool { return !order.less(p.at(i), pivot) })
		}
	}

	runs := make([][]*part, threads)
	for t := 0; t < threads; t++ {
		for x, p := range parts {
			runs[t] = append(runs[t], p.slice(cuts[x][t], cuts[x][t+1]))
		}
	}
	return runs
}

// cursor walks one part during the heap merge.
type cursor struct {
	p   *part
	idx int
	pos uint64
}

type mergeHeap struct {
	items []*cursor
	order suffixOrder
}

func (h *mergeHeap) Len() int           { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool { return h.order.less(h.items[i].pos, h.items[j].pos) }
func (h *mergeHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x any)         { h.items = append(h.items, x.(*cursor)) }
func (h *mergeHeap) Pop() any {
	old := h.items
	c := old[len(old)-1]
	h.items = old[:len(old)-1]
	return c
}

// mergeRun merges the part slices of one run into a run file of SA
// entries and a run file of the matching BWT bytes.
func mergeRun(ctx context.Context, run []*part, order suffixOrder, width int, saPath, bwtPath string) error {
	saFile, err := os.Create(saPath)
	if err != nil {
		return err
	}
	defer saFile.Close()
	bwtFile, err := os.Create(bwtPath)
	if err != nil {
		return err
	}
	defer bwtFile.Close()
	saOut := bufio.NewWriterSize(saFile, 64<<10)
	bwtOut := bufio.NewWriterSize(bwtFile, 64<<10)

	h := &mergeHeap{order: order}
	for _, p := range run {
		if p.len() > 0 {
			h.items = append(h.items, &cursor{p: p, pos: p.at(0)})
		}
	}
	heap.Init(h)

	text := order.text
	buf := make([]byte, width)
	var last uint64
	warned := false
	for n := 0; h.Len() > 0; n++ {
		if n%(1<<20) == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		c := h.items[0]
		if n > 0 && !warned && order.tied(last, c.pos) {
			// The position tie-break decided this pair, so the order may
			// differ from a full suffix sort.
			slog.Warn("match longer than hack size",
				slog.Int("hack_size", order.hack),
				slog.Uint64("pos", c.pos),
				slog.String("run", saPath))
			warned = true
		}
		last = c.pos
		codec.PutUint(buf, c.pos, width)
		if _, err := saOut.Write(buf); err != nil {
			return err
		}
		prev := text[len(text)-1]
		if c.pos > 0 {
			prev = text[c.pos-1]
		}
		if err := bwtOut.WriteByte(prev); err != nil {
			return err
		}

		c.idx++
		if c.idx < c.p.len() {
			c.pos = c.p.at(c.idx)
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}

	if err := saOut.Flush(); err != nil {
		return err
	}
	if err := bwtOut.Flush(); err != nil {
		return err
	}
	if err := saFile.Close(); err != nil {
		return err
	}
	return bwtFile.Close()
}

func (w *NativeWorker) Concat(ctx context.Context, req ConcatRequest) error {
	layout, err := codec.DetectBlob(req.DataFile)
	if err != nil {
		return fmerrors.ConstructionWorkerError("concat", err)
	}
	// ReadDir sorts by name, which is run order.
	runs, err := os.ReadDir(req.MergedDir)
	if err != nil {
		return fmerrors.ConstructionWorkerError("concat", err)
	}
	names := make([]string, 0, len(runs))
	sizes := make([]int64, 0, len(runs))
	var total int64
	for _, r := range runs {
		info, err := r.Info()
		if err != nil {
			return fmerrors.ConstructionWorkerError("concat", err)
		}
		names = append(names, r.Name())
		sizes = append(sizes, info.Size()/int64(req.Ratio))
		total += info.Size() / int64(req.Ratio)
	}
	if uint64(total) != layout.TextLength {
		return fmerrors.ConstructionWorkerError("concat",
			fmt.Errorf("runs hold %d suffixes, text has %d", total, layout.TextLength))
	}

	current := layout.Generation == codec.GenerationCurrent
	saHeader, bwtHeader := int64(0), int64(0)
	if current {
		saHeader, bwtHeader = codec.SAHeaderSize, codec.HeaderSize
	}

	sa, err := createSized(req.MergedFile, saHeader+total*int64(req.Ratio))
	if err != nil {
		return fmerrors.ConstructionWorkerError("concat", err)
	}
	defer sa.Close()
	bwt, err := createSized(req.BWTFile, bwtHeader+total)
	if err != nil {
		return fmerrors.ConstructionWorkerError("concat", err)
	}
	defer bwt.Close()

	if current {
		if err := codec.WriteSAHeader(io.NewOffsetWriter(sa, 0), uint64(total), req.Ratio); err != nil {
			return fmerrors.ConstructionWorkerError("concat", err)
		}
		if err := codec.WriteHeader(io.NewOffsetWriter(bwt, 0), uint64(total)); err != nil {
			return fmerrors.ConstructionWorkerError("concat", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(req.Threads, 1))
	var cum int64
	for i, name := range names {
		off := cum
		cum += sizes[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := copyInto(sa, saHeader+off*int64(req.Ratio), filepath.Join(req.MergedDir, name)); err != nil {
				return err
			}
			return copyInto(bwt, bwtHeader+off, filepath.Join(req.BWTDir, name))
		})
	}
	if err := g.Wait(); err != nil {
		return fmerrors.ConstructionWorkerError("concat", err)
	}
	if err := sa.Sync(); err != nil {
		return fmerrors.ConstructionWorkerError("concat", err)
	}
	if err := bwt.Sync(); err != nil {
		return fmerrors.ConstructionWorkerError("concat", err)
	}
	return nil
}

// createSized creates path presized to size plus alignment padding.
func createSized(path string, size int64) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(size + codec.PadLen(size)); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func copyInto(dst *os.File, off int64, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(io.NewOffsetWriter(dst, off), f)
	return err
}
