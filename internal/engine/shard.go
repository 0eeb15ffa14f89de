package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/Aman-CERP/fmindex/internal/codec"
	"github.com/Aman-CERP/fmindex/internal/docstore"
	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
	"github.com/Aman-CERP/fmindex/internal/fm"
	"github.com/Aman-CERP/fmindex/internal/mmapfile"
)

// ShardConfig locates one shard of an index.
type ShardConfig struct {
	Dir string `yaml:"dir" json:"dir"`

	// LoadToRAM reads every artifact into memory instead of mapping it.
	LoadToRAM bool `yaml:"load_to_ram" json:"load_to_ram"`

	// GetMetadata loads the metadata channel so documents carry their
	// metadata record.
	GetMetadata bool `yaml:"get_metadata" json:"get_metadata"`
}

// channel holds the mapped artifacts of one channel of a shard.
type channel struct {
	layout *codec.Layout

	files []*mmapfile.File

	text    []byte // TextLength bytes, sentinel included
	sa      []byte // TextLength entries of layout.Ratio bytes
	bwt     []byte
	offsets []byte // u64 LE per document
	occ     *fm.Table
	occFile bool
}

func (c *channel) docs() int { return len(c.offsets) / 8 }

func (c *channel) offset(i int) uint64 {
	return binary.LittleEndian.Uint64(c.offsets[8*i:])
}

// suffix returns the text position at SA rank.
func (c *channel) suffix(rank uint64) uint64 {
	w := uint64(c.layout.Ratio)
	return codec.Uint(c.sa[rank*w:], c.layout.Ratio)
}

// docAt returns the index of the document holding position pos, found by
// binary search over the offset array.
func (c *channel) docAt(pos uint64) int {
	n := c.docs()
	i := sort.Search(n, func(i int) bool { return c.offset(i) > pos })
	return i - 1
}

// docBounds returns the span of document i's text, separator excluded.
func (c *channel) docBounds(i int) (start, end uint64) {
	start = c.offset(i) + 1
	end = c.layout.ContentLength()
	if i+1 < c.docs() {
		end = c.offset(i + 1)
	}
	return start, end
}

// entry returns document i with its separator.
func (c *channel) entry(i int) []byte {
	start, end := c.docBounds(i)
	return c.text[start-1 : end]
}

func (c *channel) close() error {
	var errs []error
	for _, f := range c.files {
		errs = append(errs, f.Close())
	}
	c.files = nil
	return errors.Join(errs...)
}

// shard is one loaded shard. It is immutable after openShard returns.
type shard struct {
	id      int
	cfg     ShardConfig
	docBase int

	data *channel
	meta *channel // nil unless cfg.GetMetadata
}

func openShard(id int, cfg ShardConfig) (*shard, error) {
	s := &shard{id: id, cfg: cfg}
	data, err := openChannel(cfg, codec.ChannelData, true)
	if err != nil {
		return nil, err
	}
	s.data = data

	if cfg.GetMetadata {
		meta, err := openChannel(cfg, codec.ChannelMeta, false)
		if err != nil {
			_ = s.close()
			return nil, err
		}
		if meta.docs() != data.docs() {
			_ = s.close()
			_ = meta.close()
			return nil, fmerrors.CorruptIndexError(cfg.Dir,
				fmt.Sprintf("%d documents but %d metadata records", data.docs(), meta.docs()))
		}
		s.meta = meta
	}
	return s, nil
}

// openChannel maps the blob and offsets of ch and, when indexed is set,
// its SA and BWT with the occurrence table.
func openChannel(cfg ShardConfig, ch codec.Channel, indexed bool) (_ *channel, err error) {
	layout, err := codec.DetectLayout(cfg.Dir, ch)
	if err != nil {
		return nil, err
	}
	c := &channel{layout: layout}
	defer func() {
		if err != nil {
			_ = c.close()
		}
	}()

	open := func(name string) ([]byte, error) {
		path := filepath.Join(cfg.Dir, name)
		f, err := mmapfile.Open(path, cfg.LoadToRAM)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmerrors.IOError("missing shard artifact "+name, err).WithDetail("path", path)
			}
			return nil, fmerrors.IOError("open shard artifact "+name, err).WithDetail("path", path)
		}
		c.files = append(c.files, f)
		return f.Bytes(), nil
	}

	n := int64(layout.TextLength)
	blob, err := open(ch.BlobName())
	if err != nil {
		return nil, err
	}
	c.text = blob[layout.BlobHeader : layout.BlobHeader+n]

	if c.offsets, err = open(ch.OffsetName()); err != nil {
		return nil, err
	}
	if len(c.offsets)%8 != 0 || len(c.offsets) == 0 {
		return nil, fmerrors.CorruptIndexError(filepath.Join(cfg.Dir, ch.OffsetName()),
			fmt.Sprintf("offset array size %d", len(c.offsets)))
	}

	if !indexed {
		return c, nil
	}

	saPath := filepath.Join(cfg.Dir, ch.SAName())
	if err := layout.CheckSA(saPath); err != nil {
		return nil, err
	}
	if err := layout.CheckBWT(filepath.Join(cfg.Dir, ch.BWTName())); err != nil {
		return nil, err
	}

	sa, err := open(ch.SAName())
	if err != nil {
		return nil, err
	}
	c.sa = sa[layout.SAHeader : layout.SAHeader+n*int64(layout.Ratio)]
	// SA lookups land on scattered pages.
	_ = c.files[len(c.files)-1].Advise(unix.MADV_RANDOM)

	bwt, err := open(ch.BWTName())
	if err != nil {
		return nil, err
	}
	c.bwt = bwt[layout.BWTHeader : layout.BWTHeader+n]

	c.occ, c.occFile = loadOcc(filepath.Join(cfg.Dir, ch.OccName()), c.bwt)
	return c, nil
}

// loadOcc reads a precomputed occurrence table, or samples one from the
// BWT when the file is absent or stale.
func loadOcc(path string, bwt []byte) (*fm.Table, bool) {
	raw, err := os.ReadFile(path)
	if err == nil {
		t, derr := fm.Decode(raw, uint64(len(bwt)))
		if derr == nil {
			return t, true
		}
		slog.Warn("occurrence_table_invalid",
			slog.String("path", path),
			slog.String("error", derr.Error()))
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("occurrence_table_unreadable",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
	return fm.Build(bwt, fm.DefaultInterval), false
}

// metadata returns the parsed metadata record of document i.
func (s *shard) metadata(i int) (*docstore.MetaRecord, error) {
	if s.meta == nil {
		return nil, nil
	}
	return docstore.DecodeMeta(s.meta.entry(i))
}

func (s *shard) close() error {
	var errs []error
	if s.data != nil {
		errs = append(errs, s.data.close())
	}
	if s.meta != nil {
		errs = append(errs, s.meta.close())
	}
	return errors.Join(errs...)
}
