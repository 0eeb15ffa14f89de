// Package engine answers substring queries over the shards of one index.
//
// Every shard is opened once and never modified afterwards, so query
// methods take no locks and may be called from any number of goroutines.
// Only the optional range cache is shared mutable state, and it is
// internally synchronized.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/fmindex/internal/docstore"
	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
)

// DefaultCacheSize is the number of query range sets kept by default.
const DefaultCacheSize = 1024

// Options configures an Engine.
type Options struct {
	// CacheSize is the number of recent queries whose rank ranges are
	// cached. Zero disables the cache.
	CacheSize int

	// Workers bounds concurrent shard loading. Defaults to NumCPU.
	Workers int
}

// Segment is the half-open SA rank range [Lo, Hi) matching a query in one shard.
type Segment struct {
	Lo uint64 `json:"lo"`
	Hi uint64 `json:"hi"`
}

// Len returns the number of ranks in the segment.
func (s Segment) Len() uint64 { return s.Hi - s.Lo }

// CountResult is the answer to Count.
type CountResult struct {
	Count        uint64   `json:"count"`
	CountByShard []uint64 `json:"count_by_shard"`
	LoByShard    []uint64 `json:"lo_by_shard"`
}

// FindResult is the answer to Find.
type FindResult struct {
	Count    uint64    `json:"cnt"`
	Segments []Segment `json:"segment_by_shard"`
}

// Location is one located occurrence.
type Location struct {
	Shard int    `json:"shard"`
	Rank  uint64 `json:"rank"`
	// Pos is the text position of the occurrence within its shard.
	Pos uint64 `json:"pos"`
}

// Window is a decoded text window around one occurrence.
type Window struct {
	Shard    int    `json:"shard"`
	Rank     uint64 `json:"rank"`
	DocIndex int    `json:"doc_ix"`
	// MatchOffset is the byte offset of the match within Text.
	MatchOffset int    `json:"match_offset"`
	Text        string `json:"text"`
}

// Document is the answer to GetDocByRank.
type Document struct {
	DocIndex     int                  `json:"doc_ix"`
	DocLen       int                  `json:"doc_len"`
	DispLen      int                  `json:"disp_len"`
	NeedleOffset int                  `json:"needle_offset"`
	Metadata     *docstore.MetaRecord `json:"metadata"`
	Text         string               `json:"text"`
	Spans        []Span               `json:"spans,omitempty"`
}

// ShardStats describes one loaded shard.
type ShardStats struct {
	Dir         string `json:"dir"`
	Generation  string `json:"generation"`
	Documents   int    `json:"documents"`
	TextLength  uint64 `json:"text_length"`
	Ratio       int    `json:"ratio"`
	LoadedToRAM bool   `json:"load_to_ram"`
	Metadata    bool   `json:"metadata"`
	// OccSource is "file" when a precomputed occurrence table was loaded
	// and "computed" otherwise.
	OccSource string `json:"occ_source"`
}

// Stats summarizes an Engine.
type Stats struct {
	Shards    []ShardStats `json:"shards"`
	Documents int          `json:"documents"`
}

// Engine queries an ordered set of shards.
type Engine struct {
	shards []*shard
	cache  *lru.Cache[string, []Segment]
}

// Open loads every shard concurrently. The returned Engine is read-only.
func Open(ctx context.Context, shards []ShardConfig, opts Options) (*Engine, error) {
	if len(shards) == 0 {
		return nil, fmerrors.ConfigError("an index needs at least one shard", nil)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	start := time.Now()
	loaded := make([]*shard, len(shards))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, cfg := range shards {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := openShard(i, cfg)
			if err != nil {
				return fmt.Errorf("shard %d (%s): %w", i, cfg.Dir, err)
			}
			loaded[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, s := range loaded {
			if s != nil {
				_ = s.close()
			}
		}
		return nil, err
	}

	base := 0
	for _, s := range loaded {
		s.docBase = base
		base += s.data.docs()
	}

	e := &Engine{shards: loaded}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, []Segment](opts.CacheSize)
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("create range cache: %w", err)
		}
		e.cache = cache
	}

	slog.Info("engine_opened",
		slog.Int("shards", len(loaded)),
		slog.Int("documents", base),
		slog.Duration("duration", time.Since(start)))
	return e, nil
}

// NumShards returns the number of shards.
func (e *Engine) NumShards() int { return len(e.shards) }

// ranges runs backward search for query on every shard.
func (e *Engine) ranges(query []byte) []Segment {
	key := string(query)
	if e.cache != nil {
		if segs, ok := e.cache.Get(key); ok {
			return segs
		}
	}
	segs := make([]Segment, len(e.shards))
	for i, s := range e.shards {
		lo, hi := s.data.occ.Range(s.data.bwt, query)
		segs[i] = Segment{Lo: lo, Hi: hi}
	}
	if e.cache != nil {
		e.cache.Add(key, segs)
	}
	return segs
}

// Count returns the number of occurrences of query in every shard.
func (e *Engine) Count(query []byte) CountResult {
	segs := e.ranges(query)
	res := CountResult{
		CountByShard: make([]uint64, len(segs)),
		LoByShard:    make([]uint64, len(segs)),
	}
	for i, seg := range segs {
		res.CountByShard[i] = seg.Len()
		res.LoByShard[i] = seg.Lo
		res.Count += seg.Len()
	}
	return res
}

// Find returns the SA rank range of query in every shard. An empty query
// matches every rank.
func (e *Engine) Find(query []byte) FindResult {
	segs := e.ranges(query)
	res := FindResult{Segments: make([]Segment, len(segs))}
	copy(res.Segments, segs)
	for _, seg := range segs {
		res.Count += seg.Len()
	}
	return res
}

// rankAt maps a global rank within segs to its shard and SA rank.
func rankAt(segs []Segment, global uint64) (shard int, rank uint64) {
	for i, seg := range segs {
		if global < seg.Len() {
			return i, seg.Lo + global
		}
		global -= seg.Len()
	}
	return -1, 0
}

// Locate returns up to numOcc occurrences of query at evenly spaced
// global ranks, so repeated calls return the same positions.
func (e *Engine) Locate(query []byte, numOcc int) []Location {
	segs := e.ranges(query)
	var total uint64
	for _, seg := range segs {
		total += seg.Len()
	}
	if numOcc <= 0 || total == 0 {
		return []Location{}
	}
	k := min(uint64(numOcc), total)

	locs := make([]Location, 0, k)
	for j := uint64(0); j < k; j++ {
		si, rank := rankAt(segs, j*total/k)
		locs = append(locs, Location{
			Shard: si,
			Rank:  rank,
			Pos:   e.shards[si].data.suffix(rank),
		})
	}
	return locs
}

// Reconstruct decodes preText bytes before and postText bytes after the
// occurrence-th match of query, counted from zero in shard then rank
// order. The window never crosses the owning document's boundaries.
func (e *Engine) Reconstruct(query []byte, occurrence uint64, preText, postText int) (*Window, error) {
	if preText < 0 || postText < 0 {
		return nil, fmerrors.ValidationError("context lengths must not be negative", nil)
	}
	segs := e.ranges(query)
	si, rank := rankAt(segs, occurrence)
	if si < 0 {
		return nil, fmerrors.ValidationError(
			fmt.Sprintf("occurrence %d out of range", occurrence), nil).
			WithDetail("query", string(query))
	}
	s := e.shards[si]
	pos := s.data.suffix(rank)
	text, start, doc, err := s.window(pos, len(query), preText, postText)
	if err != nil {
		return nil, err
	}
	return &Window{
		Shard:       si,
		Rank:        rank,
		DocIndex:    s.docBase + doc,
		MatchOffset: int(pos - start),
		Text:        text,
	}, nil
}

// GetDocByRank resolves rank in shard to its document and returns at
// most maxCtxLen bytes of context on each side of a needleLen match.
func (e *Engine) GetDocByRank(shardIdx int, rank uint64, needleLen, maxCtxLen int) (*Document, error) {
	if shardIdx < 0 || shardIdx >= len(e.shards) {
		return nil, fmerrors.ValidationError(
			fmt.Sprintf("shard %d out of range [0, %d)", shardIdx, len(e.shards)), nil)
	}
	if needleLen < 0 || maxCtxLen < 0 {
		return nil, fmerrors.ValidationError("needle and context lengths must not be negative", nil)
	}
	s := e.shards[shardIdx]
	if rank >= s.data.layout.TextLength {
		return nil, fmerrors.ValidationError(
			fmt.Sprintf("rank %d out of range [0, %d)", rank, s.data.layout.TextLength), nil)
	}

	pos := s.data.suffix(rank)
	text, start, doc, err := s.window(pos, needleLen, maxCtxLen, maxCtxLen)
	if err != nil {
		return nil, err
	}
	docStart, docEnd := s.data.docBounds(doc)
	meta, err := s.metadata(doc)
	if err != nil {
		return nil, fmerrors.CorruptIndexError(s.cfg.Dir, err.Error())
	}
	return &Document{
		DocIndex:     s.docBase + doc,
		DocLen:       int(docEnd - docStart),
		DispLen:      len(text),
		NeedleOffset: int(pos - start),
		Metadata:     meta,
		Text:         text,
	}, nil
}

// window returns the text [pos-pre, pos+n+post) clipped to the document
// holding pos, its start position and the local document index.
func (s *shard) window(pos uint64, n, pre, post int) (string, uint64, int, error) {
	if pos >= s.data.layout.ContentLength() {
		return "", 0, 0, fmerrors.ValidationError(
			fmt.Sprintf("position %d is the end of the text", pos), nil)
	}
	doc := s.data.docAt(pos)
	if doc < 0 {
		return "", 0, 0, fmerrors.CorruptIndexError(s.cfg.Dir,
			fmt.Sprintf("position %d precedes the first document", pos))
	}
	docStart, docEnd := s.data.docBounds(doc)
	if pos < docStart {
		return "", 0, 0, fmerrors.ValidationError(
			fmt.Sprintf("position %d is a document separator", pos), nil)
	}
	start := docStart
	if pos > docStart+uint64(pre) {
		start = pos - uint64(pre)
	}
	end := min(docEnd, pos+uint64(n)+uint64(post))

	raw := s.data.text[start:end]
	if !utf8.Valid(raw) {
		return "", 0, 0, fmerrors.DecodeError(errors.New("window splits a multi-byte sequence")).
			WithDetail("shard", s.cfg.Dir).
			WithDetail("pos", fmt.Sprint(pos))
	}
	return string(raw), start, doc, nil
}

// Stats describes the loaded shards.
func (e *Engine) Stats() Stats {
	st := Stats{Shards: make([]ShardStats, len(e.shards))}
	for i, s := range e.shards {
		occ := "computed"
		if s.data.occFile {
			occ = "file"
		}
		st.Shards[i] = ShardStats{
			Dir:         s.cfg.Dir,
			Generation:  s.data.layout.Generation.String(),
			Documents:   s.data.docs(),
			TextLength:  s.data.layout.TextLength,
			Ratio:       s.data.layout.Ratio,
			LoadedToRAM: s.cfg.LoadToRAM,
			Metadata:    s.meta != nil,
			OccSource:   occ,
		}
		st.Documents += s.data.docs()
	}
	return st
}

// Close releases every mapped artifact. The Engine must not be used afterwards.
func (e *Engine) Close() error {
	var errs []error
	for _, s := range e.shards {
		errs = append(errs, s.close())
	}
	e.shards = nil
	return errors.Join(errs...)
}
