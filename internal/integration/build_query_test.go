package integration

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fmindex/internal/build"
	"github.com/Aman-CERP/fmindex/internal/engine"
	"github.com/Aman-CERP/fmindex/internal/router"
	"github.com/Aman-CERP/fmindex/internal/ui"
)

// Integration tests build real shards from compressed corpora and check
// every query operation against a brute-force scan of the documents.

var vocabulary = []string{
	"the", "nature", "of", "natural", "language", "is", "a", "an", "index",
	"suffix", "array", "banana", "bandana", "and", "or", "not", "aaaa",
}

type corpusDoc struct {
	ID   string
	Text string
}

// randomDocs generates n documents from a small vocabulary so that common
// needles occur many times and share long prefixes.
func randomDocs(rng *rand.Rand, prefix string, n int) []corpusDoc {
	docs := make([]corpusDoc, n)
	for i := range docs {
		words := make([]string, 1+rng.IntN(30))
		for j := range words {
			words[j] = vocabulary[rng.IntN(len(vocabulary))]
		}
		docs[i] = corpusDoc{ID: fmt.Sprintf("%s-%d", prefix, i), Text: strings.Join(words, " ")}
	}
	return docs
}

func encodeLines(t testing.TB, docs []corpusDoc) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, d := range docs {
		line, err := json.Marshal(map[string]any{"text": d.Text, "id": d.ID})
		require.NoError(t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// writeCorpus splits docs across a plain, a gzip and a zstd file.
func writeCorpus(t testing.TB, dir string, docs []corpusDoc) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	third := len(docs) / 3

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jsonl"), encodeLines(t, docs[:third]), 0o644))

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(encodeLines(t, docs[third:2*third]))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jsonl.gz"), gz.Bytes(), 0o644))

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zst := enc.EncodeAll(encodeLines(t, docs[2*third:]), nil)
	require.NoError(t, enc.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "c.jsonl.zst"), zst, 0o644))
}

func buildShard(t testing.TB, root string, docs []corpusDoc) string {
	t.Helper()
	data := filepath.Join(root, "data")
	writeCorpus(t, data, docs)

	p, err := build.NewPipeline(build.PipelineDependencies{
		Renderer: ui.NopRenderer{},
		Worker:   &build.NativeWorker{},
	})
	require.NoError(t, err)

	save := filepath.Join(root, "shard")
	res, err := p.Run(context.Background(), build.PipelineConfig{
		DataDir:       data,
		SaveDir:       save,
		TempDir:       filepath.Join(root, "tmp"),
		Workers:       3,
		MemBytes:      256 * build.BytesPerInputByte,
		BatchSize:     7,
		SkipPreflight: true,
		Checksums:     true,
	})
	require.NoError(t, err)
	require.Equal(t, len(docs), res.Prepare.Documents)
	return save
}

// fixture is a two-shard index with the documents that went into it.
type fixture struct {
	engine *engine.Engine
	byID   map[string]string
	docs   []corpusDoc
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))
	first := randomDocs(rng, "s0", 60)
	second := randomDocs(rng, "s1", 45)

	root := t.TempDir()
	shards := []engine.ShardConfig{
		{Dir: buildShard(t, filepath.Join(root, "0"), first), GetMetadata: true},
		{Dir: buildShard(t, filepath.Join(root, "1"), second), GetMetadata: true, LoadToRAM: true},
	}
	eng, err := engine.Open(context.Background(), shards, engine.Options{CacheSize: 16})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	f := &fixture{engine: eng, byID: map[string]string{}}
	f.docs = append(append(f.docs, first...), second...)
	for _, d := range f.docs {
		f.byID[d.ID] = d.Text
	}
	return f
}

// bruteCount counts overlapping occurrences of needle across documents.
func (f *fixture) bruteCount(needle string) uint64 {
	var n uint64
	for _, d := range f.docs {
		for i := 0; i+len(needle) <= len(d.Text); i++ {
			if d.Text[i:i+len(needle)] == needle {
				n++
			}
		}
	}
	return n
}

func (f *fixture) docText(t *testing.T, doc *engine.Document) string {
	t.Helper()
	require.NotNil(t, doc.Metadata)
	var id string
	require.NoError(t, json.Unmarshal(doc.Metadata.Metadata["id"], &id))
	text, ok := f.byID[id]
	require.True(t, ok, "unknown document id %q", id)
	return text
}

var needles = []string{
	"nature", "natur", "an", "a", "ana", "banana", "aaaa", "aa", "of the",
	"language is", "index suffix", "zebra", "n", " ",
}

func TestBuildAndQuery_CountMatchesBruteForce(t *testing.T) {
	f := newFixture(t)

	for _, needle := range needles {
		t.Run(needle, func(t *testing.T) {
			res := f.engine.Count([]byte(needle))
			assert.Equal(t, f.bruteCount(needle), res.Count)
			require.Len(t, res.CountByShard, 2)
			assert.Equal(t, res.Count, res.CountByShard[0]+res.CountByShard[1])

			find := f.engine.Find([]byte(needle))
			assert.Equal(t, res.Count, find.Count)
			for i, seg := range find.Segments {
				assert.Equal(t, res.CountByShard[i], seg.Len())
				assert.Equal(t, res.LoByShard[i], seg.Lo)
			}
		})
	}
}

func TestBuildAndQuery_WindowsContainNeedle(t *testing.T) {
	f := newFixture(t)

	for _, needle := range []string{"nature", "ana", "aaaa", "of"} {
		total := f.bruteCount(needle)
		require.NotZero(t, total, needle)

		locs := f.engine.Locate([]byte(needle), 25)
		assert.Len(t, locs, int(min(total, 25)))

		for occ := uint64(0); occ < min(total, 40); occ++ {
			w, err := f.engine.Reconstruct([]byte(needle), occ, 12, 12)
			require.NoError(t, err)
			require.LessOrEqual(t, w.MatchOffset+len(needle), len(w.Text))
			assert.Equal(t, needle, w.Text[w.MatchOffset:w.MatchOffset+len(needle)])
			assert.LessOrEqual(t, len(w.Text), 12+len(needle)+12)
			assert.NotContains(t, w.Text, "\xff")
		}

		_, err := f.engine.Reconstruct([]byte(needle), total, 0, 0)
		assert.Error(t, err)
	}
}

func TestBuildAndQuery_GetDocByRankResolvesDocuments(t *testing.T) {
	f := newFixture(t)
	needle := "nature"

	res := f.engine.Find([]byte(needle))
	var seen int
	for s, seg := range res.Segments {
		for rank := seg.Lo; rank < seg.Hi; rank++ {
			doc, err := f.engine.GetDocByRank(s, rank, len(needle), 20)
			require.NoError(t, err)

			full := f.docText(t, doc)
			assert.Equal(t, len(full), doc.DocLen)
			assert.Contains(t, full, doc.Text)
			assert.Equal(t, needle, doc.Text[doc.NeedleOffset:doc.NeedleOffset+len(needle)])
			assert.LessOrEqual(t, doc.DispLen, 20+len(needle)+20)
			seen++
		}
	}
	assert.Equal(t, int(f.bruteCount(needle)), seen)
}

func TestBuildAndQuery_RouterOverRealIndex(t *testing.T) {
	f := newFixture(t)
	r := router.New(router.NewRegistry(map[string]router.Engine{"pile": f.engine}))
	ctx := context.Background()

	resp := r.Dispatch(ctx, router.Request{Index: "pile", Operation: "count", Query: "banana"})
	require.Equal(t, router.StatusSuccess, resp.Status, resp.Error)
	count := resp.Result.(engine.CountResult)
	assert.Equal(t, f.bruteCount("banana"), count.Count)

	if count.Count > 0 {
		shard := 0
		if count.CountByShard[0] == 0 {
			shard = 1
		}
		params, err := json.Marshal(map[string]any{"s": shard, "rank": count.LoByShard[shard], "max_ctx_len": 8})
		require.NoError(t, err)
		resp = r.Dispatch(ctx, router.Request{
			Index: "pile", Operation: "get_doc_by_rank", Query: "banana", Params: params,
		})
		require.Equal(t, router.StatusSuccess, resp.Status, resp.Error)
		doc := resp.Result.(*engine.Document)
		var matched bool
		for _, sp := range doc.Spans {
			if sp.Label != nil && sp.Text == "banana" {
				matched = true
			}
		}
		assert.True(t, matched)
	}

	resp = r.Dispatch(ctx, router.Request{
		Index: "pile", Operation: "get_doc_by_rank", Query: "x",
		Params: json.RawMessage(`{"s":5}`),
	})
	assert.Equal(t, router.StatusClientError, resp.Status)
}

func BenchmarkCount(b *testing.B) {
	f := newFixture(b)
	queries := [][]byte{[]byte("nature"), []byte("an"), []byte("language is")}
	for i := 0; b.Loop(); i++ {
		f.engine.Count(queries[i%len(queries)])
	}
}
