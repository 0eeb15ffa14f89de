package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fmindex/internal/build"
	"github.com/Aman-CERP/fmindex/internal/codec"
	"github.com/Aman-CERP/fmindex/internal/ui"
)

// "nature" occurs three times in shardA and four times in shardB.
var (
	shardA = []string{
		"the nature of nature",
		"human nature",
		"banana bandana",
	}
	shardB = []string{
		"nature walks",
		"natural history",
		"nature, nature, nature",
		"mississippi",
	}
)

// buildShard runs the full pipeline with the native worker over docs.
func buildShard(t *testing.T, docs []string) string {
	t.Helper()
	root := t.TempDir()
	data := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(data, 0o755))

	var sb strings.Builder
	for i, d := range docs {
		line, err := json.Marshal(map[string]any{"text": d, "id": i})
		require.NoError(t, err)
		sb.Write(line)
		sb.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(filepath.Join(data, "docs.jsonl"), []byte(sb.String()), 0o644))

	p, err := build.NewPipeline(build.PipelineDependencies{
		Renderer: ui.NopRenderer{},
		Worker:   &build.NativeWorker{},
	})
	require.NoError(t, err)
	save := filepath.Join(root, "shard")
	_, err = p.Run(context.Background(), build.PipelineConfig{
		DataDir:       data,
		SaveDir:       save,
		TempDir:       filepath.Join(root, "tmp"),
		Workers:       2,
		MemBytes:      64 * build.BytesPerInputByte,
		SkipPreflight: true,
	})
	require.NoError(t, err)
	return save
}

// writeLegacyShard writes a headerless shard with a naively sorted SA.
func writeLegacyShard(t *testing.T, docs []string) string {
	t.Helper()
	dir := t.TempDir()

	var text, meta []byte
	var offsets, metaOffsets []byte
	for i, d := range docs {
		offsets = binary.LittleEndian.AppendUint64(offsets, uint64(len(text)))
		text = append(text, codec.DocSeparator)
		text = append(text, d...)

		metaOffsets = binary.LittleEndian.AppendUint64(metaOffsets, uint64(len(meta)))
		meta = append(meta, codec.DocSeparator)
		meta = fmt.Appendf(meta, `{"path":"legacy.jsonl","linenum":%d,"metadata":{}}`+"\n", i)
	}
	text = append(text, codec.Sentinel)
	meta = append(meta, codec.Sentinel)

	n := len(text)
	sa := make([]int, n)
	for i := range sa {
		sa[i] = i
	}
	sort.Slice(sa, func(i, j int) bool { return bytes.Compare(text[sa[i]:], text[sa[j]:]) < 0 })

	width := codec.Ratio(uint64(n))
	saRaw := make([]byte, n*width)
	bwt := make([]byte, n)
	for r, p := range sa {
		codec.PutUint(saRaw[r*width:], uint64(p), width)
		if p == 0 {
			bwt[r] = text[n-1]
		} else {
			bwt[r] = text[p-1]
		}
	}

	padded := append(append([]byte{}, text...), make([]byte, codec.PadLen(int64(n)))...)
	files := map[string][]byte{
		codec.ChannelData.BlobName():   padded,
		codec.ChannelData.OffsetName(): offsets,
		codec.ChannelData.SAName():     saRaw,
		codec.ChannelData.BWTName():    bwt,
		codec.ChannelMeta.BlobName():   meta,
		codec.ChannelMeta.OffsetName(): metaOffsets,
	}
	for name, b := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), b, 0o644))
	}
	return dir
}

func openEngine(t *testing.T, opts Options, shards ...ShardConfig) *Engine {
	t.Helper()
	e, err := Open(context.Background(), shards, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}
