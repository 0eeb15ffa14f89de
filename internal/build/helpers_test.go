package build

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/fmindex/internal/codec"
	"github.com/Aman-CERP/fmindex/internal/docstore"
	"github.com/Aman-CERP/fmindex/internal/ui"
)

var sampleDocs = []string{
	"the nature of things",
	"banana bandana",
	"mississippi river",
	"natural language processing",
	"all in good nature",
	"abracadabra",
	"the quick brown fox jumps over the lazy dog",
	"nature, nurture and the natural world",
}

// writeCorpus writes docs as JSONL split over files of perFile lines.
func writeCorpus(t *testing.T, dir string, docs []string, perFile int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for f := 0; f*perFile < len(docs); f++ {
		var sb strings.Builder
		for i := f * perFile; i < min((f+1)*perFile, len(docs)); i++ {
			line, err := json.Marshal(map[string]any{"text": docs[i], "id": i})
			require.NoError(t, err)
			sb.Write(line)
			sb.WriteByte('\n')
		}
		name := filepath.Join(dir, fmt.Sprintf("part-%02d.jsonl", f))
		require.NoError(t, os.WriteFile(name, []byte(sb.String()), 0o644))
	}
}

// prepareShard runs the prepare stage only.
func prepareShard(t *testing.T, docs []string) string {
	t.Helper()
	root := t.TempDir()
	writeCorpus(t, filepath.Join(root, "data"), docs, 3)
	save := filepath.Join(root, "shard")
	_, err := docstore.NewBuilder(docstore.Config{
		DataDir: filepath.Join(root, "data"),
		SaveDir: save,
	}).Prepare(context.Background())
	require.NoError(t, err)
	return save
}

type shardChannel struct {
	text []byte
	sa   []uint64
	bwt  []byte
}

// readChannel loads the text, SA and BWT of a built channel.
func readChannel(t *testing.T, dir string, ch codec.Channel) shardChannel {
	t.Helper()
	layout, err := codec.DetectLayout(dir, ch)
	require.NoError(t, err)
	require.NoError(t, layout.CheckSA(filepath.Join(dir, ch.SAName())))
	require.NoError(t, layout.CheckBWT(filepath.Join(dir, ch.BWTName())))

	blob, err := os.ReadFile(filepath.Join(dir, ch.BlobName()))
	require.NoError(t, err)
	saRaw, err := os.ReadFile(filepath.Join(dir, ch.SAName()))
	require.NoError(t, err)
	bwtRaw, err := os.ReadFile(filepath.Join(dir, ch.BWTName()))
	require.NoError(t, err)

	n := int64(layout.TextLength)
	out := shardChannel{
		text: blob[layout.BlobHeader : layout.BlobHeader+n],
		bwt:  bwtRaw[layout.BWTHeader : layout.BWTHeader+n],
		sa:   make([]uint64, n),
	}
	for i := range out.sa {
		out.sa[i] = codec.Uint(saRaw[layout.SAHeader+int64(i*layout.Ratio):], layout.Ratio)
	}
	return out
}

func naiveSA(text []byte) []uint64 {
	sa := make([]uint64, len(text))
	for i := range sa {
		sa[i] = uint64(i)
	}
	sort.Slice(sa, func(i, j int) bool { return bytes.Compare(text[sa[i]:], text[sa[j]:]) < 0 })
	return sa
}

// requireValidChannel checks the SA against a naive sort and the BWT
// against the SA.
func requireValidChannel(t *testing.T, dir string, ch codec.Channel) {
	t.Helper()
	got := readChannel(t, dir, ch)
	require.Equal(t, codec.Sentinel, got.text[len(got.text)-1])
	require.Equal(t, naiveSA(got.text), got.sa, "channel %s suffix array", ch)
	for i, p := range got.sa {
		want := got.text[len(got.text)-1]
		if p > 0 {
			want = got.text[p-1]
		}
		require.Equal(t, want, got.bwt[i], "channel %s bwt[%d]", ch, i)
	}
}

// recordingRenderer captures renderer events.
type recordingRenderer struct {
	mu       sync.Mutex
	progress []ui.ProgressEvent
	errors   []ui.ErrorEvent
	complete *ui.CompletionStats
}

func (r *recordingRenderer) Start(context.Context) error { return nil }
func (r *recordingRenderer) Stop() error                 { return nil }

func (r *recordingRenderer) UpdateProgress(e ui.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, e)
}

func (r *recordingRenderer) AddError(e ui.ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, e)
}

func (r *recordingRenderer) Complete(s ui.CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete = &s
}

func (r *recordingRenderer) stages() map[ui.Stage]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[ui.Stage]bool)
	for _, e := range r.progress {
		seen[e.Stage] = true
	}
	return seen
}
