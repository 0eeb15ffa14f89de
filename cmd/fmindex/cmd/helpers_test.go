package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
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

// isolate points HOME and the user config dir at a temp dir and moves into
// an empty working directory.
func isolate(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("HOME", filepath.Join(root, "home"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "xdg"))
	t.Setenv("NO_COLOR", "1")
	for _, k := range []string{"FMINDEX_DATA_DIR", "FMINDEX_SAVE_DIR", "FMINDEX_WORKER", "FMINDEX_SOCKET"} {
		t.Setenv(k, "")
	}
	wd := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(wd, 0o755))
	t.Chdir(wd)
	return root
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(context.Background(), t, args...)
}

func executeContext(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

// writeCorpus writes docs as JSONL over files of three lines each.
func writeCorpus(t *testing.T, dir string, docs []string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for f := 0; f*3 < len(docs); f++ {
		var sb strings.Builder
		for i := f * 3; i < min((f+1)*3, len(docs)); i++ {
			line, err := json.Marshal(map[string]any{"text": docs[i], "id": i})
			require.NoError(t, err)
			sb.Write(line)
			sb.WriteByte('\n')
		}
		name := filepath.Join(dir, fmt.Sprintf("part-%02d.jsonl", f))
		require.NoError(t, os.WriteFile(name, []byte(sb.String()), 0o644))
	}
}

// buildShard builds sampleDocs into root/shard through the build command.
func buildShard(t *testing.T, root string) string {
	t.Helper()
	data := filepath.Join(root, "data")
	writeCorpus(t, data, sampleDocs)
	shard := filepath.Join(root, "shard")
	out, err := execute(t, "build",
		"--data-dir", data,
		"--save-dir", shard,
		"--skip-preflight",
		"--no-tui",
		"--mem-gib", "0.01",
		"--workers", "2")
	require.NoError(t, err, out)
	return shard
}

// writeProjectConfig writes fmindex.yaml serving shard as index "pile".
func writeProjectConfig(t *testing.T, root, shard, socket string) string {
	t.Helper()
	path := filepath.Join(root, "fmindex.yaml")
	content := fmt.Sprintf(`indexes:
  - name: pile
    shards:
      - dir: %s
        get_metadata: true
server:
  socket_path: %s
  pid_path: %s
  query_log: %s
  telemetry_db: %s
  timeout: 5s
logging:
  file: %s
`, shard, socket,
		filepath.Join(root, "fmindex.pid"),
		filepath.Join(root, "queries.jsonl"),
		filepath.Join(root, "telemetry.db"),
		filepath.Join(root, "server.log"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testSocketPath(t *testing.T) string {
	t.Helper()
	path := fmt.Sprintf("/tmp/fmindex-cmd-test-%d-%s.sock", os.Getpid(), strings.ReplaceAll(t.Name(), "/", "_"))
	t.Cleanup(func() { _ = os.Remove(path) })
	return path
}
