package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

func TestDefaultPaths(t *testing.T) {
	dir := DefaultLogDir()
	if !strings.HasSuffix(dir, filepath.Join(".fmindex", "logs")) {
		t.Errorf("DefaultLogDir() = %q, want suffix .fmindex/logs", dir)
	}
	for _, p := range []string{DefaultLogPath(), BuildLogPath(), DefaultQueryLogPath()} {
		if filepath.Dir(p) != dir {
			t.Errorf("%q is not under %q", p, dir)
		}
	}
}

func TestSetup_ComponentAndLowercaseLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "build.log")

	logger, cleanup, err := Setup(Config{Level: "info", FilePath: logPath, Component: "build"})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Info("stage_done", "stage", "merge")
	cleanup()

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	line := string(content)
	for _, want := range []string{`"level":"info"`, `"component":"build"`, `"stage":"merge"`} {
		if !strings.Contains(line, want) {
			t.Errorf("missing %s in %q", want, line)
		}
	}

	entry := parseLine(strings.TrimSpace(line), "server")
	if !entry.IsValid || entry.Source != "build" || entry.Time.IsZero() || entry.Time.Location() != time.UTC {
		t.Errorf("viewer could not read back %q: %+v", line, entry)
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "server.log")

	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: logPath, MaxSizeMB: 1, MaxFiles: 2})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shard_opened", "dir", "/data/shard0")
	cleanup()

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if strings.Contains(string(content), "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(string(content), `"msg":"shard_opened"`) || !strings.Contains(string(content), `"dir":"/data/shard0"`) {
		t.Errorf("missing structured record in %q", content)
	}
}

func TestSetup_StderrOnly(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "debug"})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()
	if !logger.Enabled(context.Background(), LevelFromString("debug")) {
		t.Error("debug level should be enabled")
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in    string
		want  string
		valid bool
	}{
		{"debug", "DEBUG", true},
		{"INFO", "INFO", true},
		{"warning", "WARN", true},
		{"error", "ERROR", true},
		{"verbose", "INFO", false},
	}
	for _, tt := range tests {
		if got := LevelFromString(tt.in).String(); got != tt.want {
			t.Errorf("LevelFromString(%q) = %s, want %s", tt.in, got, tt.want)
		}
		if got := ValidLevel(tt.in); got != tt.valid {
			t.Errorf("ValidLevel(%q) = %v, want %v", tt.in, got, tt.valid)
		}
	}
}

func TestParseLogSource(t *testing.T) {
	for in, want := range map[string]LogSource{"": LogSourceServer, "server": LogSourceServer, "BUILD": LogSourceBuild, "all": LogSourceAll} {
		got, err := ParseLogSource(in)
		if err != nil || got != want {
			t.Errorf("ParseLogSource(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseLogSource("mlx"); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestFindLogFiles_Explicit(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "custom.log")
	if _, err := FindLogFiles(LogSourceServer, logPath); err == nil {
		t.Error("expected error for missing explicit file")
	}
	if err := os.WriteFile(logPath, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindLogFiles(LogSourceAll, logPath)
	if err != nil || len(got) != 1 || got[0] != logPath {
		t.Errorf("FindLogFiles = %v, %v", got, err)
	}
}

func TestSourceFromPath(t *testing.T) {
	tests := map[string]string{
		"/x/server.log":    "server",
		"/x/server.log.2":  "server",
		"/x/build.log":     "build",
		"/x/queries.jsonl": "queries",
	}
	for path, want := range tests {
		if got := sourceFromPath(path); got != want {
			t.Errorf("sourceFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

// ============================================================================
// Viewer Tests
// ============================================================================

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestViewer_ParseLine(t *testing.T) {
	entry := parseLine(`{"time":"2026-01-06T10:00:00Z","level":"INFO","msg":"engine_opened","shards":2}`, "server")
	if !entry.IsValid {
		t.Fatal("expected valid entry")
	}
	if entry.Msg != "engine_opened" || entry.Level != "INFO" || entry.Source != "server" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Attrs["shards"] != 2.0 {
		t.Errorf("shards attr = %v", entry.Attrs["shards"])
	}
	if !entry.Time.Equal(mustParseTime("2026-01-06T10:00:00Z")) {
		t.Errorf("time = %v", entry.Time)
	}

	bad := parseLine("plain text", "server")
	if bad.IsValid || bad.Raw != "plain text" {
		t.Errorf("unexpected entry for invalid JSON: %+v", bad)
	}
}

func TestViewer_Filters(t *testing.T) {
	f := Filter{MinLevel: "warn", Pattern: regexp.MustCompile("shard")}

	tests := []struct {
		line string
		want bool
	}{
		{`{"level":"ERROR","msg":"shard failed"}`, true},
		{`{"level":"WARN","msg":"occurrence_table_invalid","path":"/shard/data.occ"}`, true},
		{`{"level":"INFO","msg":"shard opened"}`, false},
		{`{"level":"ERROR","msg":"query_failed"}`, false},
	}
	for _, tt := range tests {
		if got := f.Match(parseLine(tt.line, "")); got != tt.want {
			t.Errorf("Match(%s) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestFilter_Since(t *testing.T) {
	f := Filter{Since: mustParseTime("2026-01-06T10:00:00Z")}
	if f.Match(parseLine(`{"time":"2026-01-06T09:59:59Z","level":"INFO","msg":"early"}`, "")) {
		t.Error("entry before Since should be dropped")
	}
	if !f.Match(parseLine(`{"time":"2026-01-06T10:00:00Z","level":"INFO","msg":"on time"}`, "")) {
		t.Error("entry at Since should match")
	}
	if !f.Match(parseLine("not json", "")) {
		t.Error("lines without a time always match")
	}
}

func TestViewer_TailKeepsLastMatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	var lines []string
	for i := range 10 {
		level := "DEBUG"
		if i%2 == 0 {
			level = "ERROR"
		}
		lines = append(lines, fmt.Sprintf(`{"time":"2026-01-06T10:00:%02dZ","level":%q,"msg":"m%d"}`, i, level, i))
	}
	writeLines(t, path, lines...)

	v := NewViewer(ViewerConfig{Filter: Filter{MinLevel: "error"}}, io.Discard)
	entries, err := v.Tail([]string{path}, 3)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	var msgs []string
	for _, e := range entries {
		msgs = append(msgs, e.Msg)
	}
	if got := strings.Join(msgs, ","); got != "m4,m6,m8" {
		t.Errorf("Tail = %s, want m4,m6,m8", got)
	}
}

func TestViewer_FormatEntry(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true, ShowSource: true}, &bytes.Buffer{})

	entry := parseLine(`{"time":"2026-01-06T10:00:01.5Z","level":"WARN","msg":"slow","b":2,"a":"x"}`, "build")
	got := v.FormatEntry(entry)
	want := "10:00:01.500 WARN  [build] slow a=x b=2"
	if got != want {
		t.Errorf("FormatEntry = %q, want %q", got, want)
	}

	if got := v.FormatEntry(parseLine("garbage", "build")); got != "garbage" {
		t.Errorf("invalid entries print raw, got %q", got)
	}
}

func TestViewer_Tail(t *testing.T) {
	dir := t.TempDir()
	server := filepath.Join(dir, "server.log")
	build := filepath.Join(dir, "build.log")
	writeLines(t, server,
		`{"time":"2026-01-06T10:00:00Z","level":"INFO","msg":"s1"}`,
		`{"time":"2026-01-06T10:00:02Z","level":"INFO","msg":"s2"}`,
		`{"time":"2026-01-06T10:00:04Z","level":"DEBUG","msg":"s3"}`,
	)
	writeLines(t, build,
		`{"time":"2026-01-06T10:00:01Z","level":"INFO","msg":"b1"}`,
		`{"time":"2026-01-06T10:00:03Z","level":"INFO","msg":"b2"}`,
	)

	v := NewViewer(ViewerConfig{}, &bytes.Buffer{})
	entries, err := v.Tail([]string{server, build}, 3)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	var msgs []string
	for _, e := range entries {
		msgs = append(msgs, e.Source+":"+e.Msg)
	}
	if got := strings.Join(msgs, ","); got != "server:s2,build:b2,server:s3" {
		t.Errorf("Tail order = %s", got)
	}

	leveled := NewViewer(ViewerConfig{Filter: Filter{MinLevel: "info"}}, &bytes.Buffer{})
	entries, err = leveled.Tail([]string{server}, 10)
	if err != nil || len(entries) != 2 {
		t.Errorf("level filtered Tail = %d entries, %v", len(entries), err)
	}

	if _, err := v.Tail([]string{filepath.Join(dir, "missing.log")}, 5); err == nil {
		t.Error("expected error for a single missing file")
	}
}

func TestViewer_Follow(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "server.log")
	writeLines(t, logPath, `{"level":"INFO","msg":"old"}`)

	v := NewViewer(ViewerConfig{}, &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries := make(chan Entry, 4)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, []string{logPath}, entries) }()

	// Let Follow seek to the end before appending.
	time.Sleep(50 * time.Millisecond)
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString(`{"level":"INFO","msg":"new"}` + "\n")
	_ = f.Close()

	select {
	case e := <-entries:
		if e.Msg != "new" || e.Source != "server" {
			t.Errorf("unexpected entry %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no entry followed")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Follow returned %v", err)
	}
}

func TestViewer_Print(t *testing.T) {
	var buf bytes.Buffer
	v := NewViewer(ViewerConfig{NoColor: true}, &buf)
	v.Print(Entry{Raw: "one"}, Entry{Raw: "two"})
	if buf.String() != "one\ntwo\n" {
		t.Errorf("Print wrote %q", buf.String())
	}
}

// ============================================================================
// Writer Tests
// ============================================================================

func TestRotatingWriter_Rotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rotate.log")

	w, err := NewRotatingWriter(logPath, 1, 2)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()
	w.maxSize = 1024

	chunk := bytes.Repeat([]byte("x"), 700)
	for i := 0; i < 5; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	for _, p := range []string{logPath, logPath + ".1", logPath + ".2"} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s should exist: %v", p, err)
		}
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("rotated file .3 should not exist beyond maxFiles")
	}
	info, err := os.Stat(logPath)
	if err != nil || info.Size() != int64(len(chunk)) {
		t.Errorf("current file should hold one chunk, got %v, %v", info, err)
	}
}

func TestRotatingWriter_AppendsAndSyncs(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "append.log")
	if err := os.WriteFile(logPath, []byte("existing\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewRotatingWriter(logPath, 0, 0)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	w.SetImmediateSync(true)
	if _, err := w.Write([]byte("appended\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Errorf("sync failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
	if _, err := w.Write([]byte("late\n")); err == nil {
		t.Error("write after close should fail")
	}

	content, _ := os.ReadFile(logPath)
	if string(content) != "existing\nappended\n" {
		t.Errorf("content = %q", content)
	}
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concurrent.log")

	w, err := NewRotatingWriter(logPath, 10, 3)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = w.Write([]byte(fmt.Sprintf(`{"id":%d,"iter":%d}`, id, j) + "\n"))
			}
		}(i)
	}
	wg.Wait()
	_ = w.Sync()

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if n := strings.Count(string(content), "\n"); n != 1000 {
		t.Errorf("got %d lines, want 1000", n)
	}
}

func TestRotatingWriter_CompressesRotatedFiles(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "queries.jsonl")

	w, err := NewRotatingWriter(logPath, 1, 3)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()
	w.SetCompress(true)
	w.maxSize = 64

	for i := 0; i < 3; i++ {
		if _, err := fmt.Fprintf(w, "{\"record\":%d,\"pad\":\"%s\"}\n", i, strings.Repeat("p", 40)); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	f, err := os.Open(logPath + ".2.gz")
	if err != nil {
		t.Fatalf("oldest rotated file missing: %v", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("not gzip: %v", err)
	}
	oldest, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gzip: %v", err)
	}
	if !strings.HasPrefix(string(oldest), `{"record":0,`) {
		t.Errorf("oldest rotated file = %q", oldest)
	}
	if _, err := os.Stat(logPath + ".1"); !os.IsNotExist(err) {
		t.Error("uncompressed rotated file should not remain")
	}
}

func mustParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}
