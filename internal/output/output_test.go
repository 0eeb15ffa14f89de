package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  string
	}{
		{"status with icon", func(w *Writer) { w.Status(">", "opening shards") }, "> opening shards\n"},
		{"status without icon", func(w *Writer) { w.Status("", "detail") }, "   detail\n"},
		{"success", func(w *Writer) { w.Successf("built %d shards", 2) }, "✓ built 2 shards\n"},
		{"warning", func(w *Writer) { w.Warning("stale occurrence table") }, "! stale occurrence table\n"},
		{"error", func(w *Writer) { w.Errorf("checksum mismatch: %s", "data.sa") }, "✗ checksum mismatch: data.sa\n"},
		{"key value", func(w *Writer) { w.KeyValue("documents", 3) }, "   documents:     3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.write(New(buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_ColorOnlyWhenRequested(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Success("plain")
	assert.NotContains(t, buf.String(), "\x1b[")

	colored := NewWithColor(&bytes.Buffer{}, true)
	assert.True(t, colored.color)
}

func TestWriter_SectionAndTable(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Section("Top queries")
	w.Table([]string{"Query", "Count"}, [][]string{{"nature", "12"}, {"banana", "3"}})
	w.Table([]string{"Empty"}, nil)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\nTop queries\n"))
	assert.Contains(t, out, "QUERY")
	assert.Contains(t, out, "nature")
	assert.Equal(t, 1, strings.Count(out, "QUERY"))
	assert.NotContains(t, out, "EMPTY")
}

func TestWriter_Progress(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(0, 0, "ignored")
	assert.Empty(t, buf.String())

	w.Progress(1, 2, "hashing")
	assert.Contains(t, buf.String(), " 50% hashing")
	assert.False(t, strings.HasSuffix(buf.String(), "\n"))

	w.Progress(2, 2, "hashing")
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestBar(t *testing.T) {
	assert.Equal(t, strings.Repeat("░", 10), bar(0, 10, 10))
	assert.Equal(t, strings.Repeat("█", 5)+strings.Repeat("░", 5), bar(5, 10, 10))
	assert.Equal(t, strings.Repeat("█", 10), bar(15, 10, 10))
	assert.Equal(t, strings.Repeat("░", 4), bar(1, 0, 4))
}
